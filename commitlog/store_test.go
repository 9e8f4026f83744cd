package commitlog

import (
	"context"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore builds a local/remote pair over empty memory stores; seedLog
// records the genesis commit. The remote can be shared between stores to
// model several actors against one voting center remote.
func newTestStore(t *testing.T, remote *Repository) *Store {
	t.Helper()
	logger.New("NOOP")
	if remote == nil {
		remote = NewRepository(NewMemoryStore())
	}
	s := NewStore(
		StoreConfig{Scope: "us/alameda"},
		logger.Sugar.WithServiceName("TEST"),
		NewRepository(NewMemoryStore()),
		remote,
	)
	return s
}

func seedLog(t *testing.T, s *Store) Digest {
	t.Helper()
	d, err := s.InitLog(context.Background(), []byte(`{"election": "test"}`), DeterministicCommitContext())
	require.NoError(t, err)
	return d
}

func contestPayload(uid string) []byte {
	return []byte(`{"Contest ` + uid + `": {"tally": "plurality", "max": 1, "uid": "` + uid + `", "candidates": ["a"], "selection": [0]}}`)
}

func TestCommitDigestContentDetermined(t *testing.T) {
	c := &Commit{
		Parents:       []string{"aa"},
		Path:          "us/alameda/CVRs/contest.json",
		Payload:       []byte(`{}`),
		AuthorDate:    DeterministicDate,
		CommitterDate: DeterministicDate,
	}
	_, d1, err := encodeCommit(c)
	require.NoError(t, err)
	_, d2, err := encodeCommit(c)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.True(t, d1.Valid())

	c.Payload = []byte(`{"x": 1}`)
	_, d3, err := encodeCommit(c)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestCommitAdvancesBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	genesis := seedLog(t, s)

	require.NoError(t, s.CreateBranch(ctx, "CVRs/0001/0123456789", genesis))
	d, err := s.Commit(ctx, contestPayload("0001"), "CVRs/0001/0123456789", DeterministicCommitContext())
	require.NoError(t, err)
	assert.True(t, d.Valid())

	head, err := s.Local().ReadRef(ctx, "CVRs/0001/0123456789")
	require.NoError(t, err)
	assert.Equal(t, d, head)

	tip, err := s.Local().ReadCommit(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, []string{string(genesis)}, tip.Parents)
	assert.Equal(t, "us/alameda/CVRs/contest.json", tip.Path)
}

func TestClaimBranchIsExclusive(t *testing.T) {
	ctx := context.Background()
	remote := NewRepository(NewMemoryStore())
	s1 := newTestStore(t, remote)
	genesis := seedLog(t, s1)

	s2 := newTestStore(t, remote)
	require.NoError(t, s2.Pull(ctx, "main"))

	require.NoError(t, s1.CreateBranch(ctx, "CVRs/0001/aaaaaaaaaa", genesis))
	require.NoError(t, s1.ClaimBranch(ctx, "CVRs/0001/aaaaaaaaaa"))

	// A second actor claiming the same name must be refused.
	require.NoError(t, s2.CreateBranch(ctx, "CVRs/0001/aaaaaaaaaa", genesis))
	err := s2.ClaimBranch(ctx, "CVRs/0001/aaaaaaaaaa")
	require.ErrorIs(t, err, ErrBranchExists)
}

func TestPushBranchRefusesNonFastForward(t *testing.T) {
	ctx := context.Background()
	remote := NewRepository(NewMemoryStore())
	s1 := newTestStore(t, remote)
	seedLog(t, s1)

	s2 := newTestStore(t, remote)
	require.NoError(t, s2.Pull(ctx, "main"))

	// Both actors advance main; only the first push can win.
	_, err := s1.Commit(ctx, contestPayload("0001"), "main", DeterministicCommitContext())
	require.NoError(t, err)
	_, err = s2.Commit(ctx, contestPayload("0002"), "main", DeterministicCommitContext())
	require.NoError(t, err)

	require.NoError(t, s1.PushBranch(ctx, "main"))
	require.ErrorIs(t, s2.PushBranch(ctx, "main"), ErrPushConflict)
}

func TestRandomAncestorIsReachable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	seedLog(t, s)

	for i := 0; i < 5; i++ {
		_, err := s.Commit(ctx, contestPayload("0001"), "main", DeterministicCommitContext())
		require.NoError(t, err)
	}
	head, err := s.Local().ReadRef(ctx, "main")
	require.NoError(t, err)
	closure, err := s.Local().AncestorClosure(ctx, head)
	require.NoError(t, err)
	require.Len(t, closure, 6)

	members := map[Digest]bool{}
	for _, d := range closure {
		members[d] = true
	}
	for i := 0; i < 20; i++ {
		d, err := s.RandomAncestor(ctx, "main")
		require.NoError(t, err)
		assert.True(t, members[d], "random ancestor must come from the branch history")
	}
}

func TestPendingHeadsAndParseCVRLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	genesis := seedLog(t, s)

	branches := []string{"CVRs/0001/aaaaaaaaaa", "CVRs/0001/bbbbbbbbbb", "CVRs/0002/cccccccccc"}
	uids := []string{"0001", "0001", "0002"}
	want := map[string]Digest{}
	for i, name := range branches {
		require.NoError(t, s.CreateBranch(ctx, name, genesis))
		require.NoError(t, s.ClaimBranch(ctx, name))
		d, err := s.Commit(ctx, contestPayload(uids[i]), name, DeterministicCommitContext())
		require.NoError(t, err)
		require.NoError(t, s.PushBranch(ctx, name))
		want[name] = d
	}

	heads, err := s.ListPendingCVRHeads(ctx, "main")
	require.NoError(t, err)
	require.Len(t, heads, 3)

	pool, err := s.ParseCVRLog(ctx, heads)
	require.NoError(t, err)
	require.Len(t, pool["0001"], 2)
	require.Len(t, pool["0002"], 1)
	assert.Equal(t, want["CVRs/0002/cccccccccc"], pool["0002"][0].Digest)
	for _, e := range pool["0001"] {
		assert.Equal(t, "0001", e.UID)
		assert.NotEmpty(t, e.Payload)
	}
}

func TestPullFastForwards(t *testing.T) {
	ctx := context.Background()
	remote := NewRepository(NewMemoryStore())
	s1 := newTestStore(t, remote)
	seedLog(t, s1)
	_, err := s1.Commit(ctx, contestPayload("0001"), "main", DeterministicCommitContext())
	require.NoError(t, err)
	require.NoError(t, s1.PushBranch(ctx, "main"))

	s2 := newTestStore(t, remote)
	require.NoError(t, s2.Pull(ctx, "main"))

	h1, err := s1.Local().ReadRef(ctx, "main")
	require.NoError(t, err)
	h2, err := s2.Local().ReadRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestDryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	genesis := seedLog(t, s)

	logger.New("NOOP")
	dry := NewStore(s.Cfg, logger.Sugar.WithServiceName("TEST"), s.Local(), s.Remote(), WithDryRun())

	require.NoError(t, dry.CreateBranch(ctx, "CVRs/0001/aaaaaaaaaa", genesis))
	d, err := dry.Commit(ctx, contestPayload("0001"), "CVRs/0001/aaaaaaaaaa", DeterministicCommitContext())
	require.NoError(t, err)
	assert.True(t, d.Valid(), "dry run still reports a plausible digest")

	local, err := s.ListBranches(ctx, RefsLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, local)
	remote, err := s.ListBranches(ctx, RefsRemote)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, remote)
}
