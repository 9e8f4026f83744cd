package commitlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePreservesCVRAncestry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	genesis := seedLog(t, s)

	branch := "CVRs/0001/aaaaaaaaaa"
	require.NoError(t, s.CreateBranch(ctx, branch, genesis))
	require.NoError(t, s.ClaimBranch(ctx, branch))
	voter, err := s.Commit(ctx, contestPayload("0001"), branch, DeterministicCommitContext())
	require.NoError(t, err)
	require.NoError(t, s.PushBranch(ctx, branch))
	require.NoError(t, s.DeleteLocalBranch(ctx, branch))

	mg, err := s.BeginMerge(ctx, RemoteRefPrefix+branch)
	require.NoError(t, err)
	assert.Equal(t, "us/alameda/CVRs/contest.json", mg.Path)

	witness := []byte("d2l0bmVzcw==\n")
	mg.Resolve(witness)
	merged, err := mg.Commit(ctx, "auto commit - thank you for voting", DeterministicCommitContext())
	require.NoError(t, err)
	require.NoError(t, s.PushBranch(ctx, "main"))

	// The voter's pre merge digest stays reachable from main, while the
	// main branch object carries the witness, not the voter's payload.
	head, err := s.Local().ReadRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, merged, head)

	ok, err := s.Local().IsAncestor(ctx, voter, head)
	require.NoError(t, err)
	assert.True(t, ok, "voter digest must stay reachable from main")

	tip, err := s.Local().ReadCommit(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, witness, tip.Payload)
	assert.NotEqual(t, contestPayload("0001"), tip.Payload)
	assert.Equal(t, []string{string(genesis), string(voter)}, tip.Parents)

	// Once merged, the head no longer shows as pending.
	require.NoError(t, s.DeleteRemoteBranch(ctx, branch))
	heads, err := s.ListPendingCVRHeads(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, heads)
}

func TestMergeRequiresResolution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	genesis := seedLog(t, s)

	branch := "CVRs/0001/aaaaaaaaaa"
	require.NoError(t, s.CreateBranch(ctx, branch, genesis))
	_, err := s.Commit(ctx, contestPayload("0001"), branch, DeterministicCommitContext())
	require.NoError(t, err)

	mg, err := s.BeginMerge(ctx, branch)
	require.NoError(t, err)
	_, err = mg.Commit(ctx, "m", DeterministicCommitContext())
	require.ErrorIs(t, err, ErrNotResolved)
}

func TestDiffTreeEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	seedLog(t, s)

	// A tip that repeats its parent's payload at the same path changes
	// nothing and must not be merged.
	d1, err := s.Commit(ctx, contestPayload("0001"), "main", DeterministicCommitContext())
	require.NoError(t, err)
	require.NoError(t, s.CreateBranch(ctx, "CVRs/0001/aaaaaaaaaa", d1))
	_, err = s.Commit(ctx, contestPayload("0001"), "CVRs/0001/aaaaaaaaaa", DeterministicCommitContext())
	require.NoError(t, err)

	_, err = s.DiffTree(ctx, "CVRs/0001/aaaaaaaaaa")
	require.ErrorIs(t, err, ErrEmptyDiff)

	_, err = s.BeginMerge(ctx, "CVRs/0001/aaaaaaaaaa")
	require.ErrorIs(t, err, ErrEmptyDiff)
}
