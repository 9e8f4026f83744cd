package merge_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/cvrtesting"
	"github.com/votetrail/go-cvrlog/merge"
)

func pendingByUID(t *testing.T, store *commitlog.Store) map[string][]commitlog.CVREntry {
	t.Helper()
	heads, err := store.ListPendingCVRHeads(context.Background(), "main")
	require.NoError(t, err)
	pool, err := store.ParseCVRLog(context.Background(), heads)
	require.NoError(t, err)
	return pool
}

func newMerger(tc *cvrtesting.TestContext, cfg merge.Config) *merge.Merger {
	// The merge engine runs on its own node: fresh local, shared remote.
	return merge.NewMerger(cfg, tc.Log, tc.NewActorStore("us/alameda"))
}

func TestMergeBelowThresholdIsANoOp(t *testing.T) {
	tc := cvrtesting.NewTestContext(t, cvrtesting.TestConfig{TestLabelPrefix: "TestMergeBelowThreshold"})
	tc.WarmPool(50, "0001")

	m := newMerger(tc, merge.Config{MinimumCastCache: 100, Remote: true})
	merged, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
	assert.Len(t, pendingByUID(t, tc.Store)["0001"], 50, "pool unchanged")
}

func TestMergeAboveThresholdKeepsKPending(t *testing.T) {
	tc := cvrtesting.NewTestContext(t, cvrtesting.TestConfig{TestLabelPrefix: "TestMergeAboveThreshold"})
	tc.WarmPool(150, "0001")

	before := pendingByUID(t, tc.Store)["0001"]
	require.Len(t, before, 150)
	wasPending := map[commitlog.Digest]bool{}
	for _, e := range before {
		wasPending[e.Digest] = true
	}

	m := newMerger(tc, merge.Config{MinimumCastCache: 100, Remote: true})
	merged, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, merged)
	assert.Len(t, pendingByUID(t, tc.Store)["0001"], 100)

	// Main gained one witness commit per merge; each merged voter digest
	// stays reachable and every witness payload is fresh base64, not the
	// voter's contest JSON.
	store := tc.NewActorStore("us/alameda")
	require.NoError(t, store.Pull(context.Background(), "main"))
	head, err := store.Local().ReadRef(context.Background(), "main")
	require.NoError(t, err)
	closure, err := store.Local().AncestorClosure(context.Background(), head)
	require.NoError(t, err)

	witnessed := 0
	reachable := map[commitlog.Digest]bool{}
	for _, d := range closure {
		reachable[d] = true
		c, err := store.Local().ReadCommit(context.Background(), d)
		require.NoError(t, err)
		if len(c.Parents) != 2 {
			continue
		}
		witnessed++
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(c.Payload)))
		require.NoError(t, err, "merge payload must be a base64 witness")
		assert.Len(t, raw, 48)
	}
	assert.Equal(t, 50, witnessed)

	stillPending := pendingByUID(t, tc.Store)["0001"]
	pendingNow := map[commitlog.Digest]bool{}
	for _, e := range stillPending {
		pendingNow[e.Digest] = true
	}
	mergedCount := 0
	for d := range wasPending {
		if pendingNow[d] {
			continue
		}
		mergedCount++
		assert.True(t, reachable[d], "merged voter digest %s must stay reachable from main", d)
	}
	assert.Equal(t, 50, mergedCount)
}

func TestMergeFlushDrainsTheGroup(t *testing.T) {
	tc := cvrtesting.NewTestContext(t, cvrtesting.TestConfig{TestLabelPrefix: "TestMergeFlush"})
	tc.WarmPool(7, "0002")

	m := newMerger(tc, merge.Config{MinimumCastCache: 100, Flush: true, Remote: true})
	merged, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, merged)
	assert.Empty(t, pendingByUID(t, tc.Store)["0002"])

	remote, err := tc.Store.ListBranches(context.Background(), commitlog.RefsRemote)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, remote, "flushed branches are deleted from the remote")
}

func TestMergeIsIdempotent(t *testing.T) {
	tc := cvrtesting.NewTestContext(t, cvrtesting.TestConfig{TestLabelPrefix: "TestMergeIdempotent"})
	tc.WarmPool(12, "0001")

	cfg := merge.Config{MinimumCastCache: 5, Remote: true}
	merged, err := newMerger(tc, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, merged)

	merged, err = newMerger(tc, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, merged, "a second run with no new submissions is a no-op")
	assert.Len(t, pendingByUID(t, tc.Store)["0001"], 5)
}

func TestMergeExplicitBranch(t *testing.T) {
	tc := cvrtesting.NewTestContext(t, cvrtesting.TestConfig{TestLabelPrefix: "TestMergeExplicitBranch"})
	tc.WarmPool(1, "0003")

	names, err := tc.Store.ListBranches(context.Background(), commitlog.RefsRemote)
	require.NoError(t, err)
	var branch string
	for _, name := range names {
		if _, ok := commitlog.ParseCVRBranch(name); ok {
			branch = name
		}
	}
	require.NotEmpty(t, branch)

	m := newMerger(tc, merge.Config{Remote: true, Branch: commitlog.RemoteRefPrefix + branch})
	merged, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Empty(t, pendingByUID(t, tc.Store)["0003"])
}
