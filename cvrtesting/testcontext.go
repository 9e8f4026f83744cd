// Package cvrtesting provides the shared scaffolding for exercising the
// submission and merge engines against in memory store pairs.
package cvrtesting

import (
	"context"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/submission"
)

// TestContext wires a local/remote repository pair with a seeded genesis
// commit, the way every election data tree starts life.
type TestContext struct {
	Log    logger.Logger
	T      *testing.T
	Remote *commitlog.Repository
	Store  *commitlog.Store
}

type TestConfig struct {
	TestLabelPrefix string
	Scope           string // defaults to "us/alameda"
}

func NewTestContext(t *testing.T, cfg TestConfig) *TestContext {
	if cfg.Scope == "" {
		cfg.Scope = "us/alameda"
	}
	logger.New("NOOP")
	c := &TestContext{
		T:      t,
		Log:    logger.Sugar.WithServiceName(cfg.TestLabelPrefix),
		Remote: commitlog.NewRepository(commitlog.NewMemoryStore()),
	}
	c.Store = c.NewActorStore(cfg.Scope)
	_, err := c.Store.InitLog(
		context.Background(), []byte(`{"election": "`+cfg.TestLabelPrefix+`"}`),
		commitlog.DeterministicCommitContext())
	require.NoError(t, err)
	return c
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

// NewActorStore builds a store with a fresh local repository sharing the
// context's remote, modelling one more scanner or server node.
func (c *TestContext) NewActorStore(scope string) *commitlog.Store {
	return commitlog.NewStore(
		commitlog.StoreConfig{Scope: scope},
		c.Log,
		commitlog.NewRepository(commitlog.NewMemoryStore()),
		c.Remote,
	)
}

// NewSubmitter builds a submission engine over the context's store.
func (c *TestContext) NewSubmitter(cfg submission.SubmitterConfig) *submission.Submitter {
	return submission.NewSubmitter(cfg, c.Log, c.Store)
}

// WarmPool casts n ballots through a fresh submitter so the pending pool
// holds n submissions per uid. Receipts are degraded throughout and that is
// fine; warming only needs the branches pushed.
func (c *TestContext) WarmPool(n int, uids ...string) {
	c.T.Helper()
	sub := c.NewSubmitter(submission.SubmitterConfig{ReceiptRows: 1 << 30})
	for i := 0; i < n; i++ {
		_, err := sub.Accept(context.Background(), NewCastBallot(uids...))
		require.NoError(c.T, err)
	}
}
