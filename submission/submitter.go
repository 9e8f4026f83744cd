// Package submission implements the accept engine: splitting a verified
// cast ballot into per contest CVR submissions, each committed on its own
// branch rooted at a random point in the existing history, pushed
// atomically, and summarized on a ballot receipt.
package submission

import (
	"context"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/votetrail/go-cvrlog/ballot"
	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/election"
	"github.com/votetrail/go-cvrlog/receipt"
	"github.com/votetrail/go-cvrlog/telemetry"
)

type SubmitterConfig struct {
	// Attempts bounds the per contest branch allocation retries, 3 by
	// default. Exhausting them is fatal.
	Attempts int
	// ReceiptRows overrides the receipt depth, for tests and demos.
	ReceiptRows int
	// ReceiptDir, when set, is where the built receipt CSV is written.
	ReceiptDir string
	// DemoMerge merges the ballot's branches immediately after push,
	// serializing ballots in time. Demo deployments only.
	DemoMerge bool
}

type Submitter struct {
	Cfg     SubmitterConfig
	log     logger.Logger
	store   *commitlog.Store
	builder *receipt.Builder
	metrics *telemetry.Metrics
	// demoMerge is invoked per pushed branch when Cfg.DemoMerge is set.
	// It is a hook so the merge engine wiring stays with the caller.
	demoMerge func(ctx context.Context, branch string) error
}

type Option func(*Submitter)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithDemoMerge installs the per branch immediate merge hook. The hook
// runs while the submission still holds the scope, so wire it to the merge
// engine's single branch entry point, not to a full run.
func WithDemoMerge(merge func(ctx context.Context, branch string) error) Option {
	return func(s *Submitter) { s.demoMerge = merge }
}

func NewSubmitter(cfg SubmitterConfig, log logger.Logger, store *commitlog.Store, opts ...Option) *Submitter {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	s := &Submitter{
		Cfg:     cfg,
		log:     log,
		store:   store,
		builder: receipt.NewBuilder(receipt.BuilderConfig{Rows: cfg.ReceiptRows}, log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acceptance is everything a submission produced: the voter's digest per
// contest, the branches pushed, cloak peers where requested, the pending
// pool snapshot the receipt drew from, and the receipt itself.
type Acceptance struct {
	Receipts    map[string]commitlog.Digest
	Branches    []string
	CloakPeers  map[string][]commitlog.Digest
	Pool        map[string][]commitlog.CVREntry
	Receipt     *receipt.Receipt
	ReceiptFile string
}

// Accept records a verified cast ballot. Every contest is committed on a
// fresh isolated branch and pushed before the receipt is built; any failure
// before that point rolls back the local branches created so far. Branches
// already pushed may survive a failed submission: the merge engine is
// tolerant of orphans and will simply merge them later.
func (s *Submitter) Accept(ctx context.Context, blt *ballot.Ballot) (*Acceptance, error) {
	release := commitlog.AcquireScope(blt.Scope())
	defer release()

	cc := commitlog.DeterministicCommitContext()

	// Freshen main first: the random branchpoints and the cloak scan both
	// read the local main history.
	if err := s.store.Pull(ctx, election.MainBranch); err != nil {
		return nil, err
	}

	// Snapshot the pending pool up front; the receipt must draw only from
	// submissions that existed before the voter's own.
	heads, err := s.store.ListPendingCVRHeads(ctx, election.MainBranch)
	if err != nil {
		return nil, err
	}
	pool, err := s.store.ParseCVRLog(ctx, heads)
	if err != nil {
		return nil, err
	}

	a := &Acceptance{
		Receipts:   map[string]commitlog.Digest{},
		CloakPeers: map[string][]commitlog.Digest{},
		Pool:       pool,
	}

	rollback := func() {
		for _, branch := range a.Branches {
			if derr := s.store.DeleteLocalBranch(ctx, branch); derr != nil {
				s.log.Warnf("rollback: delete local branch %s: %v", branch, derr)
			}
		}
	}

	for _, contest := range blt.Contests {
		branch, err := s.createContestBranch(ctx, contest.UID)
		if err != nil {
			rollback()
			return nil, err
		}
		a.Branches = append(a.Branches, branch)

		// The branch name rides inside the payload so a receipt holder
		// can locate their submission without any server side index.
		contest.CastBranch = branch
		payload, err := contest.Encode()
		if err != nil {
			rollback()
			return nil, err
		}
		digest, err := s.store.Commit(ctx, payload, branch, cc)
		if err != nil {
			rollback()
			return nil, err
		}
		a.Receipts[contest.UID] = digest

		if contest.Cloak != "" {
			peers, err := s.store.FindCloaked(ctx, election.MainBranch, contest.UID, contest.Cloak)
			if err != nil {
				rollback()
				return nil, err
			}
			a.CloakPeers[contest.UID] = peers
		}
	}

	// All contests are committed; push everything before any receipt is
	// emitted, then drop the local branch refs - the remote retains them
	// for the merge engine.
	for _, branch := range a.Branches {
		if err = s.store.PushBranch(ctx, branch); err != nil {
			rollback()
			return nil, err
		}
		s.metrics.ContestSubmitted()
	}
	for _, branch := range a.Branches {
		if err = s.store.DeleteLocalBranch(ctx, branch); err != nil {
			s.log.Warnf("delete local branch %s: %v", branch, err)
		}
	}

	if s.Cfg.DemoMerge && s.demoMerge != nil {
		for _, branch := range a.Branches {
			if err = s.demoMerge(ctx, commitlog.RemoteRefPrefix+branch); err != nil {
				return nil, err
			}
		}
	}

	a.Receipt = s.builder.Build(blt, a.Receipts, a.Pool)
	if a.Receipt.Degraded() {
		s.metrics.ReceiptDegraded()
	} else if s.Cfg.ReceiptDir != "" {
		if a.ReceiptFile, err = s.builder.WriteFile(a.Receipt, s.Cfg.ReceiptDir); err != nil {
			return nil, err
		}
	}

	s.metrics.BallotAccepted()
	s.log.Infof("accepted ballot for %s: %d contests, voter's row %d",
		blt.Scope(), len(a.Receipts), a.Receipt.VotersRow)
	return a, nil
}

// createContestBranch allocates and claims a fresh CVR branch for the
// contest, rooted at a random ancestor of main. The name token is
// regenerated on every collision; three strikes is fatal.
func (s *Submitter) createContestBranch(ctx context.Context, uid string) (string, error) {
	branchpoint, err := s.store.RandomAncestor(ctx, election.MainBranch)
	if err != nil {
		return "", err
	}
	var lastErr error
	for attempt := 0; attempt < s.Cfg.Attempts; attempt++ {
		branch, err := commitlog.NewCVRBranchName(uid)
		if err != nil {
			return "", err
		}
		if err = s.store.CreateBranch(ctx, branch, branchpoint); err != nil {
			lastErr = err
			s.metrics.BranchRetried()
			continue
		}
		if err = s.store.ClaimBranch(ctx, branch); err != nil {
			// Whatever the push failure was, drop the local branch and
			// try again under a new name.
			lastErr = err
			s.metrics.BranchRetried()
			s.log.Debugf("claim %s failed, retrying: %v", branch, err)
			if derr := s.store.DeleteLocalBranch(ctx, branch); derr != nil {
				return "", derr
			}
			continue
		}
		return branch, nil
	}
	return "", fmt.Errorf("%w: contest %s after %d attempts: %v", ErrBranchCollision, uid, s.Cfg.Attempts, lastErr)
}
