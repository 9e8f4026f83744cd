// Package merge implements the anonymizing merge engine: it consumes
// pending per contest CVR branches and merges them into main in a
// randomized order, keeping each contest's pending pool above the
// k-anonymity threshold and replacing every merged payload with a fresh
// server side witness.
package merge

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/election"
	"github.com/votetrail/go-cvrlog/telemetry"
)

// mergeCommitMessage is fixed so commit metadata carries no information
// about which submission was merged.
const mergeCommitMessage = "auto commit - thank you for voting"

type Config struct {
	// MinimumCastCache is the k-anonymity threshold: a contest's pending
	// pool is never merged below this size unless flushing.
	MinimumCastCache int
	// Flush drains every group completely, election close out only.
	Flush bool
	// Remote enumerates and deletes branches on the remote side only.
	Remote bool
	// Branch, when set, merges exactly that branch and nothing else.
	Branch string
}

type Merger struct {
	Cfg     Config
	log     logger.Logger
	store   *commitlog.Store
	metrics *telemetry.Metrics
	signer  *commitlog.CheckpointSigner
}

type Option func(*Merger)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(mg *Merger) { mg.metrics = m }
}

// WithCheckpointSigner seals the main head after each successful run that
// merged at least one branch.
func WithCheckpointSigner(cs *commitlog.CheckpointSigner) Option {
	return func(mg *Merger) { mg.signer = cs }
}

func NewMerger(cfg Config, log logger.Logger, store *commitlog.Store, opts ...Option) *Merger {
	if cfg.MinimumCastCache <= 0 {
		cfg.MinimumCastCache = election.MinimumCastCache
	}
	m := &Merger{Cfg: cfg, log: log, store: store}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run pulls main, discovers the pending CVR branches, and merges enough of
// each contest group to hold the threshold. Returns the number of branches
// merged. Run is idempotent: with no new submissions a second run merges
// nothing.
func (m *Merger) Run(ctx context.Context) (int, error) {
	release := commitlog.AcquireScope(m.store.Cfg.Scope)
	defer release()

	if err := m.store.Pull(ctx, election.MainBranch); err != nil {
		return 0, err
	}

	if m.Cfg.Branch != "" {
		if err := m.MergeBranch(ctx, m.Cfg.Branch); err != nil {
			if errors.Is(err, commitlog.ErrEmptyDiff) {
				m.log.Warnf("branch %s shows no changed file, skipping", m.Cfg.Branch)
				return 0, nil
			}
			return 0, err
		}
		m.log.Infof("merged '%s'", m.Cfg.Branch)
		if m.signer != nil {
			if err := m.seal(ctx); err != nil {
				return 1, err
			}
		}
		return 1, nil
	}

	scope := commitlog.RefsLocal
	if m.Cfg.Remote {
		scope = commitlog.RefsRemote
	}
	names, err := m.store.ListBranches(ctx, scope)
	if err != nil {
		return 0, err
	}

	// Group CVR branches by contest uid, preserving enumeration order
	// within each group.
	var order []string
	groups := map[string][]string{}
	for _, name := range names {
		uid, ok := commitlog.ParseCVRBranch(name)
		if !ok {
			continue
		}
		if m.Cfg.Remote {
			name = commitlog.RemoteRefPrefix + name
		}
		if _, seen := groups[uid]; !seen {
			order = append(order, uid)
		}
		groups[uid] = append(groups[uid], name)
	}

	merged := 0
	for _, uid := range order {
		n, err := m.randomlyMergeContests(ctx, uid, groups[uid])
		merged += n
		if err != nil {
			return merged, err
		}
	}
	m.log.Infof("merged %d contest branches", merged)

	if m.signer != nil && merged > 0 {
		if err := m.seal(ctx); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// randomlyMergeContests merges a uniformly random selection from the
// contest's batch: everything when flushing, otherwise just the excess over
// the threshold. Groups at or under the threshold are left pending.
func (m *Merger) randomlyMergeContests(ctx context.Context, uid string, batch []string) (int, error) {
	count := len(batch) - m.Cfg.MinimumCastCache
	if m.Cfg.Flush {
		count = len(batch)
	} else if len(batch) <= m.Cfg.MinimumCastCache {
		m.log.Infof("contest %s not merged - only %d available", uid, len(batch))
		m.metrics.MergeSkipped()
		return 0, nil
	}

	m.log.Infof("merging %d contests for contest %s", count, uid)
	merged := 0
	for range count {
		pick := rand.IntN(len(batch))
		branch := batch[pick]
		batch = append(batch[:pick], batch[pick+1:]...)

		if err := m.MergeBranch(ctx, branch); err != nil {
			if errors.Is(err, commitlog.ErrEmptyDiff) {
				// Observed in the wild; there is no file to merge, so
				// there is no file to merge.
				m.log.Warnf("branch %s shows no changed file, skipping", branch)
				continue
			}
			return merged, err
		}
		merged++
	}
	m.log.Debugf("merged %d %s contests", merged, uid)
	return merged, nil
}

// MergeBranch merges one CVR branch into main: the expected payload
// conflict is resolved to a fresh witness, committed with the fixed
// message, main is pushed and the branch deleted.
func (m *Merger) MergeBranch(ctx context.Context, branch string) error {
	mg, err := m.store.BeginMerge(ctx, branch)
	if err != nil {
		return err
	}

	witness, err := NewWitness()
	if err != nil {
		return err
	}
	mg.Resolve([]byte(witness + "\n"))

	if _, err = mg.Commit(ctx, mergeCommitMessage, commitlog.DeterministicCommitContext()); err != nil {
		return err
	}
	if err = m.store.PushBranch(ctx, election.MainBranch); err != nil {
		return err
	}

	if err = m.store.DeleteRemoteBranch(ctx, branch); err != nil {
		return err
	}
	if !m.Cfg.Remote {
		if err = m.store.DeleteLocalBranch(ctx, branch); err != nil {
			return err
		}
	}
	m.metrics.BranchMerged()
	return nil
}

// seal signs a checkpoint over the new main head, recording the pending
// pool size alongside it.
func (m *Merger) seal(ctx context.Context) error {
	heads, err := m.store.ListPendingCVRHeads(ctx, election.MainBranch)
	if err != nil {
		return err
	}
	return m.store.SealMain(ctx, m.signer, len(heads), time.Now().UnixMilli())
}
