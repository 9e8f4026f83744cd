// Package mockelection drives end to end mock elections: randomly filled
// ballots cast through the submission engine, with the merge engine run the
// way a voting center server would run it. One basic idea is to run several
// scanner runners in parallel against one remote, one per mocked scanner.
package mockelection

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/votetrail/go-cvrlog/ballot"
	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/election"
	"github.com/votetrail/go-cvrlog/merge"
	"github.com/votetrail/go-cvrlog/submission"
)

// Device selects which half of a voting center this runner mocks.
type Device string

const (
	DeviceScanner Device = "scanner"
	DeviceServer  Device = "server"
	DeviceBoth    Device = "both"
)

// FlushMode controls when the merge engine drains the pending pools.
type FlushMode int

const (
	FlushNever FlushMode = iota
	FlushOnExit
	FlushEachIteration
)

// mergeCadence is how often a mocked server wakes up to merge.
const mergeCadence = 10 * time.Second

type Config struct {
	Device           Device
	Iterations       int
	MinimumCastCache int
	FlushMode        FlushMode
	// Blanks are the blank ballots to cast from; each iteration cycles to
	// the next one.
	Blanks []*ballot.Ballot
}

type Runner struct {
	Cfg   Config
	log   logger.Logger
	store *commitlog.Store
	sub   *submission.Submitter
}

func NewRunner(cfg Config, log logger.Logger, store *commitlog.Store, sub *submission.Submitter) *Runner {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 10
	}
	if cfg.MinimumCastCache <= 0 {
		cfg.MinimumCastCache = election.MinimumCastCache
	}
	return &Runner{Cfg: cfg, log: log, store: store, sub: sub}
}

// Run mocks the configured device until done or cancelled.
func (r *Runner) Run(ctx context.Context) error {
	switch r.Cfg.Device {
	case DeviceServer:
		return r.runServer(ctx)
	case DeviceBoth:
		if err := r.runScanner(ctx, true); err != nil {
			return err
		}
		if r.Cfg.FlushMode == FlushOnExit {
			return r.flush(ctx)
		}
		return nil
	default:
		return r.runScanner(ctx, false)
	}
}

// runScanner casts Iterations randomly filled ballots. With mergeEach the
// scanner also plays server between ballots, which serializes ballots in
// time but keeps single process demos moving.
func (r *Runner) runScanner(ctx context.Context, mergeEach bool) error {
	for i := 0; i < r.Cfg.Iterations; i++ {
		blank := r.Cfg.Blanks[i%len(r.Cfg.Blanks)]
		cast := FillBallot(blank)
		a, err := r.sub.Accept(ctx, cast)
		if err != nil {
			return err
		}
		r.log.Infof("iteration %d: cast %d contests, voter's row %d",
			i, len(a.Receipts), a.Receipt.VotersRow)

		if mergeEach || r.Cfg.FlushMode == FlushEachIteration {
			merger := r.newMerger(r.Cfg.FlushMode == FlushEachIteration)
			if _, err := merger.Run(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// runServer merges on a cadence until cancelled, then optionally flushes.
func (r *Runner) runServer(ctx context.Context) error {
	ticker := time.NewTicker(mergeCadence)
	defer ticker.Stop()
	for {
		merged, err := r.newMerger(r.Cfg.FlushMode == FlushEachIteration).Run(ctx)
		if err != nil {
			return err
		}
		r.log.Infof("server pass merged %d branches", merged)
		select {
		case <-ctx.Done():
			if r.Cfg.FlushMode != FlushNever {
				return r.flush(context.WithoutCancel(ctx))
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) flush(ctx context.Context) error {
	merger := r.newMerger(true)
	merged, err := merger.Run(ctx)
	if err != nil {
		return err
	}
	r.log.Infof("flushed %d branches", merged)
	return nil
}

func (r *Runner) newMerger(flush bool) *merge.Merger {
	return merge.NewMerger(merge.Config{
		MinimumCastCache: r.Cfg.MinimumCastCache,
		Flush:            flush,
		Remote:           true,
	}, r.log, r.store)
}

// FillBallot clones a blank ballot with a random valid selection on every
// contest: a subset for plurality and approval, a full random ranking for
// rcv.
func FillBallot(blank *ballot.Ballot) *ballot.Ballot {
	cast := &ballot.Ballot{State: blank.State, Town: blank.Town}
	for _, bc := range blank.Contests {
		c := *bc
		n := c.ChoiceCount()
		perm := rand.Perm(n)
		switch c.Tally {
		case ballot.TallyRCV:
			c.Selection = perm
		default:
			picks := min(c.Max, n)
			c.Selection = perm[:1+rand.IntN(picks)]
		}
		cast.Contests = append(cast.Contests, &c)
	}
	return cast
}
