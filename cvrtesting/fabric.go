package cvrtesting

import (
	"context"
	"fmt"
	"strings"

	"github.com/votetrail/go-cvrlog/ballot"
	"github.com/votetrail/go-cvrlog/commitlog"
)

// NewCastBallot fabricates a cast ballot for the default test town with one
// three candidate plurality contest per uid, each selecting candidate 0.
func NewCastBallot(uids ...string) *ballot.Ballot {
	b := &ballot.Ballot{State: "us", Town: "alameda"}
	for _, uid := range uids {
		b.Contests = append(b.Contests, NewCastContest(uid))
	}
	return b
}

// NewCastContest fabricates one cast plurality contest.
func NewCastContest(uid string) *ballot.Contest {
	return &ballot.Contest{
		Name:       "Contest " + strings.ToUpper(uid),
		UID:        uid,
		Tally:      ballot.TallyPlurality,
		Max:        1,
		Candidates: []string{"Ada", "Grace", "Edsger"},
		Selection:  []int{0},
	}
}

// NewBlankBallot fabricates the blank form of NewCastBallot.
func NewBlankBallot(uids ...string) *ballot.Ballot {
	b := NewCastBallot(uids...)
	for _, c := range b.Contests {
		c.Selection = nil
	}
	return b
}

// FlakyStore wraps an ObjectStore and fails the first Failures create
// exclusive writes under the CVR branch ref namespace. It mocks a remote
// that rejects branch pushes.
type FlakyStore struct {
	commitlog.ObjectStore
	Failures int
	Attempts int
}

func (s *FlakyStore) Put(ctx context.Context, path string, data []byte, failIfExists bool) error {
	if failIfExists && strings.HasPrefix(path, "refs/heads/CVRs/") {
		s.Attempts++
		if s.Failures > 0 {
			s.Failures--
			return fmt.Errorf("injected push failure for %s", path)
		}
	}
	return s.ObjectStore.Put(ctx, path, data, failIfExists)
}
