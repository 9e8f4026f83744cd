package ballot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/votetrail/go-cvrlog/election"
)

// Ballot is an ordered collection of contests plus the geographic metadata
// that determined which contests appear. The ballot knows the state/town
// scope its contest log lives under.
type Ballot struct {
	State    string
	Town     string
	Contests []*Contest
}

type ballotDocument struct {
	State    string            `json:"state"`
	Town     string            `json:"town"`
	Contests []json.RawMessage `json:"contests"`
}

// ParseBallot decodes a blank or cast ballot document.
func ParseBallot(data []byte) (*Ballot, error) {
	var doc ballotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	b := &Ballot{State: doc.State, Town: doc.Town}
	for _, raw := range doc.Contests {
		c, err := ParseContest(raw)
		if err != nil {
			return nil, err
		}
		b.Contests = append(b.Contests, c)
	}
	return b, nil
}

// ReadBallot reads and decodes a ballot file.
func ReadBallot(path string) (*Ballot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBallot(data)
}

// ReadBlankBallots loads every compiled blank ballot for the town.
func ReadBlankBallots(cfg *election.Config, state, town string) ([]*Ballot, error) {
	paths, err := cfg.BlankBallotPaths(state, town)
	if err != nil {
		return nil, err
	}
	var ballots []*Ballot
	for _, p := range paths {
		b, err := ReadBallot(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		ballots = append(ballots, b)
	}
	return ballots, nil
}

// Encode serializes the ballot with each contest in its stable blob form.
func (b *Ballot) Encode() ([]byte, error) {
	doc := ballotDocument{State: b.State, Town: b.Town}
	for _, c := range b.Contests {
		raw, err := c.Encode()
		if err != nil {
			return nil, err
		}
		doc.Contests = append(doc.Contests, raw)
	}
	return json.Marshal(doc)
}

// Scope returns the state/town scope key of the ballot's contest log.
func (b *Ballot) Scope() string {
	return election.Scope(b.State, b.Town)
}

// ContestByUID returns the ballot's contest with the given uid, or nil.
func (b *Ballot) ContestByUID(uid string) *Contest {
	for _, c := range b.Contests {
		if c.UID == uid {
			return c
		}
	}
	return nil
}

// ContestNameByUID returns the human readable name for a contest uid, or the
// empty string when the ballot has no such contest.
func (b *Ballot) ContestNameByUID(uid string) string {
	if c := b.ContestByUID(uid); c != nil {
		return c.Name
	}
	return ""
}
