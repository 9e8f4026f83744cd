package ballot

import (
	"fmt"
	"slices"
)

// ValidateSelection checks that a cast contest's selection is well formed
// for its tally method: every index in range, no more than max selections
// for plurality and approval, and no duplicates for ranked methods.
func (c *Contest) ValidateSelection() error {
	if !c.Cast() {
		return fmt.Errorf("%w: contest %s has no selection", ErrValidation, c.UID)
	}
	count := c.ChoiceCount()
	seen := make(map[int]bool, len(c.Selection))
	for _, idx := range c.Selection {
		if idx < 0 || idx >= count {
			return fmt.Errorf("%w: contest %s selection index %d out of range [0,%d)", ErrValidation, c.UID, idx, count)
		}
		if seen[idx] {
			return fmt.Errorf("%w: contest %s selects choice %d more than once", ErrValidation, c.UID, idx)
		}
		seen[idx] = true
	}
	switch c.Tally {
	case TallyPlurality, TallyApproval:
		if len(c.Selection) > c.Max {
			return fmt.Errorf("%w: contest %s has %d selections, max is %d", ErrValidation, c.UID, len(c.Selection), c.Max)
		}
	case TallyRCV:
		if len(c.Selection) > count {
			return fmt.Errorf("%w: contest %s ranks more choices than exist", ErrValidation, c.UID)
		}
	}
	return nil
}

// VerifyCastBallot cross checks a cast ballot against the blank ballots
// compiled for its precinct. Every cast contest must match a blank contest
// by uid and choices, and every selection must be well formed. The check is
// against all of the precinct's blank ballots because the casting point does
// not know the voter's specific address, only the town.
func VerifyCastBallot(cast *Ballot, blanks []*Ballot) error {
	for _, c := range cast.Contests {
		blank := findBlankContest(blanks, c.UID)
		if blank == nil {
			return fmt.Errorf("%w: contest %s does not appear on any blank ballot for %s", ErrValidation, c.UID, cast.Scope())
		}
		if !slices.Equal(c.Candidates, blank.Candidates) || c.Question != blank.Question {
			return fmt.Errorf("%w: contest %s choices do not match the blank ballot", ErrValidation, c.UID)
		}
		if c.Tally != blank.Tally {
			return fmt.Errorf("%w: contest %s tally %q does not match the blank ballot's %q", ErrValidation, c.UID, c.Tally, blank.Tally)
		}
		if err := c.ValidateSelection(); err != nil {
			return err
		}
	}
	return nil
}

func findBlankContest(blanks []*Ballot, uid string) *Contest {
	for _, b := range blanks {
		if c := b.ContestByUID(uid); c != nil {
			return c
		}
	}
	return nil
}
