package ballot

import (
	"encoding/json"
	"fmt"
	"math"
)

// Tally methods a contest may declare.
const (
	TallyPlurality = "plurality"
	TallyRCV       = "rcv"
	TallyApproval  = "approval"
)

// contestKeys are the only keys permitted inside a contest blob. Note that
// selection is never present on a blank contest and cast_branch is only ever
// written by the submission engine.
var contestKeys = map[string]bool{
	"candidates":  true,
	"question":    true,
	"tally":       true,
	"win-by":      true,
	"max":         true,
	"write-in":    true,
	"selection":   true,
	"uid":         true,
	"cast_branch": true,
	"cloak":       true,
}

// Contest is one race or question on a ballot. A Contest is mutable up to
// the moment the submission engine records it in the log; the recorded JSON
// is content addressed and immutable from then on.
type Contest struct {
	Name       string
	UID        string
	Tally      string
	WinBy      string
	Max        int
	WriteIn    bool
	Cloak      string
	Candidates []string
	Question   string
	// Selection is nil on a blank contest. On a cast contest it holds the
	// selected indices into the choices; for ranked methods the order is
	// the voter's ranking.
	Selection  []int
	CastBranch string
}

// CheckContestBlob verifies that a contest blob is a single-key object whose
// value uses only the approved keys, and returns the contest name.
func CheckContestBlob(blob map[string]any) (string, error) {
	if len(blob) != 1 {
		return "", fmt.Errorf("%w: a contest blob has exactly one top level key, got %d", ErrSchema, len(blob))
	}
	for name, v := range blob {
		inner, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: contest %q value is not an object", ErrSchema, name)
		}
		for key := range inner {
			if !contestKeys[key] {
				return "", fmt.Errorf("%w: %q is not a valid contest key", ErrSchema, key)
			}
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: empty contest blob", ErrSchema)
}

// NewContest builds a Contest from its blob form, applying defaults and the
// construction time schema checks.
func NewContest(blob map[string]any) (*Contest, error) {
	name, err := CheckContestBlob(blob)
	if err != nil {
		return nil, err
	}
	inner := blob[name].(map[string]any)

	c := &Contest{Name: name}

	if c.UID, err = optString(inner, "uid"); err != nil {
		return nil, err
	}
	if c.Tally, err = optString(inner, "tally"); err != nil {
		return nil, err
	}
	switch c.Tally {
	case TallyPlurality, TallyRCV, TallyApproval:
	default:
		return nil, fmt.Errorf("%w: unknown tally method %q", ErrSchema, c.Tally)
	}
	if c.WinBy, err = optString(inner, "win-by"); err != nil {
		return nil, err
	}
	if c.Cloak, err = optString(inner, "cloak"); err != nil {
		return nil, err
	}
	if c.CastBranch, err = optString(inner, "cast_branch"); err != nil {
		return nil, err
	}

	if v, ok := inner["write-in"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: write-in must be a boolean", ErrSchema)
		}
		c.WriteIn = b
	}

	candidates, haveCandidates := inner["candidates"]
	question, haveQuestion := inner["question"]
	if haveCandidates == haveQuestion {
		return nil, fmt.Errorf("%w: exactly one of candidates or question is required", ErrSchema)
	}
	if haveCandidates {
		if c.Candidates, err = stringSlice(candidates); err != nil {
			return nil, err
		}
	}
	if haveQuestion {
		q, ok := question.(string)
		if !ok {
			return nil, fmt.Errorf("%w: question must be a string", ErrSchema)
		}
		c.Question = q
	}

	if v, ok := inner["max"]; ok {
		if c.Max, err = intValue(v, "max"); err != nil {
			return nil, err
		}
	} else if c.Tally == TallyPlurality {
		c.Max = 1
	} else {
		// rcv and approval have no sensible implicit limit, require one.
		return nil, fmt.Errorf("%w: tally %q requires an explicit max", ErrSchema, c.Tally)
	}
	if c.Max < 1 {
		return nil, fmt.Errorf("%w: illegal value for max (%d) - must be greater than 0", ErrSchema, c.Max)
	}

	if v, ok := inner["selection"]; ok {
		if c.Selection, err = intSlice(v, "selection"); err != nil {
			return nil, err
		}
		if c.Selection == nil {
			c.Selection = []int{}
		}
	}

	return c, nil
}

// ParseContest decodes a contest blob from its JSON serialization.
func ParseContest(data []byte) (*Contest, error) {
	var blob map[string]any
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return NewContest(blob)
}

// Cast reports whether the contest carries a voter selection.
func (c *Contest) Cast() bool {
	return c.Selection != nil
}

// ChoiceCount is the number of selectable choices. A question is a two way
// choice: index 0 affirms, index 1 rejects.
func (c *Contest) ChoiceCount() int {
	if c.Candidates != nil {
		return len(c.Candidates)
	}
	return 2
}

// Blob rebuilds the one-key blob form of the contest, omitting absent
// optional keys. The blob is what gets serialized into the log.
func (c *Contest) Blob() map[string]any {
	inner := map[string]any{
		"tally": c.Tally,
		"max":   c.Max,
	}
	if c.UID != "" {
		inner["uid"] = c.UID
	}
	if c.WinBy != "" {
		inner["win-by"] = c.WinBy
	}
	if c.Candidates != nil {
		inner["candidates"] = c.Candidates
	} else {
		inner["question"] = c.Question
	}
	if c.WriteIn {
		inner["write-in"] = true
	}
	if c.Cloak != "" {
		inner["cloak"] = c.Cloak
	}
	if c.Selection != nil {
		inner["selection"] = c.Selection
	}
	if c.CastBranch != "" {
		inner["cast_branch"] = c.CastBranch
	}
	return map[string]any{c.Name: inner}
}

// Encode serializes the contest blob as stable JSON: sorted keys, UTF-8, no
// ASCII-only escaping. Map marshalling sorts keys, which is the whole of the
// stability requirement.
func (c *Contest) Encode() ([]byte, error) {
	return json.Marshal(c.Blob())
}

func optString(inner map[string]any, key string) (string, error) {
	v, ok := inner[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrSchema, key)
	}
	return s, nil
}

func intValue(v any, key string) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrSchema, key)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrSchema, key)
	}
}

func intSlice(v any, key string) ([]int, error) {
	switch vs := v.(type) {
	case []any:
		out := make([]int, 0, len(vs))
		for _, e := range vs {
			n, err := intValue(e, key)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case []int:
		return vs, nil
	default:
		// A bare index is accepted for single selection contests.
		n, err := intValue(v, key)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
}

func stringSlice(v any) ([]string, error) {
	vs, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, fmt.Errorf("%w: candidates must be a sequence of names", ErrSchema)
	}
	out := make([]string, 0, len(vs))
	for _, e := range vs {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%w: candidates must be a sequence of names", ErrSchema)
		}
		out = append(out, s)
	}
	return out, nil
}
