package commitlog

import (
	"context"
	"encoding/json"
	"fmt"
)

// CVREntry is one pending pool member: a not yet merged CVR commit.
type CVREntry struct {
	Digest  Digest
	UID     string
	Payload []byte
}

// ListPendingCVRHeads enumerates, from the remote, every CVR branch head
// not reachable from mainRef. The result preserves the sorted branch
// enumeration order.
func (s *Store) ListPendingCVRHeads(ctx context.Context, mainRef string) ([]Digest, error) {
	mainHead, err := s.remote.ReadRef(ctx, mainRef)
	if err != nil {
		return nil, err
	}
	closure, err := s.remote.AncestorClosure(ctx, mainHead)
	if err != nil {
		return nil, err
	}
	merged := make(map[Digest]bool, len(closure))
	for _, d := range closure {
		merged[d] = true
	}

	names, err := s.remote.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	var heads []Digest
	for _, name := range names {
		if _, ok := ParseCVRBranch(name); !ok {
			continue
		}
		head, err := s.remote.ReadRef(ctx, name)
		if err != nil {
			return nil, err
		}
		if merged[head] {
			continue
		}
		heads = append(heads, head)
	}
	return heads, nil
}

// ParseCVRLog bulk loads the CVR payloads of the given heads and indexes
// them by contest uid, preserving the head enumeration order within each
// uid.
func (s *Store) ParseCVRLog(ctx context.Context, heads []Digest) (map[string][]CVREntry, error) {
	pool := map[string][]CVREntry{}
	for _, d := range heads {
		c, err := s.remote.ReadCommit(ctx, d)
		if err != nil {
			return nil, err
		}
		uid, err := cvrUID(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("head %s: %w", d, err)
		}
		pool[uid] = append(pool[uid], CVREntry{Digest: d, UID: uid, Payload: c.Payload})
	}
	return pool, nil
}

// FindCloaked scans the main history for CVR payloads recorded with the
// given uid and cloak tag and returns their digests. The submission engine
// records them on its Acceptance; the receipt builder does not use them.
func (s *Store) FindCloaked(ctx context.Context, branch, uid, cloak string) ([]Digest, error) {
	head, err := s.local.ReadRef(ctx, branch)
	if err != nil {
		return nil, err
	}
	closure, err := s.local.AncestorClosure(ctx, head)
	if err != nil {
		return nil, err
	}
	var matches []Digest
	for _, d := range closure {
		c, err := s.local.ReadCommit(ctx, d)
		if err != nil {
			return nil, err
		}
		fields, err := cvrFields(c.Payload)
		if err != nil {
			continue
		}
		if fields["uid"] == uid && fields["cloak"] == cloak {
			matches = append(matches, d)
		}
	}
	return matches, nil
}

// cvrFields shallow decodes a contest payload: a single top level key whose
// value is the contest object. Only string fields are returned, which is
// all the pool indexing needs.
func cvrFields(payload []byte) (map[string]string, error) {
	var blob map[string]map[string]any
	if err := json.Unmarshal(payload, &blob); err != nil {
		return nil, err
	}
	if len(blob) != 1 {
		return nil, fmt.Errorf("%w: payload is not a contest blob", ErrCorruptObject)
	}
	fields := map[string]string{}
	for _, inner := range blob {
		for k, v := range inner {
			if str, ok := v.(string); ok {
				fields[k] = str
			}
		}
	}
	return fields, nil
}

func cvrUID(payload []byte) (string, error) {
	fields, err := cvrFields(payload)
	if err != nil {
		return "", err
	}
	uid, ok := fields["uid"]
	if !ok || uid == "" {
		return "", fmt.Errorf("%w: contest payload has no uid", ErrCorruptObject)
	}
	return uid, nil
}
