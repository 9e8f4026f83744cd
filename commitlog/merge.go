package commitlog

import (
	"bytes"
	"context"
	"fmt"
)

// DiffTree returns the path changed by the branch tip commit relative to
// its first parent. A tip that changed nothing yields ErrEmptyDiff; such
// branches are skipped by the merge engine rather than merged.
func (s *Store) DiffTree(ctx context.Context, branch string) (string, error) {
	head, repo, err := s.BranchHead(ctx, branch)
	if err != nil {
		return "", err
	}
	tip, err := repo.ReadCommit(ctx, head)
	if err != nil {
		return "", err
	}
	if tip.Path == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyDiff, branch)
	}
	if len(tip.Parents) > 0 {
		parent, err := repo.ReadCommit(ctx, Digest(tip.Parents[0]))
		if err != nil {
			return "", err
		}
		if parent.Path == tip.Path && bytes.Equal(parent.Payload, tip.Payload) {
			return "", fmt.Errorf("%w: %s", ErrEmptyDiff, branch)
		}
	}
	return tip.Path, nil
}

// Merge is an in flight no-fast-forward, no-commit merge of a CVR branch
// into main. The content conflict on the payload path is expected: the
// caller overwrites the working content with Resolve before committing.
type Merge struct {
	s      *Store
	branch string
	ours   Digest
	theirs Digest

	// Path is the conflicted payload path the resolution applies to.
	Path string

	resolved []byte
}

// BeginMerge starts a merge of the branch into local main. Remote branches
// (RemoteRefPrefix named) have their commit closure fetched first so the
// resulting merge commit's ancestry is locally complete.
func (s *Store) BeginMerge(ctx context.Context, branch string) (*Merge, error) {
	p, err := s.DiffTree(ctx, branch)
	if err != nil {
		return nil, err
	}
	ours, err := s.local.ReadRef(ctx, s.Cfg.MainBranch)
	if err != nil {
		return nil, err
	}
	theirs, repo, err := s.BranchHead(ctx, branch)
	if err != nil {
		return nil, err
	}
	if repo == s.remote {
		if err = s.copyObjects(ctx, s.remote, s.local, theirs); err != nil {
			return nil, err
		}
	}
	return &Merge{s: s, branch: branch, ours: ours, theirs: theirs, Path: p}, nil
}

// Resolve overwrites the conflicted payload content with the given bytes.
// For CVR merges this is the fresh server side witness value.
func (m *Merge) Resolve(content []byte) {
	m.resolved = content
}

// Commit records the merge on local main: a two parent commit whose
// ancestry includes the original CVR commit and whose payload is the
// resolved content. Returns the merge commit digest.
func (m *Merge) Commit(ctx context.Context, message string, cc CommitContext) (Digest, error) {
	if m.resolved == nil {
		return "", fmt.Errorf("%w: merge of %s", ErrNotResolved, m.branch)
	}
	if m.s.dryRun {
		m.s.log.Infof("dryrun: merge commit for %s", m.branch)
		return objectDigest(m.resolved), nil
	}
	c := &Commit{
		Parents:       []string{string(m.ours), string(m.theirs)},
		Path:          m.Path,
		Payload:       m.resolved,
		Message:       message,
		AuthorDate:    cc.AuthorDate,
		CommitterDate: cc.CommitterDate,
	}
	d, err := m.s.local.WriteCommit(ctx, c)
	if err != nil {
		return "", err
	}
	if err = m.s.local.UpdateRef(ctx, m.s.Cfg.MainBranch, d); err != nil {
		return "", err
	}
	return d, nil
}
