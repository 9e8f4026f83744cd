package commitlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Repository is a content addressed commit graph plus its named branch
// refs, persisted in an ObjectStore. Commits are immutable once written;
// refs are the only mutable state and all ref read-modify-write cycles are
// serialized so multiple actors may share one repository.
type Repository struct {
	mu    sync.Mutex
	store ObjectStore
}

func NewRepository(store ObjectStore) *Repository {
	return &Repository{store: store}
}

// WriteCommit records the commit and returns its digest. Writing the same
// commit twice is a no-op: the path is its content address.
func (r *Repository) WriteCommit(ctx context.Context, c *Commit) (Digest, error) {
	data, d, err := encodeCommit(c)
	if err != nil {
		return "", err
	}
	if err = r.store.Put(ctx, objectPath(d), data, false); err != nil {
		return "", err
	}
	return d, nil
}

// ReadCommit fetches a commit by digest, verifying the content address.
func (r *Repository) ReadCommit(ctx context.Context, d Digest) (*Commit, error) {
	data, err := r.store.Get(ctx, objectPath(d))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: commit %s", ErrUnknownObject, d)
		}
		return nil, err
	}
	if objectDigest(data) != d {
		return nil, fmt.Errorf("%w: %s", ErrCorruptObject, d)
	}
	return decodeCommit(data)
}

// HasObject reports whether the commit object is already present.
func (r *Repository) HasObject(ctx context.Context, d Digest) bool {
	_, err := r.store.Get(ctx, objectPath(d))
	return err == nil
}

func (r *Repository) readRef(ctx context.Context, name string) (Digest, error) {
	data, err := r.store.Get(ctx, refPath(name))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownBranch, name)
		}
		return "", err
	}
	return Digest(data), nil
}

// ReadRef returns the head digest of the named branch.
func (r *Repository) ReadRef(ctx context.Context, name string) (Digest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readRef(ctx, name)
}

// CreateRef creates a new branch ref. The create is exclusive: an existing
// ref of the same name yields ErrBranchExists.
func (r *Repository) CreateRef(ctx context.Context, name string, d Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.store.Put(ctx, refPath(name), []byte(d), true)
	if errors.Is(err, ErrObjectExists) {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	return err
}

// UpdateRef moves an existing branch ref to d.
func (r *Repository) UpdateRef(ctx context.Context, name string, d Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.readRef(ctx, name); err != nil {
		return err
	}
	return r.store.Put(ctx, refPath(name), []byte(d), false)
}

// AdvanceRef atomically moves the ref to d. Absent refs are created. A ref
// that already points somewhere may only move forward: its current head
// must be an ancestor of d, anything else is a push conflict.
func (r *Repository) AdvanceRef(ctx context.Context, name string, d Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.readRef(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrUnknownBranch) {
			return err
		}
		err = r.store.Put(ctx, refPath(name), []byte(d), true)
		if errors.Is(err, ErrObjectExists) {
			return fmt.Errorf("%w: %s", ErrBranchExists, name)
		}
		return err
	}
	if cur == d {
		return nil
	}
	ok, err := r.isAncestor(ctx, cur, d)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPushConflict, name)
	}
	return r.store.Put(ctx, refPath(name), []byte(d), false)
}

// DeleteRef removes the branch ref. The commits it pointed at remain.
func (r *Repository) DeleteRef(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Delete(ctx, refPath(name))
}

// ListRefs returns all branch names, sorted.
func (r *Repository) ListRefs(ctx context.Context) ([]string, error) {
	paths, err := r.store.List(ctx, refPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimPrefix(p, refPrefix))
	}
	return names, nil
}

// AncestorClosure returns every digest reachable from head, head included,
// in breadth first order over both parents.
func (r *Repository) AncestorClosure(ctx context.Context, head Digest) ([]Digest, error) {
	var order []Digest
	seen := map[Digest]bool{}
	queue := []Digest{head}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if seen[d] {
			continue
		}
		seen[d] = true
		order = append(order, d)
		c, err := r.ReadCommit(ctx, d)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			queue = append(queue, Digest(p))
		}
	}
	return order, nil
}

func (r *Repository) isAncestor(ctx context.Context, anc, head Digest) (bool, error) {
	closure, err := r.AncestorClosure(ctx, head)
	if err != nil {
		return false, err
	}
	for _, d := range closure {
		if d == anc {
			return true, nil
		}
	}
	return false, nil
}

// IsAncestor reports whether anc is reachable from head.
func (r *Repository) IsAncestor(ctx context.Context, anc, head Digest) (bool, error) {
	return r.isAncestor(ctx, anc, head)
}
