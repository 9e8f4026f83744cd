package commitlog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/votetrail/go-cvrlog/election"
)

// RefScope selects which side of the local/remote pair an operation reads.
type RefScope int

const (
	RefsLocal RefScope = iota
	RefsRemote
)

// RemoteRefPrefix marks a branch argument as naming a remote ref, for
// callers that hold only a name (the merge engine's remote mode).
const RemoteRefPrefix = "origin/"

// StoreConfig fixes the identity of one log store instance.
type StoreConfig struct {
	// Scope is the state/town subtree all payload paths resolve against.
	Scope string
	// MainBranch defaults to election.MainBranch.
	MainBranch string
}

// Store is the log store: a local repository for in flight work and a
// remote repository shared by every node of the voting center. All methods
// are blocking; an operation runs single threaded over its Store and
// parallelism comes from deploying more actors against the same remote.
type Store struct {
	Cfg    StoreConfig
	log    logger.Logger
	local  *Repository
	remote *Repository
	dryRun bool
}

func NewStore(cfg StoreConfig, log logger.Logger, local, remote *Repository, opts ...Option) *Store {
	if cfg.MainBranch == "" {
		cfg.MainBranch = election.MainBranch
	}
	s := &Store{
		Cfg:    cfg,
		log:    log,
		local:  local,
		remote: remote,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Local and Remote expose the underlying repositories for verification and
// test scaffolding.
func (s *Store) Local() *Repository  { return s.local }
func (s *Store) Remote() *Repository { return s.remote }

// PayloadPath is the scope relative path a CVR payload is recorded under.
func (s *Store) PayloadPath() string {
	return path.Join(s.Cfg.Scope, election.ContestFileSubdir, election.ContestFile)
}

// InitLog seeds an empty log: a genesis commit carrying the election
// configuration payload, recorded on main locally and pushed. The genesis
// commit is never a CVR.
func (s *Store) InitLog(ctx context.Context, configPayload []byte, cc CommitContext) (Digest, error) {
	if s.dryRun {
		s.log.Infof("dryrun: init log")
		return objectDigest(configPayload), nil
	}
	c := &Commit{
		Path:          path.Join(s.Cfg.Scope, "config.json"),
		Payload:       configPayload,
		Message:       "election data initialization",
		AuthorDate:    cc.AuthorDate,
		CommitterDate: cc.CommitterDate,
	}
	d, err := s.local.WriteCommit(ctx, c)
	if err != nil {
		return "", err
	}
	if err = s.local.CreateRef(ctx, s.Cfg.MainBranch, d); err != nil {
		return "", err
	}
	if err = s.PushBranch(ctx, s.Cfg.MainBranch); err != nil {
		return "", err
	}
	return d, nil
}

// RandomAncestor returns a uniformly random commit from the ancestor chain
// of the branch, the initial commit included. It is used to hide temporal
// correlation between ballots cast close together in time.
func (s *Store) RandomAncestor(ctx context.Context, branch string) (Digest, error) {
	head, err := s.local.ReadRef(ctx, branch)
	if err != nil {
		return "", err
	}
	closure, err := s.local.AncestorClosure(ctx, head)
	if err != nil {
		return "", err
	}
	if len(closure) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyHistory, branch)
	}
	return closure[rand.IntN(len(closure))], nil
}

// CreateBranch creates a local branch at the given start commit.
func (s *Store) CreateBranch(ctx context.Context, name string, start Digest) error {
	if s.dryRun {
		s.log.Infof("dryrun: create branch %s at %s", name, start)
		return nil
	}
	return s.local.CreateRef(ctx, name, start)
}

// PushBranch replicates the branch to the remote. The push is atomic per
// branch: the remote ref either advances to the local head or the push
// fails with ErrBranchExists / ErrPushConflict and nothing changes.
func (s *Store) PushBranch(ctx context.Context, name string) error {
	if s.dryRun {
		s.log.Infof("dryrun: push branch %s", name)
		return nil
	}
	head, err := s.local.ReadRef(ctx, name)
	if err != nil {
		return err
	}
	if err = s.copyObjects(ctx, s.local, s.remote, head); err != nil {
		return err
	}
	return s.remote.AdvanceRef(ctx, name, head)
}

// ClaimBranch pushes a newly created branch ref exclusively: the remote
// must not already know the name. This is the uniqueness gate of the CVR
// branch naming scheme.
func (s *Store) ClaimBranch(ctx context.Context, name string) error {
	if s.dryRun {
		s.log.Infof("dryrun: claim branch %s", name)
		return nil
	}
	head, err := s.local.ReadRef(ctx, name)
	if err != nil {
		return err
	}
	if err = s.copyObjects(ctx, s.local, s.remote, head); err != nil {
		return err
	}
	return s.remote.CreateRef(ctx, name, head)
}

func (s *Store) DeleteLocalBranch(ctx context.Context, name string) error {
	if s.dryRun {
		s.log.Infof("dryrun: delete local branch %s", name)
		return nil
	}
	return s.local.DeleteRef(ctx, name)
}

func (s *Store) DeleteRemoteBranch(ctx context.Context, name string) error {
	if s.dryRun {
		s.log.Infof("dryrun: delete remote branch %s", name)
		return nil
	}
	return s.remote.DeleteRef(ctx, strings.TrimPrefix(name, RemoteRefPrefix))
}

// Commit appends a commit carrying the payload to the branch and returns
// its digest. The commit metadata comes from cc so the digest depends only
// on payload and ancestry.
func (s *Store) Commit(ctx context.Context, payload []byte, branch string, cc CommitContext) (Digest, error) {
	if s.dryRun {
		s.log.Infof("dryrun: commit %d payload bytes to %s", len(payload), branch)
		return objectDigest(payload), nil
	}
	parent, err := s.local.ReadRef(ctx, branch)
	if err != nil {
		return "", err
	}
	c := &Commit{
		Parents:       []string{string(parent)},
		Path:          s.PayloadPath(),
		Payload:       payload,
		AuthorDate:    cc.AuthorDate,
		CommitterDate: cc.CommitterDate,
	}
	d, err := s.local.WriteCommit(ctx, c)
	if err != nil {
		return "", err
	}
	if err = s.local.UpdateRef(ctx, branch, d); err != nil {
		return "", err
	}
	return d, nil
}

// ListBranches enumerates branch names from the local or remote side.
func (s *Store) ListBranches(ctx context.Context, scope RefScope) ([]string, error) {
	if scope == RefsRemote {
		return s.remote.ListRefs(ctx)
	}
	return s.local.ListRefs(ctx)
}

// Pull fast-forwards the local main from the remote, fetching any objects
// the local side is missing.
func (s *Store) Pull(ctx context.Context, mainRef string) error {
	if s.dryRun {
		s.log.Infof("dryrun: pull %s", mainRef)
		return nil
	}
	head, err := s.remote.ReadRef(ctx, mainRef)
	if err != nil {
		return err
	}
	if err = s.copyObjects(ctx, s.remote, s.local, head); err != nil {
		return err
	}
	return s.local.AdvanceRef(ctx, mainRef, head)
}

// HasRecord reports whether the digest names a commit the remote log
// retains, either still pending on a CVR branch or folded into main's
// ancestry. This is the lookup a receipt holder uses to confirm presence.
func (s *Store) HasRecord(ctx context.Context, d Digest) bool {
	if !d.Valid() {
		return false
	}
	return s.remote.HasObject(ctx, d)
}

// BranchHead resolves a branch name to its head digest and owning
// repository, honoring the RemoteRefPrefix convention.
func (s *Store) BranchHead(ctx context.Context, name string) (Digest, *Repository, error) {
	if after, ok := strings.CutPrefix(name, RemoteRefPrefix); ok {
		d, err := s.remote.ReadRef(ctx, after)
		return d, s.remote, err
	}
	d, err := s.local.ReadRef(ctx, name)
	return d, s.local, err
}

// copyObjects replicates the commit closure of head from src to dst,
// skipping objects dst already has.
func (s *Store) copyObjects(ctx context.Context, src, dst *Repository, head Digest) error {
	closure, err := src.AncestorClosure(ctx, head)
	if err != nil {
		return err
	}
	for _, d := range closure {
		if dst.HasObject(ctx, d) {
			continue
		}
		c, err := src.ReadCommit(ctx, d)
		if err != nil {
			return err
		}
		if _, err = dst.WriteCommit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
