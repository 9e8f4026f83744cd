package commitlog

import "errors"

var (
	ErrBranchExists   = errors.New("a branch with that name already exists")
	ErrUnknownBranch  = errors.New("no branch with that name")
	ErrPushConflict   = errors.New("the remote refused the push due to a conflicting ref")
	ErrUnknownObject  = errors.New("object not present in the store")
	ErrCorruptObject  = errors.New("stored object bytes do not match their digest")
	ErrEmptyHistory   = errors.New("the branch has no commits")
	ErrEmptyDiff      = errors.New("the branch tip commit changed no file")
	ErrNotResolved    = errors.New("the merge content has not been resolved")
	ErrNotFastForward = errors.New("the pulled ref is not a descendant of the local ref")
)
