package submission

import "errors"

// ErrBranchCollision is fatal: the engine exhausted its attempts to claim a
// unique CVR branch name on the remote.
var ErrBranchCollision = errors.New("could not create a unique contest branch")
