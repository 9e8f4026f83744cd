package commitlog

import (
	"fmt"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

const (
	azblobBlobNotFound        = "BlobNotFound"
	azblobBlobAlreadyExists   = "BlobAlreadyExists"
	azblobConditionNotMet     = "ConditionNotMet"
	azblobTargetConditionFail = "TargetConditionNotMet"
)

func asStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

// wrapBlobNotFound translates the azure sdk blob not found error to
// ErrObjectNotFound so repository callers see the store contract error. Any
// other error is returned as is.
func wrapBlobNotFound(p string, err error) error {
	if err == nil {
		return nil
	}
	serr, ok := asStorageError(err)
	if !ok {
		return err
	}
	if serr.ErrorCode != azblobBlobNotFound {
		return err
	}
	return fmt.Errorf("%w: %s", ErrObjectNotFound, p)
}

// isBlobConditionNotMet recognizes the errors azure raises for an etag
// guarded create exclusive write that lost the race.
func isBlobConditionNotMet(err error) bool {
	serr, ok := asStorageError(err)
	if !ok {
		return false
	}
	switch string(serr.ErrorCode) {
	case azblobBlobAlreadyExists, azblobConditionNotMet, azblobTargetConditionFail:
		return true
	}
	return false
}
