package commitlog

import (
	"context"
	"fmt"
	"io"

	"github.com/datatrails/go-datatrails-common/azblob"
)

// BlobStore is an ObjectStore over an azure blob container. It backs the
// shared remote repository in deployments where the voting center remote is
// blob hosted rather than a peer node.
type BlobStore struct {
	store  *azblob.Storer
	prefix string
}

// NewBlobStore wraps the storer, scoping every object under prefix so many
// elections can share one container.
func NewBlobStore(store *azblob.Storer, prefix string) *BlobStore {
	return &BlobStore{store: store, prefix: prefix}
}

func (s *BlobStore) blobPath(p string) string { return s.prefix + p }

func (s *BlobStore) Get(ctx context.Context, p string) ([]byte, error) {
	rr, err := s.store.Reader(ctx, s.blobPath(p))
	if err != nil {
		return nil, wrapBlobNotFound(p, err)
	}
	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	var marker azblob.ListMarker
	for {
		r, err := s.store.List(ctx,
			azblob.WithListPrefix(s.blobPath(prefix)), azblob.WithListMarker(marker))
		if err != nil {
			return nil, err
		}
		for _, it := range r.Items {
			paths = append(paths, (*it.Name)[len(s.prefix):])
		}
		if len(r.Items) == 0 || r.Marker == nil {
			break
		}
		marker = r.Marker
	}
	return paths, nil
}

func (s *BlobStore) Put(ctx context.Context, p string, data []byte, failIfExists bool) error {
	var opts []azblob.Option
	if failIfExists {
		// The way to spell 'fail without modifying if the blob exists' is
		// to require that no blob matches *any* etag.
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}
	_, err := s.store.Put(ctx, s.blobPath(p), azblob.NewBytesReaderCloser(data), opts...)
	if err != nil && failIfExists && isBlobConditionNotMet(err) {
		return fmt.Errorf("%w: %s", ErrObjectExists, p)
	}
	return err
}

func (s *BlobStore) Delete(ctx context.Context, p string) error {
	return s.store.Delete(ctx, s.blobPath(p))
}
