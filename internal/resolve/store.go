package resolve

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Object is one entry in a remote store listing.
type Object struct {
	Key string
}

// ObjectStore is the remote-store capability consumed by the Resolver.
// Implementations are external collaborators; the pipeline only needs
// listing and fetch-to-local-path.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket string) ([]Object, error)
	Fetch(ctx context.Context, bucket, key, dest string) error
}

// DirStore is an ObjectStore backed by a local directory tree. A bucket is
// a subdirectory of the root and keys are slash-separated paths beneath it.
// It is the store implementation the CLI wires when --bucket points at a
// directory, and the stand-in store used in tests.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) ListObjects(ctx context.Context, bucket string) ([]Object, error) {
	base := filepath.Join(s.root, bucket)
	var objs []Object
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		objs = append(objs, Object{Key: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing bucket %s: %w", bucket, err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

func (s *DirStore) Fetch(ctx context.Context, bucket, key, dest string) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	src, err := os.Open(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("fetching %s from %s: %w", key, bucket, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copying %s: %w", key, err)
	}
	return nil
}
