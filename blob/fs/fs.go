// Package fs implements blob.Store on the local filesystem: one file per
// blob id under a root directory, following the workspace's
// resolve-then-operate convention for path safety.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pinkfuwa/llumen-go/blob"
)

// Store stores each blob as a single file named by its id under root.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob/fs: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(id int64) string {
	return filepath.Join(s.root, strconv.FormatInt(id, 10))
}

func (s *Store) Insert(ctx context.Context, id int64, size int64, r io.Reader) error {
	f, err := os.Create(s.path(id))
	if err != nil {
		return fmt.Errorf("blob/fs: create: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("blob/fs: write: %w", err)
	}
	if size > 0 && n != size {
		return fmt.Errorf("blob/fs: wrote %d bytes, expected %d", n, size)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("blob/fs: open: %w", err)
	}
	return f, nil
}

func (s *Store) GetVectored(ctx context.Context, id int64) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("blob/fs: read: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob/fs: delete: %w", err)
	}
	return nil
}

var _ blob.Store = (*Store)(nil)
