// Package blob defines the binary-object storage contract the chat core
// uses for uploaded attachments and generated images.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get/GetVectored when id has no stored blob.
var ErrNotFound = errors.New("blob: not found")

// Store is the narrow binary-object contract: insert a stream of bytes under
// an id, retrieve it as a stream or fully buffered, and delete it.
type Store interface {
	Insert(ctx context.Context, id int64, size int64, r io.Reader) error
	Get(ctx context.Context, id int64) (io.ReadCloser, error)
	GetVectored(ctx context.Context, id int64) ([]byte, error)
	Delete(ctx context.Context, id int64) error
}
