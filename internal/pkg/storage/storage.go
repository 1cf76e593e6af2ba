package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrInvalidPath  = errors.New("invalid file path")
	ErrFileNotFound = errors.New("file not found")
)

// FileStorage keeps generated documents such as archived payroll registers.
type FileStorage interface {
	// Save writes r under path and returns the stored key.
	Save(ctx context.Context, path string, r io.Reader, contentType string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}
