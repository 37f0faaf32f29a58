package rthumb

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("object not found")
)

// ObjectStore is a bucket-based object store. Keys are slash-delimited, folders are
// just key prefixes.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns [ErrNotFound] if the object doesn't exist.
	Get(ctx context.Context, key string) (*Object, error)
	// Put overwrites the object unconditionally.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	// Delete doesn't return an error if the object doesn't exist.
	Delete(ctx context.Context, key string) error
	// Move renames the object only if src exists and dst doesn't. It reports whether
	// the object was moved.
	Move(ctx context.Context, src, dst string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

type Object struct {
	Data        []byte
	ContentType string
	// Metadata keys are always in lower case.
	Metadata map[string]string
}

// Digest returns the value of the "digest" metadata entry.
func (obj *Object) Digest() string {
	return obj.Metadata[MetadataDigest]
}

type PutOptions struct {
	ContentType string
	// Filename is used for Content-Disposition header, optional.
	Filename string
	Metadata map[string]string
}

const (
	MetadataDigest = "digest"

	DefaultContentType = "application/octet-stream"
)
