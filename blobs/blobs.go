// Package blobs is the object store used for raw uploads and the price cache.
package blobs

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotExist is returned when an object is missing
	ErrNotExist = errors.New("blob does not exist")
	// ErrExists is returned by Put with onlyIfAbsent when the object is already there
	ErrExists = errors.New("blob already exists")
)

// Bucket is the subset of object storage this project needs
type Bucket interface {
	// Name returns the bucket name
	Name() string

	// Ensure creates the bucket, or uses it if it already exists.
	// created reports whether a new bucket was made.
	Ensure(ctx context.Context) (created bool, err error)

	// Upload streams r into the named object and returns its gs:// URI
	Upload(ctx context.Context, name string, r io.Reader) (string, error)

	// Put writes data. With onlyIfAbsent an existing object is never replaced and ErrExists is returned.
	Put(ctx context.Context, name string, data []byte, onlyIfAbsent bool) error

	// Get reads a whole object, ErrNotExist if missing
	Get(ctx context.Context, name string) ([]byte, error)

	// Exists reports whether the object is present
	Exists(ctx context.Context, name string) (bool, error)

	// List returns object names under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
}

// URI formats a gs:// URI
func URI(bucket, name string) string {
	return "gs://" + bucket + "/" + name
}
