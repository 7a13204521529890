// Package stores provides an abstraction over the remote write archives to
// which published log files are shipped: object stores of cloud providers,
// or a directory of a (typically network-mounted) local filesystem.
package stores

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Store is a remote write archive. Paths are relative to the archive's
// endpoint, and use '/' separators.
type Store interface {
	// Provider names the backend, such as "s3" or "file".
	Provider() string
	// Exists returns whether |path| is held by the archive.
	Exists(ctx context.Context, path string) (bool, error)
	// Get returns the raw content of |path|, without decompression.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Put durably writes |contentLength| bytes of |content| to |path|.
	// A non-empty |contentEncoding| is recorded as the object's encoding.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error
	// List calls |callback| with each path under |prefix|, relative to
	// |prefix|, and its modification time. An error of the callback
	// stops the listing and is returned.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error
	// Remove deletes |path|.
	Remove(ctx context.Context, path string) error
	// IsAuthError returns whether |err| means the archive can't be used as
	// configured: credentials are denied, or the bucket is missing.
	IsAuthError(error) bool
}

// Constructor returns the Store of an endpoint URL.
type Constructor func(*url.URL) (Store, error)
