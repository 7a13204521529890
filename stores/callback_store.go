package stores

import (
	"context"
	"io"
	"time"
)

// CallbackStore is a Store whose behavior is supplied by tests.
// Each nil callback falls back to a trivial success.
type CallbackStore struct {
	ExistsFunc      func(ctx context.Context, path string) (bool, error)
	GetFunc         func(ctx context.Context, path string) (io.ReadCloser, error)
	PutFunc         func(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error
	ListFunc        func(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error
	RemoveFunc      func(ctx context.Context, path string) error
	IsAuthErrorFunc func(error) bool
}

func (c *CallbackStore) Provider() string { return "callback" }

func (c *CallbackStore) Exists(ctx context.Context, path string) (bool, error) {
	if c.ExistsFunc != nil {
		return c.ExistsFunc(ctx, path)
	}
	return false, nil
}

func (c *CallbackStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if c.GetFunc != nil {
		return c.GetFunc(ctx, path)
	}
	return nil, nil
}

func (c *CallbackStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	if c.PutFunc != nil {
		return c.PutFunc(ctx, path, content, contentLength, contentEncoding)
	}
	return nil
}

func (c *CallbackStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	if c.ListFunc != nil {
		return c.ListFunc(ctx, prefix, callback)
	}
	return nil
}

func (c *CallbackStore) Remove(ctx context.Context, path string) error {
	if c.RemoveFunc != nil {
		return c.RemoveFunc(ctx, path)
	}
	return nil
}

func (c *CallbackStore) IsAuthError(err error) bool {
	if c.IsAuthErrorFunc != nil {
		return c.IsAuthErrorFunc(err)
	}
	return false
}
