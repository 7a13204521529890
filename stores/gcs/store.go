// Package gcs implements a Store over Google Cloud Storage, addressed by
// URLs like "gs://bucket/prefix/".
package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a gs:// store URL.
type StoreQueryArgs struct {
	common.LayoutConfig
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *storage.Client
}

// New creates a new GCS Store from the provided URL, using
// application default credentials.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix = ep.Host, ep.Path[1:]
	var ctx = context.Background()

	creds, err := google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"ProjectID": creds.ProjectID,
		"bucket":    bucket,
		"prefix":    prefix,
	}).Info("constructed new GCS client")

	return &store{bucket: bucket, prefix: prefix, args: args, client: client}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.args.Key(s.prefix, path))
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	} else if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.object(path).NewReader(ctx)
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	// Cancellation of |ctx| aborts an incomplete upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wc = s.object(path).NewWriter(ctx)
	if contentEncoding != "" {
		wc.ContentEncoding = contentEncoding
	}
	if _, err := io.Copy(wc, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return err
	}
	return wc.Close()
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.args.Key(s.prefix, prefix)
	var (
		it  = s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		obj *storage.ObjectAttrs
		err error
	)
	for obj, err = it.Next(); err == nil; obj, err = it.Next() {
		if strings.HasSuffix(obj.Name, "/") {
			continue // Ignore directory-like objects.
		}
		if err := callback(strings.TrimPrefix(obj.Name, prefix), obj.Updated); err != nil {
			return err
		}
	}
	if err == iterator.Done {
		err = nil
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	return s.object(path).Delete(ctx)
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	} else if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			// Only bucket-level 404s are authorization failures.
			return strings.Contains(gErr.Message, "bucket")
		}
	}
	return false
}
