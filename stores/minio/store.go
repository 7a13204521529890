// Package minio implements a Store over MinIO and other S3-compatible
// services, addressed by URLs like "minio://host:9000/bucket/prefix/".
// Credentials are read from MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a minio:// store URL.
type StoreQueryArgs struct {
	common.LayoutConfig
	// Secure connects over TLS.
	Secure bool
	// Region of the bucket, if the service requires one.
	Region string
}

type store struct {
	client *minio.Client
	bucket string
	prefix string
	args   StoreQueryArgs
}

// New creates a new MinIO Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix, err = splitBucket(ep.Path)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(ep.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
		Secure: args.Secure,
		Region: args.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing MinIO client: %w", err)
	}

	log.WithFields(log.Fields{
		"endpoint": ep.Host,
		"bucket":   bucket,
		"prefix":   prefix,
		"secure":   args.Secure,
	}).Info("constructed new MinIO client")

	return NewStore(client, bucket, prefix, args), nil
}

// NewStore returns a Store of the client, bucket, and key prefix.
func NewStore(client *minio.Client, bucket, prefix string, args StoreQueryArgs) stores.Store {
	return &store{client: client, bucket: bucket, prefix: prefix, args: args}
}

func (s *store) Provider() string { return "minio" }

func (s *store) key(path string) string { return s.args.Key(s.prefix, path) }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{}); err == nil {
		return true, nil
	} else if isNotFound(err) {
		return false, nil
	} else {
		return false, err
	}
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, s.bucket, s.key(path), minio.GetObjectOptions{})
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var _, err = s.client.PutObject(ctx, s.bucket, s.key(path),
		io.NewSectionReader(content, 0, contentLength), contentLength,
		minio.PutObjectOptions{ContentEncoding: contentEncoding})
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.key(prefix)

	// Cancelling |ctx| stops the listing goroutine if the callback fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		} else if strings.HasSuffix(obj.Key, "/") {
			continue // Ignore directory-like objects.
		}
		if err := callback(strings.TrimPrefix(obj.Key, prefix), obj.LastModified); err != nil {
			return err
		}
	}
	return nil
}

// Remove is idempotent: removing a missing object is not an error.
func (s *store) Remove(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(path), minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var resp = minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return resp.StatusCode == http.StatusForbidden
}

func isNotFound(err error) bool {
	var code = minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// splitBucket splits "/bucket/prefix/" into its bucket and key prefix.
func splitBucket(p string) (bucket, prefix string, err error) {
	var parts = strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("minio:// URL must include a bucket: minio://host:port/bucket/prefix/")
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}
