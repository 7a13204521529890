package minio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

func TestSplitBucket(t *testing.T) {
	var bucket, prefix, err = splitBucket("/wal/host-a/logs/")
	require.NoError(t, err)
	require.Equal(t, "wal", bucket)
	require.Equal(t, "host-a/logs/", prefix)

	bucket, prefix, err = splitBucket("/wal/")
	require.NoError(t, err)
	require.Equal(t, "wal", bucket)
	require.Equal(t, "", prefix)

	_, _, err = splitBucket("/")
	require.Error(t, err)
}

func TestIsAuthError(t *testing.T) {
	var s = &store{}

	require.True(t, s.IsAuthError(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	require.True(t, s.IsAuthError(minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}))
	require.True(t, s.IsAuthError(minio.ErrorResponse{Code: "Other", StatusCode: http.StatusForbidden}))
	require.False(t, s.IsAuthError(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	require.False(t, s.IsAuthError(errors.New("timeout")))
	require.False(t, s.IsAuthError(nil))

	require.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	require.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
}

// TestIntegration requires a running MinIO instance, and is skipped otherwise.
func TestIntegration(t *testing.T) {
	var endpoint = os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	var ctx = context.Background()

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	if ok, err := client.BucketExists(ctx, "shiplog-test"); err != nil {
		t.Skipf("MinIO not available: %v", err)
	} else if !ok {
		require.NoError(t, client.MakeBucket(ctx, "shiplog-test", minio.MakeBucketOptions{}))
	}

	var s = NewStore(client, "shiplog-test", "it/", StoreQueryArgs{})
	require.NoError(t, s.Put(ctx, "seg/1.txn", strings.NewReader("hello"), 5, ""))

	exists, err := s.Exists(ctx, "seg/1.txn")
	require.NoError(t, err)
	require.True(t, exists)

	rc, err := s.Get(ctx, "seg/1.txn")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	var listed []string
	require.NoError(t, s.List(ctx, "seg/", func(p string, _ time.Time) error {
		listed = append(listed, p)
		return nil
	}))
	require.Equal(t, []string{"1.txn"}, listed)

	require.NoError(t, s.Remove(ctx, "seg/1.txn"))
	require.NoError(t, s.Remove(ctx, "seg/1.txn"))
}

func TestBadURL(t *testing.T) {
	var u, _ = url.Parse("minio://localhost:9000/")
	var _, err = New(u)
	require.Error(t, err)
}
