package s3

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/require"
	"go.shiplog.dev/core/stores/common"
)

func TestIsAuthError(t *testing.T) {
	var s = &store{}

	for _, tc := range []struct {
		err    error
		expect bool
	}{
		{awserr.New(s3.ErrCodeNoSuchBucket, "no such bucket", nil), true},
		{awserr.New(s3ErrCodeAccessDenied, "Access Denied", nil), true},
		{awserr.NewRequestFailure(awserr.New("Forbidden", "Forbidden", nil), http.StatusForbidden, "req"), true},
		{awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req"), false},
		{awserr.New("InvalidAccessKeyId", "bad key id", nil), false},
		{errors.New("connection reset"), false},
		{nil, false},
	} {
		require.Equal(t, tc.expect, s.IsAuthError(tc.err), "%v", tc.err)
	}
}

func TestObjectKeys(t *testing.T) {
	var s = &store{bucket: "bucket", prefix: "wal/"}
	require.Equal(t, "wal/txn/00000003-00000005.txn", *s.key("txn/00000003-00000005.txn"))

	s.args.LayoutConfig = common.LayoutConfig{Subdir: "host-a"}
	require.Equal(t, "wal/host-a/x.txn", *s.key("x.txn"))
}

func TestPutInputOptions(t *testing.T) {
	var s = &store{bucket: "bucket", prefix: "wal/"}
	var content = strings.NewReader("content")

	var in = s.putInput("a.txn.gz", content, 7, "gzip")
	require.Equal(t, "bucket", *in.Bucket)
	require.Equal(t, "wal/a.txn.gz", *in.Key)
	require.Equal(t, int64(7), *in.ContentLength)
	require.Equal(t, "gzip", *in.ContentEncoding)
	require.Nil(t, in.ACL)
	require.Nil(t, in.ServerSideEncryption)

	s.args = StoreQueryArgs{ACL: "bucket-owner-full-control", SSE: "aws:kms", SSEKMSKeyId: "key-1"}
	in = s.putInput("a.txn", content, 7, "")
	require.Equal(t, "bucket-owner-full-control", *in.ACL)
	require.Equal(t, "aws:kms", *in.ServerSideEncryption)
	require.Equal(t, "key-1", *in.SSEKMSKeyId)
	require.Nil(t, in.ContentEncoding)
	require.Nil(t, in.StorageClass)
}
