// Package s3 implements a Store over Amazon S3 and S3-compatible services,
// addressed by URLs like "s3://bucket/prefix/?Region=us-east-1".
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
)

// StoreQueryArgs are the query arguments of an s3:// store URL.
type StoreQueryArgs struct {
	common.LayoutConfig
	// Profile of the shared credentials file. Empty means default credentials.
	Profile string
	// Endpoint of an S3-compatible service. Setting it implies path-style
	// bucket addressing.
	Endpoint string
	// Region of the bucket. Empty means the region of the Profile.
	Region string
	// ACL, StorageClass, SSE and SSEKMSKeyId are applied to shipped files.
	ACL          string
	StorageClass string
	SSE          string
	SSEKMSKeyId  string
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *s3.S3
}

// New returns a Store of the s3:// URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var sess, err = newSession(args)
	if err != nil {
		return nil, err
	}
	return &store{
		bucket: ep.Host,
		prefix: strings.TrimPrefix(ep.Path, "/"),
		args:   args,
		client: s3.New(sess),
	}, nil
}

func newSession(args StoreQueryArgs) (*session.Session, error) {
	var cfg = aws.NewConfig().WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		cfg = cfg.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		cfg = cfg.WithEndpoint(args.Endpoint).WithS3ForcePathStyle(true)
	} else {
		// Shipped files are fetched verbatim, whatever their Content-Encoding.
		cfg = cfg.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	var sess, err = session.NewSessionWithOptions(session.Options{Config: *cfg, Profile: args.Profile})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 session: %w", err)
	}
	creds, err := sess.Config.Credentials.Get()
	if err != nil {
		return nil, fmt.Errorf("fetching AWS credentials for profile %q: %w", args.Profile, err)
	}
	if aws.StringValue(sess.Config.Region) == "" {
		return nil, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"endpoint": args.Endpoint,
		"profile":  args.Profile,
		"region":   aws.StringValue(sess.Config.Region),
		"keyID":    creds.AccessKeyID,
		"provider": creds.ProviderName,
	}).Info("constructed S3 session")

	return sess, nil
}

func (s *store) Provider() string { return "s3" }

func (s *store) key(path string) *string { return aws.String(s.args.Key(s.prefix, path)) }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if err == nil {
		return true, nil
	} else if statusOf(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var _, err = s.client.PutObjectWithContext(ctx, s.putInput(path, content, contentLength, contentEncoding))
	return err
}

// putInput builds the PutObjectInput of a shipped file. The SDK requires an
// io.ReadSeeker body, which a SectionReader of |content| provides.
func (s *store) putInput(path string, content io.ReaderAt, contentLength int64, contentEncoding string) *s3.PutObjectInput {
	var in = &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(path),
		Body:          io.NewSectionReader(content, 0, contentLength),
		ContentLength: aws.Int64(contentLength),
	}
	var optional = []struct {
		value string
		field **string
	}{
		{s.args.ACL, &in.ACL},
		{s.args.StorageClass, &in.StorageClass},
		{s.args.SSE, &in.ServerSideEncryption},
		{s.args.SSEKMSKeyId, &in.SSEKMSKeyId},
		{contentEncoding, &in.ContentEncoding},
	}
	for _, o := range optional {
		if o.value != "" {
			*o.field = aws.String(o.value)
		}
	}
	return in
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.args.Key(s.prefix, prefix)

	var cbErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			var key = aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // Directory placeholder.
			}
			if cbErr = callback(strings.TrimPrefix(key, prefix), aws.TimeValue(obj.LastModified)); cbErr != nil {
				return false
			}
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	return err
}

func (s *store) IsAuthError(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
			return true
		}
	}
	return statusOf(err) == http.StatusForbidden
}

// statusOf returns the HTTP status of a failed request, or zero.
func statusOf(err error) int {
	if rf, ok := err.(awserr.RequestFailure); ok {
		return rf.StatusCode()
	}
	return 0
}

// Not defined as a constant by the SDK.
const s3ErrCodeAccessDenied = "AccessDenied"
