// Package azure implements Stores over Azure Blob Storage. URLs of the form
// "azure://container/prefix/" authenticate with a shared account key, and
// "azure-ad://tenant-id/account/container/prefix/" with an AD client secret.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"go.shiplog.dev/core/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an azure:// or azure-ad:// store URL.
type StoreQueryArgs struct {
	common.LayoutConfig
}

// storeBase provides Store operations common to both authentication modes.
type storeBase struct {
	args           StoreQueryArgs
	storageAccount string // Storage accounts are the equivalent of an S3 "bucket".
	blobDomain     string // Domain of the account, e.g. blob.core.windows.net.
	container      string // Containers hold blobs, and live inside accounts.
	prefix         string // Path prefix of blobs within the container.
	pipeline       pipeline.Pipeline
}

func (a *storeBase) Provider() string { return "azure" }

func (a *storeBase) Exists(ctx context.Context, path string) (bool, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return false, err
	}
	if _, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err == nil {
		return true, nil
	}
	if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, err
}

func (a *storeBase) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return nil, err
	}
	download, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, err
	}
	return download.Body(azblob.RetryReaderOptions{}), nil
}

func (a *storeBase) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	var headers = azblob.BlobHTTPHeaders{ContentEncoding: contentEncoding}

	_, err = blobURL.Upload(ctx, io.NewSectionReader(content, 0, contentLength), headers,
		azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier,
		azblob.BlobTagsMap{}, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func (a *storeBase) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = a.args.Key(a.prefix, prefix)

	var u, err = url.Parse(a.containerURL())
	if err != nil {
		return err
	}
	var containerURL = azblob.NewContainerURL(*u, a.pipeline)
	var options = azblob.ListBlobsSegmentOptions{Prefix: prefix}

	for marker := (azblob.Marker{}); marker.NotDone(); {
		var segment, err = containerURL.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return err
		}
		for _, blob := range segment.Segment.BlobItems {
			if strings.HasSuffix(blob.Name, "/") {
				continue // Ignore directory-like objects.
			}
			if err := callback(strings.TrimPrefix(blob.Name, prefix), blob.Properties.LastModified); err != nil {
				return err
			}
		}
		marker = segment.NextMarker
	}
	return nil
}

func (a *storeBase) Remove(ctx context.Context, path string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	return err
}

func (a *storeBase) IsAuthError(err error) bool {
	var storageErr, ok = err.(azblob.StorageError)
	if !ok {
		return false
	}
	switch storageErr.ServiceCode() {
	case azblob.ServiceCodeContainerNotFound,
		azblob.ServiceCodeContainerDisabled,
		azblob.ServiceCodeAccountIsDisabled:
		return true
	}
	return storageErr.Response() != nil && storageErr.Response().StatusCode == http.StatusForbidden
}

func (a *storeBase) buildBlobURL(path string) (*azblob.BlockBlobURL, error) {
	var u, err = url.Parse(fmt.Sprint(a.containerURL(), "/", a.args.Key(a.prefix, path)))
	if err != nil {
		return nil, err
	}
	var blobURL = azblob.NewBlockBlobURL(*u, a.pipeline)
	return &blobURL, nil
}

func (a *storeBase) containerURL() string {
	return fmt.Sprintf("%s/%s", azureStorageURL(a.storageAccount, a.blobDomain), a.container)
}

func azureStorageURL(storageAccount string, blobDomain string) string {
	return fmt.Sprintf("https://%s.%s", storageAccount, blobDomain)
}

// blobDomain returns the configured AZURE_BLOB_DOMAIN, such as that of a
// sovereign cloud, or the public cloud's domain.
func blobDomain() string {
	if d := os.Getenv("AZURE_BLOB_DOMAIN"); d != "" {
		return d
	}
	return "blob.core.windows.net"
}
