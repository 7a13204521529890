package azure

import (
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
)

// NewAccount creates a Store authenticated with the shared key given by
// AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY.
func NewAccount(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")

	if storageAccount == "" || accountKey == "" {
		return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}

	credentials, err := azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}

	var store = &storeBase{
		storageAccount: storageAccount,
		blobDomain:     blobDomain(),
		container:      ep.Host,
		prefix:         ep.Path[1:],
		args:           args,
		pipeline:       azblob.NewPipeline(credentials, azblob.PipelineOptions{}),
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     store.blobDomain,
		"container":      store.container,
		"prefix":         store.prefix,
	}).Info("constructed new Azure Shared Key storage client")

	return store, nil
}
