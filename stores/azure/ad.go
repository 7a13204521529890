package azure

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-storage-blob-go/azblob"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
)

// NewAD creates a Store authenticated by the Azure AD client secret given by
// AZURE_CLIENT_ID and AZURE_CLIENT_SECRET.
func NewAD(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var tenantID, storageAccount, container, prefix, err = parseADPath(ep)
	if err != nil {
		return nil, err
	}

	var clientID = os.Getenv("AZURE_CLIENT_ID")
	var clientSecret = os.Getenv("AZURE_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")
	}

	credentials, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret,
		&azidentity.ClientSecretCredentialOptions{DisableInstanceDiscovery: true})
	if err != nil {
		return nil, err
	}

	// Returns the duration until the next refresh.
	var refreshFn = func(credential azblob.TokenCredential) time.Duration {
		var token, err = credentials.GetToken(context.Background(), policy.TokenRequestOptions{
			TenantID: tenantID,
			Scopes:   []string{"https://storage.azure.com/.default"},
		})
		if err != nil {
			log.WithFields(log.Fields{
				"err":    err,
				"tenant": tenantID,
			}).Error("failed to refresh Azure credential (will retry)")

			return time.Minute
		}
		credential.SetToken(token.Token)
		return time.Until(token.ExpiresOn.Add(-time.Minute))
	}

	var store = &storeBase{
		storageAccount: storageAccount,
		blobDomain:     blobDomain(),
		container:      container,
		prefix:         prefix,
		args:           args,
		pipeline:       azblob.NewPipeline(azblob.NewTokenCredential("", refreshFn), azblob.PipelineOptions{}),
	}

	log.WithFields(log.Fields{
		"tenant":         tenantID,
		"storageAccount": storageAccount,
		"blobDomain":     store.blobDomain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed new Azure AD storage client")

	return store, nil
}

// parseADPath splits azure-ad://tenant-id/account/container/prefix/.
func parseADPath(ep *url.URL) (tenantID, account, container, prefix string, err error) {
	var parts = strings.Split(strings.TrimPrefix(ep.Path, "/"), "/")
	if ep.Host == "" || len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		err = fmt.Errorf("azure-ad:// URL must include tenant, storage account and container: azure-ad://tenant-id/storage-account/container/prefix/")
		return
	}
	tenantID, account, container = ep.Host, parts[0], parts[1]
	prefix = strings.Join(parts[2:], "/")
	return
}
