package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	appErrors "dataguard/internal/errors"
)

// AzureStore keeps objects in an Azure Blob Storage container.
type AzureStore struct {
	credential    *azblob.SharedKeyCredential
	containerURL  azblob.ContainerURL
	containerName string
	keys          keyspace
	retry         *appErrors.RetryHandler
}

// NewAzureStore creates a container client with shared key auth.
func NewAzureStore(cfg *AzureConfig, prefix string, retry *appErrors.RetryHandler) (*AzureStore, error) {
	if cfg == nil || cfg.AccountName == "" || cfg.ContainerName == "" {
		return nil, appErrors.NewConfigurationError("Azure storage configuration is required", nil)
	}
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to parse Azure service URL", err)
	}

	return &AzureStore{
		credential:    credential,
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		containerName: cfg.ContainerName,
		keys:          newKeyspace(prefix),
		retry:         retry,
	}, nil
}

// Put uploads data with If-None-Match: * so existing blobs are never replaced.
func (a *AzureStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}
	key, err := a.keys.key(location)
	if err != nil {
		return "", err
	}

	blobURL := a.containerURL.NewBlockBlobURL(key)
	err = a.retry.Retry(ctx, func() error {
		_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
			BlockSize:   4 * 1024 * 1024,
			Parallelism: 4,
			BlobHTTPHeaders: azblob.BlobHTTPHeaders{
				ContentType: "application/octet-stream",
			},
			Metadata: azblob.Metadata{
				"payloadsize": fmt.Sprintf("%d", len(data)),
			},
			AccessConditions: azblob.BlobAccessConditions{
				ModifiedAccessConditions: azblob.ModifiedAccessConditions{IfNoneMatch: azblob.ETagAny},
			},
		})
		return err
	})
	if err != nil {
		if status := azureStatus(err); status == http.StatusConflict || status == http.StatusPreconditionFailed {
			return "", exists(location)
		}
		return "", appErrors.NewStorageWriteError(fmt.Sprintf("failed to upload %s to Azure", location), err)
	}
	return location, nil
}

// Get downloads the blob at location.
func (a *AzureStore) Get(ctx context.Context, location string) ([]byte, error) {
	key, err := a.keys.key(location)
	if err != nil {
		return nil, err
	}

	blobURL := a.containerURL.NewBlockBlobURL(key)
	var buf bytes.Buffer
	err = a.retry.Retry(ctx, func() error {
		buf.Reset()
		resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
		if err != nil {
			return err
		}
		body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
		defer body.Close()
		_, err = buf.ReadFrom(body)
		return err
	})
	if err != nil {
		if azureStatus(err) == http.StatusNotFound {
			return nil, notFound(location, err)
		}
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to download %s from Azure", location), err)
	}
	return buf.Bytes(), nil
}

// Delete removes the blob and its snapshots. A missing blob is ignored.
func (a *AzureStore) Delete(ctx context.Context, location string) error {
	key, err := a.keys.key(location)
	if err != nil {
		return err
	}
	blobURL := a.containerURL.NewBlockBlobURL(key)
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && azureStatus(err) != http.StatusNotFound {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete %s from Azure", location), err)
	}
	return nil
}

// List walks every blob segment under prefix.
func (a *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: a.keys.listPrefix(prefix),
		})
		if err != nil {
			return nil, appErrors.NewStorageReadError("failed to list blobs in Azure", err)
		}
		for _, blob := range resp.Segment.BlobItems {
			out = append(out, a.keys.location(blob.Name))
		}
		marker = resp.NextMarker
	}
	return out, nil
}

// PresignedURL returns a read-only SAS URL valid for ttl.
func (a *AzureStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	key, err := a.keys.key(location)
	if err != nil {
		return "", err
	}

	sas, err := azblob.BlobSASSignatureValues{
		Protocol:      azblob.SASProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(ttl),
		ContainerName: a.containerName,
		BlobName:      key,
		Permissions:   azblob.BlobSASPermissions{Read: true}.String(),
	}.NewSASQueryParameters(a.credential)
	if err != nil {
		return "", appErrors.NewStorageReadError("failed to sign Azure url", err)
	}

	parts := azblob.NewBlobURLParts(a.containerURL.NewBlockBlobURL(key).URL())
	parts.SAS = sas
	u := parts.URL()
	return u.String(), nil
}

// HealthCheck verifies the container is reachable and listable.
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return appErrors.NewStorageReadError("Azure health check failed: container not accessible", err)
	}
	if _, err := a.containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		Prefix:     a.keys.prefix,
		MaxResults: 1,
	}); err != nil {
		return appErrors.NewStorageReadError("Azure health check failed: cannot list blobs", err)
	}
	return nil
}

func (a *AzureStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider":  string(ProviderAzure),
		"container": a.containerName,
		"prefix":    a.keys.prefix,
	}
}

func azureStatus(err error) int {
	var serr azblob.StorageError
	if errors.As(err, &serr) && serr.Response() != nil {
		return serr.Response().StatusCode
	}
	return 0
}
