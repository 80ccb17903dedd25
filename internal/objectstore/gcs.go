package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appErrors "dataguard/internal/errors"
)

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	bucketName string
	keys       keyspace
	retry      *appErrors.RetryHandler
}

// NewGCSStore creates a GCS client. Without a credentials file the default
// application credentials are used.
func NewGCSStore(ctx context.Context, cfg *GCSConfig, prefix string, retry *appErrors.RetryHandler) (*GCSStore, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, appErrors.NewConfigurationError("GCS storage configuration is required", nil)
	}
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to create GCS client", err)
	}

	return &GCSStore{
		client:     client,
		bucketName: cfg.Bucket,
		keys:       newKeyspace(prefix),
		retry:      retry,
	}, nil
}

// Put uploads data with a does-not-exist precondition.
func (g *GCSStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}
	key, err := g.keys.key(location)
	if err != nil {
		return "", err
	}

	obj := g.client.Bucket(g.bucketName).Object(key).If(storage.Conditions{DoesNotExist: true})
	err = g.retry.Retry(ctx, func() error {
		w := obj.NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.Metadata = map[string]string{"payload-size": fmt.Sprintf("%d", len(data))}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", exists(location)
		}
		return "", appErrors.NewStorageWriteError(fmt.Sprintf("failed to upload %s to GCS", location), err)
	}
	return location, nil
}

// Get downloads the object at location.
func (g *GCSStore) Get(ctx context.Context, location string) ([]byte, error) {
	key, err := g.keys.key(location)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = g.retry.Retry(ctx, func() error {
		r, err := g.client.Bucket(g.bucketName).Object(key).NewReader(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(location, err)
		}
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to download %s from GCS", location), err)
	}
	return data, nil
}

// Delete removes the object. A missing object is ignored.
func (g *GCSStore) Delete(ctx context.Context, location string) error {
	key, err := g.keys.key(location)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete %s from GCS", location), err)
	}
	return nil
}

// List iterates every object under prefix.
func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucketName).Objects(ctx, &storage.Query{Prefix: g.keys.listPrefix(prefix)})

	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, appErrors.NewStorageReadError("failed to list objects in GCS", err)
		}
		out = append(out, g.keys.location(attrs.Name))
	}
	return out, nil
}

// PresignedURL returns a V4 signed GET URL valid for ttl. Signing needs a
// service account key in the client credentials.
func (g *GCSStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	key, err := g.keys.key(location)
	if err != nil {
		return "", err
	}
	u, err := g.client.Bucket(g.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", appErrors.NewStorageReadError("failed to sign GCS url", err)
	}
	return u, nil
}

// HealthCheck verifies the bucket is reachable and listable.
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		return appErrors.NewStorageReadError("GCS health check failed: bucket not accessible", err)
	}

	it := bucket.Objects(ctx, &storage.Query{Prefix: g.keys.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return appErrors.NewStorageReadError("GCS health check failed: cannot list objects", err)
	}
	return nil
}

func (g *GCSStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderGCS),
		"bucket":   g.bucketName,
		"prefix":   g.keys.prefix,
	}
}

// Close releases the GCS client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
