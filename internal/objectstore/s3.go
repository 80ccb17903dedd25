package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	appErrors "dataguard/internal/errors"
)

// S3Store keeps objects in an Amazon S3 (or S3-compatible) bucket.
type S3Store struct {
	client *s3.S3
	bucket string
	keys   keyspace
	retry  *appErrors.RetryHandler
}

// NewS3Store creates an S3 client for cfg.
func NewS3Store(cfg *S3Config, prefix string, retry *appErrors.RetryHandler) (*S3Store, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, appErrors.NewConfigurationError("S3 storage configuration is required", nil)
	}
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to create AWS session", err)
	}

	return &S3Store{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		keys:   newKeyspace(prefix),
		retry:  retry,
	}, nil
}

// Put uploads data. A HEAD request guards against overwriting an existing
// payload.
func (s *S3Store) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}
	key, err := s.keys.key(location)
	if err != nil {
		return "", err
	}

	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return "", exists(location)
	}
	if !isS3NotFound(err) {
		return "", appErrors.NewStorageWriteError(fmt.Sprintf("failed to check object %s", location), err)
	}

	err = s.retry.Retry(ctx, func() error {
		_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
			Metadata: map[string]*string{
				"payload-size": aws.String(fmt.Sprintf("%d", len(data))),
			},
		})
		return err
	})
	if err != nil {
		return "", appErrors.NewStorageWriteError(fmt.Sprintf("failed to upload %s to S3", location), err)
	}
	return location, nil
}

// Get downloads the object at location.
func (s *S3Store) Get(ctx context.Context, location string) ([]byte, error) {
	key, err := s.keys.key(location)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.retry.Retry(ctx, func() error {
		result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer result.Body.Close()
		data, err = io.ReadAll(result.Body)
		return err
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(location, err)
		}
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to download %s from S3", location), err)
	}
	return data, nil
}

// Delete removes the object. S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	key, err := s.keys.key(location)
	if err != nil {
		return err
	}
	err = s.retry.Retry(ctx, func() error {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil && !isS3NotFound(err) {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete %s from S3", location), err)
	}
	return nil
}

// List pages through every key under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keys.listPrefix(prefix)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, s.keys.location(aws.StringValue(obj.Key)))
		}
		return true
	})
	if err != nil {
		return nil, appErrors.NewStorageReadError("failed to list objects in S3", err)
	}
	return out, nil
}

// PresignedURL signs a GET request valid for ttl.
func (s *S3Store) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	key, err := s.keys.key(location)
	if err != nil {
		return "", err
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", appErrors.NewStorageReadError("failed to presign S3 url", err)
	}
	return u, nil
}

// HealthCheck verifies the bucket is reachable and listable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return appErrors.NewStorageReadError("S3 health check failed: bucket not accessible", err)
	}

	if _, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.keys.prefix),
		MaxKeys: aws.Int64(1),
	}); err != nil {
		return appErrors.NewStorageReadError("S3 health check failed: cannot list objects", err)
	}
	return nil
}

func (s *S3Store) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderS3),
		"bucket":   s.bucket,
		"prefix":   s.keys.prefix,
	}
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
