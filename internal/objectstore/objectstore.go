// Package objectstore holds snapshot payloads. Locations returned by Put are
// relative to the store's configured prefix, so the same location resolves
// on every replica of a mirror.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	appErrors "dataguard/internal/errors"
)

// ErrObjectNotFound is wrapped by Get when no object exists at a location.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectExists is wrapped by Put when the location is already taken.
// Payloads are append-only and never overwritten.
var ErrObjectExists = errors.New("object already exists")

// ObjectStore is the client-side view of a blob store.
type ObjectStore interface {
	// Put stores data under a location derived from nameHint and returns it.
	Put(ctx context.Context, data []byte, nameHint string) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, location string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error)
	HealthCheck(ctx context.Context) error
	Info() map[string]interface{}
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// CleanLocation normalizes a name hint into a safe relative object key.
func CleanLocation(hint string) (string, error) {
	key := strings.ReplaceAll(strings.TrimSpace(hint), "\\", "/")
	key = strings.ReplaceAll(key, " ", "_")
	if key == "" {
		return "", appErrors.NewValidationError("object name cannot be empty", nil)
	}
	if strings.HasPrefix(key, "/") {
		return "", appErrors.NewValidationError(fmt.Sprintf("object name %q must be relative", hint), nil)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", appErrors.NewValidationError(fmt.Sprintf("object name %q escapes the store", hint), nil)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", appErrors.NewValidationError("object name cannot be empty", nil)
	}
	return cleaned, nil
}

// keyspace maps relative locations onto provider keys under a prefix.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) key(location string) (string, error) {
	loc, err := CleanLocation(location)
	if err != nil {
		return "", err
	}
	return k.prefix + loc, nil
}

func (k keyspace) listPrefix(prefix string) string {
	return k.prefix + strings.TrimLeft(prefix, "/")
}

func (k keyspace) location(key string) string {
	return strings.TrimPrefix(key, k.prefix)
}

func notFound(location string, cause error) error {
	if cause == nil {
		cause = ErrObjectNotFound
	} else {
		cause = fmt.Errorf("%w: %v", ErrObjectNotFound, cause)
	}
	return appErrors.NewStorageReadError(fmt.Sprintf("object %s not found", location), cause).
		WithContext("location", location)
}

func exists(location string) error {
	return appErrors.NewStorageWriteError(fmt.Sprintf("object %s already exists", location), ErrObjectExists).
		WithContext("location", location)
}
