package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	appErrors "dataguard/internal/errors"
)

// LocalStore keeps objects as files under a base directory.
type LocalStore struct {
	basePath    string
	permissions os.FileMode
	keys        keyspace
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(cfg *LocalConfig, prefix string) (*LocalStore, error) {
	if cfg == nil || cfg.BasePath == "" {
		return nil, appErrors.NewConfigurationError("local storage configuration is required", nil)
	}
	perm := cfg.Permissions
	if perm == 0 {
		perm = 0755
	}

	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, appErrors.NewConfigurationError("invalid local base path", err)
	}
	if err := os.MkdirAll(abs, perm); err != nil {
		return nil, appErrors.NewStorageWriteError("failed to create base directory", err)
	}

	return &LocalStore{basePath: abs, permissions: perm, keys: newKeyspace(prefix)}, nil
}

func (l *LocalStore) path(location string) (string, error) {
	key, err := l.keys.key(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

// Put writes data to a new file. Existing files are never replaced.
func (l *LocalStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	if err := appErrors.FromContext(ctx, true, "put canceled"); err != nil {
		return "", err
	}
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}
	p, err := l.path(location)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), l.permissions); err != nil {
		return "", appErrors.NewStorageWriteError("failed to create object directory", err)
	}

	// write to a temp file and link it into place so readers never see a
	// partial payload and an existing object is never replaced
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return "", appErrors.NewStorageWriteError("failed to create temporary file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", appErrors.NewStorageWriteError("failed to write object", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", appErrors.NewStorageWriteError("failed to sync object", err)
	}
	if err := tmp.Close(); err != nil {
		return "", appErrors.NewStorageWriteError("failed to close object", err)
	}

	if err := os.Link(tmp.Name(), p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", exists(location)
		}
		return "", appErrors.NewStorageWriteError("failed to publish object", err)
	}
	return location, nil
}

// Get reads the object at location.
func (l *LocalStore) Get(ctx context.Context, location string) ([]byte, error) {
	if err := appErrors.FromContext(ctx, false, "get canceled"); err != nil {
		return nil, err
	}
	p, err := l.path(location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(location, nil)
		}
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to read object %s", location), err)
	}
	return data, nil
}

// Delete removes the file at location.
func (l *LocalStore) Delete(ctx context.Context, location string) error {
	if err := appErrors.FromContext(ctx, true, "delete canceled"); err != nil {
		return err
	}
	p, err := l.path(location)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete object %s", location), err)
	}
	return nil
}

// List returns the locations that start with prefix, sorted.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := filepath.Join(l.basePath, filepath.FromSlash(l.keys.prefix))
	want := l.keys.listPrefix(prefix)

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, want) {
			out = append(out, l.keys.location(key))
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.NewStorageReadError("failed to list objects", err)
	}
	sort.Strings(out)
	return out, nil
}

// PresignedURL returns a file:// URL. Local files cannot expire, so ttl is
// ignored.
func (l *LocalStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	p, err := l.path(location)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", notFound(location, nil)
		}
		return "", appErrors.NewStorageReadError("failed to stat object", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return u.String(), nil
}

// HealthCheck verifies the base directory is writable.
func (l *LocalStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(l.basePath)
	if err != nil {
		return appErrors.NewStorageReadError("local storage base path not accessible", err)
	}
	if !info.IsDir() {
		return appErrors.NewConfigurationError(fmt.Sprintf("%s is not a directory", l.basePath), nil)
	}

	probe, err := os.CreateTemp(l.basePath, ".health-*")
	if err != nil {
		return appErrors.NewStorageWriteError("local storage base path not writable", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Info describes the store.
func (l *LocalStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider":  string(ProviderLocal),
		"base_path": l.basePath,
		"prefix":    l.keys.prefix,
	}
}
