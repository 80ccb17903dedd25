package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// MirrorStore writes every payload to all replicas concurrently and reads
// from the first replica that has it.
type MirrorStore struct {
	replicas []ObjectStore
	logger   *logging.Logger
}

// NewMirrorStore needs at least one replica; the first is the primary.
func NewMirrorStore(logger *logging.Logger, replicas ...ObjectStore) (*MirrorStore, error) {
	if len(replicas) == 0 {
		return nil, appErrors.NewConfigurationError("mirror storage requires replicas", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MirrorStore{replicas: replicas, logger: logger}, nil
}

// Put succeeds only if every replica stored the payload. On failure the
// copies that did land are removed again.
func (m *MirrorStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}

	var mu sync.Mutex
	var stored []ObjectStore

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range m.replicas {
		g.Go(func() error {
			if _, err := r.Put(gctx, data, location); err != nil {
				return appErrors.WrapError(err, fmt.Sprintf("replica %d", i))
			}
			mu.Lock()
			stored = append(stored, r)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range stored {
			if delErr := r.Delete(context.WithoutCancel(ctx), location); delErr != nil {
				m.logger.Warnf("Failed to remove partial mirror copy %s: %v", location, delErr)
			}
		}
		return "", err
	}
	return location, nil
}

// Get returns the payload from the first replica that has it.
func (m *MirrorStore) Get(ctx context.Context, location string) ([]byte, error) {
	var lastErr error
	for i, r := range m.replicas {
		data, err := r.Get(ctx, location)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		m.logger.Debugf("Replica %d could not serve %s: %v", i, location, err)
		lastErr = err
	}
	return nil, lastErr
}

// Delete removes the payload from every replica.
func (m *MirrorStore) Delete(ctx context.Context, location string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range m.replicas {
		g.Go(func() error {
			return r.Delete(gctx, location)
		})
	}
	return g.Wait()
}

// List reports the primary's view.
func (m *MirrorStore) List(ctx context.Context, prefix string) ([]string, error) {
	return m.replicas[0].List(ctx, prefix)
}

// PresignedURL signs against the primary.
func (m *MirrorStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	return m.replicas[0].PresignedURL(ctx, location, ttl)
}

// HealthCheck checks every replica concurrently.
func (m *MirrorStore) HealthCheck(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range m.replicas {
		g.Go(func() error {
			if err := r.HealthCheck(gctx); err != nil {
				return appErrors.WrapError(err, fmt.Sprintf("replica %d unhealthy", i))
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MirrorStore) Info() map[string]interface{} {
	replicas := make([]map[string]interface{}, len(m.replicas))
	for i, r := range m.replicas {
		replicas[i] = r.Info()
	}
	return map[string]interface{}{
		"provider": string(ProviderMirror),
		"replicas": replicas,
	}
}
