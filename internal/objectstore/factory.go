package objectstore

import (
	"context"
	"fmt"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// NewFromConfig builds the object store described by cfg.
func NewFromConfig(ctx context.Context, cfg Config, retry *appErrors.RetryHandler, logger *logging.Logger) (ObjectStore, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, appErrors.NewConfigurationError("invalid storage configuration", err)
	}

	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalStore(cfg.Local, cfg.Prefix)
	case ProviderS3:
		return NewS3Store(cfg.S3, cfg.Prefix, retry)
	case ProviderGCS:
		return NewGCSStore(ctx, cfg.GCS, cfg.Prefix, retry)
	case ProviderAzure:
		return NewAzureStore(cfg.Azure, cfg.Prefix, retry)
	case ProviderMemory:
		return NewMemoryStore(), nil
	case ProviderMirror:
		replicas := make([]ObjectStore, 0, len(cfg.Replicas))
		for i, rc := range cfg.Replicas {
			r, err := NewFromConfig(ctx, rc, retry, logger)
			if err != nil {
				return nil, appErrors.WrapError(err, fmt.Sprintf("replica %d", i))
			}
			replicas = append(replicas, r)
		}
		return NewMirrorStore(logger, replicas...)
	default:
		return nil, appErrors.NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", cfg.Provider), nil)
	}
}

// SupportedProviders lists the providers NewFromConfig understands.
func SupportedProviders() []Provider {
	return []Provider{ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure, ProviderMemory, ProviderMirror}
}
