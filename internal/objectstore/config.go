package objectstore

import (
	"fmt"
	"os"
	"strings"
)

// Provider names a storage backend.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderS3     Provider = "s3"
	ProviderGCS    Provider = "gcs"
	ProviderAzure  Provider = "azure"
	ProviderMemory Provider = "memory"
	ProviderMirror Provider = "mirror"
)

// Config selects and configures an object store.
type Config struct {
	Provider Provider     `mapstructure:"provider" yaml:"provider" validate:"required,oneof=local s3 gcs azure memory mirror"`
	Prefix   string       `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Local    *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	// Replicas are the stores a mirror writes to. The first one serves reads.
	Replicas []Config `mapstructure:"replicas" yaml:"replicas,omitempty"`
}

// LocalConfig stores payloads on the local file system.
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config configures an S3 bucket. Empty keys fall back to the default
// AWS credential chain.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	// Endpoint targets S3-compatible services such as MinIO.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
}

// AzureConfig configures an Azure Blob Storage container.
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// DefaultConfig stores payloads under ./backups.
func DefaultConfig() Config {
	cfg := Config{Provider: ProviderLocal}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in missing provider sections.
func (c *Config) SetDefaults() {
	c.Provider = Provider(strings.ToLower(string(c.Provider)))
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		if c.Local.BasePath == "" {
			c.Local.BasePath = "./backups"
		}
		if c.Local.Permissions == 0 {
			c.Local.Permissions = 0755
		}
	case ProviderS3:
		if c.S3 == nil {
			c.S3 = &S3Config{}
		}
		if c.S3.Region == "" {
			c.S3.Region = "us-east-1"
		}
	case ProviderGCS:
		if c.GCS == nil {
			c.GCS = &GCSConfig{}
		}
		if c.GCS.CredentialsPath == "" {
			c.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
	case ProviderAzure:
		if c.Azure == nil {
			c.Azure = &AzureConfig{}
		}
	case ProviderMirror:
		for i := range c.Replicas {
			if c.Replicas[i].Prefix == "" {
				c.Replicas[i].Prefix = c.Prefix
			}
			c.Replicas[i].SetDefaults()
		}
	}
}

// Validate checks the fields the selected provider needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil || c.Local.BasePath == "" {
			return fmt.Errorf("local storage requires base_path")
		}
	case ProviderS3:
		if c.S3 == nil || c.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires bucket")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("s3 access_key and secret_key must be set together")
		}
	case ProviderGCS:
		if c.GCS == nil || c.GCS.Bucket == "" {
			return fmt.Errorf("gcs storage requires bucket")
		}
	case ProviderAzure:
		if c.Azure == nil || c.Azure.AccountName == "" || c.Azure.AccountKey == "" || c.Azure.ContainerName == "" {
			return fmt.Errorf("azure storage requires account_name, account_key and container_name")
		}
	case ProviderMemory:
	case ProviderMirror:
		if len(c.Replicas) < 2 {
			return fmt.Errorf("mirror storage requires at least two replicas")
		}
		for i := range c.Replicas {
			if c.Replicas[i].Provider == ProviderMirror {
				return fmt.Errorf("replica %d: mirrors cannot be nested", i)
			}
			if err := c.Replicas[i].Validate(); err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported storage provider %q", c.Provider)
	}
	return nil
}
