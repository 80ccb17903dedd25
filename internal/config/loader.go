package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. DATAGUARD_DATABASE_DSN.
const EnvPrefix = "DATAGUARD"

// DefaultFileName is searched for in the working directory and $HOME.
const DefaultFileName = ".dataguard"

// secretKeys may only be supplied through the environment or the file; they
// are bound explicitly because they have no default for viper to discover.
var secretKeys = []string{
	"database.dsn",
	"storage.s3.access_key",
	"storage.s3.secret_key",
	"storage.azure.account_key",
	"storage.gcs.credentials_path",
	"snapshot.encryption.passphrase",
	"snapshot.encryption.salt",
}

// LoadOptions control where configuration is read from.
type LoadOptions struct {
	// File is an explicit config file. Empty searches the default locations.
	File string
	// EnvFile is a dotenv file loaded before the environment is read. A
	// missing file is ignored unless it was set explicitly.
	EnvFile string
	// Viper lets the CLI pass an instance with flags already bound.
	Viper *viper.Viper
}

// Load reads the config file, applies DATAGUARD_* environment overrides and
// defaults, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for `config show`.
func Read(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := opts.Viper
	if v == nil {
		v = viper.New()
	}
	setViperDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		v.BindEnv(key)
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, appErrors.NewConfigurationError("error reading config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, appErrors.NewConfigurationError("failed to decode configuration", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return appErrors.NewConfigurationError(fmt.Sprintf("failed to load env file %s", path), err)
	}
	return nil
}

// setViperDefaults registers every key of the default configuration so
// environment overrides reach Unmarshal.
func setViperDefaults(v *viper.Viper) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	walkDefaults(v, "", tree)
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]interface{}) {
	for k, val := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := val.(map[string]interface{}); ok {
			walkDefaults(v, key, child)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Write stores cfg as YAML. An existing file is kept unless overwrite is set.
func Write(cfg *Config, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return appErrors.NewConfigurationError(fmt.Sprintf("config file %s already exists", path), nil)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return appErrors.NewConfigurationError("failed to create config directory", err)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return appErrors.NewConfigurationError(fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to encode configuration", err)
	}
	return data, nil
}

// Redacted returns a copy of cfg with credentials masked, for display.
func Redacted(cfg *Config) *Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Database.DSN = logging.RedactDSN(cfg.Database.DSN)
	if cfg.Storage.S3 != nil {
		s3 := *cfg.Storage.S3
		s3.AccessKey, s3.SecretKey = mask(s3.AccessKey), mask(s3.SecretKey)
		out.Storage.S3 = &s3
	}
	if cfg.Storage.Azure != nil {
		az := *cfg.Storage.Azure
		az.AccountKey = mask(az.AccountKey)
		out.Storage.Azure = &az
	}
	out.Snapshot.Encryption.Passphrase = mask(cfg.Snapshot.Encryption.Passphrase)
	return &out
}
