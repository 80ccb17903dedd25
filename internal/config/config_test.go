package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/objectstore"
	"dataguard/internal/snapshot"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, objectstore.ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "zstd", cfg.Snapshot.Compression)
	assert.Equal(t, 90, cfg.Retention.AuditRetentionDays)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }, "database.dsn is required"},
		{"memory needs no dsn", func(c *Config) { c.Database.Driver = "memory"; c.Database.DSN = "" }, ""},
		{"bad compression", func(c *Config) { c.Snapshot.Compression = "brotli" }, "snapshot.compression"},
		{"negative retention", func(c *Config) { c.Retention.BackupRetentionDays = -1 }, "retention"},
		{"bad weekday", func(c *Config) { c.Retention.FullBackupDay = "someday" }, "retention"},
		{"s3 without bucket", func(c *Config) {
			c.Storage = objectstore.Config{Provider: objectstore.ProviderS3}
			c.Storage.SetDefaults()
		}, "s3 storage requires bucket"},
		{"passphrase without salt", func(c *Config) {
			c.Snapshot.Encryption = EncryptionConfig{Enabled: true, KeySource: "passphrase", Passphrase: "secret"}
		}, "passphrase and salt"},
		{"bad server address", func(c *Config) { c.Server.Address = "not an address" }, "server.address"},
		{"unsafe collection table", func(c *Config) {
			c.Collections = append(c.Collections, collections.Collection{Name: "profiles", Table: "users; drop table x", PrimaryKey: "id"})
		}, "collections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://app:secret@db:5432/health
storage:
  provider: local
  local:
    base_path: `+filepath.Join(dir, "backups")+`
snapshot:
  compression: lz4
retention:
  backup_retention_days: 14
  full_backup_day: sat
collections:
  - name: profiles
    table: app_user_profiles
    primary_key: id
    timestamp_column: modified_at
    snapshotted: true
timeout: 5m
`), 0o600))

	t.Setenv("DATAGUARD_RETENTION_AUDIT_RETENTION_DAYS", "60")
	t.Setenv("DATAGUARD_SERVER_ADDRESS", "0.0.0.0:9090")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)
	assert.Equal(t, 14, cfg.Retention.BackupRetentionDays)
	assert.Equal(t, 60, cfg.Retention.AuditRetentionDays)
	assert.Equal(t, 365, cfg.Retention.ArchiveRetentionDays)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	profiles, ok := reg.Get("profiles")
	require.True(t, ok)
	assert.Equal(t, "app_user_profiles", profiles.Table)
	assert.Equal(t, "modified_at", profiles.TimestampColumn)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATAGUARD_DATABASE_DRIVER=memory\nDATAGUARD_STORAGE_PROVIDER=memory\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DATAGUARD_DATABASE_DRIVER")
		os.Unsetenv("DATAGUARD_STORAGE_PROVIDER")
	})

	cfg, err := Load(LoadOptions{File: writeMinimal(t, dir), EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, objectstore.ProviderMemory, cfg.Storage.Provider)

	_, err = Load(LoadOptions{File: writeMinimal(t, dir), EnvFile: filepath.Join(dir, "missing.env")})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration))
}

func writeMinimal(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: quiet\n"), 0o600))
	return path
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration))
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "dataguard.yaml")
	cfg := Default()
	cfg.Retention.BackupRetentionDays = 45

	require.NoError(t, Write(cfg, path, false))
	err := Write(cfg, path, false)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration), "existing file is kept")
	require.NoError(t, Write(cfg, path, true))

	loaded, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, 45, loaded.Retention.BackupRetentionDays)
	assert.Equal(t, cfg.Retry, loaded.Retry)
	assert.Equal(t, cfg.Timeout, loaded.Timeout)
}

func TestNewCodec(t *testing.T) {
	cfg := Default()
	codec, err := cfg.NewCodec()
	require.NoError(t, err)
	assert.Equal(t, snapshot.CompressionZstd, codec.Compression())
	assert.False(t, codec.Encrypted())

	cfg.Snapshot.Encryption = EncryptionConfig{Enabled: true, KeySource: "passphrase", Passphrase: "correct horse", Salt: "dataguard"}
	codec, err = cfg.NewCodec()
	require.NoError(t, err)
	assert.True(t, codec.Encrypted())

	cfg.Snapshot.Encryption = EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "DATAGUARD_TEST_MISSING_KEY"}
	_, err = cfg.NewCodec()
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration))
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "app:secret@tcp(db:3306)/health"
	cfg.Storage.S3 = &objectstore.S3Config{Bucket: "b", AccessKey: "AKIA", SecretKey: "shh"}
	cfg.Snapshot.Encryption.Passphrase = "pass"

	out := Redacted(cfg)
	assert.NotContains(t, out.Database.DSN, "secret")
	assert.Equal(t, "********", out.Storage.S3.SecretKey)
	assert.Equal(t, "********", out.Snapshot.Encryption.Passphrase)
	assert.Equal(t, "shh", cfg.Storage.S3.SecretKey, "original is untouched")
}

func TestCheck(t *testing.T) {
	cfg := Default()
	cfg.Storage.Local.BasePath = filepath.Join(t.TempDir(), "not-yet")
	cfg.Retention.BackupRetentionDays = 3

	res := Check(cfg)
	assert.True(t, res.Valid)
	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "unencrypted")
	assert.Contains(t, joined, "does not exist")
	assert.Contains(t, joined, "less than one weekly full backup")
	assert.NotEmpty(t, res.Recommendations)

	cfg.Database.Driver = "sqlserver"
	res = Check(cfg)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}
