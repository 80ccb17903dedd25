package application

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataguard/internal/config"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/objectstore"
	"dataguard/internal/service"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Storage = objectstore.Config{Provider: objectstore.ProviderMemory}
	cfg.Storage.SetDefaults()
	return cfg
}

func TestNewApplication(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(), Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Service)
	assert.NotNil(t, app.Registry)

	res := app.Service.CreateFullBackup(context.Background(), "test", "bootstrap")
	require.True(t, res.Success, res.Message)

	families, err := app.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewApplicationSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "dataguard.db")
	cfg.Storage.Local.BasePath = filepath.Join(dir, "backups")

	app, err := New(context.Background(), cfg, Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	defer app.Close()

	res := app.Service.HealthCheck(context.Background())
	assert.True(t, res.Success, res.Message)
}

func TestNewApplicationRejectsMissingKey(t *testing.T) {
	cfg := memoryConfig()
	cfg.Snapshot.Encryption = config.EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "DATAGUARD_TEST_ABSENT_KEY"}

	_, err := New(context.Background(), cfg, Options{Logger: logging.NewNopLogger()})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfiguration))
}

func TestOperationContext(t *testing.T) {
	app := &Application{Config: memoryConfig()}

	app.Config.Timeout = time.Minute
	ctx, cancel := app.OperationContext(context.Background())
	deadline, ok := ctx.Deadline()
	cancel()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	app.Config.Timeout = 0
	ctx, cancel = app.OperationContext(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  service.Result
		want int
	}{
		{"success", service.Result{Success: true}, ExitOK},
		{"validation", service.Result{ErrorType: string(appErrors.ErrorTypeValidation)}, ExitUsage},
		{"checksum", service.Result{ErrorType: string(appErrors.ErrorTypeChecksumMismatch)}, ExitIntegrity},
		{"interrupted", service.Result{ErrorType: string(appErrors.ErrorTypeInterruption)}, ExitInterrupted},
		{"storage", service.Result{ErrorType: string(appErrors.ErrorTypeStorageWrite)}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.res); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}

	assert.Equal(t, ExitOK, ExitCodeForError(nil))
	assert.Equal(t, ExitInterrupted, ExitCodeForError(context.Canceled))
	assert.Equal(t, ExitUsage, ExitCodeForError(appErrors.NewConfigurationError("bad", nil)))
	assert.Equal(t, ExitFailure, ExitCodeForError(errors.New("boom")))
}
