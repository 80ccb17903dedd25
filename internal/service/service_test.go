package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dataguard/internal/backup"
	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/migration"
	"dataguard/internal/objectstore"
	"dataguard/internal/restore"
	"dataguard/internal/retention"
	"dataguard/internal/store"
)

type harness struct {
	now     time.Time
	store   *store.MemoryStore
	objects *objectstore.MemoryStore
	svc     *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := collections.Default()
	h := &harness{
		now:     time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC),
		store:   store.NewMemoryStore(reg),
		objects: objectstore.NewMemoryStore(),
	}
	h.svc = New(h.store, h.objects, reg, Options{
		Clock:  func() time.Time { return h.now },
		Logger: logging.NewNopLogger(),
	})

	ctx := context.Background()
	for i, name := range []string{"Alice", "Bruno"} {
		require.NoError(t, h.store.Upsert(ctx, collections.Profiles, store.Record{
			"id": i + 1, "display_name": name, "updated_at": h.now.Add(-time.Hour),
		}))
	}
	return h
}

func TestBackupLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.svc.CreateFullBackup(ctx, "ops", "nightly")
	require.True(t, res.Success, res.Message)
	rec, ok := res.Details.(*backup.BackupRecord)
	require.True(t, ok)
	assert.Equal(t, 2, rec.TotalRecords)

	list := h.svc.ListBackups(ctx)
	require.True(t, list.Success)
	assert.Len(t, list.Details, 1)
	assert.Equal(t, "Found 1 backups", list.Message)

	verify := h.svc.VerifyBackup(ctx, rec.BackupID)
	assert.True(t, verify.Success, verify.Message)

	export := h.svc.ExportBackup(ctx, rec.BackupID, 0)
	require.True(t, export.Success, export.Message)
	details := export.Details.(map[string]interface{})
	assert.Equal(t, "memory://"+rec.StorageLocation, details["url"])
	assert.Equal(t, h.now.Add(backup.DefaultExportTTL), details["expires_at"])

	del := h.svc.DeleteBackup(ctx, rec.BackupID)
	assert.True(t, del.Success)

	again := h.svc.DeleteBackup(ctx, rec.BackupID)
	assert.False(t, again.Success)
	assert.Equal(t, string(appErrors.ErrorTypeBackupNotFound), again.ErrorType)
	assert.NotEmpty(t, again.Hints)
}

func TestIncrementalWithoutFullFallsBack(t *testing.T) {
	h := newHarness(t)
	res := h.svc.CreateIncrementalBackup(context.Background(), "", "ops", "")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "No full backup to build on")

	res = h.svc.CreateIncrementalBackup(context.Background(), "backup-missing", "ops", "")
	assert.False(t, res.Success)
	assert.Equal(t, string(appErrors.ErrorTypeBackupNotFound), res.ErrorType)
}

func TestVerifyTamperedBackup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec := h.svc.CreateFullBackup(ctx, "ops", "").Details.(*backup.BackupRecord)
	require.True(t, h.objects.Tamper(rec.StorageLocation, 10, func(b byte) byte { return b ^ 0xFF }))

	res := h.svc.VerifyBackup(ctx, rec.BackupID)
	assert.False(t, res.Success)
	assert.Equal(t, string(appErrors.ErrorTypeChecksumMismatch), res.ErrorType)
	report, ok := res.Details.(*backup.VerifyResult)
	require.True(t, ok)
	assert.False(t, report.ChecksumMatch)

	restored := h.svc.Restore(ctx, rec.BackupID, "ops", "", false)
	assert.False(t, restored.Success)
	assert.Equal(t, string(appErrors.ErrorTypeChecksumMismatch), restored.ErrorType)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec := h.svc.CreateFullBackup(ctx, "ops", "").Details.(*backup.BackupRecord)
	require.NoError(t, h.store.Upsert(ctx, collections.Profiles, store.Record{"id": 3, "display_name": "Chen"}))

	res := h.svc.Restore(ctx, rec.BackupID, "ops", "undo", true)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Restored 2 records from "+rec.BackupID+", pruned 1", res.Message)
	assert.Equal(t, 1, res.Details.(*restore.Result).TotalPruned())

	n, err := h.store.Count(ctx, collections.Profiles, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRetentionOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.Upsert(ctx, collections.AuditEntries, store.Record{
		"id": 1, "action": "login", "created_at": h.now.AddDate(0, 0, -120),
	}))

	tests := []struct {
		name    string
		run     func() Result
		success bool
		message string
	}{
		{"archive", func() Result { return h.svc.ArchiveOldAuditEntries(ctx, 90) }, true, "Archived 1 audit entries older than 90 days"},
		{"archive again", func() Result { return h.svc.ArchiveOldAuditEntries(ctx, 90) }, true, "Archived 0 audit entries older than 90 days"},
		{"cleanup archive", func() Result { return h.svc.CleanupArchivedEntries(ctx, 365) }, true, "Removed 0 archived entries older than 365 days"},
		{"cleanup backups", func() Result { return h.svc.CleanupOldBackups(ctx, 30) }, true, "Removed 0 backups older than 30 days"},
		{"negative days", func() Result { return h.svc.ArchiveOldAuditEntries(ctx, -1) }, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.run()
			assert.Equal(t, tt.success, res.Success, res.Message)
			if tt.success {
				assert.Equal(t, tt.message, res.Message)
			} else {
				assert.Equal(t, string(appErrors.ErrorTypeValidation), res.ErrorType)
			}
		})
	}
}

func TestPerformFullBackupProcess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// 2024-03-11 is a Monday; the first run falls back to a full backup.
	res := h.svc.PerformFullBackupProcess(ctx, "scheduler")
	require.True(t, res.Success, res.Message)
	report := res.Details.(*retention.PolicyReport)
	assert.Equal(t, 0, report.RemovedBackups)

	archive := h.svc.PerformFullArchive(ctx)
	assert.True(t, archive.Success, archive.Message)
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	steps := []migration.Step{migration.FuncStep{StepName: "add_chen", UpFunc: func(ctx context.Context) error {
		return h.store.Upsert(ctx, collections.Profiles, store.Record{"id": 3, "display_name": "Chen"})
	}}}
	res := h.svc.ExecuteMigration(ctx, steps, migration.ExecuteOptions{AutoBackup: true, CreatedBy: "ops"})
	require.True(t, res.Success, res.Message)
	rec := res.Details.(*migration.MigrationRecord)

	h.now = h.now.Add(time.Minute)
	rolled := h.svc.RollbackMigration(ctx, rec.MigrationID, "ops")
	require.True(t, rolled.Success, rolled.Message)

	history := h.svc.GetMigrationHistory(ctx, 10)
	require.True(t, history.Success)
	recs := history.Details.([]*migration.MigrationRecord)
	require.Len(t, recs, 1)
	assert.Equal(t, migration.StatusRolledBack, recs[0].Status)

	again := h.svc.RollbackMigration(ctx, rec.MigrationID, "ops")
	assert.Equal(t, string(appErrors.ErrorTypeMigrationState), again.ErrorType)

	unknown := h.svc.RollbackMigration(ctx, "migration-unknown", "ops")
	assert.Equal(t, string(appErrors.ErrorTypeMigrationNotFound), unknown.ErrorType)
}

func TestExecuteMigrationFileRequiresExecer(t *testing.T) {
	h := newHarness(t)
	f := &migration.File{Steps: []migration.StepDefinition{{Name: "a", Up: []string{"SELECT 1"}}}}

	res := h.svc.ExecuteMigrationFile(context.Background(), f, migration.ExecuteOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, string(appErrors.ErrorTypeConfiguration), res.ErrorType)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.svc.HealthCheck(ctx)
	assert.True(t, res.Success)
	assert.NoError(t, h.svc.Health(ctx))

	objects := &objectstore.MockObjectStore{}
	objects.On("HealthCheck", mock.Anything).Return(errors.New("bucket not reachable"))
	svc := New(h.store, objects, nil, Options{Logger: logging.NewNopLogger()})

	res = svc.HealthCheck(ctx)
	assert.False(t, res.Success)
	status := res.Details.(map[string]interface{})
	assert.Equal(t, "ok", status["database"])
	assert.Equal(t, "bucket not reachable", status["storage"])
	assert.Error(t, svc.Health(ctx))
	objects.AssertExpectations(t)
}

func TestTroubleshootingHints(t *testing.T) {
	tests := []struct {
		errType appErrors.ErrorType
		want    bool
	}{
		{appErrors.ErrorTypeChecksumMismatch, true},
		{appErrors.ErrorTypeStorageWrite, true},
		{appErrors.ErrorTypeMigrationState, true},
		{appErrors.ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			if got := len(TroubleshootingHints(tt.errType)) > 0; got != tt.want {
				t.Errorf("TroubleshootingHints(%s) has hints = %v, want %v", tt.errType, got, tt.want)
			}
		})
	}
}
