package migration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataguard/internal/backup"
	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/objectstore"
	"dataguard/internal/restore"
	"dataguard/internal/store"
)

type fixture struct {
	now          time.Time
	store        *store.MemoryStore
	backups      *backup.Engine
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := collections.Default()
	f := &fixture{
		now:   time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		store: store.NewMemoryStore(reg),
	}
	clock := func() time.Time { return f.now }
	nop := logging.NewNopLogger()

	f.backups = backup.NewEngine(f.store, objectstore.NewMemoryStore(), reg,
		backup.WithClock(clock), backup.WithLogger(nop))
	restorer := restore.NewEngine(f.store, f.backups, reg, restore.WithLogger(nop))
	f.orchestrator = NewOrchestrator(f.store, f.backups, restorer, WithClock(clock), WithLogger(nop))

	for i, name := range []string{"Alice", "Bruno", "Chen"} {
		require.NoError(t, f.store.Upsert(context.Background(), collections.Profiles, store.Record{
			"id":         i + 1,
			"name":       name,
			"updated_at": f.now.Add(-time.Hour),
		}))
	}
	return f
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.Count(context.Background(), collections.Profiles, nil)
	require.NoError(t, err)
	return n
}

func upsertStep(s *store.MemoryStore, name string, rec store.Record) Step {
	return FuncStep{StepName: name, UpFunc: func(ctx context.Context) error {
		return s.Upsert(ctx, collections.Profiles, rec)
	}}
}

func TestRollbackRestoresPreMigrationState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.count(t)

	steps := []Step{
		upsertStep(f.store, "add_dana", store.Record{"id": 4, "name": "Dana"}),
		upsertStep(f.store, "add_emil", store.Record{"id": 5, "name": "Emil"}),
		upsertStep(f.store, "rename_alice", store.Record{"id": 1, "name": "Alicia"}),
	}

	rec, err := f.orchestrator.ExecuteMigration(ctx, steps, ExecuteOptions{AutoBackup: true, CreatedBy: "ops", Description: "seed"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.BackupID)
	assert.Equal(t, 3, rec.StepsCompleted)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, before+2, f.count(t))

	f.now = f.now.Add(time.Hour)
	rolled, res, err := f.orchestrator.RollbackMigration(ctx, rec.MigrationID, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
	require.NotNil(t, rolled.RolledBackAt)
	assert.Equal(t, 2, res.Pruned[collections.Profiles])
	assert.Equal(t, before, f.count(t))

	rows, err := f.store.SelectWhere(ctx, collections.Profiles, store.Where(store.Eq("id", 1)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0]["name"])

	stored, err := f.orchestrator.records.Get(ctx, rec.MigrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, stored.Status)

	_, _, err = f.orchestrator.RollbackMigration(ctx, rec.MigrationID, "ops")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeMigrationState))
}

func TestFailedStepStopsMigration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ran := false
	steps := []Step{
		upsertStep(f.store, "add_dana", store.Record{"id": 4, "name": "Dana"}),
		FuncStep{StepName: "broken", UpFunc: func(context.Context) error {
			return errors.New(`column "locale" already exists`)
		}},
		FuncStep{StepName: "never", UpFunc: func(context.Context) error { ran = true; return nil }},
	}

	rec, err := f.orchestrator.ExecuteMigration(ctx, steps, ExecuteOptions{AutoBackup: true, CreatedBy: "ops"})
	require.Error(t, err)
	assert.False(t, ran)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, `column "locale" already exists`, rec.ErrorMessage)
	assert.Equal(t, 1, rec.StepsCompleted)

	stored, err := f.orchestrator.records.Get(ctx, rec.MigrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, rec.ErrorMessage, stored.ErrorMessage)

	_, _, err = f.orchestrator.RollbackMigration(ctx, rec.MigrationID, "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.count(t))
}

type failingBackups struct{}

func (failingBackups) CreateFullBackup(context.Context, string, string) (*backup.BackupRecord, error) {
	return nil, appErrors.NewStorageWriteError("bucket unavailable", nil)
}

func TestBackupFailurePreventsSteps(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(collections.Default())
	o := NewOrchestrator(s, failingBackups{}, nil, WithLogger(logging.NewNopLogger()))

	ran := false
	rec, err := o.ExecuteMigration(ctx, []Step{
		FuncStep{StepName: "a", UpFunc: func(context.Context) error { ran = true; return nil }},
	}, ExecuteOptions{AutoBackup: true})
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Empty(t, rec.BackupID)
	assert.Contains(t, rec.ErrorMessage, "bucket unavailable")
}

func TestRollbackPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.orchestrator.RollbackMigration(ctx, "migration-unknown", "ops")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeMigrationNotFound))

	rec, err := f.orchestrator.ExecuteMigration(ctx, []Step{FuncStep{StepName: "noop"}}, ExecuteOptions{})
	require.NoError(t, err)
	_, _, err = f.orchestrator.RollbackMigration(ctx, rec.MigrationID, "ops")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation), "a migration without a backup cannot be rolled back")

	_, err = f.orchestrator.ExecuteMigration(ctx, nil, ExecuteOptions{})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestGetMigrationHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := f.orchestrator.ExecuteMigration(ctx, []Step{FuncStep{StepName: "noop"}}, ExecuteOptions{Description: "run"})
		require.NoError(t, err)
		ids = append(ids, rec.MigrationID)
		f.now = f.now.Add(time.Minute)
	}

	all, err := f.orchestrator.GetMigrationHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].MigrationID)
	assert.Equal(t, ids[0], all[2].MigrationID)

	limited, err := f.orchestrator.GetMigrationHistory(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLStepsAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.OpenSQLite(filepath.Join(dir, "app.db"), collections.Default(), logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, store.MigrateStore(ctx, s, logging.NewNopLogger()))

	path := filepath.Join(dir, "0001_notes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
description: add notes
steps:
  - name: create_notes
    up:
      - CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)
    down:
      - DROP TABLE notes
  - name: seed_notes
    up:
      - INSERT INTO notes (id, body) VALUES (1, 'hello')
`), 0o644))

	steps, err := LoadSteps(path, s)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	o := NewOrchestrator(s, nil, nil, WithLogger(logging.NewNopLogger()))
	rec, err := o.ExecuteMigration(ctx, steps, ExecuteOptions{CreatedBy: "ops", Description: "add notes"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	var n int64
	require.NoError(t, s.DB().WithContext(ctx).Table("notes").Count(&n).Error)
	assert.Equal(t, int64(1), n)

	history, err := o.GetMigrationHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.MigrationID, history[0].MigrationID)
	assert.Equal(t, 2, history[0].StepsCompleted)
	assert.True(t, history[0].ExecutedAt.Equal(rec.ExecutedAt))

	require.NoError(t, steps[0].Down(ctx))
	assert.Error(t, steps[1].Down(ctx), "seed_notes has no down statements")
}

func TestParseFile(t *testing.T) {
	t.Run("bare list", func(t *testing.T) {
		f, err := ParseFile([]byte(`
- name: drop_legacy
  up: ["DROP TABLE legacy_notes"]
`))
		require.NoError(t, err)
		require.Len(t, f.Steps, 1)
		assert.Equal(t, []string{"DROP TABLE legacy_notes"}, f.Destructive())
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := ParseFile([]byte(`
steps:
  - name: a
    up: ["SELECT 1"]
  - name: a
    up: ["SELECT 2"]
`))
		assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := ParseFile([]byte("steps: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseFile([]byte("description: nothing\n"))
		assert.Error(t, err)
	})
}
