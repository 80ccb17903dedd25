package restore

import (
	"context"
	"errors"
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
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

func testRegistry(t *testing.T) *collections.Registry {
	t.Helper()
	reg, err := collections.NewRegistry(
		collections.Collection{Name: collections.Profiles, Table: "user_profiles", PrimaryKey: "id", TimestampColumn: "updated_at", Snapshotted: true},
		collections.Collection{Name: collections.Assessments, Table: "assessment_records", PrimaryKey: "id", TimestampColumn: "updated_at", Snapshotted: true},
		collections.Collection{Name: collections.BackupRecords, Table: "backup_records", PrimaryKey: "backup_id", TimestampColumn: "created_at"},
	)
	require.NoError(t, err)
	return reg
}

type fixture struct {
	reg     *collections.Registry
	store   *store.MemoryStore
	objects *objectstore.MemoryStore
	backups *backup.Engine
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := testRegistry(t)
	f := &fixture{
		reg:     reg,
		store:   store.NewMemoryStore(reg),
		objects: objectstore.NewMemoryStore(),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.backups = backup.NewEngine(f.store, f.objects, reg,
		backup.WithClock(func() time.Time { return f.now }),
		backup.WithLogger(logging.NewNopLogger()),
	)

	ctx := context.Background()
	at := f.now.Add(-time.Hour)
	for _, r := range []store.Record{
		{"id": "p1", "name": "Alice", "updated_at": at},
		{"id": "p2", "name": "Bruno", "updated_at": at},
		{"id": "p3", "name": "Chen", "updated_at": at},
	} {
		require.NoError(t, f.store.Upsert(ctx, collections.Profiles, r))
	}
	require.NoError(t, f.store.Upsert(ctx, collections.Assessments, store.Record{"id": 1, "profile_id": "p1", "score": 7, "updated_at": at}))
	return f
}

func (f *fixture) engine(s store.RelationalStore) *Engine {
	return NewEngine(s, f.backups, f.reg, WithLogger(logging.NewNopLogger()))
}

func (f *fixture) names(t *testing.T, collection string) map[string]string {
	t.Helper()
	rows, err := f.store.SelectAll(context.Background(), collection)
	require.NoError(t, err)
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[store.KeyString(r["id"])] = store.StringField(r, "name")
	}
	return out
}

func TestRestoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	full, err := f.backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)

	require.NoError(t, f.store.Upsert(ctx, collections.Profiles, store.Record{"id": "p1", "name": "Mallory"}))
	_, err = f.store.DeleteWhere(ctx, collections.Profiles, store.Where(store.Eq("id", "p2")))
	require.NoError(t, err)

	e := f.engine(f.store)
	first, err := e.Restore(ctx, full.BackupID, "ops", "after incident", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Applied[collections.Profiles])
	assert.Equal(t, 1, first.Applied[collections.Assessments])
	assert.NotEmpty(t, first.RestoreID)
	afterFirst := f.names(t, collections.Profiles)

	second, err := e.Restore(ctx, full.BackupID, "ops", "again", Options{})
	require.NoError(t, err)
	assert.Equal(t, first.TotalApplied(), second.TotalApplied())
	assert.Equal(t, afterFirst, f.names(t, collections.Profiles))
	assert.Equal(t, map[string]string{"p1": "Alice", "p2": "Bruno", "p3": "Chen"}, afterFirst)
	assert.NotEqual(t, first.RestoreID, second.RestoreID)
}

func TestRestoreChecksumMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	full, err := f.backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)
	require.True(t, f.objects.Tamper(full.StorageLocation, int(full.FileSize)-2, func(b byte) byte { return b ^ 0xff }))

	require.NoError(t, f.store.Upsert(ctx, collections.Profiles, store.Record{"id": "p1", "name": "Mallory"}))

	_, err = f.engine(f.store).Restore(ctx, full.BackupID, "ops", "", Options{})
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeChecksumMismatch))
	assert.Equal(t, "Mallory", f.names(t, collections.Profiles)["p1"])
}

func TestRestoreMissingBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine(f.store).Restore(ctx, "backup-unknown", "ops", "", Options{})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeBackupNotFound))

	full, err := f.backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)
	require.NoError(t, f.objects.Delete(ctx, full.StorageLocation))

	_, err = f.engine(f.store).Restore(ctx, full.BackupID, "ops", "", Options{})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeBackupNotFound))
}

type flakyStore struct {
	*store.MemoryStore
	failKey string
	onWrite func()
}

func (s *flakyStore) Upsert(ctx context.Context, collection string, record store.Record) error {
	if s.onWrite != nil {
		s.onWrite()
	}
	if store.KeyString(record["id"]) == s.failKey {
		return appErrors.NewStorageWriteError("constraint violation", errors.New("duplicate email"))
	}
	return s.MemoryStore.Upsert(ctx, collection, record)
}

func TestRestorePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	full, err := f.backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)

	res, err := f.engine(&flakyStore{MemoryStore: f.store, failKey: "p2"}).Restore(ctx, full.BackupID, "ops", "", Options{})
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypePartialApply))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Applied[collections.Profiles])
	assert.Equal(t, 1, res.Applied[collections.Assessments])
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "p2", res.Failures[0].Key)
	assert.Equal(t, collections.Profiles, res.Failures[0].Collection)
}

func TestRestoreCanceled(t *testing.T) {
	f := newFixture(t)
	full, err := f.backups.CreateFullBackup(context.Background(), "ops", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &flakyStore{MemoryStore: f.store, onWrite: cancel}

	_, err = f.engine(s).Restore(ctx, full.BackupID, "ops", "", Options{})
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeStorageWrite))
}

func TestRestorePrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	full, err := f.backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)

	require.NoError(t, f.store.Upsert(ctx, collections.Profiles, store.Record{"id": "p9", "name": "Late", "updated_at": f.now.Add(time.Minute)}))
	require.NoError(t, f.store.Upsert(ctx, collections.Assessments, store.Record{"id": 2, "profile_id": "p9", "score": 1, "updated_at": f.now.Add(time.Minute)}))

	e := f.engine(f.store)
	res, err := e.Restore(ctx, full.BackupID, "ops", "rollback", Options{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned[collections.Profiles])
	assert.Equal(t, 1, res.Pruned[collections.Assessments])
	assert.Equal(t, 2, res.TotalPruned())

	n, err := f.store.Count(ctx, collections.Profiles, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = f.store.Count(ctx, collections.Assessments, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "integer keys match the decoded snapshot keys")

	f.now = f.now.Add(time.Hour)
	incr, err := f.backups.CreateIncrementalBackup(ctx, full.BackupID, "ops", "")
	require.NoError(t, err)
	_, err = e.Restore(ctx, incr.BackupID, "ops", "", Options{Prune: true})
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

type staticLoader struct {
	snap *snapshot.Snapshot
}

func (l staticLoader) LoadVerified(ctx context.Context, backupID string) (*backup.BackupRecord, *snapshot.Snapshot, error) {
	return &backup.BackupRecord{BackupID: backupID, BackupType: l.snap.BackupType}, l.snap, nil
}

func TestRestoreCollectsRecordFailures(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := store.NewMemoryStore(reg)

	snap := snapshot.New("backup-x", snapshot.TypeFull, time.Now(), "ops", "")
	snap.SetCollection(collections.Profiles, []snapshot.Record{
		{"id": "p1", "name": "ok"},
		{"name": "no key"},
		nil,
	})
	snap.SetCollection("legacy_notes", []snapshot.Record{{"id": 1}})

	res, err := NewEngine(s, staticLoader{snap: snap}, reg, WithLogger(logging.NewNopLogger())).
		Restore(ctx, "backup-x", "ops", "", Options{})
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypePartialApply))
	assert.Equal(t, 1, res.Applied[collections.Profiles])

	reasons := map[string]int{}
	for _, f := range res.Failures {
		reasons[f.Collection]++
	}
	assert.Equal(t, map[string]int{collections.Profiles: 2, "legacy_notes": 1}, reasons)
}

func TestRestoreKeepsBinaryColumnsExact(t *testing.T) {
	ctx := context.Background()
	catalog, ok := collections.Default().Get(collections.BackupRecords)
	require.True(t, ok)
	reg, err := collections.NewRegistry(
		collections.Collection{Name: collections.Profiles, Table: "user_profiles", PrimaryKey: "id", TimestampColumn: "updated_at", Snapshotted: true},
		catalog,
	)
	require.NoError(t, err)

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "dataguard.db"), reg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.MigrateStore(ctx, db, logging.NewNopLogger()))
	require.NoError(t, db.ExecStatements(ctx, []string{
		`CREATE TABLE user_profiles (id INTEGER PRIMARY KEY, avatar BLOB, legacy_name TEXT, note TEXT, updated_at DATETIME)`,
	}))

	avatar := []byte{0xff, 0x00, 0xfe, 0x80, 0x89, 'P', 'N', 'G'}
	legacy := []byte{'J', 'o', 0xe9}
	note := "2024-05-06T07:08:09Z"
	require.NoError(t, db.Upsert(ctx, collections.Profiles, store.Record{
		"id":          1,
		"avatar":      avatar,
		"legacy_name": legacy,
		"note":        note,
		"updated_at":  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	}))

	backups := backup.NewEngine(db, objectstore.NewMemoryStore(), reg, backup.WithLogger(logging.NewNopLogger()))
	full, err := backups.CreateFullBackup(ctx, "ops", "")
	require.NoError(t, err)

	res, err := backups.VerifyBackup(ctx, full.BackupID)
	require.NoError(t, err)
	require.True(t, res.Valid, "issues: %v", res.Issues)

	_, err = db.DeleteWhere(ctx, collections.Profiles, store.Where(store.Eq("id", 1)))
	require.NoError(t, err)

	restored, err := NewEngine(db, backups, reg, WithLogger(logging.NewNopLogger())).
		Restore(ctx, full.BackupID, "ops", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Applied[collections.Profiles])

	rows, err := db.SelectAll(ctx, collections.Profiles)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snapshot.Binary(avatar), rows[0]["avatar"])
	assert.Equal(t, snapshot.Binary(legacy), rows[0]["legacy_name"], "invalid UTF-8 text keeps its bytes")
	assert.Equal(t, note, rows[0]["note"], "timestamp-looking text stays text")
}
