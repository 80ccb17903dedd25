package backup

import (
	"context"
	"fmt"
	"time"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/objectstore"
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

const (
	// DefaultExportTTL is used when ExportBackup is called without a ttl.
	DefaultExportTTL = 15 * time.Minute
	// MaxExportTTL is the longest presigned URL every provider accepts.
	MaxExportTTL = 7 * 24 * time.Hour
)

// Engine creates, lists, verifies and deletes backups. It owns the
// backup_records catalog and the payloads it points to.
type Engine struct {
	store    store.RelationalStore
	objects  objectstore.ObjectStore
	registry *collections.Registry
	catalog  *Catalog
	codec    *snapshot.Codec
	verifier snapshot.Verifier
	clock    func() time.Time
	newID    func(now time.Time) string
	logger   *logging.Logger
	metrics  metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator replaces the backup id generator.
func WithIDGenerator(fn func(now time.Time) string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCodec sets the payload codec. The default writes uncompressed,
// unencrypted payloads.
func WithCodec(c *snapshot.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

func WithVerifier(v snapshot.Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// NewEngine creates a backup engine reading from s and writing payloads to
// objects. reg decides which collections are snapshotted.
func NewEngine(s store.RelationalStore, objects objectstore.ObjectStore, reg *collections.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		objects:  objects,
		registry: reg,
		codec:    snapshot.NewCodec(),
		verifier: snapshot.NewVerifier(),
		clock:    time.Now,
		newID:    func(now time.Time) string { return GenerateID("backup", now) },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewDefaultLogger()
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}
	if e.registry == nil {
		e.registry = collections.Default()
	}
	e.catalog = NewCatalog(s, e.logger)
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Registry returns the collection registry backups are taken against.
func (e *Engine) Registry() *collections.Registry {
	return e.registry
}

// Now returns the engine clock's current time in UTC.
func (e *Engine) Now() time.Time {
	return e.clock().UTC()
}

// CreateFullBackup snapshots every snapshotted collection.
func (e *Engine) CreateFullBackup(ctx context.Context, createdBy, description string) (rec *BackupRecord, err error) {
	start := time.Now()
	done := e.logger.LogOperationStart("create_full_backup", map[string]interface{}{"created_by": createdBy})
	defer func() {
		done(err)
		e.metrics.ObserveOperation("create_full_backup", time.Since(start), err)
	}()

	now := e.timestamp()
	snap := snapshot.New(e.newID(now), snapshot.TypeFull, now, createdBy, description)
	if err := e.capture(ctx, snap, nil); err != nil {
		e.logger.LogBackup(snap.BackupID, string(snap.BackupType), 0, 0, time.Since(start), err)
		return nil, err
	}
	return e.persist(ctx, snap, start)
}

// CreateIncrementalBackup snapshots the records modified after a baseline.
// The baseline is previousID when given, otherwise the latest FULL backup.
// Without any FULL backup a full backup is taken instead.
func (e *Engine) CreateIncrementalBackup(ctx context.Context, previousID, createdBy, description string) (rec *BackupRecord, err error) {
	var baseline *BackupRecord
	if previousID != "" {
		if baseline, err = e.catalog.Get(ctx, previousID); err != nil {
			return nil, err
		}
	} else {
		if baseline, err = e.catalog.LatestFull(ctx); err != nil {
			return nil, err
		}
		if baseline == nil {
			e.logger.Warn("No full backup to build an incremental backup on, taking a full backup instead")
			return e.CreateFullBackup(ctx, createdBy, description)
		}
	}

	start := time.Now()
	done := e.logger.LogOperationStart("create_incremental_backup", map[string]interface{}{
		"created_by":  createdBy,
		"previous_id": baseline.BackupID,
	})
	defer func() {
		done(err)
		e.metrics.ObserveOperation("create_incremental_backup", time.Since(start), err)
	}()

	now := e.timestamp()
	snap := snapshot.New(e.newID(now), snapshot.TypeIncremental, now, createdBy, description)
	snap.PreviousBackupID = baseline.BackupID

	since := baseline.CreatedAt
	if err := e.capture(ctx, snap, &since); err != nil {
		e.logger.LogBackup(snap.BackupID, string(snap.BackupType), 0, 0, time.Since(start), err)
		return nil, err
	}
	return e.persist(ctx, snap, start)
}

// ListBackups returns every catalog entry, newest first.
func (e *Engine) ListBackups(ctx context.Context) ([]*BackupRecord, error) {
	return e.catalog.List(ctx)
}

// ListBackupsOlderThan returns entries created strictly before cutoff.
func (e *Engine) ListBackupsOlderThan(ctx context.Context, cutoff time.Time) ([]*BackupRecord, error) {
	return e.catalog.OlderThan(ctx, cutoff)
}

// DeleteBackup removes the payload and then the catalog entry. It reports
// false when no entry exists. A payload that is already gone is not an error.
func (e *Engine) DeleteBackup(ctx context.Context, backupID string) (deleted bool, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveOperation("delete_backup", time.Since(start), err) }()

	rec, err := e.catalog.Get(ctx, backupID)
	if err != nil {
		if appErrors.IsType(err, appErrors.ErrorTypeBackupNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := e.objects.Delete(ctx, rec.StorageLocation); err != nil {
		return false, appErrors.WrapError(err, fmt.Sprintf("failed to delete payload of backup %s", backupID))
	}
	deleted, err = e.catalog.Delete(ctx, backupID)
	if err != nil {
		return false, err
	}

	e.logger.WithFields(map[string]interface{}{
		"backup_id": backupID,
		"location":  rec.StorageLocation,
	}).Info("Backup deleted")
	return deleted, nil
}

// ExportBackup returns a time-limited download URL for a backup payload.
func (e *Engine) ExportBackup(ctx context.Context, backupID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultExportTTL
	}
	if ttl > MaxExportTTL {
		return "", appErrors.NewValidationError(fmt.Sprintf("export ttl %s exceeds %s", ttl, MaxExportTTL), nil)
	}

	rec, err := e.catalog.Get(ctx, backupID)
	if err != nil {
		return "", err
	}
	url, err := e.objects.PresignedURL(ctx, rec.StorageLocation, ttl)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return "", appErrors.NewBackupNotFoundError(backupID, err)
		}
		return "", appErrors.WrapError(err, "failed to presign backup payload")
	}
	return url, nil
}

// LoadVerified fetches a backup and checks both fingerprints before handing
// the snapshot out. Callers that write anything derived from the snapshot
// must go through here.
func (e *Engine) LoadVerified(ctx context.Context, backupID string) (*BackupRecord, *snapshot.Snapshot, error) {
	rec, err := e.catalog.Get(ctx, backupID)
	if err != nil {
		return nil, nil, err
	}

	data, err := e.objects.Get(ctx, rec.StorageLocation)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, nil, appErrors.NewBackupNotFoundError(backupID, err)
		}
		return nil, nil, appErrors.WrapError(err, "failed to read backup payload")
	}

	if rec.PayloadChecksum != "" {
		if actual := snapshot.PayloadDigest(data); actual != rec.PayloadChecksum {
			return nil, nil, appErrors.NewChecksumMismatchError(backupID, rec.PayloadChecksum, actual)
		}
	}

	snap, err := e.codec.Decode(data)
	if err != nil {
		return nil, nil, err
	}

	actual, err := e.verifier.Checksum(snap)
	if err != nil {
		return nil, nil, appErrors.NewMalformedSnapshotError("failed to fingerprint snapshot", err)
	}
	if actual != snap.Checksum || actual != rec.Checksum {
		return nil, nil, appErrors.NewChecksumMismatchError(backupID, rec.Checksum, actual)
	}
	if snap.BackupID != rec.BackupID {
		return nil, nil, appErrors.NewMalformedSnapshotError(
			fmt.Sprintf("payload belongs to backup %s", snap.BackupID), nil).WithContext("backup_id", backupID)
	}
	return rec, snap, nil
}

// timestamp is the creation time of a new backup. Microsecond precision
// survives every catalog dialect, so the time an incremental backup compares
// against is exactly the time that was stored.
func (e *Engine) timestamp() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

// capture fills snap from the store. With since set, collections that have a
// timestamp column contribute only records modified strictly after it.
func (e *Engine) capture(ctx context.Context, snap *snapshot.Snapshot, since *time.Time) error {
	read := func(ctx context.Context, r store.Reader) error {
		for _, c := range e.registry.Snapshotted() {
			if err := appErrors.FromContext(ctx, false, "backup canceled while reading collections"); err != nil {
				return err
			}

			var (
				records []store.Record
				err     error
			)
			switch {
			case since == nil:
				records, err = r.SelectAll(ctx, c.Name)
			case !c.HasTimestamp():
				e.logger.Warnf("Collection %s has no timestamp column, including it in full", c.Name)
				records, err = r.SelectAll(ctx, c.Name)
			default:
				records, err = r.SelectModifiedSince(ctx, c.Name, *since)
			}
			if err != nil {
				if ctxErr := appErrors.FromContext(ctx, false, "backup canceled while reading collections"); ctxErr != nil {
					return ctxErr
				}
				return appErrors.WrapError(err, fmt.Sprintf("failed to read collection %s", c.Name))
			}

			snap.SetCollection(c.Name, records)
			e.logger.Debugf("Captured %d records from %s", len(records), c.Name)
		}
		return nil
	}

	if s, ok := e.store.(store.Snapshotter); ok {
		return s.ReadSnapshot(ctx, read)
	}
	return read(ctx, e.store)
}

// checkEncoded decodes data and recomputes its checksum, so a payload that
// could not be verified later is never stored.
func (e *Engine) checkEncoded(checksum string, data []byte) error {
	decoded, err := e.codec.Decode(data)
	if err != nil {
		return appErrors.NewMalformedSnapshotError("snapshot content does not survive encoding", err)
	}
	ok, err := e.verifier.Verify(checksum, decoded)
	if err != nil {
		return appErrors.NewMalformedSnapshotError("snapshot content does not survive encoding", err)
	}
	if !ok {
		return appErrors.NewMalformedSnapshotError("snapshot content does not survive encoding", nil)
	}
	return nil
}

// persist seals, encodes and uploads snap, then writes its catalog entry. A
// catalog entry is only ever written for a payload that was stored, and a
// payload whose entry could not be written is removed again.
func (e *Engine) persist(ctx context.Context, snap *snapshot.Snapshot, start time.Time) (*BackupRecord, error) {
	fail := func(err error) (*BackupRecord, error) {
		e.logger.LogBackup(snap.BackupID, string(snap.BackupType), snap.TotalRecords(), 0, time.Since(start), err)
		return nil, err
	}

	if err := snapshot.Seal(e.verifier, snap); err != nil {
		return fail(appErrors.NewMalformedSnapshotError("failed to fingerprint snapshot", err))
	}
	data, err := e.codec.Encode(snap)
	if err != nil {
		return fail(err)
	}
	if err := e.checkEncoded(snap.Checksum, data); err != nil {
		return fail(err)
	}

	location, err := e.objects.Put(ctx, data, payloadName(snap.BackupID))
	if err != nil {
		if ctxErr := appErrors.FromContext(ctx, true, "backup canceled while uploading payload"); ctxErr != nil {
			return fail(ctxErr)
		}
		return fail(appErrors.WrapError(err, "failed to upload backup payload"))
	}

	rec := &BackupRecord{
		BackupID:         snap.BackupID,
		BackupType:       snap.BackupType,
		StorageLocation:  location,
		FileSize:         int64(len(data)),
		TableCount:       len(snap.Collections),
		TotalRecords:     snap.TotalRecords(),
		RecordCounts:     snap.RecordCounts,
		PreviousBackupID: snap.PreviousBackupID,
		Checksum:         snap.Checksum,
		PayloadChecksum:  snapshot.PayloadDigest(data),
		Compression:      string(e.codec.Compression()),
		Encrypted:        e.codec.Encrypted(),
		Description:      snap.Description,
		CreatedAt:        snap.CreatedAt,
		CreatedBy:        snap.CreatedBy,
	}

	if ctxErr := appErrors.FromContext(ctx, true, "backup canceled before catalog write"); ctxErr != nil {
		err = ctxErr
	} else {
		err = e.catalog.Insert(ctx, rec)
	}
	if err != nil {
		if delErr := e.objects.Delete(context.WithoutCancel(ctx), location); delErr != nil {
			e.logger.Errorf("Failed to remove payload %s after catalog write failed: %v", location, delErr)
		}
		return fail(err)
	}

	e.logger.LogBackup(rec.BackupID, string(rec.BackupType), rec.TotalRecords, rec.FileSize, time.Since(start), nil)
	e.metrics.ObserveBackup(string(rec.BackupType), rec.FileSize, rec.TotalRecords)
	return rec, nil
}
