// Package retention enforces retention windows on audit data and backups.
// Every sweep is idempotent: running it twice with the same clock changes
// nothing the second time.
package retention

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"dataguard/internal/backup"
	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/store"
)

// Backups is the part of the backup engine the retention policy drives.
type Backups interface {
	CreateFullBackup(ctx context.Context, createdBy, description string) (*backup.BackupRecord, error)
	CreateIncrementalBackup(ctx context.Context, previousID, createdBy, description string) (*backup.BackupRecord, error)
	ListBackupsOlderThan(ctx context.Context, cutoff time.Time) ([]*backup.BackupRecord, error)
	DeleteBackup(ctx context.Context, backupID string) (bool, error)
}

// ArchiveReport is the outcome of PerformFullArchive.
type ArchiveReport struct {
	Archived int `json:"archived"`
	Cleaned  int `json:"cleaned"`
}

// PolicyReport is the outcome of PerformFullBackupProcess.
type PolicyReport struct {
	Backup         *backup.BackupRecord `json:"backup"`
	RemovedBackups int                  `json:"removed_backups"`
}

// Manager runs the retention sweeps.
type Manager struct {
	store    store.RelationalStore
	backups  Backups
	registry *collections.Registry
	config   Config
	clock    func() time.Time
	logger   *logging.Logger
	metrics  metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a retention manager. cfg is defaulted but not
// validated; callers validate configuration when loading it.
func NewManager(s store.RelationalStore, backups Backups, reg *collections.Registry, cfg Config, opts ...Option) *Manager {
	cfg.SetDefaults()
	m := &Manager{
		store:    s,
		backups:  backups,
		registry: reg,
		config:   cfg,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewDefaultLogger()
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop()
	}
	if m.registry == nil {
		m.registry = collections.Default()
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) cutoff(days int) (now, cutoff time.Time, err error) {
	if days < 0 {
		return time.Time{}, time.Time{}, appErrors.NewValidationError(
			fmt.Sprintf("days must not be negative, got %d", days), nil)
	}
	now = m.clock().UTC()
	return now, now.Add(-time.Duration(days) * 24 * time.Hour), nil
}

// ArchiveOldAuditEntries moves audit entries created strictly before
// now minus days into the archive and returns how many were moved. Each entry
// is written to the archive before it is deleted, so an interrupted sweep
// never loses an entry and a rerun completes it.
func (m *Manager) ArchiveOldAuditEntries(ctx context.Context, days int) (moved int, err error) {
	start := time.Now()
	defer func() { m.observe("archive_audit", days, moved, start, err) }()

	now, cutoff, err := m.cutoff(days)
	if err != nil {
		return 0, err
	}
	audit, err := m.registry.MustGet(collections.AuditEntries)
	if err != nil {
		return 0, appErrors.NewConfigurationError("audit collection is not registered", err)
	}
	if !audit.HasTimestamp() {
		return 0, appErrors.NewConfigurationError("audit collection has no timestamp column", nil)
	}

	rows, err := m.store.SelectWhere(ctx, audit.Name, store.Where(store.Lt(audit.TimestampColumn, cutoff)))
	if err != nil {
		return 0, appErrors.WrapError(err, "failed to select audit entries")
	}

	for _, row := range rows {
		pk, err := store.PrimaryKey(audit, row)
		if err != nil {
			m.logger.Warnf("Skipping audit entry without key: %v", err)
			continue
		}

		archived, err := archiveRow(audit, row, pk, now)
		if err != nil {
			return moved, appErrors.NewStorageWriteError("failed to encode audit entry", err)
		}
		if err := m.store.Upsert(ctx, collections.AuditArchive, archived); err != nil {
			return moved, appErrors.WrapError(err, "failed to archive audit entry")
		}
		if _, err := m.store.DeleteWhere(ctx, audit.Name, store.Where(store.Eq(audit.PrimaryKey, pk))); err != nil {
			return moved, appErrors.WrapError(err, "failed to remove archived audit entry")
		}
		moved++
	}
	return moved, nil
}

// archiveRow builds the audit_archive row for an audit entry. The full entry
// is kept as JSON so the archive does not depend on the audit row shape.
func archiveRow(audit collections.Collection, row store.Record, pk any, now time.Time) (store.Record, error) {
	entry, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var createdAt any
	if t, ok, err := store.TimeField(row, audit.TimestampColumn); err == nil && ok {
		createdAt = t
	}
	return store.Record{
		"id":          store.KeyString(pk),
		"created_at":  createdAt,
		"archived_at": now,
		"entry":       string(entry),
	}, nil
}

// CleanupArchivedEntries deletes archive rows archived strictly before
// now minus days.
func (m *Manager) CleanupArchivedEntries(ctx context.Context, days int) (removed int, err error) {
	start := time.Now()
	defer func() { m.observe("cleanup_archive", days, removed, start, err) }()

	_, cutoff, err := m.cutoff(days)
	if err != nil {
		return 0, err
	}
	n, err := m.store.DeleteWhere(ctx, collections.AuditArchive, store.Where(store.Lt("archived_at", cutoff)))
	if err != nil {
		return 0, appErrors.WrapError(err, "failed to clean audit archive")
	}
	return int(n), nil
}

// CleanupOldBackups deletes every backup created strictly before now minus
// days. Individual failures are logged and skipped; the count of removed
// backups is returned.
func (m *Manager) CleanupOldBackups(ctx context.Context, days int) (removed int, err error) {
	start := time.Now()
	defer func() { m.observe("cleanup_backups", days, removed, start, err) }()

	_, cutoff, err := m.cutoff(days)
	if err != nil {
		return 0, err
	}
	old, err := m.backups.ListBackupsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, rec := range old {
		if ctxErr := appErrors.FromContext(ctx, true, "backup cleanup canceled"); ctxErr != nil {
			return removed, ctxErr
		}
		deleted, err := m.backups.DeleteBackup(ctx, rec.BackupID)
		if err != nil {
			m.logger.Warnf("Failed to delete expired backup %s: %v", rec.BackupID, err)
			continue
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

// PerformFullArchive archives audit entries past the audit window and then
// cleans archive rows past the archive window.
func (m *Manager) PerformFullArchive(ctx context.Context) (*ArchiveReport, error) {
	report := &ArchiveReport{}
	var err error
	if report.Archived, err = m.ArchiveOldAuditEntries(ctx, m.config.AuditRetentionDays); err != nil {
		return report, err
	}
	if report.Cleaned, err = m.CleanupArchivedEntries(ctx, m.config.ArchiveRetentionDays); err != nil {
		return report, err
	}
	return report, nil
}

// PerformFullBackupProcess takes the scheduled backup, FULL on the anchor
// day and INCREMENTAL otherwise, then removes backups past the backup
// window. Expired backups are kept when the new backup fails.
func (m *Manager) PerformFullBackupProcess(ctx context.Context, createdBy string) (*PolicyReport, error) {
	anchor, err := m.config.Weekday()
	if err != nil {
		return nil, appErrors.NewConfigurationError("invalid retention configuration", err)
	}

	now := m.clock().UTC()
	report := &PolicyReport{}
	if now.Weekday() == anchor {
		report.Backup, err = m.backups.CreateFullBackup(ctx, createdBy, "Scheduled weekly full backup")
	} else {
		report.Backup, err = m.backups.CreateIncrementalBackup(ctx, "", createdBy, "Scheduled daily incremental backup")
	}
	if err != nil {
		return report, err
	}

	if report.RemovedBackups, err = m.CleanupOldBackups(ctx, m.config.BackupRetentionDays); err != nil {
		return report, err
	}
	return report, nil
}

func (m *Manager) observe(sweep string, days, affected int, start time.Time, err error) {
	m.metrics.ObserveOperation(sweep, time.Since(start), err)
	if err != nil {
		m.logger.WithFields(map[string]interface{}{
			"operation": "retention",
			"sweep":     sweep,
			"days":      days,
			"affected":  affected,
			"error":     err.Error(),
		}).Error("Retention sweep failed")
		return
	}
	m.metrics.ObserveSweep(sweep, affected)
	m.logger.LogSweep(sweep, days, affected, time.Since(start))
}
