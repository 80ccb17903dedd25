// Package service is the operation surface of the data protection
// subsystem. Every operation returns a Result and never an error, so the
// CLI and the admin API render outcomes the same way.
package service

import (
	"context"
	"fmt"
	"time"

	"dataguard/internal/backup"
	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/migration"
	"dataguard/internal/objectstore"
	"dataguard/internal/restore"
	"dataguard/internal/retention"
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

// Result is the outcome of an operation.
type Result struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	Hints     []string    `json:"hints,omitempty"`
}

// Options configure a Service.
type Options struct {
	Clock     func() time.Time
	Logger    *logging.Logger
	Metrics   metrics.Recorder
	Codec     *snapshot.Codec
	Retention retention.Config
}

// Service wires the engines over one relational store and one object store.
type Service struct {
	store      store.RelationalStore
	objects    objectstore.ObjectStore
	backups    *backup.Engine
	restorer   *restore.Engine
	retention  *retention.Manager
	migrations *migration.Orchestrator
	logger     *logging.Logger
}

// New builds a Service and its engines.
func New(s store.RelationalStore, objects objectstore.ObjectStore, reg *collections.Registry, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if reg == nil {
		reg = collections.Default()
	}
	opts.Retention.SetDefaults()

	backupOpts := []backup.Option{
		backup.WithClock(opts.Clock),
		backup.WithLogger(opts.Logger),
		backup.WithMetrics(opts.Metrics),
	}
	if opts.Codec != nil {
		backupOpts = append(backupOpts, backup.WithCodec(opts.Codec))
	}
	backups := backup.NewEngine(s, objects, reg, backupOpts...)
	restorer := restore.NewEngine(s, backups, reg,
		restore.WithClock(opts.Clock),
		restore.WithLogger(opts.Logger),
		restore.WithMetrics(opts.Metrics))

	return &Service{
		store:    s,
		objects:  objects,
		backups:  backups,
		restorer: restorer,
		retention: retention.NewManager(s, backups, reg, opts.Retention,
			retention.WithClock(opts.Clock),
			retention.WithLogger(opts.Logger),
			retention.WithMetrics(opts.Metrics)),
		migrations: migration.NewOrchestrator(s, backups, restorer,
			migration.WithClock(opts.Clock),
			migration.WithLogger(opts.Logger),
			migration.WithMetrics(opts.Metrics)),
		logger: opts.Logger,
	}
}

// Backups exposes the backup engine.
func (s *Service) Backups() *backup.Engine {
	return s.backups
}

func (s *Service) ok(message string, details interface{}) Result {
	return Result{Success: true, Message: message, Details: details}
}

// failure turns err into a Result. details may carry a partial outcome.
func (s *Service) failure(action string, err error, details interface{}) Result {
	errType := appErrors.GetErrorType(err)
	s.logger.WithFields(map[string]interface{}{
		"action":     action,
		"error_type": errType,
	}).Errorf("%s failed: %v", action, err)
	return Result{
		Success:   false,
		Message:   fmt.Sprintf("%s failed: %v", action, err),
		Details:   details,
		ErrorType: string(errType),
		Hints:     TroubleshootingHints(errType),
	}
}

// CreateFullBackup captures every snapshotted collection.
func (s *Service) CreateFullBackup(ctx context.Context, createdBy, description string) Result {
	rec, err := s.backups.CreateFullBackup(ctx, createdBy, description)
	if err != nil {
		return s.failure("Full backup", err, nil)
	}
	return s.ok(fmt.Sprintf("Full backup %s created with %d records", rec.BackupID, rec.TotalRecords), rec)
}

// CreateIncrementalBackup captures records changed since previousID, or
// since the latest full backup when previousID is empty.
func (s *Service) CreateIncrementalBackup(ctx context.Context, previousID, createdBy, description string) Result {
	rec, err := s.backups.CreateIncrementalBackup(ctx, previousID, createdBy, description)
	if err != nil {
		return s.failure("Incremental backup", err, nil)
	}
	if rec.BackupType == snapshot.TypeFull {
		return s.ok(fmt.Sprintf("No full backup to build on; full backup %s created with %d records", rec.BackupID, rec.TotalRecords), rec)
	}
	return s.ok(fmt.Sprintf("Incremental backup %s created with %d records since %s", rec.BackupID, rec.TotalRecords, rec.PreviousBackupID), rec)
}

// ListBackups returns the catalog newest first.
func (s *Service) ListBackups(ctx context.Context) Result {
	recs, err := s.backups.ListBackups(ctx)
	if err != nil {
		return s.failure("List backups", err, nil)
	}
	return s.ok(fmt.Sprintf("Found %d backups", len(recs)), recs)
}

// VerifyBackup checks a backup without restoring it. An invalid backup is
// reported as a checksum failure with the verification report attached.
func (s *Service) VerifyBackup(ctx context.Context, backupID string) Result {
	res, err := s.backups.VerifyBackup(ctx, backupID)
	if err != nil {
		return s.failure("Verify backup", err, nil)
	}
	if !res.Valid {
		return Result{
			Success:   false,
			Message:   fmt.Sprintf("Backup %s failed verification: %d issues", backupID, len(res.Issues)),
			Details:   res,
			ErrorType: string(appErrors.ErrorTypeChecksumMismatch),
			Hints:     TroubleshootingHints(appErrors.ErrorTypeChecksumMismatch),
		}
	}
	return s.ok(fmt.Sprintf("Backup %s is valid", backupID), res)
}

// DeleteBackup removes a backup's payload and catalog entry.
func (s *Service) DeleteBackup(ctx context.Context, backupID string) Result {
	deleted, err := s.backups.DeleteBackup(ctx, backupID)
	if err != nil {
		return s.failure("Delete backup", err, nil)
	}
	if !deleted {
		return s.failure("Delete backup", appErrors.NewBackupNotFoundError(backupID, nil), nil)
	}
	return s.ok(fmt.Sprintf("Backup %s deleted", backupID), map[string]interface{}{"backup_id": backupID})
}

// ExportBackup returns a time-limited download URL for a backup payload.
func (s *Service) ExportBackup(ctx context.Context, backupID string, ttl time.Duration) Result {
	if ttl <= 0 {
		ttl = backup.DefaultExportTTL
	}
	url, err := s.backups.ExportBackup(ctx, backupID, ttl)
	if err != nil {
		return s.failure("Export backup", err, nil)
	}
	return s.ok(fmt.Sprintf("Export URL for %s valid for %s", backupID, ttl), map[string]interface{}{
		"backup_id":  backupID,
		"url":        url,
		"expires_at": s.backups.Now().Add(ttl),
	})
}

// Restore applies a backup. With prune, records absent from a full backup
// are removed. A partial restore reports the per-record failures.
func (s *Service) Restore(ctx context.Context, backupID, createdBy, description string, prune bool) Result {
	res, err := s.restorer.Restore(ctx, backupID, createdBy, description, restore.Options{Prune: prune})
	if err != nil {
		return s.failure("Restore", err, res)
	}
	msg := fmt.Sprintf("Restored %d records from %s", res.TotalApplied(), backupID)
	if prune {
		msg += fmt.Sprintf(", pruned %d", res.TotalPruned())
	}
	return s.ok(msg, res)
}

// ArchiveOldAuditEntries moves audit entries older than days into the archive.
func (s *Service) ArchiveOldAuditEntries(ctx context.Context, days int) Result {
	n, err := s.retention.ArchiveOldAuditEntries(ctx, days)
	if err != nil {
		return s.failure("Archive audit entries", err, nil)
	}
	return s.ok(fmt.Sprintf("Archived %d audit entries older than %d days", n, days),
		map[string]interface{}{"archived": n, "days": days})
}

// CleanupArchivedEntries deletes archive rows archived more than days ago.
func (s *Service) CleanupArchivedEntries(ctx context.Context, days int) Result {
	n, err := s.retention.CleanupArchivedEntries(ctx, days)
	if err != nil {
		return s.failure("Cleanup archived entries", err, nil)
	}
	return s.ok(fmt.Sprintf("Removed %d archived entries older than %d days", n, days),
		map[string]interface{}{"removed": n, "days": days})
}

// CleanupOldBackups deletes backups created more than days ago.
func (s *Service) CleanupOldBackups(ctx context.Context, days int) Result {
	n, err := s.retention.CleanupOldBackups(ctx, days)
	if err != nil {
		return s.failure("Cleanup old backups", err, nil)
	}
	return s.ok(fmt.Sprintf("Removed %d backups older than %d days", n, days),
		map[string]interface{}{"removed": n, "days": days})
}

// PerformFullBackupProcess runs the scheduled backup and backup retention.
func (s *Service) PerformFullBackupProcess(ctx context.Context, createdBy string) Result {
	report, err := s.retention.PerformFullBackupProcess(ctx, createdBy)
	if err != nil {
		return s.failure("Backup policy", err, report)
	}
	return s.ok(fmt.Sprintf("%s backup %s created, %d old backups removed",
		report.Backup.BackupType, report.Backup.BackupID, report.RemovedBackups), report)
}

// PerformFullArchive runs both audit sweeps with the configured windows.
func (s *Service) PerformFullArchive(ctx context.Context) Result {
	report, err := s.retention.PerformFullArchive(ctx)
	if err != nil {
		return s.failure("Full archive", err, report)
	}
	return s.ok(fmt.Sprintf("Archived %d audit entries, removed %d archived entries", report.Archived, report.Cleaned), report)
}

// ExecuteMigration runs steps under the orchestrator.
func (s *Service) ExecuteMigration(ctx context.Context, steps []migration.Step, opts migration.ExecuteOptions) Result {
	rec, err := s.migrations.ExecuteMigration(ctx, steps, opts)
	if err != nil {
		return s.failure("Migration", err, rec)
	}
	msg := fmt.Sprintf("Migration %s completed %d steps", rec.MigrationID, rec.StepsCompleted)
	if rec.BackupID != "" {
		msg += fmt.Sprintf(" (backup %s)", rec.BackupID)
	}
	return s.ok(msg, rec)
}

// ExecuteMigrationFile binds SQL step definitions to the relational store
// and runs them. The store must be able to execute raw statements.
func (s *Service) ExecuteMigrationFile(ctx context.Context, f *migration.File, opts migration.ExecuteOptions) Result {
	exec, ok := s.store.(store.Execer)
	if !ok {
		return s.failure("Migration", appErrors.NewConfigurationError(
			fmt.Sprintf("store %T cannot execute SQL migrations", s.store), nil), nil)
	}
	if err := f.Validate(); err != nil {
		return s.failure("Migration", appErrors.NewValidationError("invalid migration", err), nil)
	}
	if opts.Description == "" {
		opts.Description = f.Description
	}
	return s.ExecuteMigration(ctx, f.Bind(exec), opts)
}

// RollbackMigration restores a migration's pre-migration backup.
func (s *Service) RollbackMigration(ctx context.Context, migrationID, createdBy string) Result {
	rec, res, err := s.migrations.RollbackMigration(ctx, migrationID, createdBy)
	details := map[string]interface{}{"migration": rec, "restore": res}
	if err != nil {
		return s.failure("Rollback", err, details)
	}
	return s.ok(fmt.Sprintf("Migration %s rolled back to backup %s", migrationID, rec.BackupID), details)
}

// GetMigrationHistory lists migration records newest first.
func (s *Service) GetMigrationHistory(ctx context.Context, limit int) Result {
	recs, err := s.migrations.GetMigrationHistory(ctx, limit)
	if err != nil {
		return s.failure("Migration history", err, nil)
	}
	return s.ok(fmt.Sprintf("Found %d migrations", len(recs)), recs)
}

// HealthCheck pings the relational store and the object store.
func (s *Service) HealthCheck(ctx context.Context) Result {
	status := map[string]interface{}{}
	var firstErr error

	if err := s.store.Ping(ctx); err != nil {
		status["database"] = err.Error()
		firstErr = appErrors.WrapError(err, "database unreachable")
	} else {
		status["database"] = "ok"
	}
	if err := s.objects.HealthCheck(ctx); err != nil {
		status["storage"] = err.Error()
		if firstErr == nil {
			firstErr = appErrors.WrapError(err, "storage unreachable")
		}
	} else {
		status["storage"] = "ok"
	}
	status["storage_info"] = s.objects.Info()

	if firstErr != nil {
		return s.failure("Health check", firstErr, status)
	}
	return s.ok("All components healthy", status)
}

// Health adapts HealthCheck to metrics.HealthFunc.
func (s *Service) Health(ctx context.Context) error {
	res := s.HealthCheck(ctx)
	if !res.Success {
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}
