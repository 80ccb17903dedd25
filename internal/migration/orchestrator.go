// Package migration runs schema migrations behind an automatic backup and
// rolls them back by restoring that backup.
package migration

import (
	"context"
	"fmt"
	"time"

	"dataguard/internal/backup"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/restore"
	"dataguard/internal/store"
)

// Backups creates the pre-migration backup.
type Backups interface {
	CreateFullBackup(ctx context.Context, createdBy, description string) (*backup.BackupRecord, error)
}

// Restorer replays the pre-migration backup on rollback.
type Restorer interface {
	Restore(ctx context.Context, backupID, createdBy, description string, opts restore.Options) (*restore.Result, error)
}

// ExecuteOptions control a migration run.
type ExecuteOptions struct {
	AutoBackup  bool
	CreatedBy   string
	Description string
}

// Orchestrator executes migrations and records their progress. Each status
// change is persisted before the work it announces begins.
type Orchestrator struct {
	records  *Records
	backups  Backups
	restorer Restorer
	clock    func() time.Time
	logger   *logging.Logger
	metrics  metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator keeping its records in s.
func NewOrchestrator(s store.RelationalStore, backups Backups, restorer Restorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backups:  backups,
		restorer: restorer,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewDefaultLogger()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop()
	}
	o.records = NewRecords(s, o.logger)
	return o
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}

// transition moves rec to status and persists it. Terminal writes use a
// context detached from cancellation so a canceled run is still recorded.
func (o *Orchestrator) transition(ctx context.Context, rec *MigrationRecord, to Status) error {
	if !CanTransition(rec.Status, to) {
		return appErrors.NewMigrationStateError(rec.MigrationID, string(rec.Status), string(to))
	}
	rec.Status = to
	now := o.now()
	switch to {
	case StatusCompleted, StatusFailed:
		rec.CompletedAt = &now
		ctx = context.WithoutCancel(ctx)
	case StatusRolledBack:
		rec.RolledBackAt = &now
		ctx = context.WithoutCancel(ctx)
	}
	return o.records.Save(ctx, rec)
}

// fail records err verbatim and returns it. A failure to persist the FAILED
// status is logged; the original error is what the caller sees.
func (o *Orchestrator) fail(ctx context.Context, rec *MigrationRecord, err error) (*MigrationRecord, error) {
	rec.ErrorMessage = err.Error()
	if saveErr := o.transition(ctx, rec, StatusFailed); saveErr != nil {
		o.logger.Errorf("Failed to record failure of migration %s: %v", rec.MigrationID, saveErr)
	}
	o.metrics.ObserveMigration(string(StatusFailed))
	return rec, err
}

// ExecuteMigration runs steps in order and stops at the first failure. With
// AutoBackup a full backup is taken before any step runs and its id is kept
// on the record for rollback. The record is returned whenever one was
// written, including on failure.
func (o *Orchestrator) ExecuteMigration(ctx context.Context, steps []Step, opts ExecuteOptions) (rec *MigrationRecord, err error) {
	if len(steps) == 0 {
		return nil, appErrors.NewValidationError("migration has no steps", nil)
	}

	start := time.Now()
	now := o.now()
	rec = &MigrationRecord{
		MigrationID: backup.GenerateID("migration", now),
		Status:      StatusPending,
		Description: opts.Description,
		CreatedBy:   opts.CreatedBy,
		StepsTotal:  len(steps),
		ExecutedAt:  now,
	}
	done := o.logger.LogOperationStart("execute_migration", map[string]interface{}{
		"migration_id": rec.MigrationID,
		"steps":        len(steps),
		"auto_backup":  opts.AutoBackup,
	})
	defer func() {
		done(err)
		o.metrics.ObserveOperation("execute_migration", time.Since(start), err)
	}()

	if err := o.records.Save(ctx, rec); err != nil {
		return nil, err
	}

	if opts.AutoBackup {
		desc := fmt.Sprintf("Pre-migration backup for %s", rec.MigrationID)
		if opts.Description != "" {
			desc = fmt.Sprintf("Pre-migration backup: %s", opts.Description)
		}
		b, err := o.backups.CreateFullBackup(ctx, opts.CreatedBy, desc)
		if err != nil {
			return o.fail(ctx, rec, fmt.Errorf("pre-migration backup failed: %w", err))
		}
		rec.BackupID = b.BackupID
	}

	if err := o.transition(ctx, rec, StatusRunning); err != nil {
		return rec, err
	}

	for i, step := range steps {
		stepStart := time.Now()
		stepErr := step.Up(ctx)
		o.logger.LogMigrationStep(rec.MigrationID, step.Name(), i, time.Since(stepStart), stepErr)
		if stepErr != nil {
			return o.fail(ctx, rec, stepErr)
		}
		rec.StepsCompleted++
		if err := o.records.Save(ctx, rec); err != nil {
			return o.fail(ctx, rec, err)
		}
	}

	if err := o.transition(ctx, rec, StatusCompleted); err != nil {
		return rec, err
	}
	o.metrics.ObserveMigration(string(StatusCompleted))
	return rec, nil
}

// RollbackMigration restores the migration's backup with pruning, returning
// the store to the record set it had before the migration, and marks the
// migration ROLLED_BACK. Only COMPLETED and FAILED migrations that carry a
// backup can be rolled back.
func (o *Orchestrator) RollbackMigration(ctx context.Context, migrationID, createdBy string) (rec *MigrationRecord, res *restore.Result, err error) {
	start := time.Now()
	done := o.logger.LogOperationStart("rollback_migration", map[string]interface{}{"migration_id": migrationID})
	defer func() {
		done(err)
		o.metrics.ObserveOperation("rollback_migration", time.Since(start), err)
	}()

	if rec, err = o.records.Get(ctx, migrationID); err != nil {
		return nil, nil, err
	}
	if !CanTransition(rec.Status, StatusRolledBack) {
		return rec, nil, appErrors.NewMigrationStateError(migrationID, string(rec.Status), string(StatusRolledBack))
	}
	if rec.BackupID == "" {
		return rec, nil, appErrors.NewValidationError(
			fmt.Sprintf("migration %s has no backup to roll back to", migrationID), nil).
			WithContext("migration_id", migrationID)
	}

	res, err = o.restorer.Restore(ctx, rec.BackupID, createdBy,
		fmt.Sprintf("Rollback of migration %s", migrationID), restore.Options{Prune: true})
	if err != nil {
		return rec, res, err
	}

	if err := o.transition(ctx, rec, StatusRolledBack); err != nil {
		return rec, res, err
	}
	o.metrics.ObserveMigration(string(StatusRolledBack))
	return rec, res, nil
}

// GetMigrationHistory returns migration records newest first. limit <= 0
// returns all of them.
func (o *Orchestrator) GetMigrationHistory(ctx context.Context, limit int) ([]*MigrationRecord, error) {
	return o.records.List(ctx, limit)
}
