// Package restore replays verified snapshots into the relational store.
package restore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dataguard/internal/backup"
	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

// SnapshotLoader hands out snapshots whose fingerprints have been checked.
// *backup.Engine implements it.
type SnapshotLoader interface {
	LoadVerified(ctx context.Context, backupID string) (*backup.BackupRecord, *snapshot.Snapshot, error)
}

// Options tune a restore.
type Options struct {
	// Prune deletes live records whose primary key is absent from the
	// snapshot, in every collection the snapshot carries. Only valid for
	// FULL snapshots.
	Prune bool `json:"prune"`
}

// Failure is one record that could not be applied.
type Failure struct {
	Collection string `json:"collection"`
	Index      int    `json:"index"`
	Key        string `json:"key,omitempty"`
	Reason     string `json:"reason"`
}

// Result summarizes a restore.
type Result struct {
	RestoreID   string              `json:"restore_id"`
	BackupID    string              `json:"backup_id"`
	BackupType  snapshot.BackupType `json:"backup_type"`
	CreatedBy   string              `json:"created_by"`
	Description string              `json:"description,omitempty"`
	Applied     map[string]int      `json:"applied"`
	Pruned      map[string]int      `json:"pruned,omitempty"`
	Failures    []Failure           `json:"failures,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// TotalApplied sums Applied.
func (r *Result) TotalApplied() int {
	total := 0
	for _, n := range r.Applied {
		total += n
	}
	return total
}

// TotalPruned sums Pruned.
func (r *Result) TotalPruned() int {
	total := 0
	for _, n := range r.Pruned {
		total += n
	}
	return total
}

// Engine restores snapshots with primary-key upserts, so replaying the same
// snapshot any number of times leaves the store in the same state.
type Engine struct {
	store    store.RelationalStore
	loader   SnapshotLoader
	registry *collections.Registry
	clock    func() time.Time
	logger   *logging.Logger
	metrics  metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a restore engine writing into s.
func NewEngine(s store.RelationalStore, loader SnapshotLoader, reg *collections.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		loader:   loader,
		registry: reg,
		clock:    time.Now,
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
	return e
}

// Restore applies backupID to the store. Nothing is written unless the
// payload passes verification. Records that fail individually are collected
// in the result, which is then returned alongside a PartialApplyError.
func (e *Engine) Restore(ctx context.Context, backupID, createdBy, description string, opts Options) (res *Result, err error) {
	start := time.Now()
	applied, failed := 0, 0
	defer func() {
		e.logger.LogRestore(backupID, applied, failed, time.Since(start), err)
		e.metrics.ObserveOperation("restore", time.Since(start), err)
	}()

	_, snap, err := e.loader.LoadVerified(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if opts.Prune && snap.BackupType != snapshot.TypeFull {
		return nil, appErrors.NewValidationError(
			fmt.Sprintf("prune requires a FULL backup, %s is %s", backupID, snap.BackupType), nil)
	}

	now := e.clock().UTC()
	res = &Result{
		RestoreID:   backup.GenerateID("restore", now),
		BackupID:    backupID,
		BackupType:  snap.BackupType,
		CreatedBy:   createdBy,
		Description: description,
		Applied:     make(map[string]int),
		StartedAt:   now,
	}
	if opts.Prune {
		res.Pruned = make(map[string]int)
	}

	for _, name := range e.order(snap) {
		c, known := e.registry.Get(name)
		records := snap.Collections[name]
		if !known {
			for i := range records {
				res.Failures = append(res.Failures, Failure{Collection: name, Index: i, Reason: "collection is not registered"})
			}
			continue
		}

		n, err := e.apply(ctx, c, records, res)
		res.Applied[name] = n
		e.metrics.ObserveRestore(name, n, countFailures(res.Failures, name))
		if err != nil {
			applied, failed = res.TotalApplied(), len(res.Failures)
			return res, err
		}

		if opts.Prune {
			pruned, err := e.prune(ctx, c, records)
			res.Pruned[name] = pruned
			if err != nil {
				applied, failed = res.TotalApplied(), len(res.Failures)
				return res, err
			}
		}
	}

	res.CompletedAt = e.clock().UTC()
	applied, failed = res.TotalApplied(), len(res.Failures)
	if failed > 0 {
		return res, appErrors.NewPartialApplyError(backupID, failed, applied)
	}
	return res, nil
}

// order walks registered collections in registry order, then anything else
// the snapshot carries.
func (e *Engine) order(snap *snapshot.Snapshot) []string {
	var names []string
	seen := make(map[string]bool)
	for _, c := range e.registry.All() {
		if _, ok := snap.Collections[c.Name]; ok {
			names = append(names, c.Name)
			seen[c.Name] = true
		}
	}
	var extra []string
	for name := range snap.Collections {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func (e *Engine) apply(ctx context.Context, c collections.Collection, records []snapshot.Record, res *Result) (int, error) {
	applied := 0
	for i, rec := range records {
		if err := appErrors.FromContext(ctx, true, "restore canceled"); err != nil {
			return applied, err
		}
		if rec == nil {
			res.Failures = append(res.Failures, Failure{Collection: c.Name, Index: i, Reason: "record is not a document"})
			continue
		}
		pk, err := store.PrimaryKey(c, rec)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Collection: c.Name, Index: i, Reason: err.Error()})
			continue
		}

		if err := e.store.Upsert(ctx, c.Name, rec); err != nil {
			if ctxErr := appErrors.FromContext(ctx, true, "restore canceled"); ctxErr != nil {
				return applied, ctxErr
			}
			res.Failures = append(res.Failures, Failure{
				Collection: c.Name,
				Index:      i,
				Key:        store.KeyString(pk),
				Reason:     err.Error(),
			})
			e.logger.Debugf("Failed to restore %s/%s: %v", c.Name, store.KeyString(pk), err)
			continue
		}
		applied++
	}
	return applied, nil
}

// prune deletes live records of c whose key does not appear in records.
func (e *Engine) prune(ctx context.Context, c collections.Collection, records []snapshot.Record) (int, error) {
	keep := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if pk, err := store.PrimaryKey(c, rec); err == nil {
			keep[store.KeyString(pk)] = struct{}{}
		}
	}

	live, err := e.store.SelectAll(ctx, c.Name)
	if err != nil {
		return 0, appErrors.WrapError(err, fmt.Sprintf("failed to read %s for pruning", c.Name))
	}

	pruned := 0
	for _, row := range live {
		pk, err := store.PrimaryKey(c, row)
		if err != nil {
			continue
		}
		if _, ok := keep[store.KeyString(pk)]; ok {
			continue
		}
		n, err := e.store.DeleteWhere(ctx, c.Name, store.Where(store.Eq(c.PrimaryKey, pk)))
		if err != nil {
			if ctxErr := appErrors.FromContext(ctx, true, "restore canceled while pruning"); ctxErr != nil {
				return pruned, ctxErr
			}
			return pruned, appErrors.WrapError(err, fmt.Sprintf("failed to prune %s", c.Name))
		}
		pruned += int(n)
	}
	if pruned > 0 {
		e.logger.Infof("Pruned %d records from %s", pruned, c.Name)
	}
	return pruned, nil
}

func countFailures(failures []Failure, collection string) int {
	n := 0
	for _, f := range failures {
		if f.Collection == collection {
			n++
		}
	}
	return n
}
