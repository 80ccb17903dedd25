package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
)

// MemoryStore is an in-process RelationalStore. It backs dry runs and tests
// and honours the same identifier and primary key rules as the SQL stores.
type MemoryStore struct {
	mu       sync.RWMutex
	registry *collections.Registry
	tables   map[string]*memTable
}

type memTable struct {
	order []string
	rows  map[string]Record
}

// NewMemoryStore creates an empty store for the collections in reg.
func NewMemoryStore(reg *collections.Registry) *MemoryStore {
	return &MemoryStore{
		registry: reg,
		tables:   make(map[string]*memTable),
	}
}

func (m *MemoryStore) table(name string) (collections.Collection, *memTable, error) {
	c, err := m.registry.MustGet(name)
	if err != nil {
		return collections.Collection{}, nil, appErrors.NewValidationError("unknown collection", err)
	}
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{rows: make(map[string]Record)}
		m.tables[name] = t
	}
	return c, t, nil
}

func (m *MemoryStore) selectLocked(ctx context.Context, name string, match func(Record) (bool, error)) ([]Record, error) {
	if err := appErrors.FromContext(ctx, false, "select canceled"); err != nil {
		return nil, err
	}
	_, t, err := m.table(name)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(t.order))
	for _, key := range t.order {
		row := t.rows[key]
		ok, err := match(row)
		if err != nil {
			return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to filter %s", name), err)
		}
		if ok {
			out = append(out, copyRecord(row))
		}
	}
	return out, nil
}

// SelectAll returns every record in insertion order.
func (m *MemoryStore) SelectAll(ctx context.Context, collection string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(ctx, collection, func(Record) (bool, error) { return true, nil })
}

// SelectModifiedSince returns records whose timestamp column is strictly after since.
func (m *MemoryStore) SelectModifiedSince(ctx context.Context, collection string, since time.Time) ([]Record, error) {
	c, err := m.registry.MustGet(collection)
	if err != nil {
		return nil, appErrors.NewValidationError("unknown collection", err)
	}
	if !c.HasTimestamp() {
		return nil, appErrors.NewValidationError(fmt.Sprintf("collection %s has no timestamp column", collection), nil)
	}
	return m.SelectWhere(ctx, collection, Where(Gt(c.TimestampColumn, since)))
}

// SelectWhere returns records matching where.
func (m *MemoryStore) SelectWhere(ctx context.Context, collection string, where Predicate) ([]Record, error) {
	if err := where.Validate(); err != nil {
		return nil, appErrors.NewValidationError("invalid predicate", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(ctx, collection, where.Match)
}

// Upsert inserts or fully replaces the record with the same primary key.
func (m *MemoryStore) Upsert(ctx context.Context, collection string, record Record) error {
	if err := appErrors.FromContext(ctx, true, "upsert canceled"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, t, err := m.table(collection)
	if err != nil {
		return err
	}
	pk, err := PrimaryKey(c, record)
	if err != nil {
		return appErrors.NewValidationError("invalid record", err)
	}
	for col := range record {
		if !collections.ValidIdentifier(col) {
			return appErrors.NewValidationError(fmt.Sprintf("invalid column name %q", col), nil)
		}
	}

	key := KeyString(pk)
	if _, exists := t.rows[key]; !exists {
		t.order = append(t.order, key)
	}
	t.rows[key] = copyRecord(record)
	return nil
}

// DeleteWhere removes matching records and returns how many were removed.
func (m *MemoryStore) DeleteWhere(ctx context.Context, collection string, where Predicate) (int64, error) {
	if err := appErrors.FromContext(ctx, true, "delete canceled"); err != nil {
		return 0, err
	}
	if err := where.Validate(); err != nil {
		return 0, appErrors.NewValidationError("invalid predicate", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, t, err := m.table(collection)
	if err != nil {
		return 0, err
	}

	var deleted int64
	kept := t.order[:0]
	for _, key := range t.order {
		ok, err := where.Match(t.rows[key])
		if err != nil {
			return deleted, appErrors.NewStorageWriteError(fmt.Sprintf("failed to filter %s", collection), err)
		}
		if ok {
			delete(t.rows, key)
			deleted++
			continue
		}
		kept = append(kept, key)
	}
	t.order = kept
	return deleted, nil
}

// Count returns the number of records matching where.
func (m *MemoryStore) Count(ctx context.Context, collection string, where Predicate) (int64, error) {
	rows, err := m.SelectWhere(ctx, collection, where)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// ReadSnapshot runs fn with the store locked against writers.
func (m *MemoryStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	m.mu.Lock()
	view := &MemoryStore{registry: m.registry, tables: make(map[string]*memTable, len(m.tables))}
	for name, t := range m.tables {
		cp := &memTable{order: append([]string(nil), t.order...), rows: make(map[string]Record, len(t.rows))}
		for k, v := range t.rows {
			cp.rows[k] = copyRecord(v)
		}
		view.tables[name] = cp
	}
	m.mu.Unlock()

	return fn(ctx, view)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copyRecord(r Record) Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
