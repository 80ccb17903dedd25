package store

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
)

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())

	rec := Record{"id": 1, "name": "Ada"}
	require.NoError(t, s.Upsert(ctx, collections.Profiles, rec))
	require.NoError(t, s.Upsert(ctx, collections.Profiles, rec))

	n, err := s.Count(ctx, collections.Profiles, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// json.Number keys collapse onto the same row as native ints
	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": json.Number("1"), "name": "Ada L."}))
	rows, err := s.SelectAll(ctx, collections.Profiles)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada L.", rows[0]["name"])
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())
	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 1, "name": "Ada"}))

	rows, err := s.SelectAll(ctx, collections.Profiles)
	require.NoError(t, err)
	rows[0]["name"] = "mutated"

	rows, err = s.SelectAll(ctx, collections.Profiles)
	require.NoError(t, err)
	assert.Equal(t, "Ada", rows[0]["name"])
}

func TestMemoryStore_SelectModifiedSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 1, "updated_at": t0.Add(-time.Hour)}))
	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 2, "updated_at": t0}))
	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 3, "updated_at": t0.Add(time.Second).Format(time.RFC3339)}))

	rows, err := s.SelectModifiedSince(ctx, collections.Profiles, t0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only rows strictly after the cutoff qualify")
	assert.Equal(t, 3, rows[0]["id"])

	_, err = s.SelectModifiedSince(ctx, collections.OperatorAccounts, t0)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestMemoryStore_DeleteWhere(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())
	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Upsert(ctx, collections.AuditEntries, Record{"id": i, "created_at": time.Unix(int64(i), 0).UTC()}))
	}

	n, err := s.DeleteWhere(ctx, collections.AuditEntries, Where(Lt("created_at", time.Unix(3, 0).UTC())))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.SelectAll(ctx, collections.AuditEntries)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0]["id"])
	assert.Equal(t, 4, rows[1]["id"])
}

func TestMemoryStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())

	tests := []struct {
		name string
		run  func() error
	}{
		{"unknown collection", func() error { _, err := s.SelectAll(ctx, "nope"); return err }},
		{"missing primary key", func() error { return s.Upsert(ctx, collections.Profiles, Record{"name": "x"}) }},
		{"empty primary key", func() error { return s.Upsert(ctx, collections.Profiles, Record{"id": ""}) }},
		{"unsafe column", func() error { return s.Upsert(ctx, collections.Profiles, Record{"id": 1, "a b": 2}) }},
		{"bad operator", func() error {
			_, err := s.SelectWhere(ctx, collections.Profiles, Predicate{{Column: "id", Op: "LIKE", Value: 1}})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation), "got %v", err)
		})
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore(collections.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Upsert(ctx, collections.Profiles, Record{"id": 1})
	assert.Equal(t, appErrors.ErrorTypeStorageWrite, appErrors.GetErrorType(err))

	_, err = s.SelectAll(ctx, collections.Profiles)
	assert.Equal(t, appErrors.ErrorTypeStorageRead, appErrors.GetErrorType(err))
}

func TestMemoryStore_ReadSnapshotIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(collections.Default())
	require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 1}))

	err := s.ReadSnapshot(ctx, func(ctx context.Context, r Reader) error {
		// writes after the snapshot started are invisible to it
		require.NoError(t, s.Upsert(ctx, collections.Profiles, Record{"id": 2}))
		rows, err := r.SelectAll(ctx, collections.Profiles)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestPredicateMatch(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{"n": json.Number("5"), "at": ts.Format(time.RFC3339), "flag": true, "s": "b"}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"number gt", Where(Gt("n", 4)), true},
		{"number lt", Where(Lt("n", 5)), false},
		{"time from string", Where(Eq("at", ts)), true},
		{"bool eq", Where(Eq("flag", true)), true},
		{"string lt", Where(Lt("s", "c")), true},
		{"missing column", Where(Eq("missing", 1)), false},
		{"conjunction", Where(Gt("n", 1), Eq("s", "a")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.Match(rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "7", KeyString(json.Number("7")))
	assert.Equal(t, "7", KeyString(int64(7)))
	assert.Equal(t, "7", KeyString(float64(7)))
	assert.Equal(t, "7", KeyString("7"))
	assert.Equal(t, "7.5", KeyString(7.5))
}
