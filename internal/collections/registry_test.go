package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{
		Profiles, Assessments, AnalysisResults, PlanChoices,
		RequirementCompletions, OperatorAccounts, AuditEntries,
	}, r.SnapshottedNames())

	ops, ok := r.Get(OperatorAccounts)
	require.True(t, ok)
	assert.False(t, ops.HasTimestamp(), "operator accounts carry no modification timestamp")

	audit, ok := r.Get(AuditEntries)
	require.True(t, ok)
	assert.Equal(t, "created_at", audit.TimestampColumn)

	catalog, ok := r.Get(BackupRecords)
	require.True(t, ok)
	assert.False(t, catalog.Snapshotted)
	assert.Equal(t, "backup_id", catalog.PrimaryKey)
}

func TestNewRegistryRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cols []Collection
	}{
		{
			name: "duplicate",
			cols: []Collection{
				{Name: "a", Table: "a", PrimaryKey: "id"},
				{Name: "a", Table: "b", PrimaryKey: "id"},
			},
		},
		{
			name: "injection in table",
			cols: []Collection{{Name: "a", Table: "a; DROP TABLE x", PrimaryKey: "id"}},
		},
		{
			name: "bad timestamp column",
			cols: []Collection{{Name: "a", Table: "a", PrimaryKey: "id", TimestampColumn: "updated-at"}},
		},
		{
			name: "bad time column",
			cols: []Collection{{Name: "a", Table: "a", PrimaryKey: "id", TimeColumns: []string{"born at"}}},
		},
		{
			name: "missing name",
			cols: []Collection{{Table: "a", PrimaryKey: "id"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.cols...)
			assert.Error(t, err)
		})
	}
}

func TestIsTimeColumn(t *testing.T) {
	profiles, _ := Default().Get(Profiles)
	tests := []struct {
		col  string
		want bool
	}{
		{"updated_at", true},
		{"created_at", true},
		{"display_name", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.col, func(t *testing.T) {
			if got := profiles.IsTimeColumn(tt.col); got != tt.want {
				t.Errorf("IsTimeColumn(%q) = %v, want %v", tt.col, got, tt.want)
			}
		})
	}

	accounts, _ := Default().Get(OperatorAccounts)
	assert.False(t, accounts.IsTimeColumn(""), "no timestamp column never matches the empty name")
}

func TestWithOverrides(t *testing.T) {
	r, err := Default().WithOverrides([]Collection{
		{Name: Profiles, Table: "profiles_v2"},
		{Name: "coach_notes", Table: "coach_notes", PrimaryKey: "note_id", Snapshotted: true},
	})
	require.NoError(t, err)

	profiles, _ := r.Get(Profiles)
	assert.Equal(t, "profiles_v2", profiles.Table)
	assert.Equal(t, "id", profiles.PrimaryKey)
	assert.Equal(t, "updated_at", profiles.TimestampColumn)

	assert.Contains(t, r.SnapshottedNames(), "coach_notes")
	assert.Equal(t, "coach_notes", r.SnapshottedNames()[len(r.SnapshottedNames())-1])

	// the original registry is untouched
	orig, _ := Default().Get(Profiles)
	assert.Equal(t, "user_profiles", orig.Table)
}

func TestMissingFrom(t *testing.T) {
	r := Default()
	missing := r.MissingFrom([]string{Profiles, Assessments, AnalysisResults, PlanChoices, RequirementCompletions})
	assert.Equal(t, []string{AuditEntries, OperatorAccounts}, missing)
	assert.Empty(t, r.MissingFrom(r.SnapshottedNames()))
}

func TestMustGet(t *testing.T) {
	_, err := Default().MustGet("nope")
	assert.EqualError(t, err, `unknown collection "nope"`)
}
