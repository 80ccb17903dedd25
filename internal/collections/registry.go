// Package collections is the single registry of entity collections the data
// protection subsystem knows about. Backup, restore, verification, export
// and retention all resolve names through it.
package collections

import (
	"fmt"
	"regexp"
	"sort"
)

// Names of the entity collections snapshotted by default.
const (
	Profiles               = "profiles"
	Assessments            = "assessments"
	AnalysisResults        = "analysis_results"
	PlanChoices            = "plan_choices"
	RequirementCompletions = "requirement_completions"
	OperatorAccounts       = "operator_accounts"
	AuditEntries           = "audit_entries"
)

// Names of the system collections owned by the subsystem itself.
const (
	BackupRecords    = "backup_records"
	MigrationRecords = "migration_records"
	AuditArchive     = "audit_archive"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Collection describes how a named collection maps onto a relational table.
type Collection struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Table      string `mapstructure:"table" yaml:"table"`
	PrimaryKey string `mapstructure:"primary_key" yaml:"primary_key"`
	// TimestampColumn is the modification timestamp used by incremental
	// backups. Empty means every incremental backup includes the whole
	// collection.
	TimestampColumn string `mapstructure:"timestamp_column" yaml:"timestamp_column"`
	// TimeColumns lists further columns restored as time values. Other
	// columns keep the text they were captured with.
	TimeColumns []string `mapstructure:"time_columns" yaml:"time_columns,omitempty"`
	// Snapshotted collections are part of every backup.
	Snapshotted bool `mapstructure:"snapshotted" yaml:"snapshotted"`
}

// HasTimestamp reports whether incremental backups can filter this collection.
func (c Collection) HasTimestamp() bool {
	return c.TimestampColumn != ""
}

// IsTimeColumn reports whether col holds time values.
func (c Collection) IsTimeColumn(col string) bool {
	if col == c.TimestampColumn && col != "" {
		return true
	}
	for _, tc := range c.TimeColumns {
		if tc == col {
			return true
		}
	}
	return false
}

// Validate checks that every identifier is safe to embed in SQL.
func (c Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	for field, value := range map[string]string{"table": c.Table, "primary_key": c.PrimaryKey} {
		if !identifierPattern.MatchString(value) {
			return fmt.Errorf("collection %s: invalid %s identifier %q", c.Name, field, value)
		}
	}
	if c.TimestampColumn != "" && !identifierPattern.MatchString(c.TimestampColumn) {
		return fmt.Errorf("collection %s: invalid timestamp_column identifier %q", c.Name, c.TimestampColumn)
	}
	for _, tc := range c.TimeColumns {
		if !identifierPattern.MatchString(tc) {
			return fmt.Errorf("collection %s: invalid time_columns identifier %q", c.Name, tc)
		}
	}
	return nil
}

// ValidIdentifier reports whether s can be used as a column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Registry is an ordered set of collections. Order is significant: snapshots
// and restores walk collections in registry order.
type Registry struct {
	order  []string
	byName map[string]Collection
}

// NewRegistry builds a registry from the given collections, rejecting
// duplicates and unsafe identifiers.
func NewRegistry(cols ...Collection) (*Registry, error) {
	r := &Registry{byName: make(map[string]Collection, len(cols))}
	for _, c := range cols {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate collection %s", c.Name)
		}
		r.order = append(r.order, c.Name)
		r.byName[c.Name] = c
	}
	return r, nil
}

// DefaultCollections returns the product's entity and system collections.
func DefaultCollections() []Collection {
	created := []string{"created_at"}
	return []Collection{
		{Name: Profiles, Table: "user_profiles", PrimaryKey: "id", TimestampColumn: "updated_at", TimeColumns: created, Snapshotted: true},
		{Name: Assessments, Table: "assessment_records", PrimaryKey: "id", TimestampColumn: "updated_at", TimeColumns: created, Snapshotted: true},
		{Name: AnalysisResults, Table: "analysis_results", PrimaryKey: "id", TimestampColumn: "updated_at", TimeColumns: created, Snapshotted: true},
		{Name: PlanChoices, Table: "plan_choice_records", PrimaryKey: "id", TimestampColumn: "updated_at", TimeColumns: created, Snapshotted: true},
		{Name: RequirementCompletions, Table: "requirement_completions", PrimaryKey: "id", TimestampColumn: "updated_at", TimeColumns: created, Snapshotted: true},
		{Name: OperatorAccounts, Table: "operator_accounts", PrimaryKey: "id", TimeColumns: []string{"created_at", "last_login_at"}, Snapshotted: true},
		{Name: AuditEntries, Table: "audit_entries", PrimaryKey: "id", TimestampColumn: "created_at", Snapshotted: true},

		{Name: BackupRecords, Table: "backup_records", PrimaryKey: "backup_id", TimestampColumn: "created_at"},
		{Name: MigrationRecords, Table: "migration_records", PrimaryKey: "migration_id", TimestampColumn: "executed_at", TimeColumns: []string{"completed_at", "rolled_back_at"}},
		{Name: AuditArchive, Table: "audit_archive", PrimaryKey: "id", TimestampColumn: "archived_at", TimeColumns: created},
	}
}

// Default returns the registry built from DefaultCollections.
func Default() *Registry {
	r, err := NewRegistry(DefaultCollections()...)
	if err != nil {
		panic(err)
	}
	return r
}

// WithOverrides returns a copy of the registry where matching collections
// take the table and column names of the overrides. Unknown names are added.
func (r *Registry) WithOverrides(overrides []Collection) (*Registry, error) {
	cols := r.All()
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c.Name] = i
	}

	for _, o := range overrides {
		i, ok := index[o.Name]
		if !ok {
			cols = append(cols, o)
			index[o.Name] = len(cols) - 1
			continue
		}
		merged := cols[i]
		if o.Table != "" {
			merged.Table = o.Table
		}
		if o.PrimaryKey != "" {
			merged.PrimaryKey = o.PrimaryKey
		}
		if o.TimestampColumn != "" {
			merged.TimestampColumn = o.TimestampColumn
		}
		if len(o.TimeColumns) > 0 {
			merged.TimeColumns = o.TimeColumns
		}
		cols[i] = merged
	}

	return NewRegistry(cols...)
}

// Get returns the named collection.
func (r *Registry) Get(name string) (Collection, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// MustGet returns the named collection or an error naming it.
func (r *Registry) MustGet(name string) (Collection, error) {
	c, ok := r.byName[name]
	if !ok {
		return Collection{}, fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

// All returns every collection in registry order.
func (r *Registry) All() []Collection {
	out := make([]Collection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Snapshotted returns the collections included in backups, in order.
func (r *Registry) Snapshotted() []Collection {
	var out []Collection
	for _, name := range r.order {
		if c := r.byName[name]; c.Snapshotted {
			out = append(out, c)
		}
	}
	return out
}

// SnapshottedNames returns the names of Snapshotted(), in order.
func (r *Registry) SnapshottedNames() []string {
	cols := r.Snapshotted()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// MissingFrom returns the snapshotted names that are absent from present,
// sorted.
func (r *Registry) MissingFrom(present []string) []string {
	seen := make(map[string]struct{}, len(present))
	for _, p := range present {
		seen[p] = struct{}{}
	}
	var missing []string
	for _, name := range r.SnapshottedNames() {
		if _, ok := seen[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
