// Package snapshot defines the unit of backup, its content fingerprint and its
// wire encoding.
package snapshot

import (
	"fmt"
	"sort"
	"time"
)

// BackupType distinguishes full from incremental snapshots
type BackupType string

const (
	TypeFull        BackupType = "FULL"
	TypeIncremental BackupType = "INCREMENTAL"
)

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	return t == TypeFull || t == TypeIncremental
}

// Record is an opaque document keyed by its collection's primary key column.
type Record = map[string]any

// Snapshot is a point-in-time copy of the snapshotted entity collections.
// It is immutable once its checksum has been set.
type Snapshot struct {
	BackupID         string              `json:"backup_id"`
	BackupType       BackupType          `json:"backup_type"`
	CreatedAt        time.Time           `json:"created_at"`
	CreatedBy        string              `json:"created_by"`
	Description      string              `json:"description,omitempty"`
	PreviousBackupID string              `json:"previous_backup_id,omitempty"`
	Collections      map[string][]Record `json:"entity_collections"`
	RecordCounts     map[string]int      `json:"record_counts"`
	Checksum         string              `json:"checksum"`
}

// New creates an empty snapshot ready to receive collections.
func New(id string, backupType BackupType, createdAt time.Time, createdBy, description string) *Snapshot {
	return &Snapshot{
		BackupID:     id,
		BackupType:   backupType,
		CreatedAt:    createdAt.UTC(),
		CreatedBy:    createdBy,
		Description:  description,
		Collections:  make(map[string][]Record),
		RecordCounts: make(map[string]int),
	}
}

// SetCollection stores records under name and updates its count.
func (s *Snapshot) SetCollection(name string, records []Record) {
	if records == nil {
		records = []Record{}
	}
	s.Collections[name] = records
	s.RecordCounts[name] = len(records)
}

// CollectionNames returns the collection names present, sorted.
func (s *Snapshot) CollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalRecords sums RecordCounts.
func (s *Snapshot) TotalRecords() int {
	total := 0
	for _, n := range s.RecordCounts {
		total += n
	}
	return total
}

// Validate checks the structural invariants of a snapshot. It does not look
// at the checksum.
func (s *Snapshot) Validate() error {
	if s.BackupID == "" {
		return fmt.Errorf("backup_id is required")
	}
	if !s.BackupType.Valid() {
		return fmt.Errorf("unknown backup_type %q", s.BackupType)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if s.BackupType == TypeIncremental && s.PreviousBackupID == "" {
		return fmt.Errorf("incremental snapshot requires previous_backup_id")
	}
	if len(s.RecordCounts) != len(s.Collections) {
		return fmt.Errorf("record_counts has %d entries for %d collections", len(s.RecordCounts), len(s.Collections))
	}
	for name, records := range s.Collections {
		count, ok := s.RecordCounts[name]
		if !ok {
			return fmt.Errorf("record_counts missing collection %s", name)
		}
		if count != len(records) {
			return fmt.Errorf("record_counts[%s] = %d, collection holds %d", name, count, len(records))
		}
	}
	return nil
}
