package migration

import (
	"fmt"
	"time"

	"dataguard/internal/store"
)

// Status is the lifecycle state of a migration run.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRolledBack},
	StatusFailed:    {StatusRolledBack},
}

// CanTransition reports whether a record may move from one status to
// another. Statuses only move forward; ROLLED_BACK is reachable from both
// terminal outcomes and is itself final.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// MigrationRecord tracks one migration run in the migration_records
// collection.
type MigrationRecord struct {
	MigrationID    string     `json:"migration_id"`
	Status         Status     `json:"status"`
	BackupID       string     `json:"backup_id,omitempty"`
	Description    string     `json:"description"`
	CreatedBy      string     `json:"created_by"`
	StepsTotal     int        `json:"steps_total"`
	StepsCompleted int        `json:"steps_completed"`
	ExecutedAt     time.Time  `json:"executed_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RolledBackAt   *time.Time `json:"rolled_back_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

func (r *MigrationRecord) toRow() store.Record {
	return store.Record{
		"migration_id":    r.MigrationID,
		"status":          string(r.Status),
		"backup_id":       store.NullString(r.BackupID),
		"description":     r.Description,
		"created_by":      r.CreatedBy,
		"steps_total":     r.StepsTotal,
		"steps_completed": r.StepsCompleted,
		"executed_at":     r.ExecutedAt.UTC(),
		"completed_at":    store.NullTime(r.CompletedAt),
		"rolled_back_at":  store.NullTime(r.RolledBackAt),
		"error_message":   store.NullString(r.ErrorMessage),
	}
}

func recordFromRow(row store.Record) (*MigrationRecord, error) {
	r := &MigrationRecord{
		MigrationID:  store.StringField(row, "migration_id"),
		Status:       Status(store.StringField(row, "status")),
		BackupID:     store.StringField(row, "backup_id"),
		Description:  store.StringField(row, "description"),
		CreatedBy:    store.StringField(row, "created_by"),
		ErrorMessage: store.StringField(row, "error_message"),
	}
	if r.MigrationID == "" || !r.Status.Valid() {
		return nil, fmt.Errorf("migration row has no valid id or status")
	}

	total, err := store.IntField(row, "steps_total")
	if err != nil {
		return nil, err
	}
	done, err := store.IntField(row, "steps_completed")
	if err != nil {
		return nil, err
	}
	r.StepsTotal, r.StepsCompleted = int(total), int(done)

	executed, ok, err := store.TimeField(row, "executed_at")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("migration %s has no executed_at", r.MigrationID)
	}
	r.ExecutedAt = executed

	if r.CompletedAt, err = optionalTime(row, "completed_at"); err != nil {
		return nil, err
	}
	if r.RolledBackAt, err = optionalTime(row, "rolled_back_at"); err != nil {
		return nil, err
	}
	return r, nil
}

func optionalTime(row store.Record, col string) (*time.Time, error) {
	t, ok, err := store.TimeField(row, col)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}
