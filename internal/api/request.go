package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"dataguard/internal/migration"
)

var validate = validator.New()

// CreateBackup is the body of POST /backups.
type CreateBackup struct {
	Type             string `json:"type" validate:"required,oneof=full incremental"`
	PreviousBackupID string `json:"previous_backup_id" validate:"omitempty,max=128"`
	Description      string `json:"description" validate:"max=500"`
	CreatedBy        string `json:"created_by" validate:"max=128"`
}

// ExportBackup is the body of POST /backups/{id}/export.
type ExportBackup struct {
	TTLSeconds int `json:"ttl_seconds" validate:"gte=0,lte=604800"`
}

// RestoreBackup is the body of POST /backups/{id}/restore.
type RestoreBackup struct {
	Prune       bool   `json:"prune"`
	Description string `json:"description" validate:"max=500"`
	CreatedBy   string `json:"created_by" validate:"max=128"`
}

// RetentionWindow is the body of the retention sweeps.
type RetentionWindow struct {
	Days *int `json:"days" validate:"required,gte=0"`
}

// RunPolicy is the body of POST /retention/run-policy.
type RunPolicy struct {
	CreatedBy string `json:"created_by" validate:"max=128"`
}

// ExecuteMigration is the body of POST /migrations.
type ExecuteMigration struct {
	Description string                     `json:"description" validate:"max=500"`
	CreatedBy   string                     `json:"created_by" validate:"max=128"`
	AutoBackup  *bool                      `json:"auto_backup"`
	Steps       []migration.StepDefinition `json:"steps" validate:"required,min=1,dive"`
}

// RollbackMigration is the body of POST /migrations/{id}/rollback.
type RollbackMigration struct {
	CreatedBy string `json:"created_by" validate:"max=128"`
}

// Decode reads a JSON body into v and validates it. An empty body decodes
// to the zero value, which is then validated like any other.
func Decode(r *http.Request, v any) error {
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func createdBy(value string, r *http.Request) string {
	if value != "" {
		return value
	}
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return "api"
}
