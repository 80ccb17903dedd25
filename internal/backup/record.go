package backup

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

// BackupRecord is the catalog entry describing one stored snapshot. Listing,
// cleanup and export work from it without reading payload bytes.
type BackupRecord struct {
	BackupID         string              `json:"backup_id"`
	BackupType       snapshot.BackupType `json:"backup_type"`
	StorageLocation  string              `json:"storage_location"`
	FileSize         int64               `json:"file_size"`
	TableCount       int                 `json:"table_count"`
	TotalRecords     int                 `json:"total_records"`
	RecordCounts     map[string]int      `json:"record_counts"`
	PreviousBackupID string              `json:"previous_backup_id,omitempty"`
	// Checksum is the content checksum sealed into the snapshot.
	Checksum string `json:"checksum"`
	// PayloadChecksum is the SHA-256 of the exact stored bytes.
	PayloadChecksum string    `json:"payload_checksum"`
	Compression     string    `json:"compression"`
	Encrypted       bool      `json:"encrypted"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	CreatedBy       string    `json:"created_by"`
}

// Age returns how old the backup is at now.
func (r *BackupRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// toRow renders the record as a backup_records row.
func (r *BackupRecord) toRow() (store.Record, error) {
	counts, err := json.Marshal(r.RecordCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record counts: %w", err)
	}
	return store.Record{
		"backup_id":          r.BackupID,
		"backup_type":        string(r.BackupType),
		"storage_location":   r.StorageLocation,
		"file_size":          r.FileSize,
		"table_count":        r.TableCount,
		"total_records":      r.TotalRecords,
		"record_counts":      string(counts),
		"previous_backup_id": store.NullString(r.PreviousBackupID),
		"checksum":           r.Checksum,
		"payload_checksum":   r.PayloadChecksum,
		"compression":        r.Compression,
		"encrypted":          r.Encrypted,
		"description":        store.NullString(r.Description),
		"created_at":         r.CreatedAt.UTC(),
		"created_by":         r.CreatedBy,
	}, nil
}

// recordFromRow parses a backup_records row from any store.
func recordFromRow(row store.Record) (*BackupRecord, error) {
	r := &BackupRecord{
		BackupID:         store.StringField(row, "backup_id"),
		BackupType:       snapshot.BackupType(store.StringField(row, "backup_type")),
		StorageLocation:  store.StringField(row, "storage_location"),
		PreviousBackupID: store.StringField(row, "previous_backup_id"),
		Checksum:         store.StringField(row, "checksum"),
		PayloadChecksum:  store.StringField(row, "payload_checksum"),
		Compression:      store.StringField(row, "compression"),
		Description:      store.StringField(row, "description"),
		CreatedBy:        store.StringField(row, "created_by"),
		RecordCounts:     map[string]int{},
	}

	var err error
	if r.FileSize, err = store.IntField(row, "file_size"); err != nil {
		return nil, err
	}
	tables, err := store.IntField(row, "table_count")
	if err != nil {
		return nil, err
	}
	r.TableCount = int(tables)
	total, err := store.IntField(row, "total_records")
	if err != nil {
		return nil, err
	}
	r.TotalRecords = int(total)
	if r.Encrypted, err = store.BoolField(row, "encrypted"); err != nil {
		return nil, err
	}

	createdAt, ok, err := store.TimeField(row, "created_at")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("backup %s has no created_at", r.BackupID)
	}
	r.CreatedAt = createdAt

	if raw := store.StringField(row, "record_counts"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.RecordCounts); err != nil {
			return nil, fmt.Errorf("backup %s has unreadable record_counts: %w", r.BackupID, err)
		}
	}

	if r.BackupID == "" || !r.BackupType.Valid() {
		return nil, fmt.Errorf("catalog row has no valid id or type")
	}
	return r, nil
}

// GenerateID returns "<prefix>-<UTC timestamp>-<8 hex chars>". The timestamp
// keeps ids roughly sortable; the random suffix keeps them unique.
func GenerateID(prefix string, now time.Time) string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102-150405"), short)
}

// payloadName is the object-store name hint for a backup payload.
func payloadName(backupID string) string {
	return "backups/" + backupID + ".snap"
}
