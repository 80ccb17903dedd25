package config

import (
	"fmt"
	"os"

	"dataguard/internal/objectstore"
)

// CheckResult is the outcome of `config validate`.
type CheckResult struct {
	Valid           bool
	Errors          []string
	Warnings        []string
	Recommendations []string
}

// Check validates cfg and reports settings that are legal but risky.
func Check(cfg *Config) *CheckResult {
	result := &CheckResult{Valid: true}
	if err := cfg.Validate(); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	if cfg.Database.Driver == "memory" {
		result.Warnings = append(result.Warnings, "database driver memory keeps no data between runs")
	}
	if cfg.Storage.Provider == objectstore.ProviderMemory {
		result.Warnings = append(result.Warnings, "storage provider memory loses every backup on exit")
	}
	if cfg.Storage.Provider == objectstore.ProviderLocal && cfg.Storage.Local != nil {
		if _, err := os.Stat(cfg.Storage.Local.BasePath); os.IsNotExist(err) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("backup directory %s does not exist and will be created", cfg.Storage.Local.BasePath))
		}
		result.Recommendations = append(result.Recommendations,
			"Consider a mirror with a cloud replica so backups survive loss of this host")
	}

	if !cfg.Snapshot.Encryption.Enabled {
		result.Warnings = append(result.Warnings, "backups are stored unencrypted")
		result.Recommendations = append(result.Recommendations,
			"Enable snapshot.encryption; backups contain personal health data")
	}
	if cfg.Snapshot.Compression == "none" {
		result.Recommendations = append(result.Recommendations,
			"Enable zstd compression to reduce storage costs")
	}
	if cfg.Retention.BackupRetentionDays < 7 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"backup retention of %d days keeps less than one weekly full backup", cfg.Retention.BackupRetentionDays))
	}
	if cfg.Retention.ArchiveRetentionDays < cfg.Retention.AuditRetentionDays {
		result.Warnings = append(result.Warnings,
			"archive retention is shorter than audit retention; archived entries are removed soon after archival")
	}
	return result
}
