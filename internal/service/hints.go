package service

import (
	appErrors "dataguard/internal/errors"
)

// TroubleshootingHints returns operator guidance for an error type.
func TroubleshootingHints(t appErrors.ErrorType) []string {
	switch t {
	case appErrors.ErrorTypeConnection:
		return []string{
			"Check that the database server is running",
			"Verify the DSN host and port are correct",
			"Ensure network connectivity to the database and storage endpoints",
		}
	case appErrors.ErrorTypeStorageRead, appErrors.ErrorTypeStorageWrite:
		return []string{
			"Check the storage provider credentials and bucket or container name",
			"Verify the local backup directory exists and is writable",
			"Run 'dataguard health' to test both stores",
		}
	case appErrors.ErrorTypeChecksumMismatch, appErrors.ErrorTypeMalformedSnapshot:
		return []string{
			"The backup payload was altered or truncated after it was written",
			"Restore from an earlier backup; this one cannot be trusted",
			"Check that the same encryption key is configured as when the backup was taken",
		}
	case appErrors.ErrorTypeBackupNotFound:
		return []string{
			"Run 'dataguard backup list' to see available backups",
			"The backup may have been removed by retention cleanup",
		}
	case appErrors.ErrorTypeValidation:
		return []string{
			"Review the command line arguments or request body",
			"Retention windows must be zero or more days",
		}
	case appErrors.ErrorTypePartialApply:
		return []string{
			"Some records could not be written; see the failures in the details",
			"Restore is idempotent and can be re-run after fixing the cause",
		}
	case appErrors.ErrorTypeMigrationNotFound:
		return []string{"Run 'dataguard migrate history' to see recorded migrations"}
	case appErrors.ErrorTypeMigrationState:
		return []string{
			"Only COMPLETED or FAILED migrations can be rolled back",
			"A migration can be rolled back once",
		}
	case appErrors.ErrorTypeConfiguration:
		return []string{
			"Run 'dataguard config validate' to check the configuration",
			"Check DATAGUARD_* environment variables override what you expect",
		}
	case appErrors.ErrorTypeTimeout, appErrors.ErrorTypeInterruption:
		return []string{
			"The operation was canceled or took longer than allowed",
			"No catalog entry is written for an interrupted backup; it is safe to retry",
		}
	}
	return nil
}
