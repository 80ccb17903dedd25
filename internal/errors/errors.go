package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeStorageRead is a failed read from the relational or object store
	ErrorTypeStorageRead ErrorType = "storage_read"
	// ErrorTypeStorageWrite is a failed write to the relational or object store
	ErrorTypeStorageWrite ErrorType = "storage_write"
	// ErrorTypeChecksumMismatch means a snapshot failed integrity verification
	ErrorTypeChecksumMismatch ErrorType = "checksum_mismatch"
	// ErrorTypeMalformedSnapshot means a payload could not be decoded
	ErrorTypeMalformedSnapshot ErrorType = "malformed_snapshot"
	// ErrorTypeBackupNotFound means no catalog entry or payload exists
	ErrorTypeBackupNotFound ErrorType = "backup_not_found"
	// ErrorTypeValidation represents bad caller input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePartialApply means some records of a restore failed
	ErrorTypePartialApply ErrorType = "partial_apply"
	// ErrorTypeMigrationNotFound means no migration record exists
	ErrorTypeMigrationNotFound ErrorType = "migration_not_found"
	// ErrorTypeMigrationState means a requested status transition is not allowed
	ErrorTypeMigrationState ErrorType = "migration_state"
	// ErrorTypeConfiguration represents invalid or missing configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeConnection represents connectivity errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is worth retrying
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	e := NewAppError(errorType, message, cause)
	e.Recoverable = true
	return e
}

// NewStorageReadError wraps a failed read. Cancellation is folded in here.
func NewStorageReadError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorageRead, message, cause)
}

// NewStorageWriteError wraps a failed write.
func NewStorageWriteError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorageWrite, message, cause)
}

// NewChecksumMismatchError reports that stored and recomputed fingerprints differ.
func NewChecksumMismatchError(backupID, expected, actual string) *AppError {
	return NewAppError(ErrorTypeChecksumMismatch,
		fmt.Sprintf("checksum mismatch for backup %s", backupID), nil).
		WithContext("backup_id", backupID).
		WithContext("expected", expected).
		WithContext("actual", actual)
}

// NewMalformedSnapshotError reports a payload that does not decode.
func NewMalformedSnapshotError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeMalformedSnapshot, message, cause)
}

// NewBackupNotFoundError reports a missing catalog entry or payload.
func NewBackupNotFoundError(backupID string, cause error) *AppError {
	return NewAppError(ErrorTypeBackupNotFound,
		fmt.Sprintf("backup %s not found", backupID), cause).
		WithContext("backup_id", backupID)
}

// NewValidationError reports bad caller input.
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

// NewPartialApplyError reports a restore where some records failed.
func NewPartialApplyError(backupID string, failed, applied int) *AppError {
	return NewAppError(ErrorTypePartialApply,
		fmt.Sprintf("restore of %s applied %d records, %d failed", backupID, applied, failed), nil).
		WithContext("backup_id", backupID).
		WithContext("failed", failed).
		WithContext("applied", applied)
}

// NewMigrationNotFoundError reports a missing migration record.
func NewMigrationNotFoundError(migrationID string) *AppError {
	return NewAppError(ErrorTypeMigrationNotFound,
		fmt.Sprintf("migration %s not found", migrationID), nil).
		WithContext("migration_id", migrationID)
}

// NewMigrationStateError reports a disallowed status transition.
func NewMigrationStateError(migrationID, from, to string) *AppError {
	return NewAppError(ErrorTypeMigrationState,
		fmt.Sprintf("migration %s cannot move from %s to %s", migrationID, from, to), nil).
		WithContext("migration_id", migrationID)
}

// NewConfigurationError reports invalid configuration.
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

// ErrorClassifier maps driver, network and filesystem errors onto AppErrors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if classified := ec.classifyContextError(err); classified != nil {
		return classified
	}
	if classified := ec.classifyMySQLError(err); classified != nil {
		return classified
	}
	if classified := ec.classifyPostgresError(err); classified != nil {
		return classified
	}
	if classified := ec.classifyDriverError(err); classified != nil {
		return classified
	}
	if classified := ec.classifyNetworkError(err); classified != nil {
		return classified
	}
	if classified := ec.classifyFileSystemError(err); classified != nil {
		return classified
	}

	return NewAppError(ErrorTypeUnknown, err.Error(), err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return nil
	}

	switch mysqlErr.Number {
	case 1040, 1203: // too many connections
		return NewRecoverableError(ErrorTypeConnection, "MySQL server has too many connections", err)
	case 1205: // lock wait timeout
		return NewRecoverableError(ErrorTypeTimeout, "MySQL lock wait timeout exceeded", err)
	case 1213: // deadlock
		return NewRecoverableError(ErrorTypeStorageWrite, "MySQL deadlock detected", err)
	case 1045, 1044: // access denied
		return NewAppError(ErrorTypeConfiguration, "MySQL access denied", err)
	case 1049: // unknown database
		return NewAppError(ErrorTypeConfiguration, "MySQL database does not exist", err)
	case 1146: // table doesn't exist
		return NewAppError(ErrorTypeValidation, "MySQL table does not exist", err)
	case 1062: // duplicate entry
		return NewAppError(ErrorTypeStorageWrite, "MySQL duplicate entry", err)
	default:
		return NewAppError(ErrorTypeStorageWrite, fmt.Sprintf("MySQL error %d", mysqlErr.Number), err)
	}
}

func (ec *ErrorClassifier) classifyPostgresError(err error) *AppError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	switch {
	case pgErr.Code == "40001" || pgErr.Code == "40P01":
		return NewRecoverableError(ErrorTypeStorageWrite, "PostgreSQL serialization failure", err)
	case pgErr.Code == "53300":
		return NewRecoverableError(ErrorTypeConnection, "PostgreSQL has too many connections", err)
	case strings.HasPrefix(pgErr.Code, "08"):
		return NewRecoverableError(ErrorTypeConnection, "PostgreSQL connection failure", err)
	case pgErr.Code == "28P01" || pgErr.Code == "28000":
		return NewAppError(ErrorTypeConfiguration, "PostgreSQL authentication failed", err)
	case pgErr.Code == "3D000":
		return NewAppError(ErrorTypeConfiguration, "PostgreSQL database does not exist", err)
	case pgErr.Code == "42P01":
		return NewAppError(ErrorTypeValidation, "PostgreSQL relation does not exist", err)
	default:
		return NewAppError(ErrorTypeStorageWrite, fmt.Sprintf("PostgreSQL error %s", pgErr.Code), err)
	}
}

func (ec *ErrorClassifier) classifyDriverError(err error) *AppError {
	if errors.Is(err, driver.ErrBadConn) {
		return NewRecoverableError(ErrorTypeConnection, "Bad database connection", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeStorageRead, "No rows returned", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	if errors.Is(err, fs.ErrNotExist) {
		return NewAppError(ErrorTypeStorageRead, "File or directory not found", err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.EACCES:
			return NewAppError(ErrorTypeConfiguration,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeStorageWrite, "No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries operations that fail with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes operation until it succeeds, fails permanently, or runs out
// of attempts. Errors that are not recoverable are returned unchanged.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err)
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !rh.classifier.ClassifyError(err).IsRecoverable() {
			return err
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type anywhere in its chain.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// FromContext converts a context error into a storage error of the given
// direction. Returns nil when ctx is still live.
func FromContext(ctx context.Context, write bool, message string) *AppError {
	if ctx.Err() == nil {
		return nil
	}
	if write {
		return NewStorageWriteError(message, ctx.Err())
	}
	return NewStorageReadError(message, ctx.Err())
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	return NewAppError(classified.Type, message, err)
}
