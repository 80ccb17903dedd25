package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataguard/internal/application"
	"dataguard/internal/collections"
	"dataguard/internal/logging"
	"dataguard/internal/store"
)

type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{dir: dir, config: filepath.Join(dir, "dataguard.yaml")}
	require.NoError(t, os.WriteFile(h.config, []byte(`
database:
  driver: sqlite
  dsn: `+filepath.Join(dir, "dataguard.db")+`
storage:
  provider: local
  local:
    base_path: `+filepath.Join(dir, "backups")+`
logging:
  level: quiet
`), 0o600))
	h.createEntityTables(t)
	return h
}

// createEntityTables creates the product tables the catalog migrations do
// not own and seeds a profile plus an audit entry old enough to archive.
func (h *harness) createEntityTables(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenSQLite(filepath.Join(h.dir, "dataguard.db"), collections.Default(), logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, store.MigrateStore(ctx, s, logging.NewNopLogger()))
	require.NoError(t, s.ExecStatements(ctx, []string{
		`CREATE TABLE user_profiles (id TEXT PRIMARY KEY, display_name TEXT, avatar BLOB, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE assessment_records (id TEXT PRIMARY KEY, profile_id TEXT, score INTEGER, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE analysis_results (id TEXT PRIMARY KEY, assessment_id TEXT, summary TEXT, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE plan_choice_records (id TEXT PRIMARY KEY, profile_id TEXT, plan TEXT, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE requirement_completions (id TEXT PRIMARY KEY, profile_id TEXT, requirement TEXT, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE operator_accounts (id TEXT PRIMARY KEY, email TEXT, created_at DATETIME, last_login_at DATETIME)`,
		`CREATE TABLE audit_entries (id TEXT PRIMARY KEY, action TEXT, actor TEXT, created_at DATETIME)`,
	}))

	now := time.Now().UTC()
	require.NoError(t, s.Upsert(ctx, collections.Profiles, store.Record{
		"id":           "p1",
		"display_name": "Ada",
		"avatar":       []byte{0x89, 'P', 'N', 'G', 0xff},
		"created_at":   now.AddDate(0, -1, 0),
		"updated_at":   now.Add(-time.Hour),
	}))
	require.NoError(t, s.Upsert(ctx, collections.AuditEntries, store.Record{
		"id":         "a1",
		"action":     "login",
		"actor":      "ops",
		"created_at": now.AddDate(0, 0, -200),
	}))
}

// exec runs the CLI with the harness config and returns stdout and the
// exit code Execute would use.
func (h *harness) exec(t *testing.T, input string, args ...string) (string, int) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(append([]string{"--config", h.config, "--created-by", "tester"}, args...))

	err := root.Execute()
	return out.String(), exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return application.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return application.ExitCodeForError(err)
}

type jsonResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Details   json.RawMessage `json:"details"`
}

func decode(t *testing.T, out string) jsonResult {
	t.Helper()
	var res jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	out, code := newHarness(t).exec(t, "", "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "dataguard version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestVerboseAndQuietConflict(t *testing.T) {
	_, code := newHarness(t).exec(t, "", "-v", "-q", "backup", "list")
	assert.Equal(t, application.ExitUsage, code)
}

func TestBackupCommands(t *testing.T) {
	h := newHarness(t)

	out, code := h.exec(t, "", "--format", "json", "backup", "create", "--description", "cli")
	require.Equal(t, 0, code, out)
	var created struct {
		BackupID   string `json:"backup_id"`
		BackupType string `json:"backup_type"`
		CreatedBy  string `json:"created_by"`
	}
	require.NoError(t, json.Unmarshal(decode(t, out).Details, &created))
	assert.Equal(t, "FULL", strings.ToUpper(created.BackupType))
	assert.Equal(t, "tester", created.CreatedBy)

	out, code = h.exec(t, "", "--format", "json", "backup", "create", "--type", "incremental")
	require.Equal(t, 0, code, out)

	_, code = h.exec(t, "", "backup", "create", "--type", "differential")
	assert.Equal(t, application.ExitUsage, code)

	out, code = h.exec(t, "", "--format", "json", "backup", "list")
	require.Equal(t, 0, code, out)
	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, out).Details, &listed))
	assert.Len(t, listed, 2)

	_, code = h.exec(t, "", "backup", "verify", created.BackupID)
	assert.Equal(t, 0, code)

	out, code = h.exec(t, "", "--format", "json", "backup", "export", created.BackupID, "--ttl", "1m")
	require.Equal(t, 0, code, out)
	assert.Contains(t, string(decode(t, out).Details), "file://")

	_, code = h.exec(t, "", "backup", "create", "--previous", created.BackupID)
	assert.Equal(t, application.ExitUsage, code, "--previous without --incremental")

	out, code = h.exec(t, "n\n", "backup", "delete", created.BackupID)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "cancelled")
	_, code = h.exec(t, "", "backup", "verify", created.BackupID)
	assert.Equal(t, 0, code, "declined delete keeps the backup")

	_, code = h.exec(t, "", "--yes", "backup", "delete", created.BackupID)
	assert.Equal(t, 0, code)

	out, code = h.exec(t, "", "--format", "json", "backup", "verify", created.BackupID)
	assert.Equal(t, application.ExitFailure, code)
	assert.Equal(t, "backup_not_found", decode(t, out).ErrorType)
}

func TestRestoreCommand(t *testing.T) {
	h := newHarness(t)
	out, code := h.exec(t, "", "--format", "json", "backup", "create")
	require.Equal(t, 0, code, out)
	var created struct {
		BackupID string `json:"backup_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, out).Details, &created))

	out, code = h.exec(t, "y\n", "restore", created.BackupID, "--prune")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "Restored")

	_, code = h.exec(t, "", "--yes", "restore", "backup-missing")
	assert.Equal(t, application.ExitFailure, code)
}

func TestRetentionCommands(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		input string
		args  []string
		want  string
	}{
		{"archive with default window", "", []string{"retention", "archive"}, "older than 90 days"},
		{"archive with explicit window", "", []string{"retention", "archive", "--days", "30"}, "older than 30 days"},
		{"cleanup archive confirmed", "y\n", []string{"retention", "cleanup-archive"}, "older than 365 days"},
		{"cleanup backups confirmed", "yes\n", []string{"retention", "cleanup-backups", "--days", "7"}, "older than 7 days"},
		{"run policy", "", []string{"retention", "run-policy"}, "backup"},
		{"full archive", "", []string{"retention", "full-archive"}, "Archived"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code := h.exec(t, tt.input, tt.args...)
			assert.Equal(t, 0, code, out)
			assert.Contains(t, out, tt.want)
		})
	}

	_, code := h.exec(t, "", "retention", "archive", "--days", "-1")
	assert.Equal(t, application.ExitUsage, code)
}

func TestMigrateCommands(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "001_notes.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
description: add notes
steps:
  - name: create_notes
    up:
      - CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)
    down:
      - DROP TABLE notes
`), 0o600))

	out, code := h.exec(t, "", "--format", "json", "migrate", "run", file)
	require.Equal(t, 0, code, out)
	var rec struct {
		MigrationID string `json:"migration_id"`
		Status      string `json:"status"`
		BackupID    string `json:"backup_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, out).Details, &rec))
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.NotEmpty(t, rec.BackupID, "pre-migration backup is taken by default")

	out, code = h.exec(t, "", "--format", "json", "migrate", "history")
	require.Equal(t, 0, code, out)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, out).Details, &history))
	assert.Len(t, history, 1)

	out, code = h.exec(t, "y\n", "migrate", "rollback", rec.MigrationID)
	assert.Equal(t, 0, code, out)

	_, code = h.exec(t, "", "migrate", "run", filepath.Join(h.dir, "missing.yaml"))
	assert.Equal(t, application.ExitUsage, code)
}

func TestConfigCommands(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "generated.yaml")

	_, code := h.exec(t, "", "config", "init", "--path", path)
	require.Equal(t, 0, code)
	_, code = h.exec(t, "", "config", "init", "--path", path)
	assert.Equal(t, application.ExitUsage, code, "existing file needs --force")

	t.Setenv("DATAGUARD_DATABASE_DSN", "app:hunter2@tcp(db:3306)/health")
	out, code := h.exec(t, "", "config", "show")
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "hunter2")

	out, code = h.exec(t, "", "config", "validate")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "unencrypted")

	t.Setenv("DATAGUARD_SNAPSHOT_COMPRESSION", "brotli")
	_, code = h.exec(t, "", "config", "validate")
	assert.Equal(t, application.ExitUsage, code)
}

func TestHealthCommand(t *testing.T) {
	out, code := newHarness(t).exec(t, "", "health")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "All components healthy")
}
