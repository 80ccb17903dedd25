package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "normal text",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose json",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
		{
			name:   "empty level falls back to normal",
			config: Config{Format: "text"},
			want:   LogLevelNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"quiet":   LogLevelQuiet,
		"VERBOSE": LogLevelVerbose,
		" debug ": LogLevelDebug,
		"normal":  LogLevelNormal,
		"bogus":   LogLevelNormal,
		"":        LogLevelNormal,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "dataguard.log")

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: logFile})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("written to both sinks")

	if !strings.Contains(buf.String(), "written to both sinks") {
		t.Errorf("expected message in primary output, got %q", buf.String())
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to both sinks") {
		t.Errorf("expected message in log file, got %q", string(data))
	}
}

func TestLogBackup(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogBackup("backup-1", "FULL", 5, 1024, time.Second, nil)
	out := buf.String()
	for _, want := range []string{`"backup_id":"backup-1"`, `"total_records":5`, `"success":true`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}

	buf.Reset()
	logger.LogBackup("backup-2", "FULL", 0, 0, time.Second, errors.New("upload refused"))
	out = buf.String()
	if !strings.Contains(out, `"error":"upload refused"`) || !strings.Contains(out, `"level":"error"`) {
		t.Errorf("expected error entry, got %s", out)
	}
}

func TestLogRestore(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogRestore("backup-1", 4, 1, time.Millisecond, nil)
	if !strings.Contains(buf.String(), `"level":"warning"`) {
		t.Errorf("expected warning for partial restore, got %s", buf.String())
	}

	buf.Reset()
	logger.LogRestore("backup-1", 5, 0, time.Millisecond, nil)
	if !strings.Contains(buf.String(), "Restore completed") {
		t.Errorf("expected completion message, got %s", buf.String())
	}
}

func TestQuietLoggerSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})

	logger.Info("hidden")
	logger.LogSweep("archive_audit", 90, 3, time.Millisecond)
	if buf.Len() != 0 {
		t.Errorf("expected no output at quiet level, got %q", buf.String())
	}

	logger.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected error output at quiet level")
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	done := logger.LogOperationStart("verify_backup", map[string]interface{}{"backup_id": "b-1"})
	done(nil)
	if !strings.Contains(buf.String(), `"success":true`) {
		t.Errorf("expected success entry, got %s", buf.String())
	}

	buf.Reset()
	done = logger.LogOperationStart("verify_backup", nil)
	done(errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error entry, got %s", buf.String())
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := CreateContextWithRequestID(context.Background(), "req-42")
	if got := GetRequestIDFromContext(ctx); got != "req-42" {
		t.Errorf("GetRequestIDFromContext() = %q, want req-42", got)
	}
	if got := GetRequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}

	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	logger.WithContext(ctx).Info("traced")
	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("expected request id field, got %s", buf.String())
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"app:secret@tcp(db:3306)/health?parseTime=true", "app:***@tcp(db:3306)/health?parseTime=true"},
		{"postgres://app:secret@db:5432/health", "postgres://app:***@db:5432/health"},
		{"file:dataguard.db", "file:dataguard.db"},
		{"app@tcp(db)/health", "app@tcp(db)/health"},
	}
	for _, tt := range tests {
		if got := RedactDSN(tt.in); got != tt.want {
			t.Errorf("RedactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
