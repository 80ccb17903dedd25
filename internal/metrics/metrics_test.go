package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.ObserveOperation("create_full_backup", time.Second, nil)
	p.ObserveOperation("create_full_backup", time.Second, errors.New("boom"))
	p.ObserveRestore("profiles", 3, 1)
	p.ObserveSweep("archive_audit", 5)
	p.ObserveMigration("COMPLETED")
	p.ObserveBackup("FULL", 2048, 12)
	p.ObserveHTTP("GET", "/api/v1/backups", 404, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.operationsTotal.WithLabelValues("create_full_backup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.operationsTotal.WithLabelValues("create_full_backup", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.restoredRecords.WithLabelValues("profiles", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.restoredRecords.WithLabelValues("profiles", "failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.sweptRecords.WithLabelValues("archive_audit")))
	assert.Equal(t, 12.0, testutil.ToFloat64(p.backupRecords.WithLabelValues("FULL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpRequests.WithLabelValues("GET", "/api/v1/backups", "4xx")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg).ObserveMigration("FAILED")

	healthy := true
	h := Handler(reg, func(context.Context) error {
		if !healthy {
			return errors.New("store unreachable")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dataguard_migrations_total{status="FAILED"} 1`))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNopRecorder(t *testing.T) {
	r := Nop()
	r.ObserveOperation("x", 0, nil)
	r.ObserveHTTP("GET", "/", 200, 0)
}
