package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dataguard/internal/migration"
)

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, s.svc.ListBackups(r.Context()))
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackup
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	by := createdBy(req.CreatedBy, r)
	if req.Type == "full" {
		WriteResult(w, s.svc.CreateFullBackup(r.Context(), by, req.Description))
		return
	}
	WriteResult(w, s.svc.CreateIncrementalBackup(r.Context(), req.PreviousBackupID, by, req.Description))
}

func (s *Server) verifyBackup(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, s.svc.VerifyBackup(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, s.svc.DeleteBackup(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) exportBackup(w http.ResponseWriter, r *http.Request) {
	var req ExportBackup
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	WriteResult(w, s.svc.ExportBackup(r.Context(), chi.URLParam(r, "id"), ttl))
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreBackup
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.Restore(r.Context(), chi.URLParam(r, "id"), createdBy(req.CreatedBy, r), req.Description, req.Prune))
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	var req RetentionWindow
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.ArchiveOldAuditEntries(r.Context(), *req.Days))
}

func (s *Server) cleanupArchive(w http.ResponseWriter, r *http.Request) {
	var req RetentionWindow
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.CleanupArchivedEntries(r.Context(), *req.Days))
}

func (s *Server) cleanupBackups(w http.ResponseWriter, r *http.Request) {
	var req RetentionWindow
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.CleanupOldBackups(r.Context(), *req.Days))
}

func (s *Server) runPolicy(w http.ResponseWriter, r *http.Request) {
	var req RunPolicy
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.PerformFullBackupProcess(r.Context(), createdBy(req.CreatedBy, r)))
}

func (s *Server) fullArchive(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, s.svc.PerformFullArchive(r.Context()))
}

func (s *Server) executeMigration(w http.ResponseWriter, r *http.Request) {
	var req ExecuteMigration
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := migration.ExecuteOptions{
		AutoBackup:  req.AutoBackup == nil || *req.AutoBackup,
		CreatedBy:   createdBy(req.CreatedBy, r),
		Description: req.Description,
	}
	f := &migration.File{Description: req.Description, Steps: req.Steps}
	WriteResult(w, s.svc.ExecuteMigrationFile(r.Context(), f, opts))
}

func (s *Server) rollbackMigration(w http.ResponseWriter, r *http.Request) {
	var req RollbackMigration
	if err := Decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, s.svc.RollbackMigration(r.Context(), chi.URLParam(r, "id"), createdBy(req.CreatedBy, r)))
}

func (s *Server) migrationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	WriteResult(w, s.svc.GetMigrationHistory(r.Context(), limit))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	res := s.svc.HealthCheck(r.Context())
	if !res.Success {
		WriteJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
