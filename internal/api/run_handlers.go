package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/ledger"
	"github.com/openparl/parlingest/internal/store"
)

const (
	defaultRunLimit  = 50
	maxRunLimit      = 500
	defaultFileLimit = 100
	maxFileLimit     = 1000
	storeTimeout     = 3 * time.Second
)

// listRuns handles GET /v1/runs?status=&limit=&offset=. It returns a JSON
// object {"runs": [...]} on success, 400 for invalid filters, or 500 if the
// repository call fails.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, ok := store.ParseRunStatus(strings.ToLower(raw))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	runs, err := s.runs.ListRuns(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// getRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on
// success, 400 for malformed IDs, or 404 when the run does not exist.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	run, err := s.runs.GetRun(ctx, runID.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// listFiles handles GET /v1/files?status=&category=&legislature=&limit=&offset=
// over the import ledger. It returns {"files": [...]} on success or 400 for
// invalid filters.
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultFileLimit, maxFileLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query()
	q := ledger.Query{
		Category: strings.TrimSpace(query.Get("category")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		parsed, ok := ledger.ParseStatus(strings.ToLower(raw))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		q.Status = &parsed
	}
	if raw := strings.TrimSpace(query.Get("legislature")); raw != "" {
		val, convErr := strconv.Atoi(raw)
		if convErr != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid legislature")
			return
		}
		q.Legislature = &val
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	rows, err := s.files.List(ctx, q)
	if err != nil {
		s.logger.Error("list files failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": toFileDTOs(rows)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID,
		Mode:       run.Mode,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Totals: runTotalsDTO{
			Discovered:       run.Totals.Discovered,
			Succeeded:        run.Totals.Succeeded,
			Skipped:          run.Totals.Skipped,
			Failed:           run.Totals.Failed,
			SchemaMismatches: run.Totals.SchemaMismatches,
			RecordsImported:  run.Totals.RecordsImported,
		},
		Error: run.ErrorMessage,
	}
}

func toFileDTOs(in []ledger.Record) []fileDTO {
	out := make([]fileDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, fileDTO{
			URL:             rec.URL,
			DisplayName:     rec.DisplayName,
			LogicalType:     string(rec.LogicalType),
			Category:        rec.Category,
			Legislature:     rec.Legislature,
			SubSeries:       rec.SubSeries,
			Session:         rec.Session,
			Number:          rec.Number,
			Status:          string(rec.Status),
			ContentHash:     rec.ContentHash,
			ByteSize:        rec.ByteSize,
			RecordsImported: rec.RecordsImported,
			ErrorDetail:     rec.ErrorDetail,
			SchemaIssues:    rec.SchemaIssues,
			UpdatedAt:       rec.UpdatedAt,
		})
	}
	return out
}

type runDTO struct {
	ID         string       `json:"id"`
	Mode       string       `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     string       `json:"status"`
	Totals     runTotalsDTO `json:"totals"`
	Error      *string      `json:"error,omitempty"`
}

type runTotalsDTO struct {
	Discovered       int64 `json:"discovered"`
	Succeeded        int64 `json:"succeeded"`
	Skipped          int64 `json:"skipped"`
	Failed           int64 `json:"failed"`
	SchemaMismatches int64 `json:"schema_mismatches"`
	RecordsImported  int64 `json:"records_imported"`
}

type fileDTO struct {
	URL             string    `json:"url"`
	DisplayName     string    `json:"display_name,omitempty"`
	LogicalType     string    `json:"logical_type,omitempty"`
	Category        string    `json:"category,omitempty"`
	Legislature     int       `json:"legislature,omitempty"`
	SubSeries       string    `json:"sub_series,omitempty"`
	Session         string    `json:"session,omitempty"`
	Number          string    `json:"number,omitempty"`
	Status          string    `json:"status"`
	ContentHash     string    `json:"content_hash,omitempty"`
	ByteSize        int64     `json:"byte_size,omitempty"`
	RecordsImported int       `json:"records_imported"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	SchemaIssues    []string  `json:"schema_issues,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
