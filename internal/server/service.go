package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/database"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
)

const maxFilesLimit = 200

type RecordStatus struct {
	LicitacionID string `json:"licitacion_id"`
	Submitted    bool   `json:"submitted"`
}

// StatusService answers read-only questions about past ingestion runs.
type StatusService struct {
	DBManager database.DBManager
	// recordLookups is false when submitted ids are kept in the file store,
	// which leaves the submitted_licitaciones table empty.
	recordLookups bool
	logger        *logrus.Entry
}

func NewStatusService(dbManager database.DBManager, logger logrus.FieldLogger) *StatusService {
	return &StatusService{
		DBManager:     dbManager,
		recordLookups: true,
		logger:        logging.ForSession(logger, logging.CategoryServer, ""),
	}
}

// WithoutRecordLookups makes GET /records/{id} answer 501. Use it when the
// ingester runs with DEDUP_BACKEND=file.
func (h *StatusService) WithoutRecordLookups() *StatusService {
	h.recordLookups = false
	return h
}

// GetRecord handles GET /records/{id}. Submitted ids are only in Postgres
// when the ingester runs with DEDUP_BACKEND=postgres.
func (h *StatusService) GetRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.recordLookups {
		http.Error(w, "Record lookups need DEDUP_BACKEND=postgres", http.StatusNotImplemented)
		return
	}

	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/records/"))
	if id == "" {
		http.Error(w, "Licitacion id is required in the URL path /records/{id}", http.StatusBadRequest)
		return
	}

	submitted, err := h.DBManager.IsSubmitted(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("licitacion_id", id).Error("failed to look up record")
		http.Error(w, "Failed to retrieve record status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, RecordStatus{LicitacionID: id, Submitted: submitted})
}

// ListFiles handles GET /files?limit=n.
func (h *StatusService) ListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid 'limit', expected a positive integer.", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxFilesLimit)
	}

	runs, err := h.DBManager.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list ingested files")
		http.Error(w, "Failed to retrieve ingested files", http.StatusInternalServerError)
		return
	}

	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
