package export

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/common/models"
	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
	maxBody int64
}

func NewHandler(service *Service, maxBody int64) *Handler {
	return &Handler{service: service, maxBody: maxBody}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/exports", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/exports/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/exports/trends", h.handleTrends).Methods(http.MethodGet)
	r.HandleFunc("/api/exports/download/{exportId}", h.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/exports/{exportId}", h.handleGet).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var cfg models.ExportConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	job, err := h.service.CreateExport(r.Context(), cfg)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, ErrConsentRequired) {
			http.Error(w, "consent required", http.StatusForbidden)
			return
		}
		logger.Log.WithError(err).Error("failed to create export")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), mux.Vars(r)["exportId"])
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "export not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch export job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["exportId"]
	contentType, body, err := h.service.Download(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "export not found", http.StatusNotFound)
			return
		}
		http.Error(w, "export artifact not available", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=export-"+id+"."+extensionFor(contentType))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) handleTrends(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	trends, err := h.service.Trends(r.Context(), days)
	if err != nil {
		logger.Log.WithError(err).Error("failed to compute export trends")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "application/json":
		return "json"
	case "application/x-ndjson":
		return "jsonl"
	case "text/csv":
		return "csv"
	default:
		return "txt"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
