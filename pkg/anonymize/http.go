package anonymize

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

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
	r.HandleFunc("/api/anonymize", h.handleAnonymize).Methods(http.MethodPost)
	r.HandleFunc("/api/anonymize/export", h.handleExport).Methods(http.MethodPost)
}

func (h *Handler) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req models.AnonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" || req.OrganizationID == 0 || req.ProviderID == 0 {
		http.Error(w, "content, organization_id and provider_id are required", http.StatusBadRequest)
		return
	}
	rec, err := h.service.AnonymizeContent(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrNoConsent) {
			http.Error(w, "consent required", http.StatusForbidden)
			return
		}
		logger.Log.WithError(err).Error("failed to anonymize content")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type exportRequest struct {
	OrganizationID int64      `json:"organization_id"`
	ProviderID     int64      `json:"provider_id"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == 0 || req.ProviderID == 0 {
		http.Error(w, "organization_id and provider_id are required", http.StatusBadRequest)
		return
	}
	var dateRange *models.DateRange
	if req.Start != nil && req.End != nil {
		dateRange = &models.DateRange{Start: *req.Start, End: *req.End}
	}
	records, err := h.service.ExportData(r.Context(), req.OrganizationID, req.ProviderID, dateRange)
	if err != nil {
		if errors.Is(err, ErrNoConsent) {
			http.Error(w, "consent required", http.StatusForbidden)
			return
		}
		logger.Log.WithError(err).Error("failed to export anonymized data")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"count": len(records),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
