package privacy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/geofora/platform/pkg/common/logger"
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
	r.HandleFunc("/api/privacy/requests", h.handleCreateRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/privacy/requests/{requestId}", h.handleGetRequest).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/users/{userId}/requests", h.handleListRequests).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/users/{userId}/settings", h.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/users/{userId}/settings", h.handleUpdateSettings).Methods(http.MethodPut)
	r.HandleFunc("/api/privacy/users/{userId}/audit", h.handleAuditTrail).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/breaches", h.handleReportBreach).Methods(http.MethodPost)
	r.HandleFunc("/api/privacy/breaches", h.handleListBreaches).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/breaches/{breachId}", h.handleGetBreach).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/breaches/{breachId}/status", h.handleBreachStatus).Methods(http.MethodPut)
	r.HandleFunc("/api/privacy/compliance-report", h.handleComplianceReport).Methods(http.MethodGet)
	r.HandleFunc("/api/privacy/download/{requestId}", h.handleDownload).Methods(http.MethodGet)
}

type createRequestBody struct {
	UserID      int64  `json:"user_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, err := h.service.CreateGDPRRequest(r.Context(), body.UserID, body.Type, body.Description)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create gdpr request")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRequest(r.Context(), mux.Vars(r)["requestId"])
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch gdpr request")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	requests, err := h.service.ListRequests(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list gdpr requests")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": requests})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	settings, err := h.service.GetSettings(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch privacy settings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var patch SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), userID, patch)
	if err != nil {
		logger.Log.WithError(err).Error("failed to update privacy settings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list audit entries")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

type reportBreachBody struct {
	Severity      string   `json:"severity"`
	Description   string   `json:"description"`
	AffectedUsers []int64  `json:"affected_users"`
	DataTypes     []string `json:"data_types"`
}

func (h *Handler) handleReportBreach(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var body reportBreachBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	report, err := h.service.ReportBreach(r.Context(), body.Severity, body.Description, body.AffectedUsers, body.DataTypes)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to report breach")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *Handler) handleListBreaches(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListBreaches(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to list breaches")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": reports})
}

func (h *Handler) handleGetBreach(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetBreach(r.Context(), mux.Vars(r)["breachId"])
	if err != nil {
		if errors.Is(err, ErrBreachNotFound) {
			http.Error(w, "breach not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch breach")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleBreachStatus(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	report, err := h.service.UpdateBreachStatus(r.Context(), mux.Vars(r)["breachId"], body.Status)
	if err != nil {
		if errors.Is(err, ErrBreachNotFound) {
			http.Error(w, "breach not found", http.StatusNotFound)
			return
		}
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to update breach status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ComplianceReport(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to build compliance report")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["requestId"]
	contentType, body, err := h.service.Download(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		http.Error(w, "artifact not available", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=user-data-"+id+".json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
