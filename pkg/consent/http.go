package consent

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
	r.HandleFunc("/api/consent/grant", h.handleGrant).Methods(http.MethodPost)
	// Registered before the {orgId} routes so "defaults" is not parsed as an id.
	r.HandleFunc("/api/consent/defaults/{tier}", h.handleDefaults).Methods(http.MethodGet)
	r.HandleFunc("/api/consent/{orgId}/providers", h.handleProvidersWithConsent).Methods(http.MethodGet)
	r.HandleFunc("/api/consent/{orgId}/report", h.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/api/consent/{orgId}/{providerId}/validate", h.handleValidate).Methods(http.MethodGet)
	r.HandleFunc("/api/consent/{orgId}/{providerId}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/consent/{orgId}/{providerId}", h.handleRevoke).Methods(http.MethodDelete)
	r.HandleFunc("/api/consent/{orgId}", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req models.GrantConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == 0 || req.ProviderID == 0 {
		http.Error(w, "organization_id and provider_id are required", http.StatusBadRequest)
		return
	}
	rec, err := h.service.Grant(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to grant consent")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, providerID, ok := parseIDs(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), orgID, providerID)
	if err != nil {
		if errors.Is(err, ErrConsentNotFound) {
			http.Error(w, "consent not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch consent")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	orgID, providerID, ok := parseIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), orgID, providerID); err != nil {
		logger.Log.WithError(err).Error("failed to revoke consent")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	orgID, providerID, ok := parseIDs(w, r)
	if !ok {
		return
	}
	valid := h.service.Validate(r.Context(), orgID, providerID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": valid})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}
	records, err := h.service.ListOrganization(r.Context(), orgID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list consents")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": records})
}

func (h *Handler) handleProvidersWithConsent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}
	ids, err := h.service.ProvidersWithConsent(r.Context(), orgID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list consented providers")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider_ids": ids})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}
	report, err := h.service.ComplianceReport(r.Context(), orgID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to build compliance report")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDefaults(w http.ResponseWriter, r *http.Request) {
	tier := mux.Vars(r)["tier"]
	writeJSON(w, http.StatusOK, DefaultDataScope(tier))
}

func parseOrgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orgID, err := strconv.ParseInt(mux.Vars(r)["orgId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid organization id", http.StatusBadRequest)
		return 0, false
	}
	return orgID, true
}

func parseIDs(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return 0, 0, false
	}
	providerID, err := strconv.ParseInt(mux.Vars(r)["providerId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid provider id", http.StatusBadRequest)
		return 0, 0, false
	}
	return orgID, providerID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
