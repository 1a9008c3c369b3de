package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/geofora/platform/pkg/common/artifacts"
	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/common/models"
	"github.com/geofora/platform/pkg/observability/metrics"
	"github.com/google/uuid"
)

var supportedRequestTypes = map[string]struct{}{
	RequestAccess:        {},
	RequestRectification: {},
	RequestErasure:       {},
	RequestPortability:   {},
	RequestRestriction:   {},
	RequestObjection:     {},
}

var supportedSeverities = map[string]struct{}{
	SeverityLow:      {},
	SeverityMedium:   {},
	SeverityHigh:     {},
	SeverityCritical: {},
}

// Store is the slice of the privacy repository the service depends on.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*models.UserProfile, error)
	DeleteUser(ctx context.Context, userID int64) (int64, error)
	ListUsageLogs(ctx context.Context, userID int64) ([]models.UsageLog, error)
	DeleteUsageLogs(ctx context.Context, userID int64) (int64, error)
	GetSettings(ctx context.Context, userID int64) (*models.PrivacySettings, error)
	SaveSettings(ctx context.Context, settings *models.PrivacySettings) error
	CreateRequest(ctx context.Context, req *models.GDPRRequest) error
	GetRequest(ctx context.Context, id string) (*models.GDPRRequest, error)
	ListRequestsByUser(ctx context.Context, userID int64) ([]models.GDPRRequest, error)
	MarkRequestProcessing(ctx context.Context, id string) error
	CompleteRequest(ctx context.Context, id string, responseData map[string]interface{}, at time.Time) error
	RejectRequest(ctx context.Context, id, reason string) error
	CountPendingRequests(ctx context.Context) (int64, error)
	CreateBreach(ctx context.Context, report *models.DataBreachReport) error
	GetBreach(ctx context.Context, id string) (*models.DataBreachReport, error)
	ListBreaches(ctx context.Context) ([]models.DataBreachReport, error)
	UpdateBreachStatus(ctx context.Context, id, status string) error
	CountUnresolvedBreaches(ctx context.Context) (int64, error)
	AppendAudit(ctx context.Context, entry *models.PrivacyAuditEntry) error
	ListAuditByUser(ctx context.Context, userID int64) ([]models.PrivacyAuditEntry, error)
}

// ConsentData is the consent store as seen from subject-rights processing.
// A forum user maps one-to-one onto an organization id in the consent tables.
type ConsentData interface {
	ListByOrganization(ctx context.Context, organizationID int64) ([]models.ConsentRecord, error)
	DeleteByOrganization(ctx context.Context, organizationID int64) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type RecordData interface {
	ListByUser(ctx context.Context, userID int64) ([]models.AnonymizedRecord, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	store     Store
	consents  ConsentData
	records   RecordData
	artifacts artifacts.Store
	producer  Publisher
	baseURL   string
	ttl       time.Duration
	now       func() time.Time
	dispatch  func(func())
}

func NewService(store Store, consents ConsentData, records RecordData, artifactStore artifacts.Store, producer Publisher, baseURL string, ttl time.Duration) *Service {
	return &Service{
		store:     store,
		consents:  consents,
		records:   records,
		artifacts: artifactStore,
		producer:  producer,
		baseURL:   baseURL,
		ttl:       ttl,
		now:       time.Now,
		dispatch:  func(fn func()) { go fn() },
	}
}

// CreateGDPRRequest registers a pending subject-rights request and returns it
// immediately. Processing happens in the background; callers poll by id. A
// rejected request is never retried in place, the user files a new one.
func (s *Service) CreateGDPRRequest(ctx context.Context, userID int64, requestType, description string) (*models.GDPRRequest, error) {
	if userID == 0 {
		return nil, validationErrorf(errors.New("user_id is required"))
	}
	if _, ok := supportedRequestTypes[requestType]; !ok {
		return nil, validationErrorf(fmt.Errorf("unsupported request type %q", requestType))
	}

	req := &models.GDPRRequest{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        requestType,
		Status:      StatusPending,
		Description: description,
		RequestedAt: s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.audit(ctx, userID, "gdpr_request_created", "gdpr_request/"+req.ID, map[string]interface{}{
		"type": requestType,
	})
	metrics.IncGDPRPending()

	s.dispatch(func() { s.process(req.ID, userID, requestType) })
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (*models.GDPRRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, userID int64) ([]models.GDPRRequest, error) {
	return s.store.ListRequestsByUser(ctx, userID)
}

func (s *Service) process(requestID string, userID int64, requestType string) {
	ctx := context.Background()
	if err := s.store.MarkRequestProcessing(ctx, requestID); err != nil {
		logger.Log.WithError(err).Error("failed to mark gdpr request processing")
	}

	var (
		responseData map[string]interface{}
		err          error
	)
	switch requestType {
	case RequestAccess:
		responseData, err = s.collectUserData(ctx, userID)
	case RequestRectification:
		responseData = map[string]interface{}{
			"acknowledged": true,
			"note":         "rectification is handled by the account support flow",
		}
	case RequestErasure:
		responseData, err = s.processErasure(ctx, userID)
	case RequestPortability:
		responseData, err = s.processPortability(ctx, requestID, userID)
	case RequestRestriction:
		responseData, err = s.restrictProcessing(ctx, userID, true)
	case RequestObjection:
		responseData, err = s.restrictProcessing(ctx, userID, false)
	}

	if err != nil {
		s.rejectRequest(ctx, requestID, userID, err)
		return
	}

	if err := s.store.CompleteRequest(ctx, requestID, responseData, s.now().UTC()); err != nil {
		s.rejectRequest(ctx, requestID, userID, err)
		return
	}
	s.audit(ctx, userID, "gdpr_request_completed", "gdpr_request/"+requestID, map[string]interface{}{
		"type": requestType,
	})
	metrics.IncGDPRCompleted()
	s.publish(ctx, "gdpr_request_completed", map[string]interface{}{
		"request_id": requestID,
		"user_id":    userID,
		"type":       requestType,
	})
}

func (s *Service) rejectRequest(ctx context.Context, requestID string, userID int64, cause error) {
	logger.Log.WithError(cause).WithField("request_id", requestID).Error("gdpr request rejected")
	if err := s.store.RejectRequest(ctx, requestID, cause.Error()); err != nil {
		logger.Log.WithError(err).Error("failed to mark gdpr request rejected")
	}
	s.audit(ctx, userID, "gdpr_request_rejected", "gdpr_request/"+requestID, map[string]interface{}{
		"reason": cause.Error(),
	})
	metrics.IncGDPRRejected()
}

// collectUserData gathers everything the platform holds about one user.
func (s *Service) collectUserData(ctx context.Context, userID int64) (map[string]interface{}, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListUsageLogs(ctx, userID)
	if err != nil {
		return nil, err
	}
	consents, err := s.consents.ListByOrganization(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"personalData":   user,
		"activityData":   logs,
		"consentData":    consents,
		"processingData": records,
	}, nil
}

func (s *Service) processErasure(ctx context.Context, userID int64) (map[string]interface{}, error) {
	usersDeleted, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	consentsDeleted, err := s.consents.DeleteByOrganization(ctx, userID)
	if err != nil {
		return nil, err
	}
	recordsDeleted, err := s.records.DeleteByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	logsDeleted, err := s.store.DeleteUsageLogs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"deletedData": []string{"user_profile", "consent_records", "anonymized_records", "usage_logs"},
		"deletedCounts": map[string]int64{
			"user_profile":       usersDeleted,
			"consent_records":    consentsDeleted,
			"anonymized_records": recordsDeleted,
			"usage_logs":         logsDeleted,
		},
	}, nil
}

func (s *Service) processPortability(ctx context.Context, requestID string, userID int64) (map[string]interface{}, error) {
	data, err := s.collectUserData(ctx, userID)
	if err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().UTC().Add(s.ttl)
	if err := s.artifacts.Put(ctx, "privacy:"+requestID, "application/json", body, s.ttl); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"format":      "json",
		"downloadUrl": fmt.Sprintf("%s/api/privacy/download/%s", s.baseURL, requestID),
		"expiresAt":   expiresAt.Format(time.RFC3339),
	}, nil
}

// restrictProcessing turns off data-processing toggles. A restriction request
// clears all four; an objection is narrower and clears only marketing and
// personalization.
func (s *Service) restrictProcessing(ctx context.Context, userID int64, all bool) (map[string]interface{}, error) {
	settings, err := s.settingsOrDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings.DataProcessing.Marketing = false
	settings.DataProcessing.Personalization = false
	if all {
		settings.DataProcessing.Analytics = false
		settings.DataProcessing.Research = false
	}
	settings.UpdatedAt = s.now().UTC()
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"applied":        true,
		"dataProcessing": settings.DataProcessing,
	}, nil
}

// GetSettings returns stored settings, or the defaults for a user who has
// never saved any. The defaults are not persisted on read.
func (s *Service) GetSettings(ctx context.Context, userID int64) (*models.PrivacySettings, error) {
	return s.settingsOrDefault(ctx, userID)
}

// UpdateSettings merges the patch over the current settings. Absent fields
// keep their stored value.
func (s *Service) UpdateSettings(ctx context.Context, userID int64, patch SettingsPatch) (*models.PrivacySettings, error) {
	settings, err := s.settingsOrDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.DataSharing != nil {
		settings.DataSharing = *patch.DataSharing
	}
	if patch.DataProcessing != nil {
		settings.DataProcessing = *patch.DataProcessing
	}
	if patch.DataRetention != nil {
		settings.DataRetention = *patch.DataRetention
	}
	if patch.DataPortability != nil {
		settings.DataPortability = *patch.DataPortability
	}
	if patch.DataDeletion != nil {
		settings.DataDeletion = *patch.DataDeletion
	}
	if patch.Notifications != nil {
		settings.Notifications = *patch.Notifications
	}
	settings.UpdatedAt = s.now().UTC()
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, err
	}
	s.audit(ctx, userID, "privacy_settings_updated", "privacy_settings", nil)
	return settings, nil
}

func (s *Service) settingsOrDefault(ctx context.Context, userID int64) (*models.PrivacySettings, error) {
	settings, err := s.store.GetSettings(ctx, userID)
	if errors.Is(err, ErrSettingsNotFound) {
		return DefaultSettings(userID, s.now().UTC()), nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// ReportBreach files a breach report in investigating status. High and
// critical severities notify affected users synchronously, within this call.
func (s *Service) ReportBreach(ctx context.Context, severity, description string, affectedUsers []int64, dataTypes []string) (*models.DataBreachReport, error) {
	if _, ok := supportedSeverities[severity]; !ok {
		return nil, validationErrorf(fmt.Errorf("unsupported severity %q", severity))
	}
	if description == "" {
		return nil, validationErrorf(errors.New("description is required"))
	}

	report := &models.DataBreachReport{
		ID:            uuid.New().String(),
		Severity:      severity,
		Description:   description,
		AffectedUsers: affectedUsers,
		DataTypes:     dataTypes,
		Status:        BreachInvestigating,
		Actions:       []string{"incident logged"},
		ReportedAt:    s.now().UTC(),
	}

	if severity == SeverityHigh || severity == SeverityCritical {
		s.publish(ctx, "breach_alert", map[string]interface{}{
			"breach_id":      report.ID,
			"severity":       severity,
			"affected_users": affectedUsers,
			"data_types":     dataTypes,
		})
		report.NotificationsSent = true
		report.Actions = append(report.Actions,
			fmt.Sprintf("notified %d affected users", len(affectedUsers)),
			"security team alerted",
		)
	}

	if err := s.store.CreateBreach(ctx, report); err != nil {
		return nil, err
	}
	metrics.IncBreachReported()
	return report, nil
}

func (s *Service) GetBreach(ctx context.Context, id string) (*models.DataBreachReport, error) {
	return s.store.GetBreach(ctx, id)
}

func (s *Service) ListBreaches(ctx context.Context) ([]models.DataBreachReport, error) {
	return s.store.ListBreaches(ctx)
}

func (s *Service) UpdateBreachStatus(ctx context.Context, id, status string) (*models.DataBreachReport, error) {
	if _, err := s.store.GetBreach(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBreachStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.store.GetBreach(ctx, id)
}

// ComplianceReport is a rule-based scorecard: fixed deductions from 100, one
// issue/recommendation pair per deduction.
func (s *Service) ComplianceReport(ctx context.Context) (*models.ComplianceReport, error) {
	report := &models.ComplianceReport{
		Score:       100,
		Issues:      []models.ComplianceIssue{},
		GeneratedAt: s.now().UTC(),
	}

	consentCount, err := s.consents.Count(ctx)
	if err != nil {
		return nil, err
	}
	if consentCount == 0 {
		report.Score -= 20
		report.Issues = append(report.Issues, models.ComplianceIssue{
			Issue:          "no consent records exist",
			Recommendation: "collect explicit consent before sharing any forum data with AI providers",
		})
	}

	recordCount, err := s.records.Count(ctx)
	if err != nil {
		return nil, err
	}
	if recordCount == 0 {
		report.Score -= 15
		report.Issues = append(report.Issues, models.ComplianceIssue{
			Issue:          "no anonymized records exist",
			Recommendation: "run content through the anonymization pipeline before any export",
		})
	}

	pending, err := s.store.CountPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		report.Score -= 10
		report.Issues = append(report.Issues, models.ComplianceIssue{
			Issue:          fmt.Sprintf("%d pending GDPR requests await processing", pending),
			Recommendation: "resolve subject-rights requests within the statutory 30-day window",
		})
	}

	unresolved, err := s.store.CountUnresolvedBreaches(ctx)
	if err != nil {
		return nil, err
	}
	if unresolved > 0 {
		report.Score -= 25
		report.Issues = append(report.Issues, models.ComplianceIssue{
			Issue:          fmt.Sprintf("%d data breaches remain unresolved", unresolved),
			Recommendation: "contain and resolve open breach reports, then document remediation",
		})
	}

	return report, nil
}

// Download serves the artifact produced by a completed portability request.
func (s *Service) Download(ctx context.Context, requestID string) (string, []byte, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", nil, err
	}
	if req.Type != RequestPortability || req.Status != StatusCompleted {
		return "", nil, fmt.Errorf("request %s has no downloadable artifact", requestID)
	}
	return s.artifacts.Get(ctx, "privacy:"+requestID)
}

func (s *Service) AuditTrail(ctx context.Context, userID int64) ([]models.PrivacyAuditEntry, error) {
	return s.store.ListAuditByUser(ctx, userID)
}

func (s *Service) audit(ctx context.Context, userID int64, action, resource string, details map[string]interface{}) {
	entry := &models.PrivacyAuditEntry{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		logger.Log.WithError(err).Warn("failed to append privacy audit entry")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "privacy-service", data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish privacy event")
	}
}
