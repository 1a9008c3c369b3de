package privacy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geofora/platform/pkg/common/artifacts"
	"github.com/geofora/platform/pkg/common/models"
)

type memStore struct {
	users    map[int64]*models.UserProfile
	logs     map[int64][]models.UsageLog
	settings map[int64]*models.PrivacySettings
	requests map[string]*models.GDPRRequest
	breaches map[string]*models.DataBreachReport
	audit    []models.PrivacyAuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*models.UserProfile),
		logs:     make(map[int64][]models.UsageLog),
		settings: make(map[int64]*models.PrivacySettings),
		requests: make(map[string]*models.GDPRRequest),
		breaches: make(map[string]*models.DataBreachReport),
	}
}

func (m *memStore) GetUser(_ context.Context, userID int64) (*models.UserProfile, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memStore) DeleteUser(_ context.Context, userID int64) (int64, error) {
	if _, ok := m.users[userID]; !ok {
		return 0, nil
	}
	delete(m.users, userID)
	return 1, nil
}

func (m *memStore) ListUsageLogs(_ context.Context, userID int64) ([]models.UsageLog, error) {
	return append([]models.UsageLog(nil), m.logs[userID]...), nil
}

func (m *memStore) DeleteUsageLogs(_ context.Context, userID int64) (int64, error) {
	deleted := int64(len(m.logs[userID]))
	delete(m.logs, userID)
	return deleted, nil
}

func (m *memStore) GetSettings(_ context.Context, userID int64) (*models.PrivacySettings, error) {
	settings, ok := m.settings[userID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	copied := *settings
	return &copied, nil
}

func (m *memStore) SaveSettings(_ context.Context, settings *models.PrivacySettings) error {
	copied := *settings
	m.settings[settings.UserID] = &copied
	return nil
}

func (m *memStore) CreateRequest(_ context.Context, req *models.GDPRRequest) error {
	copied := *req
	m.requests[req.ID] = &copied
	return nil
}

func (m *memStore) GetRequest(_ context.Context, id string) (*models.GDPRRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (m *memStore) ListRequestsByUser(_ context.Context, userID int64) ([]models.GDPRRequest, error) {
	var out []models.GDPRRequest
	for _, req := range m.requests {
		if req.UserID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *memStore) MarkRequestProcessing(_ context.Context, id string) error {
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status == StatusPending {
		req.Status = StatusProcessing
	}
	return nil
}

func (m *memStore) CompleteRequest(_ context.Context, id string, responseData map[string]interface{}, at time.Time) error {
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if terminal(req.Status) {
		return nil
	}
	req.Status = StatusCompleted
	req.ResponseData = responseData
	req.ProcessedAt = &at
	return nil
}

func (m *memStore) RejectRequest(_ context.Context, id, reason string) error {
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if terminal(req.Status) {
		return nil
	}
	req.Status = StatusRejected
	req.RejectionReason = reason
	return nil
}

func (m *memStore) CountPendingRequests(_ context.Context) (int64, error) {
	var count int64
	for _, req := range m.requests {
		if req.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateBreach(_ context.Context, report *models.DataBreachReport) error {
	copied := *report
	m.breaches[report.ID] = &copied
	return nil
}

func (m *memStore) GetBreach(_ context.Context, id string) (*models.DataBreachReport, error) {
	report, ok := m.breaches[id]
	if !ok {
		return nil, ErrBreachNotFound
	}
	copied := *report
	return &copied, nil
}

func (m *memStore) ListBreaches(_ context.Context) ([]models.DataBreachReport, error) {
	var out []models.DataBreachReport
	for _, report := range m.breaches {
		out = append(out, *report)
	}
	return out, nil
}

func (m *memStore) UpdateBreachStatus(_ context.Context, id, status string) error {
	report, ok := m.breaches[id]
	if !ok {
		return ErrBreachNotFound
	}
	switch status {
	case BreachContained:
		if report.Status == BreachInvestigating {
			report.Status = status
		}
	case BreachResolved:
		if report.Status != BreachResolved {
			report.Status = status
		}
	default:
		return validationErrorf(errors.New("status must be contained or resolved"))
	}
	return nil
}

func (m *memStore) CountUnresolvedBreaches(_ context.Context) (int64, error) {
	var count int64
	for _, report := range m.breaches {
		if report.Status != BreachResolved {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AppendAudit(_ context.Context, entry *models.PrivacyAuditEntry) error {
	m.audit = append(m.audit, *entry)
	return nil
}

func (m *memStore) ListAuditByUser(_ context.Context, userID int64) ([]models.PrivacyAuditEntry, error) {
	var out []models.PrivacyAuditEntry
	for _, entry := range m.audit {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeConsentData struct {
	records map[int64][]models.ConsentRecord
}

func (f *fakeConsentData) ListByOrganization(_ context.Context, organizationID int64) ([]models.ConsentRecord, error) {
	return append([]models.ConsentRecord(nil), f.records[organizationID]...), nil
}

func (f *fakeConsentData) DeleteByOrganization(_ context.Context, organizationID int64) (int64, error) {
	deleted := int64(len(f.records[organizationID]))
	delete(f.records, organizationID)
	return deleted, nil
}

func (f *fakeConsentData) Count(_ context.Context) (int64, error) {
	var count int64
	for _, records := range f.records {
		count += int64(len(records))
	}
	return count, nil
}

type fakeRecordData struct {
	records map[int64][]models.AnonymizedRecord
}

func (f *fakeRecordData) ListByUser(_ context.Context, userID int64) ([]models.AnonymizedRecord, error) {
	return append([]models.AnonymizedRecord(nil), f.records[userID]...), nil
}

func (f *fakeRecordData) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	deleted := int64(len(f.records[userID]))
	delete(f.records, userID)
	return deleted, nil
}

func (f *fakeRecordData) Count(_ context.Context) (int64, error) {
	var count int64
	for _, records := range f.records {
		count += int64(len(records))
	}
	return count, nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) PublishEvent(_ context.Context, eventType string, _ string, _ map[string]interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

type testEnv struct {
	svc      *Service
	store    *memStore
	consents *fakeConsentData
	records  *fakeRecordData
	producer *fakePublisher
}

func newTestEnv() *testEnv {
	store := newMemStore()
	consents := &fakeConsentData{records: make(map[int64][]models.ConsentRecord)}
	records := &fakeRecordData{records: make(map[int64][]models.AnonymizedRecord)}
	producer := &fakePublisher{}
	svc := NewService(store, consents, records, artifacts.NewMemoryStore(), producer, "http://localhost:8080", 7*24*time.Hour)
	svc.dispatch = func(fn func()) { fn() }
	return &testEnv{svc: svc, store: store, consents: consents, records: records, producer: producer}
}

func seedUser(env *testEnv, userID int64) {
	env.store.users[userID] = &models.UserProfile{ID: userID, Email: "user@example.com", Name: "Forum User", Plan: "pro"}
	env.store.logs[userID] = []models.UsageLog{{ID: 1, UserID: userID, Action: "login"}}
	env.consents.records[userID] = []models.ConsentRecord{{OrganizationID: userID, ProviderID: 2, HasConsent: true}}
	env.records.records[userID] = []models.AnonymizedRecord{{ID: "r1", OrganizationID: userID, UserID: userID}}
}

func TestErasureRequestRemovesAllUserData(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 42)

	req, err := env.svc.CreateGDPRRequest(context.Background(), 42, RequestErasure, "delete everything")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	done, err := env.svc.GetRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%q)", done.Status, done.RejectionReason)
	}
	if done.ProcessedAt == nil {
		t.Fatal("expected processed_at stamped on completion")
	}

	if _, ok := env.store.users[42]; ok {
		t.Fatal("user row survived erasure")
	}
	if len(env.consents.records[42]) != 0 {
		t.Fatal("consent rows survived erasure")
	}
	if len(env.records.records[42]) != 0 {
		t.Fatal("anonymized rows survived erasure")
	}
	if len(env.store.logs[42]) != 0 {
		t.Fatal("usage logs survived erasure")
	}

	deleted, ok := done.ResponseData["deletedData"].([]string)
	if !ok {
		t.Fatalf("expected deletedData list, got %T", done.ResponseData["deletedData"])
	}
	for _, category := range []string{"consent_records", "anonymized_records", "usage_logs"} {
		found := false
		for _, d := range deleted {
			if d == category {
				found = true
			}
		}
		if !found {
			t.Fatalf("deletedData missing %q: %v", category, deleted)
		}
	}
}

func TestAccessRequestCollectsAllCategories(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	req, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestAccess, "")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	done, _ := env.svc.GetRequest(context.Background(), req.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%q)", done.Status, done.RejectionReason)
	}
	for _, key := range []string{"personalData", "activityData", "consentData", "processingData"} {
		if _, ok := done.ResponseData[key]; !ok {
			t.Fatalf("responseData missing %q", key)
		}
	}
}

func TestAccessRequestForUnknownUserIsRejected(t *testing.T) {
	env := newTestEnv()

	req, err := env.svc.CreateGDPRRequest(context.Background(), 999, RequestAccess, "")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	done, _ := env.svc.GetRequest(context.Background(), req.ID)
	if done.Status != StatusRejected {
		t.Fatalf("expected rejected, got %q", done.Status)
	}
	if done.RejectionReason == "" {
		t.Fatal("expected rejection reason recorded")
	}
	if done.ProcessedAt != nil {
		t.Fatal("rejected requests must not get processed_at")
	}
}

func TestPortabilityProducesDownloadableArtifact(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	req, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestPortability, "")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	done, _ := env.svc.GetRequest(context.Background(), req.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%q)", done.Status, done.RejectionReason)
	}
	url, _ := done.ResponseData["downloadUrl"].(string)
	if url != "http://localhost:8080/api/privacy/download/"+req.ID {
		t.Fatalf("unexpected download url %q", url)
	}

	contentType, body, err := env.svc.Download(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if !strings.Contains(string(body), "personalData") {
		t.Fatal("artifact missing collected data")
	}
}

func TestDownloadOnlyServesCompletedPortability(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	req, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestAccess, "")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if _, _, err := env.svc.Download(context.Background(), req.ID); err == nil {
		t.Fatal("expected download of a non-portability request to error")
	}
	if _, _, err := env.svc.Download(context.Background(), "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRestrictionClearsAllProcessingToggles(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	req, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestRestriction, "")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	done, _ := env.svc.GetRequest(context.Background(), req.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", done.Status)
	}

	settings, err := env.svc.GetSettings(context.Background(), 7)
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	dp := settings.DataProcessing
	if dp.Analytics || dp.Personalization || dp.Marketing || dp.Research {
		t.Fatalf("expected all processing toggles off, got %+v", dp)
	}
}

func TestObjectionClearsOnlyMarketingAndPersonalization(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	if _, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestObjection, ""); err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	settings, err := env.svc.GetSettings(context.Background(), 7)
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	dp := settings.DataProcessing
	if dp.Marketing || dp.Personalization {
		t.Fatalf("expected marketing and personalization off, got %+v", dp)
	}
	// Defaults have analytics on; objection must not touch it.
	if !dp.Analytics {
		t.Fatalf("objection must leave analytics alone, got %+v", dp)
	}
}

func TestRectificationIsAnAcknowledgedStub(t *testing.T) {
	env := newTestEnv()

	req, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestRectification, "fix my email")
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	done, _ := env.svc.GetRequest(context.Background(), req.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", done.Status)
	}
	if ack, _ := done.ResponseData["acknowledged"].(bool); !ack {
		t.Fatalf("expected acknowledgement payload, got %v", done.ResponseData)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv()

	if _, err := env.svc.CreateGDPRRequest(context.Background(), 0, RequestAccess, ""); !IsValidationError(err) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
	if _, err := env.svc.CreateGDPRRequest(context.Background(), 7, "forgetme", ""); !IsValidationError(err) {
		t.Fatalf("expected validation error for unsupported type, got %v", err)
	}
	if len(env.store.requests) != 0 {
		t.Fatal("invalid requests must not be persisted")
	}
}

func TestUpdateSettingsMergesPartialPatch(t *testing.T) {
	env := newTestEnv()

	sharing := true
	updated, err := env.svc.UpdateSettings(context.Background(), 7, SettingsPatch{DataSharing: &sharing})
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}
	if !updated.DataSharing {
		t.Fatal("expected data_sharing flipped on")
	}
	// Untouched defaults survive the patch.
	if !updated.DataProcessing.Analytics || updated.DataProcessing.Marketing {
		t.Fatalf("unexpected processing defaults %+v", updated.DataProcessing)
	}

	stored, err := env.svc.GetSettings(context.Background(), 7)
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if !stored.DataSharing {
		t.Fatal("patched settings not persisted")
	}
}

func TestHighSeverityBreachNotifiesSynchronously(t *testing.T) {
	env := newTestEnv()

	report, err := env.svc.ReportBreach(context.Background(), SeverityCritical, "token leak", []int64{1, 2, 3}, []string{"emails"})
	if err != nil {
		t.Fatalf("report breach failed: %v", err)
	}
	if !report.NotificationsSent {
		t.Fatal("expected notifications sent for critical severity")
	}
	if report.Status != BreachInvestigating {
		t.Fatalf("new breaches start investigating, got %q", report.Status)
	}
	if len(env.producer.events) == 0 || env.producer.events[0] != "breach_alert" {
		t.Fatalf("expected breach_alert event, got %v", env.producer.events)
	}

	low, err := env.svc.ReportBreach(context.Background(), SeverityLow, "misdirected email", nil, nil)
	if err != nil {
		t.Fatalf("report breach failed: %v", err)
	}
	if low.NotificationsSent {
		t.Fatal("low severity must not notify")
	}
}

func TestBreachStatusMovesForwardOnly(t *testing.T) {
	env := newTestEnv()

	report, err := env.svc.ReportBreach(context.Background(), SeverityMedium, "scraper access", nil, nil)
	if err != nil {
		t.Fatalf("report breach failed: %v", err)
	}

	updated, err := env.svc.UpdateBreachStatus(context.Background(), report.ID, BreachContained)
	if err != nil {
		t.Fatalf("contain failed: %v", err)
	}
	if updated.Status != BreachContained {
		t.Fatalf("expected contained, got %q", updated.Status)
	}

	if _, err := env.svc.UpdateBreachStatus(context.Background(), report.ID, "investigating"); !IsValidationError(err) {
		t.Fatalf("expected validation error moving backwards, got %v", err)
	}

	resolved, err := env.svc.UpdateBreachStatus(context.Background(), report.ID, BreachResolved)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != BreachResolved {
		t.Fatalf("expected resolved, got %q", resolved.Status)
	}
}

func TestComplianceReportDeductions(t *testing.T) {
	env := newTestEnv()

	// Nothing in the system: both data deductions apply.
	report, err := env.svc.ComplianceReport(context.Background())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Score != 65 {
		t.Fatalf("expected score 65 with no consents and no records, got %d", report.Score)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(report.Issues))
	}

	// Populate data, then add a pending request and an unresolved breach.
	seedUser(env, 7)
	env.store.requests["q1"] = &models.GDPRRequest{ID: "q1", UserID: 7, Status: StatusPending}
	env.store.requests["q2"] = &models.GDPRRequest{ID: "q2", UserID: 7, Status: StatusPending}
	env.store.breaches["b1"] = &models.DataBreachReport{ID: "b1", Status: BreachInvestigating}

	report, err = env.svc.ComplianceReport(context.Background())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	// The pending-request deduction is flat: two pending requests still cost 10.
	if report.Score != 65 {
		t.Fatalf("expected score 65 (100-10-25), got %d", report.Score)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(report.Issues))
	}
}

func TestAuditTrailRecordsRequestLifecycle(t *testing.T) {
	env := newTestEnv()
	seedUser(env, 7)

	if _, err := env.svc.CreateGDPRRequest(context.Background(), 7, RequestAccess, ""); err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	entries, err := env.svc.AuditTrail(context.Background(), 7)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	actions := make(map[string]bool, len(entries))
	for _, entry := range entries {
		actions[entry.Action] = true
	}
	if !actions["gdpr_request_created"] || !actions["gdpr_request_completed"] {
		t.Fatalf("expected created and completed audit entries, got %v", actions)
	}
}
