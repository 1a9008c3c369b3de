package anonymize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"github.com/geofora/platform/pkg/consent"
)

type fakeConsents struct {
	records map[[2]int64]*models.ConsentRecord
	err     error
}

func (f *fakeConsents) Get(_ context.Context, organizationID, providerID int64) (*models.ConsentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[[2]int64{organizationID, providerID}]
	if !ok {
		return nil, consent.ErrConsentNotFound
	}
	copied := *rec
	return &copied, nil
}

func grantFor(org, provider int64) *fakeConsents {
	granted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeConsents{records: map[[2]int64]*models.ConsentRecord{
		{org, provider}: {
			OrganizationID: org,
			ProviderID:     provider,
			HasConsent:     true,
			ConsentDate:    &granted,
			ConsentVersion: "1.0.0",
			DataScope:      DefaultPolicy(),
		},
	}}
}

type memoryRecords struct {
	records map[string]*models.AnonymizedRecord
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[string]*models.AnonymizedRecord)}
}

func (m *memoryRecords) Create(_ context.Context, rec *models.AnonymizedRecord) error {
	copied := *rec
	m.records[rec.ID] = &copied
	return nil
}

func (m *memoryRecords) Get(_ context.Context, id string) (*models.AnonymizedRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *memoryRecords) ListUnexported(_ context.Context, organizationID int64, dateRange *models.DateRange) ([]models.AnonymizedRecord, error) {
	var out []models.AnonymizedRecord
	for _, rec := range m.records {
		if rec.OrganizationID != organizationID || rec.Exported {
			continue
		}
		if dateRange != nil && (rec.CreatedAt.Before(dateRange.Start) || !rec.CreatedAt.Before(dateRange.End)) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memoryRecords) MarkExported(_ context.Context, id string, at time.Time) error {
	rec, ok := m.records[id]
	if !ok || rec.Exported {
		return nil
	}
	rec.Exported = true
	rec.ExportedAt = &at
	return nil
}

func (m *memoryRecords) DeleteUnexported(_ context.Context, organizationID, providerID int64) (int64, error) {
	var deleted int64
	for id, rec := range m.records {
		if rec.OrganizationID == organizationID && rec.ProviderID == providerID && !rec.Exported {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func TestAnonymizeContentRequiresConsent(t *testing.T) {
	svc := NewService(&fakeConsents{records: map[[2]int64]*models.ConsentRecord{}}, newMemoryRecords(), NewEngine())

	_, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
		OrganizationID: 1,
		ProviderID:     2,
		Content:        "hello",
	})
	if !errors.Is(err, ErrNoConsent) {
		t.Fatalf("expected ErrNoConsent, got %v", err)
	}
}

func TestConsentStoreOutageIsNotReportedAsDenial(t *testing.T) {
	outage := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	svc := NewService(&fakeConsents{err: outage}, newMemoryRecords(), NewEngine())

	_, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
		OrganizationID: 1,
		ProviderID:     2,
		Content:        "hello",
	})
	if errors.Is(err, ErrNoConsent) {
		t.Fatalf("store outage must not look like a consent denial")
	}
	if !errors.Is(err, outage) {
		t.Fatalf("expected the store error to pass through, got %v", err)
	}

	if _, err := svc.ExportData(context.Background(), 1, 2, nil); errors.Is(err, ErrNoConsent) || !errors.Is(err, outage) {
		t.Fatalf("expected the store error to pass through on export, got %v", err)
	}
}

func TestAnonymizeContentIgnoresRevokedConsent(t *testing.T) {
	consents := grantFor(1, 2)
	consents.records[[2]int64{1, 2}].HasConsent = false
	svc := NewService(consents, newMemoryRecords(), NewEngine())

	_, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
		OrganizationID: 1,
		ProviderID:     2,
		Content:        "hello",
	})
	if !errors.Is(err, ErrNoConsent) {
		t.Fatalf("expected ErrNoConsent for revoked grant, got %v", err)
	}
}

func TestAnonymizeContentPersistsRedactedRecord(t *testing.T) {
	store := newMemoryRecords()
	svc := NewService(grantFor(1, 2), store, NewEngine())

	rec, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
		OrganizationID: 1,
		ProviderID:     2,
		UserID:         42,
		DataType:       "questions",
		Content:        "Reach John Smith at john@acme.com",
	})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if rec.Content == "Reach John Smith at john@acme.com" {
		t.Fatal("expected content to be redacted")
	}
	if rec.Exported {
		t.Fatal("new records must start unexported")
	}
	if rec.ConsentVersion != "1.0.0" {
		t.Fatalf("expected consent version stamped, got %q", rec.ConsentVersion)
	}

	stored, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.Content != rec.Content {
		t.Fatal("persisted content differs from returned record")
	}
}

func TestExportDataFlipsExportedOnce(t *testing.T) {
	store := newMemoryRecords()
	svc := NewService(grantFor(1, 2), store, NewEngine())

	for i := 0; i < 3; i++ {
		if _, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
			OrganizationID: 1,
			ProviderID:     2,
			Content:        "some forum content",
		}); err != nil {
			t.Fatalf("anonymize failed: %v", err)
		}
	}

	records, err := svc.ExportData(context.Background(), 1, 2, nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// The snapshot the caller gets is pre-flip.
	for _, rec := range records {
		if rec.Exported {
			t.Fatal("returned snapshot should predate the exported flip")
		}
	}
	for _, rec := range store.records {
		if !rec.Exported {
			t.Fatal("expected every stored record flipped to exported")
		}
	}

	// A second export finds nothing left to hand out.
	again, err := svc.ExportData(context.Background(), 1, 2, nil)
	if err != nil {
		t.Fatalf("second export failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no unexported records on second pass, got %d", len(again))
	}
}

func TestRevocationCascadeKeepsExportedRecords(t *testing.T) {
	store := newMemoryRecords()
	svc := NewService(grantFor(1, 2), store, NewEngine())

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := svc.AnonymizeContent(context.Background(), models.AnonymizeRequest{
			OrganizationID: 1,
			ProviderID:     2,
			Content:        "some forum content",
		})
		if err != nil {
			t.Fatalf("anonymize failed: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	exportedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range ids[:2] {
		if err := store.MarkExported(context.Background(), id, exportedAt); err != nil {
			t.Fatalf("mark exported failed: %v", err)
		}
	}

	deleted, err := svc.DeleteUnexported(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("cascade failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected exactly 1 record purged, got %d", deleted)
	}
	if len(store.records) != 2 {
		t.Fatalf("expected the 2 exported records to remain, have %d", len(store.records))
	}
	for _, rec := range store.records {
		if !rec.Exported {
			t.Fatal("only exported records should survive the cascade")
		}
	}
}

func TestEffectivePolicyFallsBackToDefaults(t *testing.T) {
	if got := EffectivePolicy(models.DataScopePolicy{}); !got.RemovePersonalInfo {
		t.Fatal("expected empty scope to resolve to engine defaults")
	}

	custom := models.DataScopePolicy{RemoveURLs: true, RetentionPeriodDays: 30}
	if got := EffectivePolicy(custom); got.RemovePersonalInfo || !got.RemoveURLs {
		t.Fatalf("expected custom scope returned unchanged, got %+v", got)
	}
}
