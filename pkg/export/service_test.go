package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geofora/platform/pkg/anonymize"
	"github.com/geofora/platform/pkg/common/artifacts"
	"github.com/geofora/platform/pkg/common/models"
)

type fakeContents struct {
	records []ContentRecord
	err     error
}

func (f *fakeContents) Collect(_ context.Context, _ int64, contentTypes []string, _ *models.DateRange, maxRecords int) ([]ContentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	wanted := make(map[string]struct{}, len(contentTypes))
	for _, ct := range contentTypes {
		wanted[ct] = struct{}{}
	}
	var out []ContentRecord
	for _, rec := range f.records {
		if _, ok := wanted[rec.Type]; !ok {
			continue
		}
		if maxRecords > 0 && len(out) >= maxRecords {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

type fakeProviders struct {
	providers map[string]*models.Provider
}

func (f *fakeProviders) GetProviderBySlug(_ context.Context, slug string) (*models.Provider, error) {
	provider, ok := f.providers[slug]
	if !ok {
		return nil, errors.New("provider not found")
	}
	return provider, nil
}

type fakeConsents struct {
	grants map[[2]int64]*models.ConsentRecord
}

func (f *fakeConsents) Get(_ context.Context, organizationID, providerID int64) (*models.ConsentRecord, error) {
	grant, ok := f.grants[[2]int64{organizationID, providerID}]
	if !ok {
		return nil, errors.New("consent record not found")
	}
	return grant, nil
}

func questionFixture(n int) []ContentRecord {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := make([]ContentRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, ContentRecord{
			ID:        int64(i + 1),
			Type:      "questions",
			Content:   "How do I configure the forum widget?",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return records
}

func newTestService(contents ContentSource) (*Service, *MemoryJobStore) {
	jobs := NewMemoryJobStore()
	svc := NewService(jobs, contents, nil, nil, anonymize.NewEngine(), artifacts.NewMemoryStore(), nil, "http://localhost:8080", 7*24*time.Hour, 0)
	svc.dispatch = func(fn func()) { fn() }
	return svc, jobs
}

func TestCSVExportHonorsMaxRecords(t *testing.T) {
	svc, _ := newTestService(&fakeContents{records: questionFixture(5)})

	job, err := svc.CreateExport(context.Background(), models.ExportConfig{
		Provider:     "openai",
		Format:       FormatCSV,
		ContentTypes: []string{"questions"},
		MaxRecords:   2,
	})
	if err != nil {
		t.Fatalf("create export failed: %v", err)
	}

	done, err := svc.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed job, got %q (error %q)", done.Status, done.Error)
	}
	if done.RecordCount != 2 {
		t.Fatalf("expected recordCount 2, got %d", done.RecordCount)
	}

	contentType, body, err := svc.Download(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if contentType != "text/csv" {
		t.Fatalf("expected text/csv, got %q", contentType)
	}
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 CSV lines (header + 2 rows), got %d:\n%s", len(lines), body)
	}
	if lines[0] != "type,id,content,createdAt,updatedAt" {
		t.Fatalf("unexpected CSV header: %q", lines[0])
	}
}

func TestServerRecordCapClampsRequests(t *testing.T) {
	jobs := NewMemoryJobStore()
	svc := NewService(jobs, &fakeContents{records: questionFixture(5)}, nil, nil, anonymize.NewEngine(), artifacts.NewMemoryStore(), nil, "http://localhost:8080", 7*24*time.Hour, 2)
	svc.dispatch = func(fn func()) { fn() }

	for _, requested := range []int{0, 10} {
		job, err := svc.CreateExport(context.Background(), models.ExportConfig{
			Provider:     "openai",
			Format:       FormatJSON,
			ContentTypes: []string{"questions"},
			MaxRecords:   requested,
		})
		if err != nil {
			t.Fatalf("create export (maxRecords=%d) failed: %v", requested, err)
		}
		done, err := svc.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("get job failed: %v", err)
		}
		if done.RecordCount != 2 {
			t.Fatalf("maxRecords=%d: expected cap of 2 records, got %d", requested, done.RecordCount)
		}
	}

	job, err := svc.CreateExport(context.Background(), models.ExportConfig{
		Provider:     "openai",
		Format:       FormatJSON,
		ContentTypes: []string{"questions"},
		MaxRecords:   1,
	})
	if err != nil {
		t.Fatalf("create export failed: %v", err)
	}
	done, err := svc.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if done.RecordCount != 1 {
		t.Fatalf("requests under the cap must not be inflated, got %d records", done.RecordCount)
	}
}

func TestJSONExportRoundTrips(t *testing.T) {
	svc, _ := newTestService(&fakeContents{records: questionFixture(4)})

	job, err := svc.CreateExport(context.Background(), models.ExportConfig{
		Provider:        "openai",
		Format:          FormatJSON,
		ContentTypes:    []string{"questions"},
		IncludeMetadata: true,
	})
	if err != nil {
		t.Fatalf("create export failed: %v", err)
	}

	_, body, err := svc.Download(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("export body is not valid JSON: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("expected 4 records, got %d", len(decoded))
	}
	if _, ok := decoded[0]["metadata"]; !ok {
		t.Fatal("expected metadata on each record when include_metadata is set")
	}

	done, _ := svc.GetJob(context.Background(), job.ID)
	if done.DownloadURL != "http://localhost:8080/api/exports/download/"+job.ID {
		t.Fatalf("unexpected download url %q", done.DownloadURL)
	}
}

func TestCreateExportValidation(t *testing.T) {
	svc, _ := newTestService(&fakeContents{records: questionFixture(1)})

	cases := []struct {
		name string
		cfg  models.ExportConfig
	}{
		{"missing provider", models.ExportConfig{Format: FormatJSON, ContentTypes: []string{"questions"}}},
		{"bad format", models.ExportConfig{Provider: "openai", Format: "xml", ContentTypes: []string{"questions"}}},
		{"no content types", models.ExportConfig{Provider: "openai", Format: FormatJSON}},
		{"negative max records", models.ExportConfig{Provider: "openai", Format: FormatJSON, ContentTypes: []string{"questions"}, MaxRecords: -1}},
		{"inverted date range", models.ExportConfig{Provider: "openai", Format: FormatJSON, ContentTypes: []string{"questions"}, DateRange: &models.DateRange{
			Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}}},
	}
	for _, tc := range cases {
		_, err := svc.CreateExport(context.Background(), tc.cfg)
		if !IsValidationError(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateExportRequiresConsentWhenAsked(t *testing.T) {
	jobs := NewMemoryJobStore()
	providers := &fakeProviders{providers: map[string]*models.Provider{
		"openai": {ID: 2, Slug: "openai", Active: true},
	}}
	consents := &fakeConsents{grants: map[[2]int64]*models.ConsentRecord{}}
	svc := NewService(jobs, &fakeContents{records: questionFixture(1)}, providers, consents, anonymize.NewEngine(), artifacts.NewMemoryStore(), nil, "http://localhost:8080", 7*24*time.Hour, 0)
	svc.dispatch = func(fn func()) { fn() }

	cfg := models.ExportConfig{
		Provider:       "openai",
		Format:         FormatJSON,
		ContentTypes:   []string{"questions"},
		IncludeConsent: true,
		OrganizationID: 1,
	}
	if _, err := svc.CreateExport(context.Background(), cfg); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("expected ErrConsentRequired, got %v", err)
	}

	consents.grants[[2]int64{1, 2}] = &models.ConsentRecord{
		OrganizationID: 1,
		ProviderID:     2,
		HasConsent:     true,
		DataScope:      anonymize.DefaultPolicy(),
	}
	if _, err := svc.CreateExport(context.Background(), cfg); err != nil {
		t.Fatalf("expected export to pass with consent on file, got %v", err)
	}
}

func TestCollectionFailureMarksJobFailed(t *testing.T) {
	svc, _ := newTestService(&fakeContents{err: errors.New("db timeout")})

	job, err := svc.CreateExport(context.Background(), models.ExportConfig{
		Provider:     "openai",
		Format:       FormatJSON,
		ContentTypes: []string{"questions"},
	})
	if err != nil {
		t.Fatalf("create export failed: %v", err)
	}

	done, _ := svc.GetJob(context.Background(), job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("expected failed job, got %q", done.Status)
	}
	if !strings.Contains(done.Error, "db timeout") {
		t.Fatalf("expected cause in job error, got %q", done.Error)
	}

	if _, _, err := svc.Download(context.Background(), job.ID); err == nil {
		t.Fatal("expected download of a failed job to error")
	}
}

func TestTerminalJobStateIsFinal(t *testing.T) {
	jobs := NewMemoryJobStore()
	job := &models.ExportJob{ID: "j1", Status: StatusPending, CreatedAt: time.Now().UTC()}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := jobs.Fail(context.Background(), "j1", "boom"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if err := jobs.Complete(context.Background(), "j1", 10, 100, "http://x"); err != nil {
		t.Fatalf("complete returned error: %v", err)
	}

	got, _ := jobs.Get(context.Background(), "j1")
	if got.Status != StatusFailed {
		t.Fatalf("terminal status must not change, got %q", got.Status)
	}
	if got.RecordCount != 0 {
		t.Fatalf("terminal job fields must not change, got recordCount %d", got.RecordCount)
	}
}

func TestCleanupExpiredIsRepeatable(t *testing.T) {
	svc, jobs := newTestService(&fakeContents{records: questionFixture(1)})

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	job, err := svc.CreateExport(context.Background(), models.ExportConfig{
		Provider:     "openai",
		Format:       FormatJSON,
		ContentTypes: []string{"questions"},
	})
	if err != nil {
		t.Fatalf("create export failed: %v", err)
	}

	// Inside the 7-day window nothing is swept.
	svc.now = func() time.Time { return created.Add(6 * 24 * time.Hour) }
	removed, err := svc.CleanupExpired(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("expected no sweep inside ttl, got %d, %v", removed, err)
	}

	svc.now = func() time.Time { return created.Add(8 * 24 * time.Hour) }
	removed, err = svc.CleanupExpired(context.Background())
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 job swept, got %d, %v", removed, err)
	}
	if _, err := jobs.Get(context.Background(), job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected job gone after sweep, got %v", err)
	}

	// Sweeping again is a no-op, not an error.
	removed, err = svc.CleanupExpired(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("expected idempotent sweep, got %d, %v", removed, err)
	}
}

func TestTrendsBucketsByDay(t *testing.T) {
	svc, jobs := newTestService(&fakeContents{records: questionFixture(1)})

	today := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return today }

	seed := []struct {
		id     string
		status string
		age    int
	}{
		{"a", StatusCompleted, 0},
		{"b", StatusFailed, 1},
		{"c", StatusCompleted, 1},
		{"d", StatusPending, 2},
		{"e", StatusCompleted, 9}, // outside the window
	}
	for _, s := range seed {
		err := jobs.Create(context.Background(), &models.ExportJob{
			ID:        s.id,
			Provider:  "openai",
			Format:    FormatJSON,
			Status:    s.status,
			CreatedAt: today.AddDate(0, 0, -s.age),
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	trends, err := svc.Trends(context.Background(), 7)
	if err != nil {
		t.Fatalf("trends failed: %v", err)
	}
	if len(trends.Daily) != 7 {
		t.Fatalf("expected a point for each of 7 days, got %d", len(trends.Daily))
	}

	last := trends.Daily[6]
	if last.Date != "2026-03-10" || last.Completed != 1 {
		t.Fatalf("unexpected latest bucket %+v", last)
	}
	yesterday := trends.Daily[5]
	if yesterday.Completed != 1 || yesterday.Failed != 1 {
		t.Fatalf("unexpected bucket for yesterday %+v", yesterday)
	}
	if trends.ByProvider["openai"] != 4 {
		t.Fatalf("expected 4 in-window jobs for openai, got %d", trends.ByProvider["openai"])
	}
}

func TestStatsTrackAverageSize(t *testing.T) {
	svc, _ := newTestService(&fakeContents{records: questionFixture(3)})

	for i := 0; i < 2; i++ {
		_, err := svc.CreateExport(context.Background(), models.ExportConfig{
			Provider:     "openai",
			Format:       FormatJSONL,
			ContentTypes: []string{"questions"},
		})
		if err != nil {
			t.Fatalf("create export failed: %v", err)
		}
	}

	stats := svc.Stats()
	if stats.TotalExports != 2 || stats.SuccessfulExports != 2 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.TotalRecordsExported != 6 {
		t.Fatalf("expected 6 records exported, got %d", stats.TotalRecordsExported)
	}
	if stats.AverageExportSize <= 0 {
		t.Fatalf("expected positive average size, got %f", stats.AverageExportSize)
	}
	if stats.ByFormat[FormatJSONL] != 2 {
		t.Fatalf("expected 2 jsonl exports, got %d", stats.ByFormat[FormatJSONL])
	}
}
