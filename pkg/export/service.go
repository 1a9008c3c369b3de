package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geofora/platform/pkg/anonymize"
	"github.com/geofora/platform/pkg/common/artifacts"
	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/common/models"
	"github.com/geofora/platform/pkg/observability/metrics"
	"github.com/google/uuid"
)

var supportedFormats = map[string]struct{}{
	FormatJSON:  {},
	FormatCSV:   {},
	FormatJSONL: {},
	FormatTXT:   {},
}

type ContentSource interface {
	Collect(ctx context.Context, organizationID int64, contentTypes []string, dateRange *models.DateRange, maxRecords int) ([]ContentRecord, error)
}

type ProviderDirectory interface {
	GetProviderBySlug(ctx context.Context, slug string) (*models.Provider, error)
}

type ConsentReader interface {
	Get(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	jobs      JobStore
	contents  ContentSource
	providers ProviderDirectory
	consents  ConsentReader
	engine    *anonymize.Engine
	artifacts artifacts.Store
	producer  Publisher
	baseURL   string
	ttl       time.Duration
	recordCap int
	now       func() time.Time
	dispatch  func(func())

	mu         sync.Mutex
	stats      models.ExportStats
	totalBytes int64
}

func NewService(jobs JobStore, contents ContentSource, providers ProviderDirectory, consents ConsentReader, engine *anonymize.Engine, store artifacts.Store, producer Publisher, baseURL string, ttl time.Duration, recordCap int) *Service {
	return &Service{
		jobs:      jobs,
		contents:  contents,
		providers: providers,
		consents:  consents,
		engine:    engine,
		artifacts: store,
		producer:  producer,
		baseURL:   baseURL,
		ttl:       ttl,
		recordCap: recordCap,
		now:       time.Now,
		dispatch:  func(fn func()) { go fn() },
		stats: models.ExportStats{
			ByProvider: make(map[string]int64),
			ByFormat:   make(map[string]int64),
		},
	}
}

// CreateExport validates the config, registers a pending job and returns it
// immediately. The collection and formatting work happens in the background;
// callers poll the job id.
func (s *Service) CreateExport(ctx context.Context, cfg models.ExportConfig) (*models.ExportJob, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.IncludeConsent {
		if err := s.requireConsent(ctx, cfg); err != nil {
			return nil, err
		}
	}

	// Server-side cap: unbounded requests and requests above the cap are
	// clamped rather than rejected.
	if s.recordCap > 0 && (cfg.MaxRecords <= 0 || cfg.MaxRecords > s.recordCap) {
		cfg.MaxRecords = s.recordCap
	}

	created := s.now().UTC()
	job := &models.ExportJob{
		ID:        uuid.New().String(),
		Provider:  cfg.Provider,
		Format:    cfg.Format,
		Status:    StatusPending,
		CreatedAt: created,
		ExpiresAt: created.Add(s.ttl),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.dispatch(func() { s.process(job.ID, job.ExpiresAt, cfg) })
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*models.ExportJob, error) {
	return s.jobs.Get(ctx, id)
}

// Download returns the artifact bytes for a completed job.
func (s *Service) Download(ctx context.Context, id string) (string, []byte, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if job.Status != StatusCompleted {
		return "", nil, fmt.Errorf("export %s is %s, not completed", id, job.Status)
	}
	return s.artifacts.Get(ctx, "export:"+id)
}

// CleanupExpired removes jobs past their expiry. Removing an id that another
// sweep already deleted is a no-op, so concurrent calls are safe.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.jobs.DeleteExpired(ctx, s.now().UTC())
}

// Trends buckets jobs by calendar day over the trailing window. Read-only.
func (s *Service) Trends(ctx context.Context, days int) (*models.ExportTrends, error) {
	if days <= 0 {
		days = 7
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -(days - 1))

	jobs, err := s.jobs.ListSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*models.ExportTrendPoint, days)
	trends := &models.ExportTrends{
		Days:       days,
		ByProvider: make(map[string]int),
		ByFormat:   make(map[string]int),
	}
	for offset := 0; offset < days; offset++ {
		date := cutoff.AddDate(0, 0, offset).Format("2006-01-02")
		point := &models.ExportTrendPoint{Date: date}
		buckets[date] = point
	}
	for _, job := range jobs {
		point, ok := buckets[job.CreatedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		switch job.Status {
		case StatusCompleted:
			point.Completed++
		case StatusFailed:
			point.Failed++
		default:
			point.Pending++
		}
		trends.ByProvider[job.Provider]++
		trends.ByFormat[job.Format]++
	}
	for offset := 0; offset < days; offset++ {
		date := cutoff.AddDate(0, 0, offset).Format("2006-01-02")
		trends.Daily = append(trends.Daily, *buckets[date])
	}
	return trends, nil
}

// Stats returns a snapshot of the incrementally maintained counters.
func (s *Service) Stats() models.ExportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.stats
	snapshot.ByProvider = make(map[string]int64, len(s.stats.ByProvider))
	for k, v := range s.stats.ByProvider {
		snapshot.ByProvider[k] = v
	}
	snapshot.ByFormat = make(map[string]int64, len(s.stats.ByFormat))
	for k, v := range s.stats.ByFormat {
		snapshot.ByFormat[k] = v
	}
	return snapshot
}

func (s *Service) process(jobID string, expiresAt time.Time, cfg models.ExportConfig) {
	ctx := context.Background()
	if err := s.jobs.MarkProcessing(ctx, jobID); err != nil {
		logger.Log.WithError(err).Error("failed to mark export processing")
	}

	records, err := s.contents.Collect(ctx, cfg.OrganizationID, cfg.ContentTypes, cfg.DateRange, cfg.MaxRecords)
	if err != nil {
		s.failJob(ctx, jobID, cfg, fmt.Errorf("content collection failed: %w", err))
		return
	}

	policy := s.policyFor(ctx, cfg)
	exportRecords := make([]exportRecord, 0, len(records))
	for _, rec := range records {
		result := s.engine.Anonymize(rec.Content, policy)
		out := exportRecord{
			Type:      rec.Type,
			ID:        rec.ID,
			Content:   result.Content,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if cfg.IncludeMetadata {
			out.Metadata = map[string]interface{}{
				"anonymization_level": result.Level,
				"removed_elements":    len(result.RemovedElements),
			}
		}
		exportRecords = append(exportRecords, out)
	}

	body, contentType, err := formatRecords(cfg.Format, exportRecords)
	if err != nil {
		s.failJob(ctx, jobID, cfg, fmt.Errorf("formatting failed: %w", err))
		return
	}

	ttl := expiresAt.Sub(s.now())
	if err := s.artifacts.Put(ctx, "export:"+jobID, contentType, body, ttl); err != nil {
		s.failJob(ctx, jobID, cfg, fmt.Errorf("artifact write failed: %w", err))
		return
	}

	downloadURL := fmt.Sprintf("%s/api/exports/download/%s", s.baseURL, jobID)
	if err := s.jobs.Complete(ctx, jobID, len(exportRecords), int64(len(body)), downloadURL); err != nil {
		logger.Log.WithError(err).Error("failed to mark export complete")
		return
	}

	s.recordSuccess(cfg, len(exportRecords), int64(len(body)))
	metrics.IncExportCompleted()
	metrics.AddRecordsExported(len(exportRecords))
	metrics.AddArtifactBytes(int64(len(body)))
	s.publish(ctx, "export_completed", map[string]interface{}{
		"export_id":    jobID,
		"provider":     cfg.Provider,
		"format":       cfg.Format,
		"record_count": len(exportRecords),
	})
}

func (s *Service) failJob(ctx context.Context, jobID string, cfg models.ExportConfig, err error) {
	logger.Log.WithError(err).WithField("export_id", jobID).Error("export job failed")
	if updateErr := s.jobs.Fail(ctx, jobID, err.Error()); updateErr != nil {
		logger.Log.WithError(updateErr).Error("failed to mark export failed")
	}
	s.recordFailure(cfg)
	metrics.IncExportFailed()
}

func (s *Service) recordSuccess(cfg models.ExportConfig, recordCount int, fileSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalExports++
	s.stats.SuccessfulExports++
	s.stats.TotalRecordsExported += int64(recordCount)
	s.stats.ByProvider[cfg.Provider]++
	s.stats.ByFormat[cfg.Format]++
	s.totalBytes += fileSize
	s.stats.AverageExportSize = float64(s.totalBytes) / float64(s.stats.SuccessfulExports)
}

func (s *Service) recordFailure(cfg models.ExportConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalExports++
	s.stats.FailedExports++
	s.stats.ByProvider[cfg.Provider]++
	s.stats.ByFormat[cfg.Format]++
}

func (s *Service) requireConsent(ctx context.Context, cfg models.ExportConfig) error {
	provider, err := s.providers.GetProviderBySlug(ctx, cfg.Provider)
	if err != nil {
		return ErrConsentRequired
	}
	grant, err := s.consents.Get(ctx, cfg.OrganizationID, provider.ID)
	if err != nil || !grant.HasConsent {
		return ErrConsentRequired
	}
	return nil
}

// policyFor resolves the organization's data scope for the target provider,
// falling back to the engine defaults when no usable grant exists.
func (s *Service) policyFor(ctx context.Context, cfg models.ExportConfig) models.DataScopePolicy {
	if s.providers == nil || s.consents == nil {
		return anonymize.DefaultPolicy()
	}
	provider, err := s.providers.GetProviderBySlug(ctx, cfg.Provider)
	if err != nil {
		return anonymize.DefaultPolicy()
	}
	grant, err := s.consents.Get(ctx, cfg.OrganizationID, provider.ID)
	if err != nil || !grant.HasConsent {
		return anonymize.DefaultPolicy()
	}
	return anonymize.EffectivePolicy(grant.DataScope)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "export-service", data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish export event")
	}
}

func validateConfig(cfg models.ExportConfig) error {
	if cfg.Provider == "" {
		return validationErrorf(errors.New("provider is required"))
	}
	if _, ok := supportedFormats[cfg.Format]; !ok {
		return validationErrorf(fmt.Errorf("unsupported format %q: must be one of json, csv, jsonl, txt", cfg.Format))
	}
	if len(cfg.ContentTypes) == 0 {
		return validationErrorf(errors.New("at least one content type is required"))
	}
	if cfg.MaxRecords < 0 {
		return validationErrorf(errors.New("max_records must not be negative"))
	}
	if cfg.DateRange != nil && !cfg.DateRange.Start.Before(cfg.DateRange.End) {
		return validationErrorf(errors.New("date_range start must be before end"))
	}
	return nil
}
