package consent

import (
	"context"
	"errors"
	"time"

	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/common/models"
	"github.com/geofora/platform/pkg/observability/metrics"
)

// Store is the persistence surface the service needs. Implemented by
// *Repository for postgres and by in-memory fakes in tests.
type Store interface {
	GetProvider(ctx context.Context, providerID int64) (*models.Provider, error)
	ListActiveProviders(ctx context.Context) ([]models.Provider, error)
	Upsert(ctx context.Context, rec *models.ConsentRecord) error
	Get(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error)
	ListByOrganization(ctx context.Context, organizationID int64) ([]models.ConsentRecord, error)
}

// Cascade removes anonymized records that were never exported when an
// organization revokes consent. Exported rows stay behind as an audit trail.
type Cascade interface {
	DeleteUnexported(ctx context.Context, organizationID, providerID int64) (int64, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	store         Store
	cascade       Cascade
	producer      Publisher
	policyVersion string
	now           func() time.Time
}

func NewService(store Store, cascade Cascade, producer Publisher, policyVersion string) *Service {
	return &Service{
		store:         store,
		cascade:       cascade,
		producer:      producer,
		policyVersion: policyVersion,
		now:           time.Now,
	}
}

func (s *Service) Grant(ctx context.Context, req models.GrantConsentRequest) (*models.ConsentRecord, error) {
	provider, err := s.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.Active {
		return nil, ErrProviderNotFound
	}

	scope := DefaultDataScope(TierStarter)
	if req.DataScope != nil {
		scope = *req.DataScope
	}
	version := req.ConsentVersion
	if version == "" {
		version = s.policyVersion
	}

	granted := s.now().UTC()
	rec := &models.ConsentRecord{
		OrganizationID: req.OrganizationID,
		ProviderID:     req.ProviderID,
		HasConsent:     true,
		ConsentDate:    &granted,
		ConsentVersion: version,
		DataScope:      scope,
		CreatedAt:      granted,
	}
	if existing, err := s.store.Get(ctx, req.OrganizationID, req.ProviderID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	metrics.IncConsentGranted()
	s.publish(ctx, "consent_granted", map[string]interface{}{
		"organization_id": req.OrganizationID,
		"provider_id":     req.ProviderID,
		"consent_version": version,
	})
	return rec, nil
}

// Revoke flips has_consent off and stamps the revocation time. It keeps the
// row so consent history stays retrievable, and it is idempotent.
func (s *Service) Revoke(ctx context.Context, organizationID, providerID int64) error {
	rec, err := s.store.Get(ctx, organizationID, providerID)
	if errors.Is(err, ErrConsentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	revoked := s.now().UTC()
	rec.HasConsent = false
	rec.ConsentDate = &revoked
	if err := s.store.Upsert(ctx, rec); err != nil {
		return err
	}
	metrics.IncConsentRevoked()

	if s.cascade != nil {
		deleted, err := s.cascade.DeleteUnexported(ctx, organizationID, providerID)
		if err != nil {
			logger.Log.WithError(err).Error("failed to purge unexported anonymized records")
		} else if deleted > 0 {
			logger.Log.WithFields(map[string]interface{}{
				"organization_id": organizationID,
				"provider_id":     providerID,
				"deleted":         deleted,
			}).Info("Purged unexported anonymized records after revocation")
		}
	}

	s.publish(ctx, "consent_revoked", map[string]interface{}{
		"organization_id": organizationID,
		"provider_id":     providerID,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error) {
	return s.store.Get(ctx, organizationID, providerID)
}

func (s *Service) ListOrganization(ctx context.Context, organizationID int64) ([]models.ConsentRecord, error) {
	return s.store.ListByOrganization(ctx, organizationID)
}

func (s *Service) ProvidersWithConsent(ctx context.Context, organizationID int64) ([]int64, error) {
	records, err := s.store.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		if rec.HasConsent {
			ids = append(ids, rec.ProviderID)
		}
	}
	return ids, nil
}

// Validate checks the full consent contract: the grant exists, is still on,
// was given for the current policy version, and has not outlived its
// retention period. Expiry is computed here on read; nothing sweeps stale rows.
func (s *Service) Validate(ctx context.Context, organizationID, providerID int64) bool {
	rec, err := s.store.Get(ctx, organizationID, providerID)
	if err != nil {
		return false
	}
	if !rec.HasConsent || rec.ConsentDate == nil {
		return false
	}
	if rec.ConsentVersion != s.policyVersion {
		return false
	}
	expiry := rec.ConsentDate.AddDate(0, 0, rec.DataScope.RetentionPeriodDays)
	return !s.now().After(expiry)
}

func (s *Service) ComplianceReport(ctx context.Context, organizationID int64) (*models.ConsentComplianceReport, error) {
	records, err := s.store.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	providers, err := s.store.ListActiveProviders(ctx)
	if err != nil {
		return nil, err
	}

	consented := 0
	for _, rec := range records {
		if rec.HasConsent {
			consented++
		}
	}
	rate := 0.0
	if len(providers) > 0 {
		rate = float64(consented) / float64(len(providers))
	}

	return &models.ConsentComplianceReport{
		OrganizationID:  organizationID,
		Consents:        records,
		ActiveProviders: len(providers),
		ConsentedCount:  consented,
		ConsentRate:     rate,
		GeneratedAt:     s.now().UTC(),
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "consent-service", data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish consent event")
	}
}
