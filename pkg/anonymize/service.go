package anonymize

import (
	"context"
	"errors"
	"time"

	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/common/models"
	"github.com/geofora/platform/pkg/consent"
	"github.com/google/uuid"
)

var ErrNoConsent = errors.New("organization has not consented to this provider")

// ConsentReader is the slice of the consent store this service needs.
type ConsentReader interface {
	Get(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error)
}

type RecordStore interface {
	Create(ctx context.Context, rec *models.AnonymizedRecord) error
	Get(ctx context.Context, id string) (*models.AnonymizedRecord, error)
	ListUnexported(ctx context.Context, organizationID int64, dateRange *models.DateRange) ([]models.AnonymizedRecord, error)
	MarkExported(ctx context.Context, id string, at time.Time) error
	DeleteUnexported(ctx context.Context, organizationID, providerID int64) (int64, error)
}

type Service struct {
	consents ConsentReader
	store    RecordStore
	engine   *Engine
	now      func() time.Time
}

func NewService(consents ConsentReader, store RecordStore, engine *Engine) *Service {
	return &Service{
		consents: consents,
		store:    store,
		engine:   engine,
		now:      time.Now,
	}
}

// AnonymizeContent redacts one piece of content under the organization's
// stored data scope and persists the result. Only the has_consent flag is
// checked here; version and retention expiry are deliberately not re-validated
// on this path.
func (s *Service) AnonymizeContent(ctx context.Context, req models.AnonymizeRequest) (*models.AnonymizedRecord, error) {
	grant, err := s.consentFor(ctx, req.OrganizationID, req.ProviderID)
	if err != nil {
		return nil, err
	}

	policy := EffectivePolicy(grant.DataScope)
	result := s.engine.Anonymize(req.Content, policy)

	rec := &models.AnonymizedRecord{
		ID:                 uuid.New().String(),
		OrganizationID:     req.OrganizationID,
		ProviderID:         req.ProviderID,
		UserID:             req.UserID,
		ThreadID:           req.ThreadID,
		PostID:             req.PostID,
		DataType:           req.DataType,
		ModelName:          req.ModelName,
		Content:            result.Content,
		ConsentVersion:     grant.ConsentVersion,
		AnonymizationLevel: result.Level,
		RemovedElements:    result.RemovedElements,
		PreservedElements:  result.PreservedElements,
		Exported:           false,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ExportData hands back every unexported record for the organization and
// stamps each one exported. Rows are flipped one at a time; the snapshot the
// caller receives is the pre-flip state.
func (s *Service) ExportData(ctx context.Context, organizationID, providerID int64, dateRange *models.DateRange) ([]models.AnonymizedRecord, error) {
	if _, err := s.consentFor(ctx, organizationID, providerID); err != nil {
		return nil, err
	}

	records, err := s.store.ListUnexported(ctx, organizationID, dateRange)
	if err != nil {
		return nil, err
	}

	exportedAt := s.now().UTC()
	for _, rec := range records {
		if err := s.store.MarkExported(ctx, rec.ID, exportedAt); err != nil {
			logger.Log.WithError(err).WithField("record_id", rec.ID).Error("failed to mark record exported")
		}
	}
	return records, nil
}

// DeleteUnexported implements the consent revocation cascade.
func (s *Service) DeleteUnexported(ctx context.Context, organizationID, providerID int64) (int64, error) {
	return s.store.DeleteUnexported(ctx, organizationID, providerID)
}

// consentFor maps a missing grant to ErrNoConsent but lets infrastructure
// errors through untouched, so a store outage is not reported as a denial.
func (s *Service) consentFor(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error) {
	grant, err := s.consents.Get(ctx, organizationID, providerID)
	if errors.Is(err, consent.ErrConsentNotFound) {
		return nil, ErrNoConsent
	}
	if err != nil {
		return nil, err
	}
	if !grant.HasConsent {
		return nil, ErrNoConsent
	}
	return grant, nil
}

// EffectivePolicy falls back to the engine defaults when the stored scope is
// empty, which happens for grants recorded before data scopes existed.
func EffectivePolicy(scope models.DataScopePolicy) models.DataScopePolicy {
	if isZeroPolicy(scope) {
		return DefaultPolicy()
	}
	return scope
}

func isZeroPolicy(scope models.DataScopePolicy) bool {
	return !scope.RemovePersonalInfo &&
		!scope.RemoveBusinessSpecifics &&
		!scope.RemoveTimestamps &&
		!scope.RemoveUserIDs &&
		!scope.RemoveURLs &&
		!scope.PreserveStructure &&
		len(scope.MaskKeywords) == 0 &&
		len(scope.AllowedDataTypes) == 0 &&
		scope.RetentionPeriodDays == 0
}
