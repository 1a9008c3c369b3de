package consent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrConsentNotFound  = errors.New("consent record not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&consentModel{}, &providerModel{})
}

func (r *Repository) GetProvider(ctx context.Context, providerID int64) (*models.Provider, error) {
	var provider providerModel
	result := r.db.WithContext(ctx).First(&provider, "id = ?", providerID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return providerToDomain(&provider), nil
}

func (r *Repository) GetProviderBySlug(ctx context.Context, slug string) (*models.Provider, error) {
	var provider providerModel
	result := r.db.WithContext(ctx).First(&provider, "slug = ?", slug)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return providerToDomain(&provider), nil
}

func (r *Repository) ListActiveProviders(ctx context.Context) ([]models.Provider, error) {
	var rows []providerModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	providers := make([]models.Provider, 0, len(rows))
	for i := range rows {
		providers = append(providers, *providerToDomain(&rows[i]))
	}
	return providers, nil
}

func (r *Repository) Upsert(ctx context.Context, rec *models.ConsentRecord) error {
	scope, err := json.Marshal(rec.DataScope)
	if err != nil {
		return err
	}
	model := consentModel{
		OrganizationID: rec.OrganizationID,
		ProviderID:     rec.ProviderID,
		HasConsent:     rec.HasConsent,
		ConsentDate:    rec.ConsentDate,
		ConsentVersion: rec.ConsentVersion,
		DataScope:      datatypes.JSON(scope),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"has_consent", "consent_date", "consent_version", "data_scope", "updated_at",
		}),
	}).Create(&model).Error
}

func (r *Repository) Get(ctx context.Context, organizationID, providerID int64) (*models.ConsentRecord, error) {
	var model consentModel
	result := r.db.WithContext(ctx).
		First(&model, "organization_id = ? AND provider_id = ?", organizationID, providerID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrConsentNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return consentToDomain(&model), nil
}

func (r *Repository) ListByOrganization(ctx context.Context, organizationID int64) ([]models.ConsentRecord, error) {
	var rows []consentModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("provider_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]models.ConsentRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *consentToDomain(&rows[i]))
	}
	return records, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&consentModel{}).Count(&count).Error
	return count, err
}

func (r *Repository) DeleteByOrganization(ctx context.Context, organizationID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Delete(&consentModel{})
	return result.RowsAffected, result.Error
}

func consentToDomain(model *consentModel) *models.ConsentRecord {
	rec := models.ConsentRecord{
		OrganizationID: model.OrganizationID,
		ProviderID:     model.ProviderID,
		HasConsent:     model.HasConsent,
		ConsentDate:    model.ConsentDate,
		ConsentVersion: model.ConsentVersion,
		CreatedAt:      model.CreatedAt,
	}
	if len(model.DataScope) > 0 {
		_ = json.Unmarshal(model.DataScope, &rec.DataScope)
	}
	return &rec
}

func providerToDomain(model *providerModel) *models.Provider {
	return &models.Provider{
		ID:     model.ID,
		Name:   model.Name,
		Slug:   model.Slug,
		Active: model.Active,
	}
}

type seedProvider struct {
	Name      string `yaml:"name"`
	Slug      string `yaml:"slug"`
	APIKeyEnv string `yaml:"api_key_env"`
	Active    *bool  `yaml:"active"`
}

type seedFile struct {
	Providers []seedProvider `yaml:"providers"`
}

// SeedProviders upserts the AI provider catalog from a YAML file. The API key
// itself never lands in the database, only the env var name that holds it.
func (r *Repository) SeedProviders(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return 0, err
	}

	seeded := 0
	for _, p := range seed.Providers {
		if p.Slug == "" {
			continue
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		model := providerModel{
			Name:      p.Name,
			Slug:      p.Slug,
			APIKeyEnv: p.APIKeyEnv,
			Active:    active,
			CreatedAt: time.Now().UTC(),
		}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "api_key_env", "active"}),
		}).Create(&model).Error
		if err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
