package anonymize

import (
	"context"
	"errors"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("anonymized record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&recordModel{})
}

func (r *Repository) Create(ctx context.Context, rec *models.AnonymizedRecord) error {
	model, err := recordFromDomain(rec)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*models.AnonymizedRecord, error) {
	var model recordModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return recordToDomain(&model), nil
}

func (r *Repository) ListUnexported(ctx context.Context, organizationID int64, dateRange *models.DateRange) ([]models.AnonymizedRecord, error) {
	query := r.db.WithContext(ctx).
		Where("organization_id = ? AND exported = ?", organizationID, false).
		Order("created_at")
	if dateRange != nil {
		query = query.Where("created_at >= ? AND created_at < ?", dateRange.Start, dateRange.End)
	}
	var rows []recordModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]models.AnonymizedRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *recordToDomain(&rows[i]))
	}
	return records, nil
}

// MarkExported flips the exported flag. The exported = false guard keeps the
// flip one-way: a row already exported is left untouched.
func (r *Repository) MarkExported(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&recordModel{}).
		Where("id = ? AND exported = ?", id, false).
		Updates(map[string]interface{}{
			"exported":    true,
			"exported_at": at,
		}).Error
}

func (r *Repository) DeleteUnexported(ctx context.Context, organizationID, providerID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("organization_id = ? AND provider_id = ? AND exported = ?", organizationID, providerID, false).
		Delete(&recordModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]models.AnonymizedRecord, error) {
	var rows []recordModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]models.AnonymizedRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *recordToDomain(&rows[i]))
	}
	return records, nil
}

func (r *Repository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&recordModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&recordModel{}).Count(&count).Error
	return count, err
}

func (r *Repository) CountByOrganization(ctx context.Context, organizationID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&recordModel{}).
		Where("organization_id = ?", organizationID).
		Count(&count).Error
	return count, err
}
