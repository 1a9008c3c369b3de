package export

import (
	"context"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/gorm"
)

type contentModel struct {
	ID             int64     `gorm:"primaryKey;column:id"`
	OrganizationID int64     `gorm:"column:organization_id;index"`
	UserID         int64     `gorm:"column:user_id;index"`
	ThreadID       int64     `gorm:"column:thread_id"`
	Type           string    `gorm:"column:type"` // questions, answers, conversations
	Content        string    `gorm:"column:content"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (contentModel) TableName() string {
	return "forum_contents"
}

// ContentRepository reads the forum content rows an export pulls from.
type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&contentModel{})
}

// Collect gathers rows per content type. A failing type fails the whole
// collection; exports never produce partial files.
func (r *ContentRepository) Collect(ctx context.Context, organizationID int64, contentTypes []string, dateRange *models.DateRange, maxRecords int) ([]ContentRecord, error) {
	var collected []ContentRecord
	for _, contentType := range contentTypes {
		if maxRecords > 0 && len(collected) >= maxRecords {
			break
		}
		query := r.db.WithContext(ctx).
			Where("organization_id = ? AND type = ?", organizationID, contentType).
			Order("created_at")
		if dateRange != nil {
			query = query.Where("created_at >= ? AND created_at < ?", dateRange.Start, dateRange.End)
		}
		if maxRecords > 0 {
			query = query.Limit(maxRecords - len(collected))
		}
		var rows []contentModel
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			collected = append(collected, ContentRecord{
				ID:        row.ID,
				Type:      row.Type,
				Content:   row.Content,
				CreatedAt: row.CreatedAt,
				UpdatedAt: row.UpdatedAt,
			})
		}
	}
	return collected, nil
}
