package anonymize

import (
	"encoding/json"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type recordModel struct {
	ID                 string         `gorm:"primaryKey;column:id"`
	OrganizationID     int64          `gorm:"column:organization_id;index"`
	ProviderID         int64          `gorm:"column:provider_id;index"`
	UserID             int64          `gorm:"column:user_id;index"`
	ThreadID           int64          `gorm:"column:thread_id"`
	PostID             int64          `gorm:"column:post_id"`
	DataType           string         `gorm:"column:data_type"`
	ModelName          string         `gorm:"column:model_name"`
	Content            string         `gorm:"column:content"`
	ConsentVersion     string         `gorm:"column:consent_version"`
	AnonymizationLevel string         `gorm:"column:anonymization_level"`
	RemovedElements    datatypes.JSON `gorm:"column:removed_elements"`
	PreservedElements  datatypes.JSON `gorm:"column:preserved_elements"`
	Exported           bool           `gorm:"column:exported"`
	ExportedAt         *time.Time     `gorm:"column:exported_at"`
	CreatedAt          time.Time      `gorm:"column:created_at"`
}

func (recordModel) TableName() string {
	return "anonymized_records"
}

func recordToDomain(model *recordModel) *models.AnonymizedRecord {
	rec := models.AnonymizedRecord{
		ID:                 model.ID,
		OrganizationID:     model.OrganizationID,
		ProviderID:         model.ProviderID,
		UserID:             model.UserID,
		ThreadID:           model.ThreadID,
		PostID:             model.PostID,
		DataType:           model.DataType,
		ModelName:          model.ModelName,
		Content:            model.Content,
		ConsentVersion:     model.ConsentVersion,
		AnonymizationLevel: model.AnonymizationLevel,
		Exported:           model.Exported,
		ExportedAt:         model.ExportedAt,
		CreatedAt:          model.CreatedAt,
	}
	if len(model.RemovedElements) > 0 {
		_ = json.Unmarshal(model.RemovedElements, &rec.RemovedElements)
	}
	if len(model.PreservedElements) > 0 {
		_ = json.Unmarshal(model.PreservedElements, &rec.PreservedElements)
	}
	return &rec
}

func recordFromDomain(rec *models.AnonymizedRecord) (*recordModel, error) {
	removed, err := json.Marshal(rec.RemovedElements)
	if err != nil {
		return nil, err
	}
	preserved, err := json.Marshal(rec.PreservedElements)
	if err != nil {
		return nil, err
	}
	return &recordModel{
		ID:                 rec.ID,
		OrganizationID:     rec.OrganizationID,
		ProviderID:         rec.ProviderID,
		UserID:             rec.UserID,
		ThreadID:           rec.ThreadID,
		PostID:             rec.PostID,
		DataType:           rec.DataType,
		ModelName:          rec.ModelName,
		Content:            rec.Content,
		ConsentVersion:     rec.ConsentVersion,
		AnonymizationLevel: rec.AnonymizationLevel,
		RemovedElements:    datatypes.JSON(removed),
		PreservedElements:  datatypes.JSON(preserved),
		Exported:           rec.Exported,
		ExportedAt:         rec.ExportedAt,
		CreatedAt:          rec.CreatedAt,
	}, nil
}
