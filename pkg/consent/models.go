package consent

import (
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/datatypes"
)

const (
	TierStarter    = "starter"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

type consentModel struct {
	OrganizationID int64          `gorm:"primaryKey;column:organization_id"`
	ProviderID     int64          `gorm:"primaryKey;column:provider_id"`
	HasConsent     bool           `gorm:"column:has_consent"`
	ConsentDate    *time.Time     `gorm:"column:consent_date"`
	ConsentVersion string         `gorm:"column:consent_version"`
	DataScope      datatypes.JSON `gorm:"column:data_scope"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (consentModel) TableName() string {
	return "ai_provider_consents"
}

type providerModel struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Name      string    `gorm:"column:name"`
	Slug      string    `gorm:"column:slug;uniqueIndex"`
	APIKeyEnv string    `gorm:"column:api_key_env"`
	Active    bool      `gorm:"column:active"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (providerModel) TableName() string {
	return "ai_providers"
}

// DefaultDataScope returns the canned policy for a subscription tier. Unknown
// tiers fall back to starter.
func DefaultDataScope(tier string) models.DataScopePolicy {
	switch tier {
	case TierEnterprise:
		return models.DataScopePolicy{
			RemovePersonalInfo:      true,
			RemoveBusinessSpecifics: false,
			RemoveTimestamps:        true,
			RemoveUserIDs:           true,
			RemoveURLs:              true,
			PreserveStructure:       true,
			AllowedDataTypes:        []string{"questions", "answers", "conversations", "metadata"},
			RetentionPeriodDays:     730,
		}
	case TierPro:
		return models.DataScopePolicy{
			RemovePersonalInfo:      true,
			RemoveBusinessSpecifics: true,
			RemoveTimestamps:        true,
			RemoveUserIDs:           true,
			RemoveURLs:              true,
			PreserveStructure:       true,
			AllowedDataTypes:        []string{"questions", "answers", "conversations"},
			RetentionPeriodDays:     365,
		}
	default:
		return models.DataScopePolicy{
			RemovePersonalInfo:      true,
			RemoveBusinessSpecifics: true,
			RemoveTimestamps:        true,
			RemoveUserIDs:           true,
			RemoveURLs:              true,
			PreserveStructure:       true,
			AllowedDataTypes:        []string{"questions", "answers"},
			RetentionPeriodDays:     180,
		}
	}
}
