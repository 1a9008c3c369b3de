package privacy

import (
	"errors"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
)

const (
	RequestAccess        = "access"
	RequestRectification = "rectification"
	RequestErasure       = "erasure"
	RequestPortability   = "portability"
	RequestRestriction   = "restriction"
	RequestObjection     = "objection"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	BreachInvestigating = "investigating"
	BreachContained     = "contained"
	BreachResolved      = "resolved"
)

var (
	ErrRequestNotFound = errors.New("gdpr request not found")
	ErrBreachNotFound  = errors.New("breach report not found")
	ErrUserNotFound    = errors.New("user not found")
)

// ValidationError marks request problems the caller must fix and resubmit.
type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func validationErrorf(reason error) error {
	return ValidationError{reason: reason}
}

func terminal(status string) bool {
	return status == StatusCompleted || status == StatusRejected
}

type userModel struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Email     string    `gorm:"column:email;uniqueIndex"`
	Name      string    `gorm:"column:name"`
	Company   string    `gorm:"column:company"`
	Plan      string    `gorm:"column:plan"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userModel) TableName() string {
	return "users"
}

type usageLogModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64          `gorm:"column:user_id;index"`
	Action    string         `gorm:"column:action"`
	Details   datatypes.JSON `gorm:"column:details"`
	Timestamp time.Time      `gorm:"column:timestamp"`
}

func (usageLogModel) TableName() string {
	return "usage_logs"
}

type settingsModel struct {
	UserID    int64          `gorm:"primaryKey;column:user_id"`
	Settings  datatypes.JSON `gorm:"column:settings"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (settingsModel) TableName() string {
	return "privacy_settings"
}

type gdprRequestModel struct {
	ID              string         `gorm:"primaryKey;column:id"`
	UserID          int64          `gorm:"column:user_id;index"`
	Type            string         `gorm:"column:type"`
	Status          string         `gorm:"column:status;index"`
	Description     string         `gorm:"column:description"`
	RequestedAt     time.Time      `gorm:"column:requested_at"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
	ResponseData    datatypes.JSON `gorm:"column:response_data"`
	RejectionReason string         `gorm:"column:rejection_reason"`
}

func (gdprRequestModel) TableName() string {
	return "gdpr_requests"
}

type breachModel struct {
	ID                string         `gorm:"primaryKey;column:id"`
	Severity          string         `gorm:"column:severity"`
	Description       string         `gorm:"column:description"`
	AffectedUsers     datatypes.JSON `gorm:"column:affected_users"`
	DataTypes         datatypes.JSON `gorm:"column:data_types"`
	Status            string         `gorm:"column:status;index"`
	NotificationsSent bool           `gorm:"column:notifications_sent"`
	Actions           datatypes.JSON `gorm:"column:actions"`
	ReportedAt        time.Time      `gorm:"column:reported_at"`
}

func (breachModel) TableName() string {
	return "data_breach_reports"
}

type auditModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64          `gorm:"column:user_id;index"`
	Action    string         `gorm:"column:action"`
	Resource  string         `gorm:"column:resource"`
	Details   datatypes.JSON `gorm:"column:details"`
	Timestamp time.Time      `gorm:"column:timestamp"`
}

func (auditModel) TableName() string {
	return "privacy_audit_logs"
}

// DefaultSettings is what a user gets before they have touched any toggle:
// first-party processing on, marketing and research off.
func DefaultSettings(userID int64, at time.Time) *models.PrivacySettings {
	return &models.PrivacySettings{
		UserID:      userID,
		DataSharing: false,
		DataProcessing: models.DataProcessingSettings{
			Analytics:       true,
			Personalization: true,
			Marketing:       false,
			Research:        false,
		},
		DataRetention: models.DataRetentionSettings{
			AccountDataDays:  730,
			ActivityDataDays: 365,
			AnalyticsDays:    180,
		},
		DataPortability: true,
		DataDeletion:    true,
		Notifications: models.NotificationSettings{
			PolicyChanges:   true,
			DataExports:     true,
			SecurityAlerts:  true,
			BreachDisclosed: true,
		},
		UpdatedAt: at,
	}
}

// SettingsPatch carries only the fields the caller wants changed; nil fields
// keep their current value.
type SettingsPatch struct {
	DataSharing     *bool                          `json:"data_sharing,omitempty"`
	DataProcessing  *models.DataProcessingSettings `json:"data_processing,omitempty"`
	DataRetention   *models.DataRetentionSettings  `json:"data_retention,omitempty"`
	DataPortability *bool                          `json:"data_portability,omitempty"`
	DataDeletion    *bool                          `json:"data_deletion,omitempty"`
	Notifications   *models.NotificationSettings   `json:"notifications,omitempty"`
}
