package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // consent, content, export, privacy, breach
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Consent
type DataScopePolicy struct {
	RemovePersonalInfo      bool     `json:"remove_personal_info"`
	RemoveBusinessSpecifics bool     `json:"remove_business_specifics"`
	RemoveTimestamps        bool     `json:"remove_timestamps"`
	RemoveUserIDs           bool     `json:"remove_user_ids"`
	RemoveURLs              bool     `json:"remove_urls"`
	PreserveStructure       bool     `json:"preserve_structure"`
	MaskKeywords            []string `json:"mask_keywords,omitempty"`
	AllowedDataTypes        []string `json:"allowed_data_types"`
	RetentionPeriodDays     int      `json:"retention_period_days"`
}

type ConsentRecord struct {
	OrganizationID int64           `json:"organization_id"`
	ProviderID     int64           `json:"provider_id"`
	HasConsent     bool            `json:"has_consent"`
	ConsentDate    *time.Time      `json:"consent_date,omitempty"`
	ConsentVersion string          `json:"consent_version"`
	DataScope      DataScopePolicy `json:"data_scope"`
	CreatedAt      time.Time       `json:"created_at"`
}

type GrantConsentRequest struct {
	OrganizationID int64            `json:"organization_id"`
	ProviderID     int64            `json:"provider_id"`
	DataScope      *DataScopePolicy `json:"data_scope,omitempty"`
	ConsentVersion string           `json:"consent_version"`
}

type ConsentComplianceReport struct {
	OrganizationID  int64           `json:"organization_id"`
	Consents        []ConsentRecord `json:"consents"`
	ActiveProviders int             `json:"active_providers"`
	ConsentedCount  int             `json:"consented_count"`
	ConsentRate     float64         `json:"consent_rate"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

type Provider struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active bool   `json:"active"`
}

// Anonymization
type AnonymizeRequest struct {
	Content        string `json:"content"`
	OrganizationID int64  `json:"organization_id"`
	DataType       string `json:"data_type"` // question, answer, conversation
	ProviderID     int64  `json:"provider_id"`
	UserID         int64  `json:"user_id,omitempty"`
	ThreadID       int64  `json:"thread_id,omitempty"`
	PostID         int64  `json:"post_id,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
}

type AnonymizedRecord struct {
	ID                 string     `json:"id"`
	OrganizationID     int64      `json:"organization_id"`
	ProviderID         int64      `json:"provider_id"`
	UserID             int64      `json:"user_id,omitempty"`
	ThreadID           int64      `json:"thread_id,omitempty"`
	PostID             int64      `json:"post_id,omitempty"`
	DataType           string     `json:"data_type"`
	ModelName          string     `json:"model_name,omitempty"`
	Content            string     `json:"content"`
	ConsentVersion     string     `json:"consent_version"`
	AnonymizationLevel string     `json:"anonymization_level"` // basic, standard, strict
	RemovedElements    []string   `json:"removed_elements"`
	PreservedElements  []string   `json:"preserved_elements"`
	Exported           bool       `json:"exported"`
	ExportedAt         *time.Time `json:"exported_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Exports
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ExportConfig struct {
	Provider           string     `json:"provider"`
	Format             string     `json:"format"` // json, csv, jsonl, txt
	IncludeMetadata    bool       `json:"include_metadata"`
	AnonymizationLevel string     `json:"anonymization_level,omitempty"`
	DateRange          *DateRange `json:"date_range,omitempty"`
	ContentTypes       []string   `json:"content_types"`
	MaxRecords         int        `json:"max_records,omitempty"`
	IncludeConsent     bool       `json:"include_consent"`
	OrganizationID     int64      `json:"organization_id"`
}

type ExportJob struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Format      string    `json:"format"`
	Status      string    `json:"status"` // pending, processing, completed, failed
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ExportStats struct {
	TotalExports         int64            `json:"total_exports"`
	SuccessfulExports    int64            `json:"successful_exports"`
	FailedExports        int64            `json:"failed_exports"`
	TotalRecordsExported int64            `json:"total_records_exported"`
	AverageExportSize    float64          `json:"average_export_size"`
	ByProvider           map[string]int64 `json:"by_provider"`
	ByFormat             map[string]int64 `json:"by_format"`
}

type ExportTrendPoint struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
}

type ExportTrends struct {
	Days       int                `json:"days"`
	Daily      []ExportTrendPoint `json:"daily"`
	ByProvider map[string]int     `json:"by_provider"`
	ByFormat   map[string]int     `json:"by_format"`
}

// Privacy / GDPR
type GDPRRequest struct {
	ID              string                 `json:"id"`
	UserID          int64                  `json:"user_id"`
	Type            string                 `json:"type"` // access, rectification, erasure, portability, restriction, objection
	Status          string                 `json:"status"` // pending, processing, completed, rejected
	Description     string                 `json:"description,omitempty"`
	RequestedAt     time.Time              `json:"requested_at"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	ResponseData    map[string]interface{} `json:"response_data,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
}

type DataRetentionSettings struct {
	AccountDataDays  int `json:"account_data_days"`
	ActivityDataDays int `json:"activity_data_days"`
	AnalyticsDays    int `json:"analytics_days"`
}

type DataProcessingSettings struct {
	Analytics       bool `json:"analytics"`
	Personalization bool `json:"personalization"`
	Marketing       bool `json:"marketing"`
	Research        bool `json:"research"`
}

type NotificationSettings struct {
	PolicyChanges   bool `json:"policy_changes"`
	DataExports     bool `json:"data_exports"`
	SecurityAlerts  bool `json:"security_alerts"`
	BreachDisclosed bool `json:"breach_disclosed"`
}

type PrivacySettings struct {
	UserID          int64                  `json:"user_id"`
	DataSharing     bool                   `json:"data_sharing"`
	DataProcessing  DataProcessingSettings `json:"data_processing"`
	DataRetention   DataRetentionSettings  `json:"data_retention"`
	DataPortability bool                   `json:"data_portability"`
	DataDeletion    bool                   `json:"data_deletion"`
	Notifications   NotificationSettings   `json:"notifications"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type DataBreachReport struct {
	ID                string    `json:"id"`
	Severity          string    `json:"severity"` // low, medium, high, critical
	Description       string    `json:"description"`
	AffectedUsers     []int64   `json:"affected_users"`
	DataTypes         []string  `json:"data_types"`
	Status            string    `json:"status"` // investigating, contained, resolved
	NotificationsSent bool      `json:"notifications_sent"`
	Actions           []string  `json:"actions"`
	ReportedAt        time.Time `json:"reported_at"`
}

type PrivacyAuditEntry struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ComplianceIssue struct {
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
}

type ComplianceReport struct {
	Score       int               `json:"score"`
	Issues      []ComplianceIssue `json:"issues"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type UserProfile struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

type UsageLog struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
