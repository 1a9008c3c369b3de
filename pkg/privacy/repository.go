package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSettingsNotFound = errors.New("privacy settings not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&userModel{},
		&usageLogModel{},
		&settingsModel{},
		&gdprRequestModel{},
		&breachModel{},
		&auditModel{},
	)
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var user userModel
	result := r.db.WithContext(ctx).First(&user, "id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &models.UserProfile{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Company:   user.Company,
		Plan:      user.Plan,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (r *Repository) DeleteUser(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).Where("id = ?", userID).Delete(&userModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) ListUsageLogs(ctx context.Context, userID int64) ([]models.UsageLog, error) {
	var rows []usageLogModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]models.UsageLog, 0, len(rows))
	for i := range rows {
		log := models.UsageLog{
			ID:        rows[i].ID,
			UserID:    rows[i].UserID,
			Action:    rows[i].Action,
			Timestamp: rows[i].Timestamp,
		}
		if len(rows[i].Details) > 0 {
			_ = json.Unmarshal(rows[i].Details, &log.Details)
		}
		logs = append(logs, log)
	}
	return logs, nil
}

func (r *Repository) DeleteUsageLogs(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&usageLogModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) GetSettings(ctx context.Context, userID int64) (*models.PrivacySettings, error) {
	var row settingsModel
	result := r.db.WithContext(ctx).First(&row, "user_id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSettingsNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	var settings models.PrivacySettings
	if err := json.Unmarshal(row.Settings, &settings); err != nil {
		return nil, err
	}
	settings.UserID = row.UserID
	settings.UpdatedAt = row.UpdatedAt
	return &settings, nil
}

func (r *Repository) SaveSettings(ctx context.Context, settings *models.PrivacySettings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	model := settingsModel{
		UserID:    settings.UserID,
		Settings:  datatypes.JSON(payload),
		UpdatedAt: settings.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(&model).Error
}

func (r *Repository) CreateRequest(ctx context.Context, req *models.GDPRRequest) error {
	model, err := requestFromDomain(req)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) GetRequest(ctx context.Context, id string) (*models.GDPRRequest, error) {
	var model gdprRequestModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return requestToDomain(&model), nil
}

func (r *Repository) ListRequestsByUser(ctx context.Context, userID int64) ([]models.GDPRRequest, error) {
	var rows []gdprRequestModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("requested_at desc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	requests := make([]models.GDPRRequest, 0, len(rows))
	for i := range rows {
		requests = append(requests, *requestToDomain(&rows[i]))
	}
	return requests, nil
}

func (r *Repository) MarkRequestProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&gdprRequestModel{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusProcessing).Error
}

// CompleteRequest is a no-op for requests already in a terminal state.
func (r *Repository) CompleteRequest(ctx context.Context, id string, responseData map[string]interface{}, at time.Time) error {
	payload, err := json.Marshal(responseData)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&gdprRequestModel{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":        StatusCompleted,
			"response_data": datatypes.JSON(payload),
			"processed_at":  at,
		}).Error
}

func (r *Repository) RejectRequest(ctx context.Context, id, reason string) error {
	return r.db.WithContext(ctx).Model(&gdprRequestModel{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":           StatusRejected,
			"rejection_reason": reason,
		}).Error
}

func (r *Repository) CountPendingRequests(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&gdprRequestModel{}).
		Where("status = ?", StatusPending).
		Count(&count).Error
	return count, err
}

func (r *Repository) CreateBreach(ctx context.Context, report *models.DataBreachReport) error {
	model, err := breachFromDomain(report)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) GetBreach(ctx context.Context, id string) (*models.DataBreachReport, error) {
	var model breachModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrBreachNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return breachToDomain(&model), nil
}

func (r *Repository) ListBreaches(ctx context.Context) ([]models.DataBreachReport, error) {
	var rows []breachModel
	if err := r.db.WithContext(ctx).Order("reported_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	reports := make([]models.DataBreachReport, 0, len(rows))
	for i := range rows {
		reports = append(reports, *breachToDomain(&rows[i]))
	}
	return reports, nil
}

// UpdateBreachStatus only moves forward: investigating -> contained -> resolved.
func (r *Repository) UpdateBreachStatus(ctx context.Context, id, status string) error {
	var allowed []string
	switch status {
	case BreachContained:
		allowed = []string{BreachInvestigating}
	case BreachResolved:
		allowed = []string{BreachInvestigating, BreachContained}
	default:
		return validationErrorf(errors.New("status must be contained or resolved"))
	}
	return r.db.WithContext(ctx).Model(&breachModel{}).
		Where("id = ? AND status IN ?", id, allowed).
		Update("status", status).Error
}

func (r *Repository) CountUnresolvedBreaches(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&breachModel{}).
		Where("status <> ?", BreachResolved).
		Count(&count).Error
	return count, err
}

func (r *Repository) AppendAudit(ctx context.Context, entry *models.PrivacyAuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	model := auditModel{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Details:   datatypes.JSON(details),
		Timestamp: entry.Timestamp,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *Repository) ListAuditByUser(ctx context.Context, userID int64) ([]models.PrivacyAuditEntry, error) {
	var rows []auditModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.PrivacyAuditEntry, 0, len(rows))
	for i := range rows {
		entry := models.PrivacyAuditEntry{
			ID:        rows[i].ID,
			UserID:    rows[i].UserID,
			Action:    rows[i].Action,
			Resource:  rows[i].Resource,
			Timestamp: rows[i].Timestamp,
		}
		if len(rows[i].Details) > 0 {
			_ = json.Unmarshal(rows[i].Details, &entry.Details)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func requestToDomain(model *gdprRequestModel) *models.GDPRRequest {
	req := models.GDPRRequest{
		ID:              model.ID,
		UserID:          model.UserID,
		Type:            model.Type,
		Status:          model.Status,
		Description:     model.Description,
		RequestedAt:     model.RequestedAt,
		ProcessedAt:     model.ProcessedAt,
		RejectionReason: model.RejectionReason,
	}
	if len(model.ResponseData) > 0 {
		_ = json.Unmarshal(model.ResponseData, &req.ResponseData)
	}
	return &req
}

func requestFromDomain(req *models.GDPRRequest) (*gdprRequestModel, error) {
	data, err := json.Marshal(req.ResponseData)
	if err != nil {
		return nil, err
	}
	return &gdprRequestModel{
		ID:              req.ID,
		UserID:          req.UserID,
		Type:            req.Type,
		Status:          req.Status,
		Description:     req.Description,
		RequestedAt:     req.RequestedAt,
		ProcessedAt:     req.ProcessedAt,
		ResponseData:    datatypes.JSON(data),
		RejectionReason: req.RejectionReason,
	}, nil
}

func breachToDomain(model *breachModel) *models.DataBreachReport {
	report := models.DataBreachReport{
		ID:                model.ID,
		Severity:          model.Severity,
		Description:       model.Description,
		Status:            model.Status,
		NotificationsSent: model.NotificationsSent,
		ReportedAt:        model.ReportedAt,
	}
	if len(model.AffectedUsers) > 0 {
		_ = json.Unmarshal(model.AffectedUsers, &report.AffectedUsers)
	}
	if len(model.DataTypes) > 0 {
		_ = json.Unmarshal(model.DataTypes, &report.DataTypes)
	}
	if len(model.Actions) > 0 {
		_ = json.Unmarshal(model.Actions, &report.Actions)
	}
	return &report
}

func breachFromDomain(report *models.DataBreachReport) (*breachModel, error) {
	affected, err := json.Marshal(report.AffectedUsers)
	if err != nil {
		return nil, err
	}
	dataTypes, err := json.Marshal(report.DataTypes)
	if err != nil {
		return nil, err
	}
	actions, err := json.Marshal(report.Actions)
	if err != nil {
		return nil, err
	}
	return &breachModel{
		ID:                report.ID,
		Severity:          report.Severity,
		Description:       report.Description,
		AffectedUsers:     datatypes.JSON(affected),
		DataTypes:         datatypes.JSON(dataTypes),
		Status:            report.Status,
		NotificationsSent: report.NotificationsSent,
		Actions:           datatypes.JSON(actions),
		ReportedAt:        report.ReportedAt,
	}, nil
}
