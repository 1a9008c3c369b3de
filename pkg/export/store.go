package export

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/geofora/platform/pkg/common/models"
	"gorm.io/gorm"
)

// JobStore is the seam between the job manager and wherever job state lives.
// GormJobStore keeps jobs visible across restarts; MemoryJobStore matches the
// original in-process registry and backs the tests.
type JobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Get(ctx context.Context, id string) (*models.ExportJob, error)
	// MarkProcessing, Complete and Fail refuse to move a job out of a
	// terminal state.
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, recordCount int, fileSize int64, downloadURL string) error
	Fail(ctx context.Context, id string, errMsg string) error
	ListSince(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type jobModel struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Provider    string    `gorm:"column:provider"`
	Format      string    `gorm:"column:format"`
	Status      string    `gorm:"column:status"`
	RecordCount int       `gorm:"column:record_count"`
	FileSize    int64     `gorm:"column:file_size"`
	DownloadURL string    `gorm:"column:download_url"`
	Error       string    `gorm:"column:error"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (jobModel) TableName() string {
	return "export_jobs"
}

type GormJobStore struct {
	db *gorm.DB
}

func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&jobModel{})
}

func (s *GormJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	return s.db.WithContext(ctx).Create(jobFromDomain(job)).Error
}

func (s *GormJobStore) Get(ctx context.Context, id string) (*models.ExportJob, error) {
	var model jobModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return jobToDomain(&model), nil
}

func (s *GormJobStore) MarkProcessing(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusProcessing,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormJobStore) Complete(ctx context.Context, id string, recordCount int, fileSize int64, downloadURL string) error {
	return s.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":       StatusCompleted,
			"record_count": recordCount,
			"file_size":    fileSize,
			"download_url": downloadURL,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *GormJobStore) Fail(ctx context.Context, id string, errMsg string) error {
	return s.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormJobStore) ListSince(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	var rows []jobModel
	if err := s.db.WithContext(ctx).
		Where("created_at >= ?", cutoff).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]models.ExportJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *jobToDomain(&rows[i]))
	}
	return jobs, nil
}

func (s *GormJobStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&jobModel{})
	return int(result.RowsAffected), result.Error
}

func jobFromDomain(job *models.ExportJob) *jobModel {
	return &jobModel{
		ID:          job.ID,
		Provider:    job.Provider,
		Format:      job.Format,
		Status:      job.Status,
		RecordCount: job.RecordCount,
		FileSize:    job.FileSize,
		DownloadURL: job.DownloadURL,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		ExpiresAt:   job.ExpiresAt,
		UpdatedAt:   job.CreatedAt,
	}
}

func jobToDomain(model *jobModel) *models.ExportJob {
	return &models.ExportJob{
		ID:          model.ID,
		Provider:    model.Provider,
		Format:      model.Format,
		Status:      model.Status,
		RecordCount: model.RecordCount,
		FileSize:    model.FileSize,
		DownloadURL: model.DownloadURL,
		Error:       model.Error,
		CreatedAt:   model.CreatedAt,
		ExpiresAt:   model.ExpiresAt,
	}
}

// MemoryJobStore is the in-process registry variant. Each entry is only ever
// mutated by the one task that owns the job, but the map itself is shared.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ExportJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.ExportJob)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryJobStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusPending {
		job.Status = StatusProcessing
	}
	return nil
}

func (s *MemoryJobStore) Complete(_ context.Context, id string, recordCount int, fileSize int64, downloadURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if terminal(job.Status) {
		return nil
	}
	job.Status = StatusCompleted
	job.RecordCount = recordCount
	job.FileSize = fileSize
	job.DownloadURL = downloadURL
	return nil
}

func (s *MemoryJobStore) Fail(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if terminal(job.Status) {
		return nil
	}
	job.Status = StatusFailed
	job.Error = errMsg
	return nil
}

func (s *MemoryJobStore) ListSince(_ context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.ExportJob
	for _, job := range s.jobs {
		if !job.CreatedAt.Before(cutoff) {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *MemoryJobStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.ExpiresAt.Before(now) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}
