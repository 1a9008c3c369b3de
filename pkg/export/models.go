package export

import (
	"errors"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
	FormatTXT   = "txt"
)

var (
	ErrJobNotFound     = errors.New("export job not found")
	ErrConsentRequired = errors.New("provider consent required for this export")
)

// ValidationError marks config problems the caller must fix and resubmit.
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

// ContentRecord is one forum content row as collected for an export.
type ContentRecord struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
