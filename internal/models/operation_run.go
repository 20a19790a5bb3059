package models

import "time"

// Operation run statuses.
const (
	OperationRunning   = "running"
	OperationSucceeded = "succeeded"
	OperationFailed    = "failed"
)

// OperationRun records one navigate or modal-prompt call. Only metadata is
// kept; streamed events are never persisted.
type OperationRun struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Operation  string    `gorm:"size:32;not null;index"`
	SessionID  string    `gorm:"size:128;index"`
	Prompt     string    `gorm:"type:text"`
	Status     string    `gorm:"size:16;default:running;index"`
	Error      string    `gorm:"type:text"`
	Accepted   int
	Dropped    int
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
}
