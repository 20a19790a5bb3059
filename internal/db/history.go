package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roadmap-manager/roadmap/internal/models"
	"gorm.io/gorm"
)

// History records service and operation runs. It satisfies the recorder
// interfaces of the supervisor and dispatch packages.
type History struct {
	db *gorm.DB
}

// NewHistory wraps an open, migrated database.
func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// RecordServiceStart inserts a ServiceRun and returns its ID.
func (h *History) RecordServiceStart(pid, port int, owned bool, startedAt time.Time) (uint, error) {
	run := models.ServiceRun{
		PID:       pid,
		Port:      port,
		Owned:     owned,
		StartedAt: startedAt,
	}
	if err := h.db.Create(&run).Error; err != nil {
		return 0, fmt.Errorf("db: record service start: %w", err)
	}
	return run.ID, nil
}

// RecordServiceStop marks a ServiceRun stopped.
func (h *History) RecordServiceStop(runID uint, tier string, stoppedAt time.Time) error {
	result := h.db.Model(&models.ServiceRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"stop_tier":  tier,
			"stopped_at": stoppedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("db: record service stop: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("db: record service stop: run %d not found", runID)
	}
	return nil
}

// BeginOperation inserts a running OperationRun and returns its ID.
func (h *History) BeginOperation(operation, sessionID, prompt string) (string, error) {
	run := models.OperationRun{
		ID:        uuid.New().String(),
		Operation: operation,
		SessionID: sessionID,
		Prompt:    prompt,
		Status:    models.OperationRunning,
		StartedAt: time.Now(),
	}
	if err := h.db.Create(&run).Error; err != nil {
		return "", fmt.Errorf("db: begin operation: %w", err)
	}
	return run.ID, nil
}

// FinishOperation stores the outcome of an OperationRun.
func (h *History) FinishOperation(id string, accepted, dropped int, opErr error) error {
	status := models.OperationSucceeded
	msg := ""
	if opErr != nil {
		status = models.OperationFailed
		msg = opErr.Error()
	}
	result := h.db.Model(&models.OperationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       msg,
			"accepted":    accepted,
			"dropped":     dropped,
			"finished_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("db: finish operation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("db: finish operation: run %s not found", id)
	}
	return nil
}

// RecentOperations returns up to limit runs, newest first.
func (h *History) RecentOperations(limit int) ([]models.OperationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.OperationRun
	if err := h.db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("db: list operations: %w", err)
	}
	return runs, nil
}

// RecentServiceRuns returns up to limit service runs, newest first.
func (h *History) RecentServiceRuns(limit int) ([]models.ServiceRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ServiceRun
	if err := h.db.Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("db: list service runs: %w", err)
	}
	return runs, nil
}
