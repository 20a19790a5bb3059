package models

import "time"

// ServiceRun records one agent service instance seen by the supervisor.
// Owned is false when the service was already listening at startup.
type ServiceRun struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	PID       int       `gorm:"column:pid"`
	Port      int       `gorm:"index"`
	Owned     bool      `gorm:"default:false"`
	StopTier  string    `gorm:"size:16"` // owned, discovery
	StartedAt time.Time `gorm:"index"`
	StoppedAt *time.Time
}
