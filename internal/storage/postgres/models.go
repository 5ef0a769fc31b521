package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner interfaces
// for GORM JSONB columns.
type JSONB json.RawMessage

// RunModel maps to the "runs" table.
// No DeletedAt — runs are an append-only execution record.
type RunModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Feature     string     `gorm:"type:text;not null"`
	State       string     `gorm:"not null;index"`
	Success     bool       `gorm:"not null;default:false"`
	Caller      string     `gorm:"not null;default:''"`
	Provider    string     `gorm:"not null;default:''"`
	Script      string     `gorm:"type:text"`
	Result      JSONB      `gorm:"type:jsonb"`
	Stdout      string     `gorm:"type:text"`
	Errors      JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	ToolCalls   JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	Warnings    JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	ScheduleID  *uuid.UUID `gorm:"type:uuid;index"`
	PlanningMS  int64      `gorm:"not null;default:0"`
	ExecutionMS int64      `gorm:"not null;default:0"`
	CreatedAt   time.Time  `gorm:"index"`
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func (RunModel) TableName() string { return "runs" }

// ScheduledRunModel maps to the "scheduled_runs" table.
type ScheduledRunModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name           string     `gorm:"not null;index"`
	Feature        string     `gorm:"type:text;not null"`
	CronExpression string     `gorm:"not null"`
	Caller         string     `gorm:"not null;default:''"`
	Enabled        bool       `gorm:"not null;default:true"`
	NextRunAt      *time.Time `gorm:"index"`
	LastRunAt      *time.Time
	LastRunID      *uuid.UUID `gorm:"type:uuid"`
	LastError      string     `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (ScheduledRunModel) TableName() string { return "scheduled_runs" }
