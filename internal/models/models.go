package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Run is the persisted record of one protection run. The orchestrator's
// in-memory results stay authoritative during the run; rows here are
// write-once audit history.
type Run struct {
	BaseModel
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	PreflightPassed bool      `json:"preflight_passed" gorm:"not null"`
	Succeeded       int       `json:"successful" gorm:"not null"`
	Failed          int       `json:"failed" gorm:"not null"`
	TimedOut        int       `json:"timed_out" gorm:"not null"`
	Skipped         int       `json:"skipped" gorm:"not null"`
	FailureRatePct  float64   `json:"failure_rate_percent" gorm:"not null"`
	Severity        string    `json:"severity" gorm:"not null"`
	ExitCode        int       `json:"exit_code" gorm:"not null"`

	// Relationships
	Jobs []JobResult `json:"jobs,omitempty" gorm:"foreignKey:RunID"`
}

// JobResult is one job's terminal state within a run
type JobResult struct {
	BaseModel
	RunID      string `json:"run_id" gorm:"not null;index"`
	Job        string `json:"job" gorm:"not null"`
	Kind       string `json:"kind" gorm:"not null"`
	Outcome    string `json:"outcome" gorm:"not null"`
	DurationMS int64  `json:"duration_ms" gorm:"not null"`
	Detail     string `json:"detail" gorm:"type:text"`

	// Relationships
	Run Run `json:"-" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// ScheduleState tracks the next due scheduled run. Singleton row; keeping
// it in the database means a worker restart does not reset the schedule.
type ScheduleState struct {
	BaseModel
	NextRunAt *time.Time `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&Run{}, &JobResult{}, &ScheduleState{},
	}

	return db.AutoMigrate(models...)
}
