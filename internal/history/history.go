// Package history persists run summaries to the local SQLite database and
// reads them back for the history command.
package history

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/preservd-dev/preservd/internal/models"
	"github.com/preservd-dev/preservd/internal/orchestrator"
)

// Open opens the run-history database and applies migrations
func Open(url string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(url), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return db, nil
}

// Record writes one finished run and its job results. History is audit
// only: a write failure is the caller's to log, never to fail the run on.
func Record(db *gorm.DB, summary *orchestrator.RunSummary, logger zerolog.Logger) error {
	run := models.Run{
		BaseModel:       models.BaseModel{ID: summary.RunID},
		StartedAt:       summary.StartedAt,
		FinishedAt:      summary.FinishedAt,
		PreflightPassed: summary.PreflightPassed,
		Succeeded:       summary.Succeeded,
		Failed:          summary.Failed,
		TimedOut:        summary.TimedOut,
		Skipped:         summary.Skipped,
		FailureRatePct:  summary.FailureRatePct,
		Severity:        string(summary.Severity),
		ExitCode:        summary.ExitCode,
	}

	for _, result := range summary.Results {
		run.Jobs = append(run.Jobs, models.JobResult{
			RunID:      summary.RunID,
			Job:        result.Job.Name,
			Kind:       string(result.Job.Kind),
			Outcome:    string(result.Outcome),
			DurationMS: result.Duration.Milliseconds(),
			Detail:     result.Detail,
		})
	}

	if err := db.Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", summary.RunID, err)
	}

	logger.Debug().
		Str("run_id", summary.RunID).
		Int("job_count", len(run.Jobs)).
		Msg("Run recorded in history")

	return nil
}

// Recent returns the most recent runs, newest first, with job results
// preloaded.
func Recent(db *gorm.DB, limit int) ([]models.Run, error) {
	var runs []models.Run
	if err := db.Preload("Jobs").
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	return runs, nil
}
