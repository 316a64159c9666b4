package workers

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/preservd-dev/preservd/internal/models"
	"github.com/preservd-dev/preservd/internal/tasks"
)

// StartScheduler runs a periodic check (every minute) for a due scheduled
// run. The next-due timestamp lives in the database so a worker restart
// does not reset the schedule.
func StartScheduler(client *asynq.Client, db *gorm.DB, schedule string, logger zerolog.Logger) {
	if schedule == "" {
		logger.Info().Msg("No backup schedule configured, scheduler idle")
		return
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	// Run immediately on startup, then every minute
	checkAndEnqueueRun(client, db, schedule, logger)

	for range ticker.C {
		checkAndEnqueueRun(client, db, schedule, logger)
	}
}

func checkAndEnqueueRun(client *asynq.Client, db *gorm.DB, schedule string, logger zerolog.Logger) {
	var state models.ScheduleState
	err := db.First(&state).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			logger.Error().Err(err).Msg("Failed to load schedule state")
			return
		}
		// First startup: seed the next due time without running
		next := nextRunTime(schedule, time.Now())
		if next == nil {
			logger.Error().Str("schedule", schedule).Msg("Unparsable cron schedule")
			return
		}
		state = models.ScheduleState{NextRunAt: next}
		if err := db.Create(&state).Error; err != nil {
			logger.Error().Err(err).Msg("Failed to seed schedule state")
		}
		logger.Info().
			Time("next_run_at", *next).
			Msg("Schedule initialized")
		return
	}

	if state.NextRunAt != nil && state.NextRunAt.After(time.Now()) {
		logger.Debug().
			Time("next_run_at", *state.NextRunAt).
			Msg("Scheduled run not due yet")
		return
	}

	logger.Info().
		Str("schedule", schedule).
		Msg("Scheduled protection run due, enqueueing")

	task, err := tasks.NewBackupRunTask("schedule")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create run task")
		return
	}

	// A failed run is reported through notifications and history, not
	// re-executed: retries of a whole protection run would collide with
	// the independent per-job timers
	if _, err := client.Enqueue(task, asynq.MaxRetry(0), asynq.Timeout(12*time.Hour)); err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue run task")
		return
	}

	// Advance the schedule immediately so the next tick does not enqueue
	// a duplicate
	now := time.Now()
	next := nextRunTime(schedule, now)
	updates := map[string]interface{}{
		"last_run_at": now,
		"next_run_at": next,
	}
	if err := db.Model(&state).Updates(updates).Error; err != nil {
		logger.Error().Err(err).Msg("Failed to update schedule state")
		return
	}

	if next != nil {
		logger.Info().
			Time("next_run_at", *next).
			Msg("Protection run enqueued, schedule advanced")
	}
}

// nextRunTime calculates the next run time from a cron schedule
func nextRunTime(cronExpr string, from time.Time) *time.Time {
	if cronExpr == "" {
		return nil
	}

	// Parse cron expression (standard 5-field format)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil
	}

	next := schedule.Next(from)
	return &next
}
