package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/orchestrator"
	"github.com/preservd-dev/preservd/internal/runner"
	"github.com/preservd-dev/preservd/internal/tasks"
)

// HandleBackupRun executes one complete protection run. Thin adapter over
// the shared runner assembly; the task fails only when the run ends
// critical, so queue inspection surfaces the same signal as the exit code.
func HandleBackupRun(ctx context.Context, t *asynq.Task, db *gorm.DB, policy *config.Policy, logger zerolog.Logger) error {
	payload, err := tasks.ParseBackupRunPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	logger.Info().
		Str("triggered_by", payload.TriggeredBy).
		Msg("Executing queued protection run")

	summary, err := runner.ExecuteRun(ctx, db, policy, logger)
	if err != nil {
		return fmt.Errorf("failed to execute run: %w", err)
	}

	if summary.ExitCode == orchestrator.ExitCritical {
		return fmt.Errorf("run %s ended critical: %s", summary.RunID, summary.NotificationDetail())
	}

	return nil
}
