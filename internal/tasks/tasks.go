package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// TypeBackupRun executes one complete protection run
	TypeBackupRun = "backup:run"
)

// BackupRunPayload is the payload of a backup:run task
type BackupRunPayload struct {
	// TriggeredBy records what enqueued the run: "schedule" or "manual"
	TriggeredBy string `json:"triggered_by"`
}

// NewBackupRunTask creates a task that executes one protection run
func NewBackupRunTask(triggeredBy string) (*asynq.Task, error) {
	payload, err := json.Marshal(BackupRunPayload{
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeBackupRun, payload), nil
}

// ParseBackupRunPayload parses task payload from an Asynq task
func ParseBackupRunPayload(task *asynq.Task) (BackupRunPayload, error) {
	var payload BackupRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
