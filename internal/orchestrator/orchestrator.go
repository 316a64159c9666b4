// Package orchestrator sequences the host's protection jobs through
// ordered stages with per-stage concurrency bounds, aggregates per-job
// outcomes, and derives the process exit code.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/jobs"
	"github.com/preservd-dev/preservd/internal/notify"
	"github.com/preservd-dev/preservd/internal/preflight"
)

const defaultPollInterval = 5 * time.Second

// JobSource enumerates protection jobs and detects in-flight duplicates
type JobSource interface {
	Discover(ctx context.Context) ([]jobs.Job, error)
	IsActive(ctx context.Context, job jobs.Job) (bool, error)
}

// CapacityChecker verifies destination storage before any job starts
type CapacityChecker interface {
	Check(ctx context.Context) ([]preflight.Result, error)
}

// Orchestrator coordinates one protection run. It owns the run's results
// for the lifetime of the invocation; nothing here persists across runs.
type Orchestrator struct {
	source   JobSource
	units    capability.UnitRunner
	checker  CapacityChecker
	notifier notify.Notifier
	policy   config.JobsPolicy
	logger   zerolog.Logger

	// Optional database reachability check run before the
	// database-backup stage
	dbPing func(ctx context.Context) error

	pollInterval time.Duration
}

// New creates an orchestrator
func New(source JobSource, units capability.UnitRunner, checker CapacityChecker, notifier notify.Notifier, policy config.JobsPolicy, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source:       source,
		units:        units,
		checker:      checker,
		notifier:     notifier,
		policy:       policy,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
		pollInterval: defaultPollInterval,
	}
}

// WithDatabasePing installs a reachability check that must pass before the
// database-backup stage starts its jobs.
func (o *Orchestrator) WithDatabasePing(ping func(ctx context.Context) error) *Orchestrator {
	o.dbPing = ping
	return o
}

// PlannedStage is one entry of the dry-run plan
type PlannedStage struct {
	Stage Stage
	Jobs  []jobs.Job
}

// Plan returns the stage and job sequence without executing anything
func (o *Orchestrator) Plan(ctx context.Context) ([]PlannedStage, error) {
	discovered, err := o.source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover jobs: %w", err)
	}

	grouped := groupByKind(discovered)
	plan := make([]PlannedStage, 0, 4)
	for _, stage := range planStages(o.policy) {
		plan = append(plan, PlannedStage{Stage: stage, Jobs: grouped[stage.Kind]})
	}
	return plan, nil
}

// Run executes a complete protection run: preflight, then every stage in
// order. The returned summary is complete even when the run aborts early;
// err is reserved for failures to even assemble the run.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now().UTC(),
		Results:   make(map[string]ExecutionResult),
	}

	o.logger.Info().
		Str("run_id", summary.RunID).
		Msg("Starting protection run")

	// Preflight is critical: a failed destination aborts the run before
	// any job starts
	checks, err := o.checker.Check(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Preflight check errored")
		summary.PreflightPassed = false
		return o.finish(ctx, summary), nil
	}
	summary.Preflight = checks
	summary.PreflightPassed = preflight.AllPassed(checks)
	if !summary.PreflightPassed {
		o.logger.Error().
			Str("run_id", summary.RunID).
			Msg("Preflight failed, aborting run before any job starts")
		return o.finish(ctx, summary), nil
	}

	discovered, err := o.source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover jobs: %w", err)
	}
	grouped := groupByKind(discovered)

	for _, stage := range planStages(o.policy) {
		stageJobs := grouped[stage.Kind]
		if len(stageJobs) == 0 {
			o.logger.Debug().
				Str("stage", stage.Name).
				Msg("No jobs in stage")
			continue
		}

		o.runStage(ctx, stage, stageJobs, summary)

		if stage.Critical && o.stageFailed(stageJobs, summary) {
			o.logger.Error().
				Str("stage", stage.Name).
				Msg("Critical stage failed, aborting remaining stages")
			break
		}
	}

	return o.finish(ctx, summary), nil
}

func (o *Orchestrator) stageFailed(stageJobs []jobs.Job, summary *RunSummary) bool {
	for _, job := range stageJobs {
		if summary.Results[job.Name].Outcome.Bad() {
			return true
		}
	}
	return false
}

// runStage runs every job of a stage under the stage's concurrency bound
// and blocks until all reach a terminal state. One job's failure never
// cancels siblings; the run maximizes total protection coverage.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, stageJobs []jobs.Job, summary *RunSummary) {
	o.logger.Info().
		Str("stage", stage.Name).
		Int("job_count", len(stageJobs)).
		Int("parallelism", stage.Parallelism).
		Msg("Starting stage")

	if stage.Kind == jobs.KindDatabaseBackup && o.dbPing != nil {
		if err := o.dbPing(ctx); err != nil {
			o.logger.Error().
				Err(err).
				Str("stage", stage.Name).
				Msg("Database unreachable, not starting backup jobs")
			for _, job := range stageJobs {
				summary.Results[job.Name] = ExecutionResult{
					Job:     job,
					Outcome: OutcomeFailed,
					Detail:  fmt.Sprintf("database unreachable: %v", err),
				}
			}
			return
		}
	}

	limit := stage.Parallelism
	if limit <= 0 {
		limit = len(stageJobs)
	}

	if limit == 1 {
		for _, job := range stageJobs {
			summary.Results[job.Name] = o.executeJob(ctx, job, stage)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, job := range stageJobs {
		wg.Add(1)
		go func(job jobs.Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := o.executeJob(ctx, job, stage)

			mu.Lock()
			summary.Results[job.Name] = result
			mu.Unlock()
		}(job)
	}

	wg.Wait()
}

// executeJob starts one job and polls for its terminal state under the
// job's timeout. On deadline the unit is force-stopped and recorded as
// timed out.
func (o *Orchestrator) executeJob(ctx context.Context, job jobs.Job, stage Stage) ExecutionResult {
	start := time.Now()

	active, err := o.source.IsActive(ctx, job)
	if err != nil {
		return ExecutionResult{
			Job:      job,
			Outcome:  OutcomeFailed,
			Duration: time.Since(start),
			Detail:   fmt.Sprintf("failed to check running state: %v", err),
		}
	}
	if active {
		o.logger.Info().
			Str("job", job.Name).
			Msg("Job already running on its own schedule, skipping")
		return ExecutionResult{
			Job:      job,
			Outcome:  OutcomeSkipped,
			Duration: time.Since(start),
			Detail:   "already started by independent schedule",
		}
	}

	if err := o.units.Start(ctx, job.Name); err != nil {
		return ExecutionResult{
			Job:      job,
			Outcome:  OutcomeFailed,
			Duration: time.Since(start),
			Detail:   fmt.Sprintf("failed to start: %v", err),
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	outcome, detail := o.awaitJob(jobCtx, job)
	result := ExecutionResult{
		Job:      job,
		Outcome:  outcome,
		Duration: time.Since(start),
		Detail:   detail,
	}

	event := o.logger.Info()
	if outcome.Bad() {
		if stage.Critical {
			event = o.logger.Error()
		} else {
			event = o.logger.Warn()
		}
	}
	event.
		Str("job", job.Name).
		Str("stage", stage.Name).
		Str("outcome", string(outcome)).
		Dur("duration", result.Duration).
		Str("detail", detail).
		Msg("Job finished")

	return result
}

func (o *Orchestrator) awaitJob(ctx context.Context, job jobs.Job) (Outcome, string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Force-stop with a fresh context: the job context is
			// already expired
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			stopErr := o.units.Stop(stopCtx, job.Name)
			cancel()

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				detail := fmt.Sprintf("exceeded timeout %s", job.Timeout)
				if stopErr != nil {
					detail += fmt.Sprintf(" (stop failed: %v)", stopErr)
				}
				return OutcomeTimedOut, detail
			}
			return OutcomeFailed, "run cancelled"

		case <-ticker.C:
			active, err := o.units.IsActive(ctx, job.Name)
			if err != nil {
				if ctx.Err() != nil {
					continue // terminal handling happens on ctx.Done
				}
				return OutcomeFailed, fmt.Sprintf("failed to poll: %v", err)
			}
			if active {
				continue
			}

			result, err := o.units.Result(ctx, job.Name)
			if err != nil {
				return OutcomeFailed, fmt.Sprintf("failed to read result: %v", err)
			}
			if result == "success" {
				return OutcomeSuccess, ""
			}
			return OutcomeFailed, fmt.Sprintf("unit result: %s", result)
		}
	}
}

// finish finalizes the summary and notifies the gateway
func (o *Orchestrator) finish(ctx context.Context, summary *RunSummary) *RunSummary {
	summary.FinishedAt = time.Now().UTC()
	summary.finalize()

	o.logger.Info().
		Str("run_id", summary.RunID).
		Str("severity", string(summary.Severity)).
		Int("exit_code", summary.ExitCode).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Int("skipped", summary.Skipped).
		Float64("failure_rate_pct", summary.FailureRatePct).
		Msg("Protection run finished")

	if o.notifier != nil {
		if err := o.notifier.Send(ctx, notify.Event{
			Type:     notify.EventRunComplete,
			Severity: string(summary.Severity),
			Name:     summary.RunID,
			Detail:   summary.NotificationDetail(),
		}); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to send run notification")
		}
	}

	return summary
}
