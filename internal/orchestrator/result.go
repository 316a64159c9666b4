package orchestrator

import (
	"time"

	"github.com/preservd-dev/preservd/internal/jobs"
	"github.com/preservd-dev/preservd/internal/preflight"
)

// Outcome is the terminal state of one job execution
type Outcome string

const (
	// OutcomeSuccess indicates the job completed cleanly
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed indicates the job ran and reported failure
	OutcomeFailed Outcome = "failed"

	// OutcomeTimedOut indicates the job exceeded its timeout and was
	// force-stopped
	OutcomeTimedOut Outcome = "timed-out"

	// OutcomeSkipped indicates the job was already running, started by
	// its own schedule, and was not started twice
	OutcomeSkipped Outcome = "skipped-already-running"
)

// Executed reports whether the outcome counts toward the failure rate.
// Skipped jobs carry no new information and never move the rate.
func (o Outcome) Executed() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomeTimedOut
}

// Bad reports whether the outcome is a failure variant
func (o Outcome) Bad() bool {
	return o == OutcomeFailed || o == OutcomeTimedOut
}

// ExecutionResult is produced exactly once per job per run
type ExecutionResult struct {
	Job      jobs.Job
	Outcome  Outcome
	Duration time.Duration
	Detail   string
}

// Severity classifies a whole run
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityPartial  Severity = "partial"
	SeverityCritical Severity = "critical"
)

// Exit codes are the authoritative signal for downstream automation
const (
	ExitOK       = 0
	ExitPartial  = 1
	ExitCritical = 2
)

// RunSummary aggregates a whole run
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	PreflightPassed bool
	Preflight       []preflight.Result

	// Results keyed by job name, written once per job at terminal state
	Results map[string]ExecutionResult

	Succeeded int
	Failed    int
	TimedOut  int
	Skipped   int

	FailureRatePct float64
	Severity       Severity
	ExitCode       int
}

// finalize computes counts, failure rate, severity and exit code from the
// recorded results. Pure function of (preflight result, outcomes).
func (s *RunSummary) finalize() {
	s.Succeeded, s.Failed, s.TimedOut, s.Skipped = 0, 0, 0, 0
	for _, r := range s.Results {
		switch r.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeFailed:
			s.Failed++
		case OutcomeTimedOut:
			s.TimedOut++
		case OutcomeSkipped:
			s.Skipped++
		}
	}

	executed := s.Succeeded + s.Failed + s.TimedOut
	if executed > 0 {
		s.FailureRatePct = float64(s.Failed+s.TimedOut) / float64(executed) * 100
	} else {
		s.FailureRatePct = 0
	}

	switch {
	case !s.PreflightPassed:
		s.Severity = SeverityCritical
		s.ExitCode = ExitCritical
	case s.Failed == 0 && s.TimedOut == 0:
		s.Severity = SeverityOK
		s.ExitCode = ExitOK
	case s.FailureRatePct <= 50:
		s.Severity = SeverityPartial
		s.ExitCode = ExitPartial
	default:
		s.Severity = SeverityCritical
		s.ExitCode = ExitCritical
	}
}

// Problems returns every non-success result, ordered by job name, for
// reports and notifications.
func (s *RunSummary) Problems() []ExecutionResult {
	var problems []ExecutionResult
	for _, r := range s.Results {
		if r.Outcome != OutcomeSuccess {
			problems = append(problems, r)
		}
	}
	sortResults(problems)
	return problems
}
