package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// JSONSummary is the machine-readable form of a RunSummary, emitted by
// --json for downstream automation.
type JSONSummary struct {
	RunID          string      `json:"run_id"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Preflight      bool        `json:"preflight_passed"`
	TotalJobs      int         `json:"total_jobs"`
	Succeeded      int         `json:"successful"`
	Failed         int         `json:"failed"`
	TimedOut       int         `json:"timed_out"`
	Skipped        int         `json:"skipped"`
	FailureRatePct float64     `json:"failure_rate_percent"`
	Severity       string      `json:"severity"`
	ExitCode       int         `json:"exit_code"`
	Problems       []JSONEntry `json:"problems"`
}

// JSONEntry is one non-success job in the machine summary
type JSONEntry struct {
	Job     string `json:"job"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// WriteJSON writes the summary as a single JSON document
func (s *RunSummary) WriteJSON(w io.Writer) error {
	out := JSONSummary{
		RunID:          s.RunID,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		Preflight:      s.PreflightPassed,
		TotalJobs:      len(s.Results),
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		TimedOut:       s.TimedOut,
		Skipped:        s.Skipped,
		FailureRatePct: s.FailureRatePct,
		Severity:       string(s.Severity),
		ExitCode:       s.ExitCode,
		Problems:       []JSONEntry{},
	}
	for _, r := range s.Problems() {
		out.Problems = append(out.Problems, JSONEntry{
			Job:     r.Job.Name,
			Outcome: string(r.Outcome),
			Detail:  r.Detail,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteReport writes the human-readable run report. With verbose set,
// every job appears; otherwise only the aggregate line and problems.
func (s *RunSummary) WriteReport(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Run %s: %s (exit %d)\n", s.RunID, s.Severity, s.ExitCode)

	if !s.PreflightPassed {
		fmt.Fprintln(w, "Preflight failed, no jobs were started:")
		for _, check := range s.Preflight {
			if check.Passed {
				continue
			}
			fmt.Fprintf(w, "  %s: %d bytes free, %d required\n",
				check.Path, check.FreeBytes, check.MinFree)
		}
		return
	}

	fmt.Fprintf(w, "%d jobs: %d ok, %d failed, %d timed out, %d skipped (failure rate %.1f%%)\n",
		len(s.Results), s.Succeeded, s.Failed, s.TimedOut, s.Skipped, s.FailureRatePct)

	if verbose {
		all := make([]ExecutionResult, 0, len(s.Results))
		for _, r := range s.Results {
			all = append(all, r)
		}
		sortResults(all)
		for _, r := range all {
			line := fmt.Sprintf("  %-10s %s (%s)", r.Outcome, r.Job.Name, r.Duration.Round(time.Second))
			if r.Detail != "" {
				line += ": " + r.Detail
			}
			fmt.Fprintln(w, line)
		}
		return
	}

	for _, r := range s.Problems() {
		line := fmt.Sprintf("  %-10s %s", r.Outcome, r.Job.Name)
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		fmt.Fprintln(w, line)
	}
}

// NotificationDetail is the compact summary line sent to the gateway
func (s *RunSummary) NotificationDetail() string {
	if !s.PreflightPassed {
		return "preflight failed, no jobs started"
	}

	detail := fmt.Sprintf("%d jobs, %d ok, %d failed, %d timed out, %d skipped",
		len(s.Results), s.Succeeded, s.Failed, s.TimedOut, s.Skipped)

	problems := s.Problems()
	if len(problems) == 0 {
		return detail
	}

	names := make([]string, 0, len(problems))
	for _, r := range problems {
		if r.Outcome.Bad() {
			names = append(names, r.Job.Name)
		}
	}
	if len(names) > 0 {
		detail += "; problems: " + strings.Join(names, ", ")
	}
	return detail
}

func sortResults(results []ExecutionResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Job.Name < results[j].Job.Name
	})
}
