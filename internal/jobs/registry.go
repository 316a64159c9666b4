// Package jobs discovers the host's protection jobs and classifies them
// for the stage scheduler.
package jobs

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
)

// Kind classifies what a protection job does
type Kind string

const (
	KindSnapshot       Kind = "snapshot"
	KindReplication    Kind = "replication"
	KindDatabaseBackup Kind = "database-backup"
	KindFileBackup     Kind = "file-backup"
)

// Job is one discovered protection job. Immutable once discovered for a run.
type Job struct {
	Name    string
	Kind    Kind
	Group   string
	Timeout time.Duration
}

// Registry enumerates protection jobs from the service manager and tags
// each with its kind.
type Registry struct {
	units  capability.UnitRunner
	policy config.JobsPolicy
	logger zerolog.Logger
}

// NewRegistry creates a job registry
func NewRegistry(units capability.UnitRunner, policy config.JobsPolicy, logger zerolog.Logger) *Registry {
	return &Registry{
		units:  units,
		policy: policy,
		logger: logger.With().Str("component", "job_registry").Logger(),
	}
}

// Discover enumerates all protection jobs, denylisted utility units
// excluded. Jobs come back grouped by kind in stage order; ordering inside
// a kind follows the service manager's listing.
func (r *Registry) Discover(ctx context.Context) ([]Job, error) {
	var jobs []Job

	forKind := []struct {
		kind    Kind
		pattern string
	}{
		{KindSnapshot, r.policy.SnapshotPattern},
		{KindReplication, r.policy.ReplicationPattern},
		{KindFileBackup, r.policy.FileBackupPattern},
	}

	for _, spec := range forKind {
		units, err := r.units.ListUnits(ctx, spec.pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s units: %w", spec.kind, err)
		}
		for _, unit := range units {
			if r.denied(unit) {
				r.logger.Debug().
					Str("unit", unit).
					Str("kind", string(spec.kind)).
					Msg("Skipping denylisted unit")
				continue
			}
			jobs = append(jobs, r.newJob(unit, spec.kind))
		}
	}

	// Database backup units are named explicitly rather than discovered
	// by glob: only the full-backup unit belongs here, the incremental
	// variants run purely on their own timers
	for _, unit := range r.policy.DatabaseUnits {
		unit = trimUnit(unit)
		if r.denied(unit) {
			continue
		}
		jobs = append(jobs, r.newJob(unit, KindDatabaseBackup))
	}

	r.logger.Info().
		Int("job_count", len(jobs)).
		Msg("Discovered protection jobs")

	return jobs, nil
}

// IsActive reports whether the job is already running, e.g. started by
// its own timer. Such jobs are skipped instead of started twice.
func (r *Registry) IsActive(ctx context.Context, job Job) (bool, error) {
	active, err := r.units.IsActive(ctx, job.Name)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", job.Name, err)
	}
	return active, nil
}

func (r *Registry) newJob(unit string, kind Kind) Job {
	return Job{
		Name:    unit,
		Kind:    kind,
		Group:   string(kind),
		Timeout: r.policy.DefaultTimeout.Duration,
	}
}

// denied matches against the policy denylist; entries may be written with
// or without the .service suffix.
func (r *Registry) denied(unit string) bool {
	return slices.ContainsFunc(r.policy.Denylist, func(entry string) bool {
		return trimUnit(entry) == unit
	})
}

func trimUnit(unit string) string {
	return strings.TrimSuffix(unit, ".service")
}
