// Package preseed restores a service's persistent data before the service
// starts. It tries the configured restore sources in order and finalizes
// with either a verified restore or an explicit empty bootstrap, recording
// a completion marker so the decision is made exactly once.
package preseed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/notify"
)

// holdTag names the hold this engine places on snapshots it depends on
const holdTag = "preservd-preseed"

// AttemptOutcome classifies one restore-method attempt
type AttemptOutcome string

const (
	AttemptRestored      AttemptOutcome = "restored"
	AttemptNotApplicable AttemptOutcome = "not-applicable"
	AttemptFailed        AttemptOutcome = "failed"
)

// Attempt records one tried method. DestroyedTarget tracks whether the
// attempt replaced the target dataset's previous contents.
type Attempt struct {
	Method          config.RestoreMethod
	Outcome         AttemptOutcome
	Detail          string
	DestroyedTarget bool
}

// Result is the outcome of one engine run
type Result struct {
	Service string
	State   MarkerState

	// AlreadySeeded is set when a marker short-circuited the run
	AlreadySeeded bool

	// AdoptedExisting is set when data was found with no marker and
	// finalized as restored without invoking any method
	AdoptedExisting bool

	// Method that won, empty for adoption and bootstrap
	Method config.RestoreMethod

	Attempts []Attempt
}

// Engine is the per-service restore state machine
type Engine struct {
	snaps    capability.Snapshotter
	repl     capability.Replicator
	offsite  capability.ObjectStoreBackup
	markers  *MarkerStore
	guard    *Guard
	notifier notify.Notifier
	logger   zerolog.Logger

	now func() time.Time
}

// NewEngine creates a restore engine
func NewEngine(
	snaps capability.Snapshotter,
	repl capability.Replicator,
	offsite capability.ObjectStoreBackup,
	markers *MarkerStore,
	guard *Guard,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		snaps:    snaps,
		repl:     repl,
		offsite:  offsite,
		markers:  markers,
		guard:    guard,
		notifier: notifier,
		logger:   logger.With().Str("component", "preseed").Logger(),
		now:      time.Now,
	}
}

// Run executes the state machine for one service. Repeat runs after a
// recorded completion are no-ops: the marker suppresses every capability
// call until an operator clears it.
func (e *Engine) Run(ctx context.Context, target config.Target) (*Result, error) {
	logger := e.logger.With().Str("service", target.Service).Logger()

	marker, err := e.markers.Read(target.Service)
	if err != nil {
		return nil, err
	}
	if marker != nil {
		logger.Info().
			Str("state", string(marker.State)).
			Time("seeded_at", marker.CreatedAt).
			Msg("Completion marker present, nothing to do")
		return &Result{
			Service:       target.Service,
			State:         marker.State,
			AlreadySeeded: true,
		}, nil
	}

	logger.Info().
		Str("dataset", target.Dataset).
		Msg("No completion marker, checking dataset state")

	datasetExists, err := e.snaps.DatasetExists(ctx, target.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to check dataset %s: %w", target.Dataset, err)
	}

	if datasetExists {
		hasData, err := e.guard.HasData(ctx, target.Dataset)
		if err != nil {
			return nil, err
		}
		if hasData {
			// Existing data with no marker: an installation that
			// predates the marker scheme (manual provisioning,
			// upgrade). Adopt it as restored, never overwrite it.
			return e.adoptExisting(ctx, target, logger)
		}
	}

	var attempts []Attempt
	for _, method := range target.Methods {
		logger.Info().
			Str("method", string(method)).
			Msg("Trying restore method")

		attempt, err := e.try(ctx, target, method, datasetExists)
		attempts = append(attempts, attempt)

		if err != nil {
			// Safety violations and marker failures abort the whole
			// run; advancing to another method would be unsafe
			if errors.Is(err, ErrNotEmpty) {
				e.notify(ctx, notify.Event{
					Type:     notify.EventRestoreComplete,
					Severity: "critical",
					Name:     target.Service,
					Detail:   fmt.Sprintf("safety check blocked %s restore: %v", method, err),
				}, logger)
			}
			return nil, fmt.Errorf("restore method %s aborted: %w", method, err)
		}

		switch attempt.Outcome {
		case AttemptRestored:
			return e.finalizeRestored(ctx, target, method, attempts, logger)
		case AttemptNotApplicable:
			logger.Info().
				Str("method", string(method)).
				Str("detail", attempt.Detail).
				Msg("Restore method not applicable, advancing")
		case AttemptFailed:
			logger.Warn().
				Str("method", string(method)).
				Str("detail", attempt.Detail).
				Msg("Restore method failed, advancing to next")
		}

		// A failed attempt may have created the dataset as a side
		// effect of a partial receive
		datasetExists, err = e.snaps.DatasetExists(ctx, target.Dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to re-check dataset %s: %w", target.Dataset, err)
		}
	}

	return e.finalizeBootstrap(ctx, target, datasetExists, attempts, logger)
}

func (e *Engine) try(ctx context.Context, target config.Target, method config.RestoreMethod, datasetExists bool) (Attempt, error) {
	switch method {
	case config.MethodReplica:
		return e.tryReplica(ctx, target, datasetExists)
	case config.MethodLocalSnapshot:
		return e.tryLocalSnapshot(ctx, target, datasetExists)
	case config.MethodOffsiteBackup:
		return e.tryOffsite(ctx, target, datasetExists)
	default:
		// Policy validation rejects unknown methods at load; reaching
		// here is a programming error
		return Attempt{}, fmt.Errorf("unknown restore method %q", method)
	}
}

// tryReplica pulls the latest snapshot stream from the replica host. A
// receive into an existing dataset rolls it back, so the occupancy guard
// runs immediately before, and any existing snapshot history gets a hold.
func (e *Engine) tryReplica(ctx context.Context, target config.Target, datasetExists bool) (Attempt, error) {
	attempt := Attempt{Method: config.MethodReplica}

	if datasetExists {
		if err := e.guard.EnsureEmpty(ctx, target.Dataset); err != nil {
			attempt.Outcome = AttemptFailed
			attempt.Detail = err.Error()
			return attempt, err
		}

		latest, err := e.snaps.LatestSnapshot(ctx, target.Dataset)
		if err != nil {
			attempt.Outcome = AttemptFailed
			attempt.Detail = err.Error()
			return attempt, nil
		}
		if latest != "" {
			if err := e.snaps.Hold(ctx, latest, holdTag); err != nil {
				attempt.Outcome = AttemptFailed
				attempt.Detail = err.Error()
				return attempt, nil
			}
			defer e.releaseHold(ctx, latest)
		}
	}

	if err := e.repl.Pull(ctx, target.ReplicaHost, target.ReplicaDataset, target.Dataset); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}

	attempt.Outcome = AttemptRestored
	attempt.DestroyedTarget = datasetExists
	return attempt, nil
}

// tryLocalSnapshot rolls the dataset back to its most recent snapshot.
// The target snapshot gets a hold so pruning cannot destroy it
// mid-operation. A pre-rollback snapshot of the current state is taken
// first as an audit record: the recursive rollback destroys it along
// with everything newer than the target, but its creation stays in the
// zfs history log. The guard re-check right before the rollback is what
// bounds the loss, at most threshold-sized skeleton data.
func (e *Engine) tryLocalSnapshot(ctx context.Context, target config.Target, datasetExists bool) (Attempt, error) {
	attempt := Attempt{Method: config.MethodLocalSnapshot}

	if !datasetExists {
		attempt.Outcome = AttemptNotApplicable
		attempt.Detail = "dataset does not exist"
		return attempt, nil
	}

	latest, err := e.snaps.LatestSnapshot(ctx, target.Dataset)
	if err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}
	if latest == "" {
		attempt.Outcome = AttemptNotApplicable
		attempt.Detail = "no local snapshot exists"
		return attempt, nil
	}

	if err := e.snaps.Hold(ctx, latest, holdTag); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}
	defer e.releaseHold(ctx, latest)

	if _, err := e.snaps.Snapshot(ctx, target.Dataset, e.snapshotName("pre-rollback")); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}

	// Re-check right before the rollback, which destroys the current
	// dataset contents
	if err := e.guard.EnsureEmpty(ctx, target.Dataset); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, err
	}

	if err := e.snaps.Rollback(ctx, latest); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}

	attempt.Outcome = AttemptRestored
	attempt.DestroyedTarget = true
	return attempt, nil
}

// tryOffsite restores file contents from the object-store repository into
// the mountpoint. File-level restore carries no incremental lineage, so
// policy validation only allows this method when the operator accepted a
// future full reseed.
func (e *Engine) tryOffsite(ctx context.Context, target config.Target, datasetExists bool) (Attempt, error) {
	attempt := Attempt{Method: config.MethodOffsiteBackup}

	repo := capability.RepoSpec{
		URL:          target.Repository.URL,
		PasswordFile: target.Repository.PasswordFile,
	}

	snapshotID, err := e.offsite.LatestSnapshotID(ctx, repo)
	if err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		return attempt, nil
	}
	if snapshotID == "" {
		attempt.Outcome = AttemptNotApplicable
		attempt.Detail = "repository holds no snapshots"
		return attempt, nil
	}

	if datasetExists {
		// Restoring files over a populated mountpoint is overwrite
		// style destruction
		if err := e.guard.EnsureEmpty(ctx, target.Dataset); err != nil {
			attempt.Outcome = AttemptFailed
			attempt.Detail = err.Error()
			return attempt, err
		}
	} else {
		if err := e.snaps.CreateDataset(ctx, target.Dataset, target.Mountpoint); err != nil {
			attempt.Outcome = AttemptFailed
			attempt.Detail = err.Error()
			return attempt, nil
		}
	}

	if err := e.offsite.Restore(ctx, repo, target.Mountpoint); err != nil {
		attempt.Outcome = AttemptFailed
		attempt.Detail = err.Error()
		attempt.DestroyedTarget = datasetExists
		return attempt, nil
	}

	attempt.Outcome = AttemptRestored
	attempt.DestroyedTarget = datasetExists
	return attempt, nil
}

// adoptExisting finalizes a dataset that already holds data but carries
// no marker, without invoking any restore method.
func (e *Engine) adoptExisting(ctx context.Context, target config.Target, logger zerolog.Logger) (*Result, error) {
	logger.Info().
		Str("dataset", target.Dataset).
		Msg("Found existing data with no marker, adopting as restored")

	if _, err := e.snaps.Snapshot(ctx, target.Dataset, e.snapshotName("adopted")); err != nil {
		logger.Warn().Err(err).Msg("Failed to take protective snapshot of adopted data")
	}

	if err := e.markers.Write(Marker{
		Service: target.Service,
		State:   MarkerRestored,
	}); err != nil {
		return nil, err
	}

	e.notify(ctx, notify.Event{
		Type:     notify.EventRestoreComplete,
		Severity: "info",
		Name:     target.Service,
		Detail:   "existing data adopted without restore",
	}, logger)

	return &Result{
		Service:         target.Service,
		State:           MarkerRestored,
		AdoptedExisting: true,
	}, nil
}

// finalizeRestored records the winning method and takes a protective
// snapshot so the restored state itself becomes a rollback point.
func (e *Engine) finalizeRestored(ctx context.Context, target config.Target, method config.RestoreMethod, attempts []Attempt, logger zerolog.Logger) (*Result, error) {
	if _, err := e.snaps.Snapshot(ctx, target.Dataset, e.snapshotName("restored")); err != nil {
		logger.Warn().Err(err).Msg("Failed to take protective snapshot of restored state")
	}

	if err := e.markers.Write(Marker{
		Service: target.Service,
		State:   MarkerRestored,
		Method:  method,
	}); err != nil {
		return nil, err
	}

	logger.Info().
		Str("method", string(method)).
		Msg("Restore completed")

	e.notify(ctx, notify.Event{
		Type:     notify.EventRestoreComplete,
		Severity: "info",
		Name:     target.Service,
		Detail:   fmt.Sprintf("restored via %s", method),
	}, logger)

	return &Result{
		Service:  target.Service,
		State:    MarkerRestored,
		Method:   method,
		Attempts: attempts,
	}, nil
}

// finalizeBootstrap handles exhaustion of every configured method
// (including the zero-method case). Lenient mode starts the service empty
// and alerts the operator; retrying forever or blocking startup is worse
// for availability than starting empty once. Strict mode blocks instead.
func (e *Engine) finalizeBootstrap(ctx context.Context, target config.Target, datasetExists bool, attempts []Attempt, logger zerolog.Logger) (*Result, error) {
	if target.Strict {
		logger.Error().
			Int("attempts", len(attempts)).
			Msg("No restore source available and strict mode is set, blocking startup")

		e.notify(ctx, notify.Event{
			Type:     notify.EventRestoreComplete,
			Severity: "critical",
			Name:     target.Service,
			Detail:   "all restore methods failed; strict mode blocks startup",
		}, logger)

		return nil, fmt.Errorf("no restore source available for %s and strict mode is set", target.Service)
	}

	if !datasetExists {
		if err := e.snaps.CreateDataset(ctx, target.Dataset, target.Mountpoint); err != nil {
			return nil, fmt.Errorf("failed to create empty dataset: %w", err)
		}
	}

	if err := e.markers.Write(Marker{
		Service: target.Service,
		State:   MarkerBootstrapEmpty,
	}); err != nil {
		return nil, err
	}

	logger.Warn().
		Int("attempts", len(attempts)).
		Msg("No restore source available, bootstrapping empty")

	e.notify(ctx, notify.Event{
		Type:     notify.EventRestoreBootstrapEmpty,
		Severity: "warning",
		Name:     target.Service,
		Detail:   fmt.Sprintf("no restore source available after %d attempts; service starts empty", len(attempts)),
	}, logger)

	return &Result{
		Service:  target.Service,
		State:    MarkerBootstrapEmpty,
		Attempts: attempts,
	}, nil
}

func (e *Engine) releaseHold(ctx context.Context, snapshot string) {
	if err := e.snaps.Release(ctx, snapshot, holdTag); err != nil {
		e.logger.Warn().
			Err(err).
			Str("snapshot", snapshot).
			Msg("Failed to release hold")
	}
}

func (e *Engine) notify(ctx context.Context, event notify.Event, logger zerolog.Logger) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("Failed to send notification")
	}
}

func (e *Engine) snapshotName(kind string) string {
	return fmt.Sprintf("preseed-%s-%s", kind, e.now().UTC().Format("20060102150405"))
}
