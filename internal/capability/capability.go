// Package capability abstracts the storage and backup tooling the
// orchestrator and the preseed engine drive. Each interface is narrow on
// purpose: core logic depends on these contracts, never on a specific
// tool's CLI, so the underlying tool can be swapped without touching the
// state machines.
package capability

import (
	"context"
)

// Occupancy reports how much data a dataset holds, from two independent
// accounting views. Both must read effectively empty before the preseed
// engine allows a destructive restore.
type Occupancy struct {
	// LogicalBytes is the uncompressed size of the data referenced by
	// the dataset
	LogicalBytes int64

	// UsedBytes is the on-disk space charged to the dataset itself,
	// excluding snapshots and children
	UsedBytes int64
}

// Snapshotter manages point-in-time, copy-on-write snapshots of named
// datasets, plus the dataset lifecycle operations the restore engine needs.
type Snapshotter interface {
	// DatasetExists reports whether the dataset exists at all
	DatasetExists(ctx context.Context, dataset string) (bool, error)

	// CreateDataset creates the dataset (and missing parents) mounted at
	// the given mountpoint
	CreateDataset(ctx context.Context, dataset, mountpoint string) error

	// Snapshot creates dataset@name and returns the full snapshot name
	Snapshot(ctx context.Context, dataset, name string) (string, error)

	// LatestSnapshot returns the most recently created snapshot of the
	// dataset, or "" when none exists
	LatestSnapshot(ctx context.Context, dataset string) (string, error)

	// Rollback reverts the dataset to the given snapshot, destroying any
	// snapshots newer than it
	Rollback(ctx context.Context, snapshot string) error

	// Hold places a named hold on a snapshot so pruning cannot destroy it
	Hold(ctx context.Context, snapshot, tag string) error

	// Release removes a previously placed hold
	Release(ctx context.Context, snapshot, tag string) error

	// Occupancy returns the dataset's current occupancy
	Occupancy(ctx context.Context, dataset string) (Occupancy, error)
}

// Replicator transfers incremental snapshot history between hosts. The
// preseed engine only ever pulls; the push direction runs as ordinary
// protection jobs under the orchestrator.
type Replicator interface {
	// Pull receives the latest snapshot stream for remoteDataset on host
	// into localDataset. Fails when the remote is unreachable or has no
	// matching history.
	Pull(ctx context.Context, host, remoteDataset, localDataset string) error
}

// RepoSpec points at an offsite object-store repository
type RepoSpec struct {
	URL          string
	PasswordFile string
}

// ObjectStoreBackup performs file-level, content-addressed backup and
// restore against a remote repository, independent of block-device
// semantics.
type ObjectStoreBackup interface {
	// LatestSnapshotID returns the newest snapshot id in the repository,
	// or "" when the repository is empty
	LatestSnapshotID(ctx context.Context, repo RepoSpec) (string, error)

	// Restore materializes the latest snapshot's files under targetDir
	Restore(ctx context.Context, repo RepoSpec, targetDir string) error
}

// UnitRunner drives the host's service manager, where protection jobs
// actually execute as oneshot units triggered here or by independent
// timers.
type UnitRunner interface {
	// ListUnits returns unit names matching the glob pattern
	ListUnits(ctx context.Context, pattern string) ([]string, error)

	// IsActive reports whether the unit is currently running
	IsActive(ctx context.Context, unit string) (bool, error)

	// Start starts the unit without waiting for completion
	Start(ctx context.Context, unit string) error

	// Stop force-stops a running unit (best effort)
	Stop(ctx context.Context, unit string) error

	// Result returns the unit's last run result ("success" or a systemd
	// failure reason)
	Result(ctx context.Context, unit string) (string, error)
}
