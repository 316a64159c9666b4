package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/assert"
)

// ZFS implements Snapshotter by shelling out to the zfs CLI
type ZFS struct {
	logger zerolog.Logger
}

// NewZFS creates a ZFS snapshotter
func NewZFS(logger zerolog.Logger) *ZFS {
	return &ZFS{
		logger: logger.With().Str("component", "zfs").Logger(),
	}
}

func (z *ZFS) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "zfs", args...)
	outputBytes, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(outputBytes))
	if err != nil {
		return output, fmt.Errorf("zfs %s failed: %w (output: %s)", args[0], err, output)
	}
	return output, nil
}

// DatasetExists reports whether the dataset exists
func (z *ZFS) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	cmd := exec.CommandContext(ctx, "zfs", "list", "-H", "-o", "name", dataset)
	if err := cmd.Run(); err != nil {
		// zfs list exits non-zero for a missing dataset; treat any
		// non-zero exit as absent rather than trying to distinguish
		// failure modes from the exit code alone
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("zfs list failed: %w", err)
	}
	return true, nil
}

// CreateDataset creates the dataset and missing parents, mounted at mountpoint
func (z *ZFS) CreateDataset(ctx context.Context, dataset, mountpoint string) error {
	z.logger.Info().
		Str("dataset", dataset).
		Str("mountpoint", mountpoint).
		Msg("Creating dataset")

	if _, err := z.run(ctx, "create", "-p", "-o", "mountpoint="+mountpoint, dataset); err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", dataset, err)
	}
	return nil
}

// Snapshot creates dataset@name
func (z *ZFS) Snapshot(ctx context.Context, dataset, name string) (string, error) {
	snapshot := fmt.Sprintf("%s@%s", dataset, name)

	z.logger.Info().
		Str("snapshot", snapshot).
		Msg("Creating snapshot")

	if _, err := z.run(ctx, "snapshot", snapshot); err != nil {
		return "", fmt.Errorf("failed to snapshot %s: %w", dataset, err)
	}
	return snapshot, nil
}

// LatestSnapshot returns the newest snapshot of the dataset, "" when none
func (z *ZFS) LatestSnapshot(ctx context.Context, dataset string) (string, error) {
	output, err := z.run(ctx, "list", "-H", "-t", "snapshot", "-o", "name", "-S", "creation", "-d", "1", dataset)
	if err != nil {
		return "", fmt.Errorf("failed to list snapshots of %s: %w", dataset, err)
	}
	if output == "" {
		return "", nil
	}

	lines := strings.Split(output, "\n")
	return strings.TrimSpace(lines[0]), nil
}

// Rollback reverts the dataset to the snapshot, destroying newer snapshots
func (z *ZFS) Rollback(ctx context.Context, snapshot string) error {
	// An empty name would make zfs resolve the rollback target from cwd
	assert.NotEmpty(snapshot, "rollback snapshot")

	z.logger.Warn().
		Str("snapshot", snapshot).
		Msg("Rolling back dataset (snapshots newer than the target are destroyed)")

	if _, err := z.run(ctx, "rollback", "-r", snapshot); err != nil {
		return fmt.Errorf("failed to roll back to %s: %w", snapshot, err)
	}
	return nil
}

// Hold places a named hold on a snapshot
func (z *ZFS) Hold(ctx context.Context, snapshot, tag string) error {
	z.logger.Debug().
		Str("snapshot", snapshot).
		Str("tag", tag).
		Msg("Placing hold")

	if _, err := z.run(ctx, "hold", tag, snapshot); err != nil {
		return fmt.Errorf("failed to hold %s: %w", snapshot, err)
	}
	return nil
}

// Release removes a previously placed hold
func (z *ZFS) Release(ctx context.Context, snapshot, tag string) error {
	if _, err := z.run(ctx, "release", tag, snapshot); err != nil {
		return fmt.Errorf("failed to release hold on %s: %w", snapshot, err)
	}
	return nil
}

// Occupancy reads logicalreferenced and usedbydataset in machine format
func (z *ZFS) Occupancy(ctx context.Context, dataset string) (Occupancy, error) {
	output, err := z.run(ctx, "get", "-Hp", "-o", "property,value", "logicalreferenced,usedbydataset", dataset)
	if err != nil {
		return Occupancy{}, fmt.Errorf("failed to read occupancy of %s: %w", dataset, err)
	}

	var occ Occupancy
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Occupancy{}, fmt.Errorf("unparsable %s value %q for %s: %w", fields[0], fields[1], dataset, err)
		}
		switch fields[0] {
		case "logicalreferenced":
			occ.LogicalBytes = value
		case "usedbydataset":
			occ.UsedBytes = value
		}
	}
	return occ, nil
}
