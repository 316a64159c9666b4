package preseed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
)

// ErrNotEmpty is returned when a dataset that was about to receive a
// destructive operation turns out to hold real data. Silently overwriting
// non-trivial existing data is the one outcome this engine exists to
// prevent, so callers must stop, not retry.
var ErrNotEmpty = errors.New("dataset is not effectively empty")

// Guard gates destructive restore operations behind two independent
// occupancy checks. Both the logical-size and the used-space reading must
// fall under their thresholds before a rollback or receive may proceed.
type Guard struct {
	snaps      capability.Snapshotter
	maxLogical int64
	maxUsed    int64
	logger     zerolog.Logger
}

// NewGuard creates a safety guard with the given occupancy thresholds
func NewGuard(snaps capability.Snapshotter, maxLogical, maxUsed int64, logger zerolog.Logger) *Guard {
	return &Guard{
		snaps:      snaps,
		maxLogical: maxLogical,
		maxUsed:    maxUsed,
		logger:     logger.With().Str("component", "safety_guard").Logger(),
	}
}

func (g *Guard) occupied(ctx context.Context, dataset string) (bool, capability.Occupancy, error) {
	occ, err := g.snaps.Occupancy(ctx, dataset)
	if err != nil {
		return false, occ, fmt.Errorf("failed to read occupancy of %s: %w", dataset, err)
	}
	return occ.LogicalBytes > g.maxLogical || occ.UsedBytes > g.maxUsed, occ, nil
}

// EnsureEmpty verifies the dataset is effectively empty. Callers invoke
// this immediately before each destructive capability call, not only at
// state-machine entry: the target could have received writes between an
// earlier check and the action.
func (g *Guard) EnsureEmpty(ctx context.Context, dataset string) error {
	occupied, occ, err := g.occupied(ctx, dataset)
	if err != nil {
		return err
	}
	if occupied {
		g.logger.Error().
			Str("dataset", dataset).
			Int64("logical_bytes", occ.LogicalBytes).
			Int64("max_logical_bytes", g.maxLogical).
			Int64("used_bytes", occ.UsedBytes).
			Int64("max_used_bytes", g.maxUsed).
			Msg("Refusing destructive operation on occupied dataset")
		return fmt.Errorf("%w: %s holds %d logical / %d used bytes (thresholds %d / %d)",
			ErrNotEmpty, dataset, occ.LogicalBytes, occ.UsedBytes, g.maxLogical, g.maxUsed)
	}
	return nil
}

// HasData reports whether the dataset holds data above the thresholds. A
// dataset with data and no marker is an existing installation to adopt,
// not a restore candidate.
func (g *Guard) HasData(ctx context.Context, dataset string) (bool, error) {
	occupied, _, err := g.occupied(ctx, dataset)
	return occupied, err
}
