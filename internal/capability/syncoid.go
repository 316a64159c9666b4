package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Syncoid implements Replicator via the syncoid CLI, which wraps
// incremental zfs send/receive over SSH.
type Syncoid struct {
	logger zerolog.Logger

	// SSH user on the remote side
	user string
}

// NewSyncoid creates a syncoid replicator. user is the SSH user on the
// replica host.
func NewSyncoid(user string, logger zerolog.Logger) *Syncoid {
	if user == "" {
		user = "root"
	}
	return &Syncoid{
		logger: logger.With().Str("component", "syncoid").Logger(),
		user:   user,
	}
}

// Pull receives the latest snapshot stream for remoteDataset on host into
// localDataset. --no-sync-snap restores from the existing snapshot history
// instead of creating a new sync snapshot on the (read-only) replica side.
func (s *Syncoid) Pull(ctx context.Context, host, remoteDataset, localDataset string) error {
	source := fmt.Sprintf("%s@%s:%s", s.user, host, remoteDataset)

	s.logger.Info().
		Str("source", source).
		Str("local_dataset", localDataset).
		Msg("Pulling replica stream")

	cmd := exec.CommandContext(ctx, "syncoid",
		"--no-sync-snap",
		"--no-privilege-elevation",
		source,
		localDataset,
	)
	outputBytes, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(outputBytes))
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("source", source).
			Str("output", output).
			Msg("Replica pull failed")
		return fmt.Errorf("syncoid pull from %s failed: %w (output: %s)", source, err, output)
	}

	s.logger.Info().
		Str("local_dataset", localDataset).
		Msg("Replica pull completed")

	return nil
}
