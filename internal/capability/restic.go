package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Restic implements ObjectStoreBackup via the restic CLI with --json output
type Restic struct {
	logger zerolog.Logger
}

// NewRestic creates a restic adapter
func NewRestic(logger zerolog.Logger) *Restic {
	return &Restic{
		logger: logger.With().Str("component", "restic").Logger(),
	}
}

// Snapshot is one entry of `restic snapshots --json`
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags"`
}

// resticSummary is the summary message of `restic restore --json`
type resticSummary struct {
	MessageType   string `json:"message_type"`
	TotalFiles    uint64 `json:"total_files"`
	FilesRestored uint64 `json:"files_restored"`
	TotalBytes    uint64 `json:"total_bytes"`
	BytesRestored uint64 `json:"bytes_restored"`
}

func (r *Restic) command(ctx context.Context, repo RepoSpec, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "restic", args...)
	cmd.Env = append(os.Environ(),
		"RESTIC_REPOSITORY="+repo.URL,
		"RESTIC_PASSWORD_FILE="+repo.PasswordFile,
	)
	return cmd
}

// Snapshots returns the newest limit snapshots, newest first. An empty
// repository yields an empty slice, not an error.
func (r *Restic) Snapshots(ctx context.Context, repo RepoSpec, limit int) ([]Snapshot, error) {
	cmd := r.command(ctx, repo, "snapshots", "--latest", strconv.Itoa(limit), "--json")
	outputBytes, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("restic snapshots failed for %s: %w", repo.URL, err)
	}

	var snapshots []Snapshot
	if err := json.Unmarshal(outputBytes, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse restic snapshots output: %w", err)
	}

	// restic reports oldest first
	slices.Reverse(snapshots)
	return snapshots, nil
}

// LatestSnapshotID returns the newest snapshot id, "" for an empty repository
func (r *Restic) LatestSnapshotID(ctx context.Context, repo RepoSpec) (string, error) {
	snapshots, err := r.Snapshots(ctx, repo, 1)
	if err != nil {
		return "", err
	}
	if len(snapshots) == 0 {
		return "", nil
	}
	return snapshots[0].ID, nil
}

// Restore materializes the latest snapshot under targetDir
func (r *Restic) Restore(ctx context.Context, repo RepoSpec, targetDir string) error {
	r.logger.Info().
		Str("repository", repo.URL).
		Str("target", targetDir).
		Msg("Restoring from offsite repository")

	cmd := r.command(ctx, repo, "restore", "latest", "--target", targetDir, "--json")
	outputBytes, err := cmd.CombinedOutput()
	output := string(outputBytes)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("repository", repo.URL).
			Str("output", tail(output, 20)).
			Msg("Offsite restore failed")
		return fmt.Errorf("restic restore from %s failed: %w", repo.URL, err)
	}

	// The last JSON line is the summary; log it when parsable, the
	// restore already succeeded either way
	if summary, ok := parseRestoreSummary(output); ok {
		r.logger.Info().
			Uint64("files_restored", summary.FilesRestored).
			Uint64("bytes_restored", summary.BytesRestored).
			Str("target", targetDir).
			Msg("Offsite restore completed")
	} else {
		r.logger.Info().
			Str("target", targetDir).
			Msg("Offsite restore completed")
	}

	return nil
}

func parseRestoreSummary(output string) (resticSummary, bool) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var summary resticSummary
		if err := json.Unmarshal([]byte(lines[i]), &summary); err != nil {
			continue
		}
		if summary.MessageType == "summary" {
			return summary, true
		}
	}
	return resticSummary{}, false
}

func tail(output string, lines int) string {
	split := strings.Split(strings.TrimSpace(output), "\n")
	if len(split) > lines {
		split = split[len(split)-lines:]
	}
	return strings.Join(split, "\n")
}
