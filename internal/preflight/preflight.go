// Package preflight verifies destination storage before a run. Backup jobs
// started against a nearly full destination produce partial failures that
// are indistinguishable from real job failures, so the orchestrator fails
// fast here instead.
package preflight

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Result is the outcome of one destination path check
type Result struct {
	Path      string
	MinFree   int64
	FreeBytes int64
	Passed    bool
}

// Checker verifies free capacity on destination paths
type Checker struct {
	thresholds map[string]int64
	statfs     func(path string) (free int64, err error)
	logger     zerolog.Logger
}

// NewChecker creates a capacity checker for the given per-path minimum
// free-byte thresholds.
func NewChecker(thresholds map[string]int64, logger zerolog.Logger) *Checker {
	return &Checker{
		thresholds: thresholds,
		statfs:     freeBytes,
		logger:     logger.With().Str("component", "preflight").Logger(),
	}
}

// Check verifies every destination path. The returned results cover all
// paths in deterministic order; err is non-nil only when a path could not
// be inspected at all.
func (c *Checker) Check(ctx context.Context) ([]Result, error) {
	paths := make([]string, 0, len(c.thresholds))
	for path := range c.thresholds {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		minFree := c.thresholds[path]
		free, err := c.statfs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat destination %s: %w", path, err)
		}

		result := Result{
			Path:      path,
			MinFree:   minFree,
			FreeBytes: free,
			Passed:    free >= minFree,
		}
		results = append(results, result)

		if result.Passed {
			c.logger.Debug().
				Str("path", path).
				Int64("free_bytes", free).
				Int64("min_free_bytes", minFree).
				Msg("Destination capacity ok")
		} else {
			c.logger.Error().
				Str("path", path).
				Int64("free_bytes", free).
				Int64("min_free_bytes", minFree).
				Msg("Destination below minimum free capacity")
		}
	}

	return results, nil
}

// AllPassed reports whether every destination passed
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func freeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * stat.Bsize, nil
}
