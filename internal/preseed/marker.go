package preseed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/config"
)

// MarkerState is the terminal state a completed preseed run records
type MarkerState string

const (
	// MarkerRestored means data was recovered from some source
	MarkerRestored MarkerState = "restored"

	// MarkerBootstrapEmpty means no data existed anywhere and the
	// service started fresh
	MarkerBootstrapEmpty MarkerState = "bootstrap-empty"
)

// Marker is the per-service completion flag. Its presence suppresses all
// future preseed attempts for the service until an operator clears it:
// once a service has run against an established data state, re-restoring
// would roll back everything written since.
type Marker struct {
	Service   string               `json:"service"`
	State     MarkerState          `json:"state"`
	Method    config.RestoreMethod `json:"method,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// MarkerStore persists markers in a directory independent of the dataset
// lifecycle, so destroying and recreating a dataset cannot hide or
// duplicate its marker.
type MarkerStore struct {
	dir    string
	logger zerolog.Logger
}

// NewMarkerStore creates a marker store rooted at dir
func NewMarkerStore(dir string, logger zerolog.Logger) *MarkerStore {
	return &MarkerStore{
		dir:    dir,
		logger: logger.With().Str("component", "markers").Logger(),
	}
}

func (s *MarkerStore) path(service string) string {
	return filepath.Join(s.dir, service+".json")
}

// Read returns the marker for a service, or nil when none exists
func (s *MarkerStore) Read(service string) (*Marker, error) {
	raw, err := os.ReadFile(s.path(service))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read marker for %s: %w", service, err)
	}

	var marker Marker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return nil, fmt.Errorf("corrupt marker for %s: %w", service, err)
	}
	return &marker, nil
}

// Write persists a marker atomically (temp file + rename), surviving
// process restarts and host reboots.
func (s *MarkerStore) Write(marker Marker) error {
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	raw, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+marker.Service+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp marker: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close marker: %w", err)
	}

	if err := os.Rename(tmpName, s.path(marker.Service)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit marker: %w", err)
	}
	return nil
}

// Clear removes a service's marker. Operator action only.
func (s *MarkerStore) Clear(service string) error {
	if err := os.Remove(s.path(service)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no marker exists for %s", service)
		}
		return fmt.Errorf("failed to clear marker for %s: %w", service, err)
	}
	return nil
}

// List returns every recorded marker, ordered by service name. A marker
// that cannot be read is skipped with a warning so one damaged file does
// not hide the state of every other service.
func (s *MarkerStore) List() ([]Marker, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list markers: %w", err)
	}

	var markers []Marker
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		marker, err := s.Read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("file", name).
				Msg("Skipping unreadable marker")
			continue
		}
		if marker != nil {
			markers = append(markers, *marker)
		}
	}
	return markers, nil
}
