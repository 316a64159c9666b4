// Package status assembles operator-facing listings: offsite backup
// snapshots per service and replication state per syncoid unit. The
// collectors query the live host and degrade per entry, a broken
// repository or unit never hides the others.
package status

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
)

// SnapshotLister is the restic capability surface the backup listing needs
type SnapshotLister interface {
	Snapshots(ctx context.Context, repo capability.RepoSpec, limit int) ([]capability.Snapshot, error)
}

// UnitInspector is the systemd capability surface the replication
// listing needs
type UnitInspector interface {
	ListUnits(ctx context.Context, pattern string) ([]string, error)
	Show(ctx context.Context, unit string, properties ...string) (map[string]string, error)
}

// BackupListing is the snapshot inventory of one service's repository
type BackupListing struct {
	Service    string                `json:"service"`
	Repository string                `json:"repository"`
	Snapshots  []capability.Snapshot `json:"snapshots"`

	// Error is the per-repository listing failure, "" when clean
	Error string `json:"error,omitempty"`
}

// CollectBackups lists the newest snapshots for every policy target
// that has an offsite repository. serviceFilter narrows by substring
// match on the service name, "" matches all.
func CollectBackups(ctx context.Context, lister SnapshotLister, policy *config.Policy, serviceFilter string, limit int, logger zerolog.Logger) []BackupListing {
	log := logger.With().Str("component", "status").Logger()

	var listings []BackupListing
	for _, target := range policy.Targets {
		if target.Repository.URL == "" {
			continue
		}
		if serviceFilter != "" && !strings.Contains(target.Service, serviceFilter) {
			continue
		}

		listing := BackupListing{
			Service:    target.Service,
			Repository: target.Repository.URL,
		}

		repo := capability.RepoSpec{
			URL:          target.Repository.URL,
			PasswordFile: target.Repository.PasswordFile,
		}
		snapshots, err := lister.Snapshots(ctx, repo, limit)
		if err != nil {
			log.Warn().
				Err(err).
				Str("service", target.Service).
				Msg("Snapshot listing failed")
			listing.Error = err.Error()
		} else {
			listing.Snapshots = snapshots
		}

		listings = append(listings, listing)
	}
	return listings
}

// ReplState classifies one replication unit
type ReplState string

const (
	ReplOK      ReplState = "ok"
	ReplRunning ReplState = "running"
	ReplStale   ReplState = "stale"
	ReplFailed  ReplState = "failed"
	ReplUnknown ReplState = "unknown"
)

// StaleThreshold is how old a successful replication may be before it
// counts as stale. Replication runs far more often than backups.
const StaleThreshold = 2 * time.Hour

// Replication is the observed state of one syncoid unit
type Replication struct {
	Unit        string     `json:"unit"`
	Dataset     string     `json:"dataset,omitempty"`
	TargetHost  string     `json:"target_host,omitempty"`
	State       ReplState  `json:"state"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// ReplSummary aggregates replication states for the report footer
type ReplSummary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Running int `json:"running"`
	Stale   int `json:"stale"`
	Failed  int `json:"failed"`
	Unknown int `json:"unknown"`
}

// Summarize counts replications per state
func Summarize(repls []Replication) ReplSummary {
	summary := ReplSummary{Total: len(repls)}
	for _, r := range repls {
		switch r.State {
		case ReplOK:
			summary.OK++
		case ReplRunning:
			summary.Running++
		case ReplStale:
			summary.Stale++
		case ReplFailed:
			summary.Failed++
		default:
			summary.Unknown++
		}
	}
	return summary
}

// replProperties are the unit properties the classification reads
var replProperties = []string{"ActiveState", "SubState", "Result", "ExecMainExitTimestamp", "ExecStart"}

// CollectReplication inspects every unit matching the replication
// pattern and classifies its state. Denylisted utility units are
// excluded the same way the job registry excludes them.
func CollectReplication(ctx context.Context, units UnitInspector, pattern string, denylist []string, now time.Time) ([]Replication, error) {
	names, err := units.ListUnits(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list replication units: %w", err)
	}

	var repls []Replication
	for _, unit := range names {
		if denied(denylist, unit) {
			continue
		}

		repl := Replication{
			Unit:    unit,
			Dataset: deriveDataset(unit),
		}

		props, err := units.Show(ctx, unit, replProperties...)
		if err != nil {
			repl.State = ReplUnknown
			repl.Detail = err.Error()
			repls = append(repls, repl)
			continue
		}

		repl.TargetHost = parseTargetHost(props["ExecStart"])
		repl.State, repl.Detail = classify(props, now)
		if ts := parseExitTimestamp(props["ExecMainExitTimestamp"]); ts != nil && props["Result"] == "success" {
			repl.LastSuccess = ts
		}

		repls = append(repls, repl)
	}
	return repls, nil
}

func classify(props map[string]string, now time.Time) (ReplState, string) {
	switch props["ActiveState"] {
	case "activating", "active":
		return ReplRunning, "replication in progress"
	}

	result := props["Result"]
	if result == "" {
		return ReplUnknown, "no result recorded"
	}
	if result != "success" {
		return ReplFailed, "last run " + result
	}

	ts := parseExitTimestamp(props["ExecMainExitTimestamp"])
	if ts == nil {
		return ReplOK, "healthy (no timestamp)"
	}
	if age := now.Sub(*ts); age > StaleThreshold {
		return ReplStale, fmt.Sprintf("last success %s ago", age.Round(time.Minute))
	}
	return ReplOK, "healthy"
}

// targetPattern matches the user@host:dataset argument syncoid is
// invoked with
var targetPattern = regexp.MustCompile(`[\w.-]+@([^:\s]+):`)

func parseTargetHost(execStart string) string {
	match := targetPattern.FindStringSubmatch(execStart)
	if match == nil {
		return ""
	}
	return match[1]
}

// parseExitTimestamp parses systemd's ExecMainExitTimestamp form
// "Fri 2025-11-28 17:00:54 EST". The zone abbreviation is the host's
// own zone, so the naive part is parsed in local time.
func parseExitTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "n/a" {
		return nil
	}

	if idx := strings.LastIndexByte(raw, ' '); idx > 0 {
		raw = raw[:idx]
	}
	ts, err := time.ParseInLocation("Mon 2006-01-02 15:04:05", raw, time.Local)
	if err != nil {
		return nil
	}
	return &ts
}

// deriveDataset maps a syncoid unit name back to its dataset path,
// syncoid-tank-services-gitea becomes tank/services/gitea. Unit names
// flatten both separators to hyphens, so datasets whose components
// contain hyphens come back approximated.
func deriveDataset(unit string) string {
	trimmed := strings.TrimPrefix(unit, "syncoid-")
	if trimmed == unit {
		return ""
	}
	return strings.ReplaceAll(trimmed, "-", "/")
}

// denied matches the registry's denylist semantics, entries may be
// written with or without the .service suffix
func denied(denylist []string, unit string) bool {
	for _, entry := range denylist {
		if strings.TrimSuffix(entry, ".service") == unit {
			return true
		}
	}
	return false
}
