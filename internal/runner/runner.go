// Package runner wires the production capability implementations into the
// orchestrator and the preseed engine. The CLI and the queue worker share
// this assembly.
package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/history"
	"github.com/preservd-dev/preservd/internal/jobs"
	"github.com/preservd-dev/preservd/internal/notify"
	"github.com/preservd-dev/preservd/internal/orchestrator"
	"github.com/preservd-dev/preservd/internal/pgclient"
	"github.com/preservd-dev/preservd/internal/preflight"
	"github.com/preservd-dev/preservd/internal/preseed"
)

// BuildOrchestrator assembles an orchestrator against the host's real
// tooling.
func BuildOrchestrator(policy *config.Policy, logger zerolog.Logger) *orchestrator.Orchestrator {
	units := capability.NewSystemd(logger)
	registry := jobs.NewRegistry(units, policy.Jobs, logger)
	checker := preflight.NewChecker(policy.Preflight.MinFreeBytes, logger)
	notifier := notify.New(policy.Notify, logger)

	orch := orchestrator.New(registry, units, checker, notifier, policy.Jobs, logger)

	if policy.Jobs.DatabaseURL != "" {
		orch.WithDatabasePing(databasePing(policy.Jobs.DatabaseURL, logger))
	}

	return orch
}

// BuildPreseedEngine assembles the restore engine against the host's real
// tooling.
func BuildPreseedEngine(policy *config.Policy, logger zerolog.Logger) *preseed.Engine {
	snaps := capability.NewZFS(logger)
	repl := capability.NewSyncoid("", logger)
	offsite := capability.NewRestic(logger)
	markers := preseed.NewMarkerStore(policy.Preseed.MarkerDir, logger)
	guard := preseed.NewGuard(snaps, policy.Preseed.MaxLogicalBytes, policy.Preseed.MaxUsedBytes, logger)
	notifier := notify.New(policy.Notify, logger)

	return preseed.NewEngine(snaps, repl, offsite, markers, guard, notifier, logger)
}

// ExecuteRun performs one protection run and records it in history.
// History failures are logged, never fatal: the run already happened.
func ExecuteRun(ctx context.Context, db *gorm.DB, policy *config.Policy, logger zerolog.Logger) (*orchestrator.RunSummary, error) {
	orch := BuildOrchestrator(policy, logger)

	summary, err := orch.Run(ctx)
	if err != nil {
		return nil, err
	}

	if db != nil {
		if err := history.Record(db, summary, logger); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run history")
		}
	}

	return summary, nil
}

// databasePing verifies the cluster accepts connections and has left
// recovery before the full backup is triggered.
func databasePing(url string, logger zerolog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		client, err := pgclient.NewClient(url)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Ping(ctx); err != nil {
			return err
		}

		if version, err := client.GetVersion(ctx); err == nil {
			logger.Debug().Str("version", version).Msg("Database reachable")
		}

		inRecovery, err := client.InRecovery(ctx)
		if err != nil {
			return err
		}
		if inRecovery {
			return fmt.Errorf("cluster is still in recovery")
		}
		return nil
	}
}
