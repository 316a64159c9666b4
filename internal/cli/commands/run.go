package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/history"
	"github.com/preservd-dev/preservd/internal/logger"
	"github.com/preservd-dev/preservd/internal/orchestrator"
	"github.com/preservd-dev/preservd/internal/runner"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var (
		policyPath string
		dryRun     bool
		verbose    bool
		jsonOut    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one protection run",
		Long: `Execute one protection run: preflight checks, then every backup
stage in dependency order. Exit code 0 means every job succeeded, 1 means
a partial failure, 2 means the run is critically degraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(policyPath, dryRun, verbose, jsonOut, quiet)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the stage plan without starting any unit")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Report every job, not only problems")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Write the run summary as JSON to stdout")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Emit nothing, the exit code is the only output")

	return cmd
}

func runRun(policyPath string, dryRun, verbose, jsonOut, quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if quiet {
		logger.InitQuiet()
	} else {
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	}
	log := logger.GetLogger()

	if policyPath == "" {
		policyPath = cfg.PolicyPath
	}
	policy, err := config.LoadFile(policyPath)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dryRun {
		orch := runner.BuildOrchestrator(policy, log)
		plan, err := orch.Plan(ctx)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	}

	// History is best effort: a broken database must not block the run
	db, err := history.Open(cfg.Database.URL)
	if err != nil {
		log.Warn().Err(err).Msg("Run history unavailable")
		db = nil
	}

	summary, err := runner.ExecuteRun(ctx, db, policy, log)
	if err != nil {
		return err
	}

	if err := writeRunSummary(os.Stdout, summary, jsonOut, verbose, quiet); err != nil {
		return err
	}

	if summary.ExitCode != orchestrator.ExitOK {
		return &ExitError{Code: summary.ExitCode}
	}
	return nil
}

// writeRunSummary writes the run report to w. Quiet suppresses it
// entirely, including the JSON form: the exit code is the only output.
func writeRunSummary(w io.Writer, summary *orchestrator.RunSummary, jsonOut, verbose, quiet bool) error {
	if quiet {
		return nil
	}
	if jsonOut {
		return summary.WriteJSON(w)
	}
	summary.WriteReport(w, verbose)
	return nil
}

func printPlan(plan []orchestrator.PlannedStage) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tPARALLELISM\tCRITICAL\tJOBS")

	for _, stage := range plan {
		parallelism := fmt.Sprintf("%d", stage.Stage.Parallelism)
		if stage.Stage.Parallelism == 0 {
			parallelism = "unbounded"
		}
		if len(stage.Jobs) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%v\t(none)\n", stage.Stage.Name, parallelism, stage.Stage.Critical)
			continue
		}
		for i, job := range stage.Jobs {
			name := ""
			par := ""
			critical := ""
			if i == 0 {
				name = stage.Stage.Name
				par = parallelism
				critical = fmt.Sprintf("%v", stage.Stage.Critical)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s (timeout %s)\n", name, par, critical, job.Name, job.Timeout)
		}
	}

	w.Flush()
}
