package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/logger"
	"github.com/preservd-dev/preservd/internal/preseed"
	"github.com/preservd-dev/preservd/internal/runner"
)

// NewPreseedCmd creates the preseed command group
func NewPreseedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preseed",
		Short: "Restore service datasets before first start",
	}

	cmd.AddCommand(newPreseedRunCmd())
	cmd.AddCommand(newPreseedStatusCmd())
	cmd.AddCommand(newPreseedClearCmd())

	return cmd
}

func newPreseedRunCmd() *cobra.Command {
	var (
		policyPath string
		yes        bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run <service>",
		Short: "Seed one service's dataset from the best available source",
		Long: `Seed one service's dataset from the best available source, trying
the policy's restore methods in order. A completion marker makes repeat
runs no-ops until an operator clears it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreseed(args[0], policyPath, yes, quiet)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Emit nothing, the exit code is the only output")

	return cmd
}

func runPreseed(service, policyPath string, yes, quiet bool) error {
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

	target, err := policy.TargetFor(service)
	if err != nil {
		return err
	}

	if !yes {
		fmt.Printf("Seeding %s may roll back or overwrite %s.\n", target.Service, target.Dataset)
		if !confirm("Continue?") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := runner.BuildPreseedEngine(policy, log)
	result, err := engine.Run(ctx, *target)
	if err != nil {
		if errors.Is(err, preseed.ErrNotEmpty) {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		return err
	}

	writePreseedResult(os.Stdout, result, quiet)
	return nil
}

// writePreseedResult writes the seeding outcome to w. Quiet suppresses
// it entirely: the exit code is the only output.
func writePreseedResult(w io.Writer, result *preseed.Result, quiet bool) {
	if quiet {
		return
	}

	switch {
	case result.AlreadySeeded:
		fmt.Fprintf(w, "%s: already seeded (%s), nothing done\n", result.Service, result.State)
	case result.AdoptedExisting:
		fmt.Fprintf(w, "%s: existing data adopted, no restore needed\n", result.Service)
	case result.State == preseed.MarkerRestored:
		fmt.Fprintf(w, "%s: restored via %s\n", result.Service, result.Method)
	default:
		fmt.Fprintf(w, "%s: no source had data, starting empty\n", result.Service)
	}

	for _, attempt := range result.Attempts {
		line := fmt.Sprintf("  %-15s %s", attempt.Method, attempt.Outcome)
		if attempt.Detail != "" {
			line += ": " + attempt.Detail
		}
		fmt.Fprintln(w, line)
	}
}

func newPreseedStatusCmd() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show seeding state for every configured service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreseedStatus(policyPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")

	return cmd
}

func runPreseedStatus(policyPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitQuiet()

	if policyPath == "" {
		policyPath = cfg.PolicyPath
	}
	policy, err := config.LoadFile(policyPath)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	markers := preseed.NewMarkerStore(policy.Preseed.MarkerDir, logger.GetLogger())
	byService := make(map[string]preseed.Marker)
	list, err := markers.List()
	if err != nil {
		return err
	}
	for _, marker := range list {
		byService[marker.Service] = marker
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tDATASET\tSTATE\tMETHOD\tSEEDED AT")

	for _, target := range policy.Targets {
		marker, ok := byService[target.Service]
		if !ok {
			fmt.Fprintf(w, "%s\t%s\tpending\t-\t-\n", target.Service, target.Dataset)
			continue
		}
		method := string(marker.Method)
		if method == "" {
			method = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			target.Service,
			target.Dataset,
			marker.State,
			method,
			marker.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	w.Flush()
	return nil
}

func newPreseedClearCmd() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "clear-marker <service>",
		Short: "Clear a completion marker so the next run seeds again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreseedClear(args[0], policyPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")

	return cmd
}

func runPreseedClear(service, policyPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitQuiet()

	if policyPath == "" {
		policyPath = cfg.PolicyPath
	}
	policy, err := config.LoadFile(policyPath)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	if _, err := policy.TargetFor(service); err != nil {
		return err
	}

	markers := preseed.NewMarkerStore(policy.Preseed.MarkerDir, logger.GetLogger())
	if err := markers.Clear(service); err != nil {
		return err
	}

	fmt.Printf("Marker cleared for %s. The next preseed run will seed again.\n", service)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
