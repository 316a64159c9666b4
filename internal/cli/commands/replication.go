package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/logger"
	"github.com/preservd-dev/preservd/internal/status"
)

// NewReplicationCmd creates the replication command
func NewReplicationCmd() *cobra.Command {
	var (
		policyPath string
		target     string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "replication",
		Short: "Show replication state for every syncoid unit",
		Long: `Show replication state for every unit matching the policy's
replication pattern. A successful run older than the stale threshold is
reported as stale rather than healthy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplication(policyPath, target, jsonOut)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Filter by target host (substring match)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Write the listing as JSON to stdout")

	return cmd
}

func runReplication(policyPath, target string, jsonOut bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitQuiet()
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

	units := capability.NewSystemd(log)
	repls, err := status.CollectReplication(ctx, units, policy.Jobs.ReplicationPattern, policy.Jobs.Denylist, time.Now())
	if err != nil {
		return err
	}

	if target != "" {
		filtered := repls[:0]
		for _, repl := range repls {
			if strings.Contains(repl.TargetHost, target) {
				filtered = append(filtered, repl)
			}
		}
		repls = filtered
	}

	if jsonOut {
		return writeReplicationJSON(os.Stdout, repls)
	}
	writeReplicationTable(os.Stdout, repls)
	return nil
}

func writeReplicationJSON(w io.Writer, repls []status.Replication) error {
	out := struct {
		Jobs    []status.Replication `json:"jobs"`
		Summary status.ReplSummary   `json:"summary"`
	}{Jobs: repls, Summary: status.Summarize(repls)}
	if out.Jobs == nil {
		out.Jobs = []status.Replication{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeReplicationTable(w io.Writer, repls []status.Replication) {
	if len(repls) == 0 {
		fmt.Fprintln(w, "No replication units found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tDATASET\tTARGET\tSTATE\tLAST SUCCESS\tDETAIL")

	for _, repl := range repls {
		lastSuccess := "-"
		if repl.LastSuccess != nil {
			lastSuccess = repl.LastSuccess.Format("2006-01-02 15:04:05")
		}
		dataset := repl.Dataset
		if dataset == "" {
			dataset = "-"
		}
		targetHost := repl.TargetHost
		if targetHost == "" {
			targetHost = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			repl.Unit, dataset, targetHost, repl.State, lastSuccess, repl.Detail)
	}

	tw.Flush()

	summary := status.Summarize(repls)
	fmt.Fprintf(w, "\nTotal: %d | OK: %d | Running: %d | Stale: %d | Failed: %d\n",
		summary.Total, summary.OK, summary.Running, summary.Stale, summary.Failed)
}
