package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/history"
	"github.com/preservd-dev/preservd/internal/logger"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent protection runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}

func runHistory(limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitQuiet()

	db, err := history.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}

	runs, err := history.Recent(db, limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tJOBS\tOK\tFAILED\tSEVERITY\tEXIT")

	for _, run := range runs {
		duration := run.FinishedAt.Sub(run.StartedAt).Round(time.Second)
		total := run.Succeeded + run.Failed + run.TimedOut + run.Skipped
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%d\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04"),
			duration,
			total,
			run.Succeeded,
			run.Failed+run.TimedOut,
			run.Severity,
			run.ExitCode,
		)
	}

	w.Flush()
	return nil
}
