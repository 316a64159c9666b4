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

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/logger"
	"github.com/preservd-dev/preservd/internal/status"
)

// NewBackupsCmd creates the backups command
func NewBackupsCmd() *cobra.Command {
	var (
		policyPath string
		service    string
		limit      int
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List offsite backup snapshots per service",
		Long: `List the newest offsite snapshots for every service whose restore
target has a repository configured. Each repository is queried directly,
so the listing reflects what a restore would actually find.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackups(policyPath, service, limit, jsonOut)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default from PRESERVD_POLICY)")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Filter by service name (substring match)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum snapshots per service")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Write the listing as JSON to stdout")

	return cmd
}

func runBackups(policyPath, service string, limit int, jsonOut bool) error {
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

	restic := capability.NewRestic(log)
	listings := status.CollectBackups(ctx, restic, policy, service, limit, log)

	if jsonOut {
		return writeBackupsJSON(os.Stdout, listings)
	}
	writeBackupsTable(os.Stdout, listings)
	return nil
}

func writeBackupsJSON(w io.Writer, listings []status.BackupListing) error {
	total := 0
	for _, listing := range listings {
		total += len(listing.Snapshots)
	}

	out := struct {
		Services []status.BackupListing `json:"services"`
		Summary  struct {
			TotalServices  int `json:"total_services"`
			TotalSnapshots int `json:"total_snapshots"`
		} `json:"summary"`
	}{Services: listings}
	if out.Services == nil {
		out.Services = []status.BackupListing{}
	}
	out.Summary.TotalServices = len(listings)
	out.Summary.TotalSnapshots = total

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeBackupsTable(w io.Writer, listings []status.BackupListing) {
	if len(listings) == 0 {
		fmt.Fprintln(w, "No offsite repositories configured.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tID\tTIME\tHOST\tTAGS")

	for _, listing := range listings {
		if listing.Error != "" {
			fmt.Fprintf(tw, "%s\t(error)\t%s\t\t\n", listing.Service, listing.Error)
			continue
		}
		if len(listing.Snapshots) == 0 {
			fmt.Fprintf(tw, "%s\t(empty)\t\t\t\n", listing.Service)
			continue
		}
		for i, snap := range listing.Snapshots {
			name := ""
			if i == 0 {
				name = listing.Service
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				name,
				snap.ShortID,
				snap.Time.Format("2006-01-02 15:04:05"),
				snap.Hostname,
				strings.Join(snap.Tags, ","),
			)
		}
	}

	tw.Flush()
}
