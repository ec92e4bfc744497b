package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/focushist/internal/lease"
)

var leasesCmd = &cobra.Command{
	Use:   "leases",
	Short: "Show which daemon owns which monitor",
	Long: `List the rows of the shared lease registry.

A row for "*" is the claim of a daemon tracking all monitors. A monitor
belongs to whichever of its own row and the "*" row has the higher epoch.`,
	Example: `  # Table output (default)
  focushist leases

  # JSON output
  focushist leases --format json`,
	Args: cobra.NoArgs,
	RunE: runLeases,
}

var leasesFormat string

func init() {
	rootCmd.AddCommand(leasesCmd)

	leasesCmd.Flags().StringVarP(&leasesFormat, "format", "f", "table", "output format (table or json)")
}

func runLeases(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := lease.Open(ctx, filepath.Join(cfg.ResolvedRuntimeDir(), lease.DBName))
	if err != nil {
		return fmt.Errorf("failed to open lease registry: %w", err)
	}
	defer reg.Close()

	rows, err := reg.Leases(ctx)
	if err != nil {
		return err
	}
	return printLeases(cmd.OutOrStdout(), rows, leasesFormat)
}

func printLeases(w io.Writer, rows []lease.Lease, format string) error {
	switch format {
	case "json":
		if rows == nil {
			rows = []lease.Lease{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "table":
		if len(rows) == 0 {
			fmt.Fprintln(w, "No leases held")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OUTPUT\tHOLDER\tEPOCH\tPID\tACQUIRED")
		for _, row := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				row.OutputID, row.Holder, row.Epoch, row.PID, row.AcquiredAt.Local().Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
	}
}
