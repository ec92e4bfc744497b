package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/focushist/internal/daemon"
	"github.com/bryanchriswhite/focushist/internal/lease"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/metrics"
	"github.com/bryanchriswhite/focushist/internal/notify"
	"github.com/bryanchriswhite/focushist/internal/window"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Record focus history for a set of monitors",
	Long: `Start a focus history daemon.

The daemon claims the given monitors (all monitors when none are given),
records every focus change on them and answers "focus next" and
"focus prev" requests. Starting another daemon for an overlapping set of
monitors hands those monitors to the newer daemon; a daemon left with no
monitors exits.`,
	Example: `  # Track every monitor
  focushist daemon

  # One daemon per monitor
  focushist daemon -m DP-1
  focushist daemon -m HDMI-A-1

  # Keep a shorter history and expose diagnostics
  focushist daemon --history-size 50 --diagnostics-addr 127.0.0.1:7878`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().Int("history-size", 0, "number of focus events to keep (default is 300)")
	daemonCmd.Flags().String("diagnostics-addr", "", "serve diagnostics HTTP on this address (disabled when empty)")
	daemonCmd.Flags().Bool("notify", false, "show a desktop notification when monitors are taken over")

	viper.BindPFlag("history_size", daemonCmd.Flags().Lookup("history-size"))
	viper.BindPFlag("diagnostics_addr", daemonCmd.Flags().Lookup("diagnostics-addr"))
	viper.BindPFlag("notify", daemonCmd.Flags().Lookup("notify"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("cli")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	backend, err := window.Open(cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to connect to compositor: %w", err)
	}

	var notifier notify.Notifier
	if cfg.Notify {
		n, err := notify.NewDBusNotifier()
		if err != nil {
			log.Warn().Err(err).Msg("Desktop notifications unavailable")
		} else {
			notifier = n
			defer n.Close() //nolint:errcheck
		}
	}

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Backend:  backend,
		Notifier: notifier,
	})
	if err != nil {
		backend.Close() //nolint:errcheck
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	if errors.Is(err, lease.ErrSuperseded) {
		// a newer daemon owns every monitor now; that is a normal way to end
		return nil
	}
	return err
}
