package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/focushist/internal/config"
	"github.com/bryanchriswhite/focushist/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "focushist",
		Short: "focushist - per-monitor window focus history",
		Long: `focushist records window focus changes reported by the compositor and
lets you walk back and forth through them, like browser history for windows.

Run one daemon per set of monitors, then bind "focushist focus prev" and
"focushist focus next" to keys. The monitor arguments given to a focus
command must match the daemon's exactly.

Supported compositors:
  • Hyprland (event socket)
  • X11 window managers exposing _NET_ACTIVE_WINDOW`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focushist/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceP("monitor", "m", nil, "monitor to track; repeat for several (default is all monitors)")
	rootCmd.PersistentFlags().String("backend", "", "compositor backend (auto, hyprland, x11)")
	rootCmd.PersistentFlags().String("runtime-dir", "", "directory for sockets and the lease registry (default is $XDG_RUNTIME_DIR/focushist)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("monitors", rootCmd.PersistentFlags().Lookup("monitor"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("runtime_dir", rootCmd.PersistentFlags().Lookup("runtime-dir"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("FOCUSHIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies flag and environment overrides,
// validates the result and configures logging from it
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger.InitWithFile(cfg.LogLevel, isatty.IsTerminal(os.Stderr.Fd()), cfg.LogFileConfig())
	return configMgr, cfg, nil
}

// applyOverrides copies every flag or environment value that was set onto cfg
func applyOverrides(cfg *config.Config) {
	if viper.IsSet("log_level") {
		if v := viper.GetString("log_level"); v != "" {
			cfg.LogLevel = v
		}
	}
	if viper.IsSet("monitors") {
		cfg.Monitors = viper.GetStringSlice("monitors")
	}
	if viper.IsSet("backend") {
		if v := viper.GetString("backend"); v != "" {
			cfg.Backend = v
		}
	}
	if viper.IsSet("runtime_dir") {
		if v := viper.GetString("runtime_dir"); v != "" {
			cfg.RuntimeDir = v
		}
	}
	if viper.IsSet("history_size") {
		cfg.HistorySize = viper.GetInt("history_size")
	}
	if viper.IsSet("diagnostics_addr") {
		cfg.DiagnosticsAddr = viper.GetString("diagnostics_addr")
	}
	if viper.IsSet("notify") {
		cfg.Notify = viper.GetBool("notify")
	}
	if viper.IsSet("request_timeout") {
		if d := viper.GetDuration("request_timeout"); d > 0 {
			cfg.RequestTimeout = d
		}
	}
}
