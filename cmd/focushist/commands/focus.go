package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/focushist/internal/ipc"
	"github.com/bryanchriswhite/focushist/internal/scope"
	"github.com/bryanchriswhite/focushist/internal/window"
)

var focusCmd = &cobra.Command{
	Use:       "focus next|prev",
	Short:     "Move through the focus history",
	ValidArgs: []string{string(ipc.CommandNext), string(ipc.CommandPrev)},
	Long: `Ask the daemon for the previous or next window in its focus history and
focus it.

The monitors given here must be exactly the monitors the daemon was started
with. Reaching either end of the history is not an error.`,
	Example: `  # Go back, on the daemon tracking all monitors
  focushist focus prev

  # Go forward, on the daemon tracking DP-1 only
  focushist focus next -m DP-1

  # Only print the window id
  focushist focus prev --no-focus`,
	Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: runFocus,
}

var noFocusFlag bool

func init() {
	rootCmd.AddCommand(focusCmd)

	focusCmd.Flags().BoolVar(&noFocusFlag, "no-focus", false, "print the window id without focusing it")
	focusCmd.Flags().Duration("timeout", ipc.DefaultTimeout, "how long to wait for the daemon")

	viper.BindPFlag("request_timeout", focusCmd.Flags().Lookup("timeout"))
}

// errScopeMismatch is returned so the process exits non-zero
var errScopeMismatch = errors.New("no daemon is tracking exactly these monitors; pass the same --monitor flags as the daemon")

func runFocus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	command, err := ipc.ParseCommand(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	outputs := scope.New(cfg.Monitors...)
	client := ipc.NewClient(ipc.SocketPath(cfg.ResolvedRuntimeDir(), outputs))
	resp, err := client.Send(ctx, ipc.Request{Command: command, Outputs: outputs.IDs()})
	if err != nil {
		return fmt.Errorf("is a daemon running for monitors %q? %w", outputs.String(), err)
	}

	windowID, err := handleResponse(resp, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil || windowID == "" || noFocusFlag {
		return err
	}
	return raise(ctx, cfg.Backend, windowID)
}

// handleResponse reports resp to the user and returns the window to focus,
// if any
func handleResponse(resp ipc.Response, stdout, stderr io.Writer) (string, error) {
	switch resp.Status {
	case ipc.StatusOK:
		fmt.Fprintln(stdout, resp.WindowID)
		return resp.WindowID, nil
	case ipc.StatusNoHistory:
		fmt.Fprintln(stderr, "no more focus history in that direction")
		return "", nil
	case ipc.StatusScopeMismatch:
		return "", errScopeMismatch
	case ipc.StatusError:
		return "", fmt.Errorf("daemon error: %s", resp.Error)
	default:
		return "", fmt.Errorf("unexpected daemon status %q", resp.Status)
	}
}

func raise(ctx context.Context, backendName, windowID string) error {
	backend, err := window.Open(backendName)
	if err != nil {
		return fmt.Errorf("failed to connect to compositor: %w", err)
	}
	defer backend.Close()

	if err := backend.Focus(ctx, windowID); err != nil {
		if errors.Is(err, window.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "window %s is gone\n", windowID)
			return nil
		}
		return fmt.Errorf("failed to focus %s: %w", windowID, err)
	}
	return nil
}
