package window

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanchriswhite/focushist/internal/logger"
)

const (
	hyprlandSignatureEnv = "HYPRLAND_INSTANCE_SIGNATURE"
	hyprRequestSocket    = ".socket.sock"
	hyprEventSocket      = ".socket2.sock"
	hyprRequestTimeout   = 2 * time.Second
)

// HyprlandBackend implements the Backend interface over Hyprland's IPC sockets
type HyprlandBackend struct {
	socketDir string
	dialer    net.Dialer
}

// NewHyprlandBackend locates the sockets of the running Hyprland instance
func NewHyprlandBackend() (*HyprlandBackend, error) {
	sig := os.Getenv(hyprlandSignatureEnv)
	if sig == "" {
		return nil, fmt.Errorf("%s is not set: %w", hyprlandSignatureEnv, ErrNoBackend)
	}

	candidates := []string{filepath.Join("/tmp", "hypr", sig)}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		candidates = append([]string{filepath.Join(runtimeDir, "hypr", sig)}, candidates...)
	}
	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, hyprRequestSocket)); err == nil {
			return NewHyprlandBackendAt(dir), nil
		}
	}
	return nil, fmt.Errorf("hyprland sockets not found for instance %s: %w", sig, ErrNoBackend)
}

// NewHyprlandBackendAt uses the sockets found in dir
func NewHyprlandBackendAt(dir string) *HyprlandBackend {
	return &HyprlandBackend{socketDir: dir}
}

// Connect verifies the request socket answers
func (b *HyprlandBackend) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), hyprRequestTimeout)
	defer cancel()
	if _, err := b.request(ctx, "j/version"); err != nil {
		return fmt.Errorf("hyprland request socket: %w", err)
	}
	logger.WithComponent("hyprland-backend").Info().Str("dir", b.socketDir).Msg("Connected to Hyprland")
	return nil
}

// Close is a no-op: every request uses its own short-lived connection
func (b *HyprlandBackend) Close() error {
	return nil
}

// Name returns the backend name
func (b *HyprlandBackend) Name() string {
	return BackendHyprland
}

type hyprClient struct {
	Address string `json:"address"`
	Monitor int    `json:"monitor"`
	Class   string `json:"class"`
	Title   string `json:"title"`
	Mapped  bool   `json:"mapped"`
}

type hyprMonitor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// request sends one command on the request socket and returns the full reply
func (b *HyprlandBackend) request(ctx context.Context, cmd string) ([]byte, error) {
	conn, err := b.dialer.DialContext(ctx, "unix", filepath.Join(b.socketDir, hyprRequestSocket))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(hyprRequestTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read %q reply: %w", cmd, err)
	}
	return reply, nil
}

func (b *HyprlandBackend) requestJSON(ctx context.Context, cmd string, v any) error {
	reply, err := b.request(ctx, cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, v); err != nil {
		return fmt.Errorf("decode %q reply: %w", cmd, err)
	}
	return nil
}

func (b *HyprlandBackend) monitorNames(ctx context.Context) (map[int]string, error) {
	var monitors []hyprMonitor
	if err := b.requestJSON(ctx, "j/monitors", &monitors); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(monitors))
	for _, m := range monitors {
		names[m.ID] = m.Name
	}
	return names, nil
}

// FocusedWindow returns the currently focused window
func (b *HyprlandBackend) FocusedWindow(ctx context.Context) (*Window, error) {
	var active hyprClient
	if err := b.requestJSON(ctx, "j/activewindow", &active); err != nil {
		return nil, err
	}
	if active.Address == "" {
		return nil, ErrNotFound
	}
	names, err := b.monitorNames(ctx)
	if err != nil {
		return nil, err
	}
	return &Window{
		ID:       normalizeAddress(active.Address),
		OutputID: names[active.Monitor],
		Class:    active.Class,
		Title:    active.Title,
	}, nil
}

// Placements reports the output of every mapped client
func (b *HyprlandBackend) Placements(ctx context.Context) (Placements, error) {
	var clients []hyprClient
	if err := b.requestJSON(ctx, "j/clients", &clients); err != nil {
		return nil, err
	}
	names, err := b.monitorNames(ctx)
	if err != nil {
		return nil, err
	}

	placements := make(Placements, len(clients))
	for _, c := range clients {
		if !c.Mapped {
			continue
		}
		placements[normalizeAddress(c.Address)] = names[c.Monitor]
	}
	return placements, nil
}

// Outputs lists monitor names
func (b *HyprlandBackend) Outputs(ctx context.Context) ([]string, error) {
	var monitors []hyprMonitor
	if err := b.requestJSON(ctx, "j/monitors", &monitors); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Name)
	}
	return out, nil
}

// Focus dispatches focuswindow for the given address
func (b *HyprlandBackend) Focus(ctx context.Context, windowID string) error {
	reply, err := b.request(ctx, "dispatch focuswindow address:"+normalizeAddress(windowID))
	if err != nil {
		return err
	}
	if r := strings.TrimSpace(string(reply)); r != "ok" {
		return fmt.Errorf("focuswindow %s: %s", windowID, r)
	}
	return nil
}

// WatchFocus streams activewindowv2 events from the event socket
func (b *HyprlandBackend) WatchFocus(ctx context.Context, fn func(FocusChange)) error {
	log := logger.WithComponent("hyprland-backend")

	conn, err := b.dialer.DialContext(ctx, "unix", filepath.Join(b.socketDir, hyprEventSocket))
	if err != nil {
		return fmt.Errorf("dial hyprland event socket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close() //nolint:errcheck
	})
	defer stop()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		address, ok := parseActiveWindowEvent(scanner.Text())
		if !ok {
			continue
		}
		change := FocusChange{WindowID: address, At: time.Now()}

		lookupCtx, cancel := context.WithTimeout(ctx, hyprRequestTimeout)
		placements, err := b.Placements(lookupCtx)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("window", address).Msg("Failed to place focused window")
		} else {
			change.OutputID = placements[address]
		}
		fn(change)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("read hyprland events: %w", err)
	}
	return io.ErrUnexpectedEOF
}

// parseActiveWindowEvent extracts the address from an "activewindowv2>>ADDR" line.
// An empty address (focus left every window) is reported as a change with no window.
func parseActiveWindowEvent(line string) (string, bool) {
	name, data, found := strings.Cut(line, ">>")
	if !found || name != "activewindowv2" {
		return "", false
	}
	data = strings.TrimSpace(data)
	if data == "" || data == "," {
		return "", true
	}
	return normalizeAddress(data), true
}

// normalizeAddress renders window addresses as Hyprland prints them in JSON ("0x...")
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "0x") {
		return addr
	}
	return "0x" + addr
}
