package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a window or output cannot be located
	ErrNotFound = errors.New("window not found")
	// ErrNoBackend is returned when no supported compositor is detected
	ErrNoBackend = errors.New("no supported compositor detected")
)

// Window is a live window as reported by the compositor
type Window struct {
	ID       string `json:"id"`
	OutputID string `json:"output_id"`
	Class    string `json:"class,omitempty"`
	Title    string `json:"title,omitempty"`
}

// FocusChange is one focus notification from the compositor.
// OutputID may be empty when the compositor could not place the window.
type FocusChange struct {
	WindowID string
	OutputID string
	At       time.Time
}

// Placements maps live window ids to the output each window currently sits on.
// Windows missing from the map are gone.
type Placements map[string]string

// Backend defines the interface for compositor backends (Hyprland, X11)
type Backend interface {
	// Connect establishes connection to the compositor
	Connect() error

	// Close closes the connection to the compositor
	Close() error

	// Name returns the backend name (e.g., "hyprland", "x11")
	Name() string

	// FocusedWindow returns the currently focused window
	FocusedWindow(ctx context.Context) (*Window, error)

	// WatchFocus blocks, calling fn for every focus change, until ctx is
	// done or the event stream fails.
	WatchFocus(ctx context.Context, fn func(FocusChange)) error

	// Placements reports the current output of every live window
	Placements(ctx context.Context) (Placements, error)

	// Outputs lists the names of the connected outputs
	Outputs(ctx context.Context) ([]string, error)

	// Focus raises and focuses the given window
	Focus(ctx context.Context, windowID string) error
}

// Names of the supported backends
const (
	BackendAuto     = "auto"
	BackendHyprland = "hyprland"
	BackendX11      = "x11"
)

// NewBackend creates (but does not connect) the named backend.
// "auto" picks Hyprland when its instance signature is set, then X11.
func NewBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendAuto:
		if os.Getenv(hyprlandSignatureEnv) != "" {
			return NewHyprlandBackend()
		}
		if os.Getenv("DISPLAY") != "" {
			return NewX11Backend(), nil
		}
		return nil, ErrNoBackend
	case BackendHyprland:
		return NewHyprlandBackend()
	case BackendX11:
		return NewX11Backend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// Open creates and connects the named backend
func Open(name string) (Backend, error) {
	b, err := NewBackend(name)
	if err != nil {
		return nil, err
	}
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s backend: %w", b.Name(), err)
	}
	return b, nil
}
