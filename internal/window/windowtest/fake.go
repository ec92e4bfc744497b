// Package windowtest provides an in-memory compositor for tests.
package windowtest

import (
	"context"
	"sync"
	"time"

	"github.com/bryanchriswhite/focushist/internal/window"
)

// Backend is a scriptable window.Backend
type Backend struct {
	mu         sync.Mutex
	placements window.Placements
	focused    string
	focusLog   []string
	outputs    []string
	changes    chan window.FocusChange

	// PlacementsErr, when set, is returned by Placements
	PlacementsErr error
}

// New creates a fake compositor with the given outputs
func New(outputs ...string) *Backend {
	return &Backend{
		placements: make(window.Placements),
		outputs:    outputs,
		changes:    make(chan window.FocusChange, 64),
	}
}

var _ window.Backend = (*Backend)(nil)

func (b *Backend) Connect() error { return nil }
func (b *Backend) Close() error   { return nil }
func (b *Backend) Name() string   { return "fake" }

// Place puts a window on an output without changing focus
func (b *Backend) Place(windowID, outputID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placements[windowID] = outputID
}

// Remove closes a window
func (b *Backend) Remove(windowID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.placements, windowID)
}

// FocusOn places a window and emits a focus change for it
func (b *Backend) FocusOn(windowID, outputID string) {
	b.Place(windowID, outputID)
	b.mu.Lock()
	b.focused = windowID
	b.mu.Unlock()
	b.Emit(window.FocusChange{WindowID: windowID, OutputID: outputID, At: time.Now()})
}

// Emit sends a raw focus change, malformed or not
func (b *Backend) Emit(change window.FocusChange) {
	b.changes <- change
}

// Focused returns the windows raised through Focus, in order
func (b *Backend) Focused() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.focusLog...)
}

func (b *Backend) FocusedWindow(_ context.Context) (*window.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.focused == "" {
		return nil, window.ErrNotFound
	}
	return &window.Window{ID: b.focused, OutputID: b.placements[b.focused]}, nil
}

func (b *Backend) WatchFocus(ctx context.Context, fn func(window.FocusChange)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-b.changes:
			fn(change)
		}
	}
}

func (b *Backend) Placements(_ context.Context) (window.Placements, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PlacementsErr != nil {
		return nil, b.PlacementsErr
	}
	out := make(window.Placements, len(b.placements))
	for k, v := range b.placements {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) Outputs(_ context.Context) ([]string, error) {
	return append([]string(nil), b.outputs...), nil
}

func (b *Backend) Focus(_ context.Context, windowID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.placements[windowID]; !ok {
		return window.ErrNotFound
	}
	b.focused = windowID
	b.focusLog = append(b.focusLog, windowID)
	return nil
}
