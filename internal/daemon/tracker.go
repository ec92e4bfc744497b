package daemon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bryanchriswhite/focushist/internal/history"
	"github.com/bryanchriswhite/focushist/internal/ipc"
	"github.com/bryanchriswhite/focushist/internal/lease"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/metrics"
	"github.com/bryanchriswhite/focushist/internal/scope"
	"github.com/bryanchriswhite/focushist/internal/window"
)

var (
	// ErrMalformedEvent is returned for focus changes missing a window or output
	ErrMalformedEvent = errors.New("malformed focus event")
	// ErrOutOfScope is returned for focus changes on outputs outside the configured set
	ErrOutOfScope = errors.New("output outside configured set")
	// ErrNotOwned is returned for focus changes on outputs leased to another instance
	ErrNotOwned = errors.New("output leased to another instance")
)

// Locator reports where live windows are
type Locator interface {
	Placements(ctx context.Context) (window.Placements, error)
}

// OwnershipSource reports which outputs this instance may act on
type OwnershipSource interface {
	Current() lease.Ownership
}

// Tracker guards the history buffer shared by ingestion and the request server
type Tracker struct {
	outputs scope.Set
	locator Locator

	mu  sync.Mutex
	buf *history.Buffer

	ownMu sync.RWMutex
	owner OwnershipSource

	subMu       sync.RWMutex
	subscribers []chan history.FocusEvent
}

// NewTracker creates a tracker with an empty buffer of the given capacity
func NewTracker(capacity int, outputs scope.Set, locator Locator) *Tracker {
	return &Tracker{
		outputs: outputs,
		locator: locator,
		buf:     history.NewBuffer(capacity),
	}
}

// SetOwnership installs the lease view consulted on ingestion. Without one
// every output in scope is considered owned.
func (t *Tracker) SetOwnership(src OwnershipSource) {
	t.ownMu.Lock()
	defer t.ownMu.Unlock()
	t.owner = src
}

// Ownership returns the current lease view, false when none is installed
func (t *Tracker) Ownership() (lease.Ownership, bool) {
	t.ownMu.RLock()
	defer t.ownMu.RUnlock()
	if t.owner == nil {
		return lease.Ownership{}, false
	}
	return t.owner.Current(), true
}

func (t *Tracker) owns(output string) bool {
	t.ownMu.RLock()
	defer t.ownMu.RUnlock()
	if t.owner == nil {
		return true
	}
	return t.owner.Current().Owns(output)
}

// Record filters a compositor focus change and pushes it into the buffer.
// It reports whether a new event was stored; an echo of the window under
// the cursor is accepted but not stored.
func (t *Tracker) Record(change window.FocusChange) (history.FocusEvent, bool, error) {
	if change.WindowID == "" || change.OutputID == "" {
		metrics.IncEvent(metrics.ResultMalformed)
		return history.FocusEvent{}, false, fmt.Errorf("%w: window=%q output=%q", ErrMalformedEvent, change.WindowID, change.OutputID)
	}
	if !t.outputs.Matches(change.OutputID) {
		metrics.IncEvent(metrics.ResultOutOfScope)
		return history.FocusEvent{}, false, ErrOutOfScope
	}
	if !t.owns(change.OutputID) {
		metrics.IncEvent(metrics.ResultNotOwned)
		return history.FocusEvent{}, false, ErrNotOwned
	}

	t.mu.Lock()
	ev, stored := t.buf.Push(history.FocusEvent{
		WindowID: change.WindowID,
		OutputID: change.OutputID,
		At:       change.At,
	})
	n := t.buf.Len()
	t.mu.Unlock()

	if !stored {
		metrics.IncEvent(metrics.ResultDuplicate)
		return ev, false, nil
	}
	metrics.IncEvent(metrics.ResultRecorded)
	metrics.SetHistoryLength(n)
	t.publish(ev)
	return ev, true, nil
}

// Navigate moves the cursor one step for cmd, skipping windows that are gone,
// now sit outside the configured outputs, or sit on an output another
// instance has taken over. Placements are read before the buffer is locked;
// if they cannot be read only the recorded output is checked.
func (t *Tracker) Navigate(ctx context.Context, cmd ipc.Command) (history.FocusEvent, error) {
	placements, err := t.locator.Placements(ctx)
	if err != nil {
		logger.WithComponent("tracker").Warn().Err(err).Msg("Window placements unavailable, not skipping closed windows")
		placements = nil
	}

	own, hasOwner := t.Ownership()
	owned := func(output string) bool {
		return !hasOwner || own.Owns(output)
	}

	eligible := func(e history.FocusEvent) bool {
		if placements == nil {
			return owned(e.OutputID)
		}
		output, ok := placements[e.WindowID]
		return ok && t.outputs.Matches(output) && owned(output)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Move(cmd.Direction(), eligible)
}

// Snapshot copies the buffer state
func (t *Tracker) Snapshot() history.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Snapshot()
}

// Subscribe returns a channel receiving every stored event. Slow
// subscribers miss events rather than block ingestion.
func (t *Tracker) Subscribe() chan history.FocusEvent {
	ch := make(chan history.FocusEvent, 16)
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe
func (t *Tracker) Unsubscribe(ch chan history.FocusEvent) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if i := slices.Index(t.subscribers, ch); i >= 0 {
		t.subscribers = slices.Delete(t.subscribers, i, i+1)
		close(ch)
	}
}

func (t *Tracker) publish(ev history.FocusEvent) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
