package history

import (
	"errors"
	"time"
)

// DefaultCapacity is the number of focus events retained when no capacity is configured
const DefaultCapacity = 300

// present marks a cursor resting on the newest event (untraversed focus state)
const present = -1

// ErrNoMoreHistory is returned by Move when the cursor cannot step any further
// in the requested direction. It is a normal boundary condition.
var ErrNoMoreHistory = errors.New("no more history")

// Direction selects which way Move walks the history
type Direction int

const (
	Backward Direction = iota
	Forward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// FocusEvent records a single focus change. Events are never mutated once recorded.
type FocusEvent struct {
	WindowID string    `json:"window_id"`
	OutputID string    `json:"output_id"`
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
}

// Buffer is a bounded focus log with a traversal cursor.
//
// The newest event is the window that currently has focus, so a cursor at
// "present" rests on it. Stepping backward walks to older events; pushing
// while the cursor is detached discards every event after the cursor.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	capacity int
	events   []FocusEvent
	cursor   int
	seq      uint64
	now      func() time.Time
}

// NewBuffer creates a buffer holding at most capacity events.
// Non-positive capacities fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		events:   make([]FocusEvent, 0, capacity),
		cursor:   present,
		now:      time.Now,
	}
}

// Cap returns the configured capacity
func (b *Buffer) Cap() int {
	return b.capacity
}

// Len returns the number of retained events
func (b *Buffer) Len() int {
	return len(b.events)
}

// Cursor returns the cursor index and whether it is at present.
// At present the index is that of the newest event, or -1 when empty.
func (b *Buffer) Cursor() (int, bool) {
	if b.cursor == present {
		return len(b.events) - 1, true
	}
	return b.cursor, false
}

// Current returns the event under the cursor
func (b *Buffer) Current() (FocusEvent, bool) {
	idx, _ := b.Cursor()
	if idx < 0 {
		return FocusEvent{}, false
	}
	return b.events[idx], true
}

// Events returns a copy of the retained events, oldest first
func (b *Buffer) Events() []FocusEvent {
	out := make([]FocusEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Push records a focus change and returns the stored event.
//
// A change for the window already under the cursor is not recorded and Push
// reports false: the compositor echoes focus back after every traversal step
// and recording it would discard the rest of the traversal.
func (b *Buffer) Push(e FocusEvent) (FocusEvent, bool) {
	if cur, ok := b.Current(); ok && cur.WindowID == e.WindowID {
		return cur, false
	}

	if b.cursor != present {
		b.events = b.events[:b.cursor+1]
	}

	b.seq++
	e.Seq = b.seq
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.events = append(b.events, e)

	if over := len(b.events) - b.capacity; over > 0 {
		// shift instead of reslicing so the backing array does not grow unbounded
		n := copy(b.events, b.events[over:])
		clear(b.events[n:])
		b.events = b.events[:n]
	}

	b.cursor = present
	return e, true
}

// Move steps the cursor one eligible event in dir and returns that event.
//
// Events rejected by eligible, and events for the window already under the
// cursor, are skipped but stay in the buffer. A nil eligible accepts every
// event. When no candidate remains Move returns ErrNoMoreHistory and the cursor
// does not change.
func (b *Buffer) Move(dir Direction, eligible func(FocusEvent) bool) (FocusEvent, error) {
	from, _ := b.Cursor()
	if from < 0 {
		return FocusEvent{}, ErrNoMoreHistory
	}
	currentWindow := b.events[from].WindowID

	step := -1
	if dir == Forward {
		step = 1
	}

	for i := from + step; i >= 0 && i < len(b.events); i += step {
		e := b.events[i]
		if e.WindowID == currentWindow {
			continue
		}
		if eligible != nil && !eligible(e) {
			continue
		}
		if i == len(b.events)-1 {
			b.cursor = present
		} else {
			b.cursor = i
		}
		return e, nil
	}

	return FocusEvent{}, ErrNoMoreHistory
}

// Snapshot is a point-in-time copy of the buffer state
type Snapshot struct {
	Capacity int          `json:"capacity"`
	Cursor   int          `json:"cursor"`
	Present  bool         `json:"present"`
	Events   []FocusEvent `json:"events"`
}

// Snapshot copies the buffer state
func (b *Buffer) Snapshot() Snapshot {
	idx, atPresent := b.Cursor()
	return Snapshot{
		Capacity: b.capacity,
		Cursor:   idx,
		Present:  atPresent,
		Events:   b.Events(),
	}
}
