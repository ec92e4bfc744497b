package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(window, output string) FocusEvent {
	return FocusEvent{WindowID: window, OutputID: output}
}

func windows(events []FocusEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.WindowID)
	}
	return out
}

func pushAll(b *Buffer, ids ...string) {
	for _, id := range ids {
		b.Push(ev(id, "O1"))
	}
}

func TestNewBufferDefaultsCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Cap())
	assert.Equal(t, DefaultCapacity, NewBuffer(-4).Cap())
	assert.Equal(t, 7, NewBuffer(7).Cap())
}

func TestPushNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 10} {
		t.Run(fmt.Sprintf("cap=%d", capacity), func(t *testing.T) {
			b := NewBuffer(capacity)
			var all []string
			for i := 0; i < capacity*3+1; i++ {
				id := fmt.Sprintf("W%d", i)
				all = append(all, id)
				b.Push(ev(id, "O1"))
				require.LessOrEqual(t, b.Len(), capacity)
			}
			assert.Equal(t, all[len(all)-capacity:], windows(b.Events()))
			_, atPresent := b.Cursor()
			assert.True(t, atPresent)
		})
	}
}

func TestPushAssignsMonotonicSequence(t *testing.T) {
	b := NewBuffer(2)
	pushAll(b, "W1", "W2", "W3")

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)
	assert.Equal(t, uint64(3), events[1].Seq)
	assert.False(t, events[1].At.IsZero())
}

func TestPushSkipsWindowUnderCursor(t *testing.T) {
	b := NewBuffer(5)
	pushAll(b, "W1", "W2")

	_, recorded := b.Push(ev("W2", "O1"))
	assert.False(t, recorded)
	assert.Equal(t, []string{"W1", "W2"}, windows(b.Events()))

	got, err := b.Move(Backward, nil)
	require.NoError(t, err)
	require.Equal(t, "W1", got.WindowID)

	// focus echo for the traversed-to window keeps the traversal intact
	_, recorded = b.Push(ev("W1", "O1"))
	assert.False(t, recorded)
	got, err = b.Move(Forward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)
}

func TestMoveOnEmptyBuffer(t *testing.T) {
	b := NewBuffer(3)
	_, err := b.Move(Backward, nil)
	assert.ErrorIs(t, err, ErrNoMoreHistory)
	_, err = b.Move(Forward, nil)
	assert.ErrorIs(t, err, ErrNoMoreHistory)
}

func TestForwardAtPresentIsNoMoreHistory(t *testing.T) {
	b := NewBuffer(3)
	pushAll(b, "W1", "W2")

	_, err := b.Move(Forward, nil)
	assert.ErrorIs(t, err, ErrNoMoreHistory)
	idx, atPresent := b.Cursor()
	assert.Equal(t, 1, idx)
	assert.True(t, atPresent)
}

func TestCapacityScenario(t *testing.T) {
	b := NewBuffer(3)
	pushAll(b, "W1", "W2", "W3", "W4")
	require.Equal(t, []string{"W2", "W3", "W4"}, windows(b.Events()))

	got, err := b.Move(Backward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W3", got.WindowID)

	got, err = b.Move(Backward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)

	_, err = b.Move(Backward, nil)
	require.ErrorIs(t, err, ErrNoMoreHistory)

	got, err = b.Move(Forward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W3", got.WindowID)

	b.Push(ev("W5", "O1"))
	assert.Equal(t, []string{"W2", "W3", "W5"}, windows(b.Events()))
	_, atPresent := b.Cursor()
	assert.True(t, atPresent)
}

func TestPushWhileDetachedTruncatesTail(t *testing.T) {
	b := NewBuffer(10)
	pushAll(b, "W1", "W2", "W3", "W4")

	_, err := b.Move(Backward, nil)
	require.NoError(t, err)
	_, err = b.Move(Backward, nil)
	require.NoError(t, err)

	stored, recorded := b.Push(ev("W9", "O1"))
	require.True(t, recorded)
	assert.Equal(t, []string{"W1", "W2", "W9"}, windows(b.Events()))

	cur, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, stored, cur)

	_, err = b.Move(Forward, nil)
	assert.ErrorIs(t, err, ErrNoMoreHistory)

	got, err := b.Move(Backward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)
}

func TestRoundTripRestoresPresent(t *testing.T) {
	b := NewBuffer(6)
	pushAll(b, "W1", "W2", "W3", "W4", "W5", "W6", "W7")
	before := b.Events()

	steps := 0
	for {
		if _, err := b.Move(Backward, nil); err != nil {
			require.ErrorIs(t, err, ErrNoMoreHistory)
			break
		}
		steps++
	}
	require.Equal(t, 5, steps)

	var last FocusEvent
	for i := 0; i < steps; i++ {
		got, err := b.Move(Forward, nil)
		require.NoError(t, err)
		last = got
	}
	assert.Equal(t, "W7", last.WindowID)

	_, atPresent := b.Cursor()
	assert.True(t, atPresent)
	assert.Equal(t, before, b.Events())
}

func TestMoveSkipsIneligibleWithoutEvicting(t *testing.T) {
	b := NewBuffer(10)
	b.Push(ev("W1", "O1"))
	b.Push(ev("W2", "O1"))
	b.Push(ev("W3", "O1"))

	offScope := map[string]bool{"W2": true}
	eligible := func(e FocusEvent) bool { return !offScope[e.WindowID] }

	got, err := b.Move(Backward, eligible)
	require.NoError(t, err)
	assert.Equal(t, "W1", got.WindowID)
	assert.Equal(t, 3, b.Len())

	// window returns to a tracked output
	delete(offScope, "W2")
	got, err = b.Move(Forward, eligible)
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)
}

func TestMoveExhaustedBySkipsKeepsCursor(t *testing.T) {
	b := NewBuffer(10)
	pushAll(b, "W1", "W2", "W3")

	none := func(FocusEvent) bool { return false }
	_, err := b.Move(Backward, none)
	require.ErrorIs(t, err, ErrNoMoreHistory)

	idx, atPresent := b.Cursor()
	assert.Equal(t, 2, idx)
	assert.True(t, atPresent)
}

func TestMoveSkipsWindowAlreadyFocused(t *testing.T) {
	b := NewBuffer(10)
	pushAll(b, "W1", "W2", "W1")

	got, err := b.Move(Backward, nil)
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)

	// W3 sat between two W1 entries and is now off-scope
	b2 := NewBuffer(10)
	pushAll(b2, "W2", "W1", "W3", "W1")
	got, err = b2.Move(Backward, func(e FocusEvent) bool { return e.WindowID != "W3" })
	require.NoError(t, err)
	assert.Equal(t, "W2", got.WindowID)
}

func TestSnapshot(t *testing.T) {
	b := NewBuffer(4)
	pushAll(b, "W1", "W2", "W3")
	_, err := b.Move(Backward, nil)
	require.NoError(t, err)

	s := b.Snapshot()
	assert.Equal(t, 4, s.Capacity)
	assert.Equal(t, 1, s.Cursor)
	assert.False(t, s.Present)
	assert.Equal(t, []string{"W1", "W2", "W3"}, windows(s.Events))
}
