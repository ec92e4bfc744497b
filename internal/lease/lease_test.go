package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/focushist/internal/scope"
)

func openRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	ctx := context.Background()
	reg, err := Open(ctx, filepath.Join(t.TempDir(), DBName))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = reg.Close()
	})
	return reg, ctx
}

func TestAcquireOverwritesAndBumpsEpoch(t *testing.T) {
	reg, ctx := openRegistry(t)

	e1, err := reg.Acquire(ctx, "first", []string{"O1", "O2"})
	require.NoError(t, err)
	e2, err := reg.Acquire(ctx, "second", []string{"O1"})
	require.NoError(t, err)
	assert.Greater(t, e2, e1)

	rows, err := reg.Leases(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "O1", rows[0].OutputID)
	assert.Equal(t, "second", rows[0].Holder)
	assert.Equal(t, e2, rows[0].Epoch)
	assert.Equal(t, "O2", rows[1].OutputID)
	assert.Equal(t, "first", rows[1].Holder)
	assert.False(t, rows[0].AcquiredAt.IsZero())
}

func TestAcquireRejectsEmptyInput(t *testing.T) {
	reg, ctx := openRegistry(t)

	_, err := reg.Acquire(ctx, "", []string{"O1"})
	assert.Error(t, err)
	_, err = reg.Acquire(ctx, "h", nil)
	assert.Error(t, err)
}

func TestOverlappingInstancesSplitOutputs(t *testing.T) {
	reg, ctx := openRegistry(t)
	first := scope.New("O1", "O2")
	second := scope.New("O1")

	_, err := reg.Acquire(ctx, "first", first.Tokens())
	require.NoError(t, err)
	_, err = reg.Acquire(ctx, "second", second.Tokens())
	require.NoError(t, err)

	ownFirst, err := reg.Ownership(ctx, "first", first.Tokens())
	require.NoError(t, err)
	ownSecond, err := reg.Ownership(ctx, "second", second.Tokens())
	require.NoError(t, err)

	assert.True(t, ownSecond.Owns("O1"))
	assert.False(t, ownFirst.Owns("O1"))
	assert.True(t, ownFirst.Owns("O2"))
	assert.False(t, ownFirst.Lost())
	assert.Equal(t, []string{"O1"}, ownFirst.Superseded())
	assert.Equal(t, []string{"O2"}, ownFirst.Held())
}

func TestSameScopeNewestWinsCompletely(t *testing.T) {
	reg, ctx := openRegistry(t)
	set := scope.New("O1")

	_, err := reg.Acquire(ctx, "old", set.Tokens())
	require.NoError(t, err)
	_, err = reg.Acquire(ctx, "new", set.Tokens())
	require.NoError(t, err)

	own, err := reg.Ownership(ctx, "old", set.Tokens())
	require.NoError(t, err)
	assert.True(t, own.Lost())
	assert.Empty(t, own.Held())
}

func TestReleaseOnlyDropsOwnRows(t *testing.T) {
	reg, ctx := openRegistry(t)

	_, err := reg.Acquire(ctx, "first", []string{"O1", "O2"})
	require.NoError(t, err)
	_, err = reg.Acquire(ctx, "second", []string{"O1"})
	require.NoError(t, err)

	n, err := reg.Release(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := reg.Leases(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Holder)
}

func TestResolveAllOutputs(t *testing.T) {
	tests := []struct {
		name      string
		rows      []Lease
		holder    string
		claimed   []string
		owns      map[string]bool
		lost      bool
		carved    []string
		supersede []string
	}{
		{
			name:    "all holder owns everything",
			rows:    []Lease{{OutputID: "*", Holder: "a", Epoch: 1}},
			holder:  "a",
			claimed: []string{"*"},
			owns:    map[string]bool{"O1": true, "O9": true},
		},
		{
			name:    "newer specific claim carves an output out of all",
			rows:    []Lease{{OutputID: "*", Holder: "a", Epoch: 1}, {OutputID: "O1", Holder: "b", Epoch: 2}},
			holder:  "a",
			claimed: []string{"*"},
			owns:    map[string]bool{"O1": false, "O2": true},
			carved:  []string{"O1"},
		},
		{
			name:    "older specific claim is taken over by all",
			rows:    []Lease{{OutputID: "O1", Holder: "b", Epoch: 1}, {OutputID: "*", Holder: "a", Epoch: 2}},
			holder:  "a",
			claimed: []string{"*"},
			owns:    map[string]bool{"O1": true},
		},
		{
			name:      "specific holder superseded by newer all",
			rows:      []Lease{{OutputID: "O1", Holder: "b", Epoch: 1}, {OutputID: "*", Holder: "a", Epoch: 2}},
			holder:    "b",
			claimed:   []string{"O1"},
			owns:      map[string]bool{"O1": false},
			lost:      true,
			supersede: []string{"O1"},
		},
		{
			name:      "all superseded by newer all",
			rows:      []Lease{{OutputID: "*", Holder: "b", Epoch: 3}},
			holder:    "a",
			claimed:   []string{"*"},
			owns:      map[string]bool{"O1": false},
			lost:      true,
			supersede: []string{"*"},
		},
		{
			name:      "missing row counts as superseded",
			rows:      nil,
			holder:    "a",
			claimed:   []string{"O1"},
			owns:      map[string]bool{"O1": false},
			lost:      true,
			supersede: []string{"O1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			own := Resolve(tt.rows, tt.holder, tt.claimed)
			for output, want := range tt.owns {
				assert.Equal(t, want, own.Owns(output), output)
			}
			assert.Equal(t, tt.lost, own.Lost())
			if tt.carved == nil {
				assert.Empty(t, own.Carved())
			} else {
				assert.Equal(t, tt.carved, own.Carved())
			}
			if tt.supersede == nil {
				assert.Empty(t, own.Superseded())
			} else {
				assert.Equal(t, tt.supersede, own.Superseded())
			}
		})
	}
}

func TestWatcherReportsSupersession(t *testing.T) {
	reg, ctx := openRegistry(t)
	_, err := reg.Acquire(ctx, "me", []string{"O1", "O2"})
	require.NoError(t, err)

	w := NewWatcher(reg, "me", []string{"O1", "O2"}, time.Hour)
	var reported []string
	w.OnChange = func(fresh []string, _ Ownership) {
		reported = append(reported, fresh...)
	}

	own, err := w.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"O1", "O2"}, own.Held())
	assert.Empty(t, reported)

	_, err = reg.Acquire(ctx, "other", []string{"O2"})
	require.NoError(t, err)
	_, err = w.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"O2"}, reported)
	assert.False(t, w.Current().Owns("O2"))

	// no repeat report for the same loss
	_, err = w.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"O2"}, reported)
}

func TestWatcherRunStopsOnTotalLoss(t *testing.T) {
	reg, ctx := openRegistry(t)
	_, err := reg.Acquire(ctx, "me", []string{"O1"})
	require.NoError(t, err)

	w := NewWatcher(reg, "me", []string{"O1"}, 20*time.Millisecond)
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	_, err = reg.Acquire(ctx, "other", []string{"O1"})
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not notice supersession")
	}
}
