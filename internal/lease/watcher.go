package lease

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bryanchriswhite/focushist/internal/logger"
)

// DefaultCheckInterval is how often ownership is re-read without a file change
const DefaultCheckInterval = 2 * time.Second

// Watcher keeps a holder's ownership view fresh.
//
// It re-reads the registry on a slow ticker and whenever the registry file
// changes on disk. A short window of stale ownership is acceptable: each
// instance only writes to its own in-memory history.
type Watcher struct {
	registry *Registry
	holder   string
	claimed  []string
	interval time.Duration

	// OnChange is called after every check whose superseded set grew
	OnChange func(newlySuperseded []string, current Ownership)

	mu      sync.RWMutex
	current Ownership
	wake    chan struct{}
}

// NewWatcher creates a watcher assuming holder owns every claimed token until the first check
func NewWatcher(registry *Registry, holder string, claimed []string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	initial := make([]Lease, 0, len(claimed))
	for _, token := range claimed {
		initial = append(initial, Lease{OutputID: token, Holder: holder})
	}
	return &Watcher{
		registry: registry,
		holder:   holder,
		claimed:  slices.Clone(claimed),
		interval: interval,
		current:  Resolve(initial, holder, claimed),
		wake:     make(chan struct{}, 1),
	}
}

// Current returns the last resolved ownership
func (w *Watcher) Current() Ownership {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Trigger asks the watch loop to re-check as soon as possible
func (w *Watcher) Trigger() {
	select {
	case w.wake <- struct{}{}:
	default:
		// a check is already pending
	}
}

// Check re-reads the registry and publishes the result
func (w *Watcher) Check(ctx context.Context) (Ownership, error) {
	next, err := w.registry.Ownership(ctx, w.holder, w.claimed)
	if err != nil {
		return w.Current(), err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	var fresh []string
	for _, token := range next.Superseded() {
		if !slices.Contains(prev.superseded, token) {
			fresh = append(fresh, token)
		}
	}
	if len(fresh) > 0 {
		logger.WithComponent("lease").Warn().
			Str("holder", w.holder).
			Strs("outputs", fresh).
			Strs("still_held", next.Held()).
			Msg("Output lease superseded by a newer instance")
		if w.OnChange != nil {
			w.OnChange(fresh, next)
		}
	}
	return next, nil
}

// Run checks ownership until ctx is done. It returns ErrSuperseded as soon
// as every claimed token has been taken over.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.WithComponent("lease")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("File watching unavailable, relying on periodic lease checks")
	} else {
		defer fsw.Close()
		if err := fsw.Add(filepath.Dir(w.registry.Path())); err != nil {
			log.Warn().Err(err).Msg("Failed to watch lease registry directory")
		} else {
			go w.forwardFileEvents(ctx, fsw)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}

		own, err := w.Check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("Lease check failed")
			continue
		}
		if own.Lost() {
			return ErrSuperseded
		}
	}
}

// forwardFileEvents turns writes to the registry files into wake-ups
func (w *Watcher) forwardFileEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	base := filepath.Base(w.registry.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.Trigger()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.WithComponent("lease").Debug().Err(err).Msg("Registry watch error")
		}
	}
}
