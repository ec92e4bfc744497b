// Package daemon runs one focus history instance: it claims output leases,
// records compositor focus changes and answers traversal requests until it
// is stopped or every claimed output has been taken over.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bryanchriswhite/focushist/internal/api"
	"github.com/bryanchriswhite/focushist/internal/config"
	"github.com/bryanchriswhite/focushist/internal/ipc"
	"github.com/bryanchriswhite/focushist/internal/lease"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/metrics"
	"github.com/bryanchriswhite/focushist/internal/notify"
	"github.com/bryanchriswhite/focushist/internal/scope"
	"github.com/bryanchriswhite/focushist/internal/window"
)

// releaseTimeout bounds lease cleanup once the run context is gone
const releaseTimeout = 5 * time.Second

// Options configures a Daemon
type Options struct {
	Config  *config.Config
	Backend window.Backend

	// Notifier is told when outputs are taken over; nil disables notifications
	Notifier notify.Notifier
	// Holder identifies this instance in the lease registry; random when empty
	Holder string
	// Gatherer backs the diagnostics /metrics route; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// Daemon is one running focus history instance
type Daemon struct {
	cfg      *config.Config
	backend  window.Backend
	notifier notify.Notifier
	holder   string
	gatherer prometheus.Gatherer

	outputs    scope.Set
	runtimeDir string
	socketPath string
	tracker    *Tracker

	ready chan struct{}
}

// New validates the configuration and prepares a daemon
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("daemon: backend is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	holder := opts.Holder
	if holder == "" {
		holder = uuid.NewString()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	outputs := scope.New(opts.Config.Monitors...)
	runtimeDir := opts.Config.ResolvedRuntimeDir()
	return &Daemon{
		cfg:        opts.Config,
		backend:    opts.Backend,
		notifier:   notifier,
		holder:     holder,
		gatherer:   gatherer,
		outputs:    outputs,
		runtimeDir: runtimeDir,
		socketPath: ipc.SocketPath(runtimeDir, outputs),
		tracker:    NewTracker(opts.Config.HistorySize, outputs, opts.Backend),
		ready:      make(chan struct{}),
	}, nil
}

// Holder returns this instance's lease holder id
func (d *Daemon) Holder() string { return d.holder }

// SocketPath returns the request socket path for the configured outputs
func (d *Daemon) SocketPath() string { return d.socketPath }

// Tracker returns the guarded history store
func (d *Daemon) Tracker() *Tracker { return d.tracker }

// Ready is closed once leases are held and the request socket is bound
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run serves until ctx is done, a component fails, or every claimed output
// is taken over by a newer instance, in which case it returns
// lease.ErrSuperseded. Leases, the socket, the registry and the backend are
// released on every return path.
func (d *Daemon) Run(ctx context.Context) error {
	log := logger.WithComponent("daemon")

	defer func() {
		if err := d.backend.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close compositor backend")
		}
	}()

	if err := os.MkdirAll(d.runtimeDir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	reg, err := lease.Open(ctx, filepath.Join(d.runtimeDir, lease.DBName))
	if err != nil {
		return fmt.Errorf("open lease registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close lease registry")
		}
	}()

	tokens := d.outputs.Tokens()
	epoch, err := reg.Acquire(ctx, d.holder, tokens)
	if err != nil {
		return fmt.Errorf("acquire output leases: %w", err)
	}
	defer d.release(reg)

	log.Info().
		Str("holder", d.holder).
		Strs("outputs", tokens).
		Int64("epoch", epoch).
		Msg("Output leases acquired")

	watcher := lease.NewWatcher(reg, d.holder, tokens, d.cfg.LeaseCheckInterval)
	watcher.OnChange = d.onSuperseded
	d.tracker.SetOwnership(watcher)

	server := ipc.NewServer(d.socketPath, d.outputs, d.tracker, d.cfg.RequestTimeout)
	server.OnResponse = func(req ipc.Request, resp ipc.Response) {
		metrics.IncNavigation(string(req.Command), string(resp.Status))
	}
	if err := server.Listen(); err != nil {
		return fmt.Errorf("bind request socket: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close request socket")
		}
	}()

	d.seed(ctx)
	close(d.ready)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("focus events", func(ctx context.Context) error {
		return d.backend.WatchFocus(ctx, func(change window.FocusChange) {
			d.ingest(change)
			watcher.Trigger()
		})
	})
	start("request server", server.Serve)
	start("lease watcher", watcher.Run)
	if d.cfg.DiagnosticsAddr != "" {
		diag := api.NewServer(api.Sources{
			Info: api.Info{
				Holder:  d.holder,
				Outputs: d.outputs.IDs(),
				Socket:  d.socketPath,
				Backend: d.backend.Name(),
			},
			History:   d.tracker,
			Leases:    reg,
			Ownership: watcher,
			Gatherer:  d.gatherer,
		})
		start("diagnostics", func(ctx context.Context) error {
			return diag.ListenAndServe(ctx, d.cfg.DiagnosticsAddr)
		})
	}

	log.Info().
		Str("socket", d.socketPath).
		Str("backend", d.backend.Name()).
		Int("history_size", d.cfg.HistorySize).
		Msg("Focus history daemon running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, lease.ErrSuperseded):
		log.Warn().Str("holder", d.holder).Msg("All outputs taken over by a newer instance, exiting")
		return lease.ErrSuperseded
	default:
		log.Error().Err(runErr).Msg("Daemon component failed")
		return runErr
	}
}

// seed records the window focused at startup so the first traversal has a
// starting point
func (d *Daemon) seed(ctx context.Context) {
	win, err := d.backend.FocusedWindow(ctx)
	if err != nil {
		logger.WithComponent("daemon").Debug().Err(err).Msg("No focused window at startup")
		return
	}
	d.ingest(window.FocusChange{WindowID: win.ID, OutputID: win.OutputID, At: time.Now()})
}

func (d *Daemon) ingest(change window.FocusChange) {
	log := logger.WithComponent("ingest")

	ev, stored, err := d.tracker.Record(change)
	switch {
	case errors.Is(err, ErrMalformedEvent):
		log.Warn().Err(err).Msg("Dropping malformed focus event")
	case err != nil:
		log.Debug().Err(err).Str("window", change.WindowID).Str("output", change.OutputID).Msg("Ignoring focus event")
	case stored:
		log.Debug().Str("window", ev.WindowID).Str("output", ev.OutputID).Uint64("seq", ev.Seq).Msg("Recorded focus")
	}
}

func (d *Daemon) onSuperseded(fresh []string, current lease.Ownership) {
	metrics.AddSuperseded(len(fresh))
	if !d.cfg.Notify {
		return
	}

	body := fmt.Sprintf("Outputs %s are now tracked by a newer instance.", strings.Join(fresh, ", "))
	if current.Lost() {
		body = "Every output is now tracked by a newer instance; this one is exiting."
	}
	if err := d.notifier.Notify("focushist superseded", body); err != nil {
		logger.WithComponent("daemon").Warn().Err(err).Msg("Failed to send desktop notification")
	}
}

func (d *Daemon) release(reg *lease.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := reg.Release(ctx, d.holder)
	if err != nil {
		logger.WithComponent("daemon").Warn().Err(err).Msg("Failed to release output leases")
		return
	}
	logger.WithComponent("daemon").Info().Int64("released", n).Msg("Output leases released")
}
