package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results recorded for ingested focus changes.
const (
	ResultRecorded   = "recorded"
	ResultDuplicate  = "duplicate"
	ResultMalformed  = "malformed"
	ResultOutOfScope = "out_of_scope"
	ResultNotOwned   = "not_owned"
)

// Package-level collectors, registered via Register.
var (
	regOK atomic.Bool

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focushist",
			Name:      "events_total",
			Help:      "Focus change events received from the compositor, by outcome.",
		}, []string{"result"},
	)
	navigations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focushist",
			Name:      "navigations_total",
			Help:      "Traversal requests served, by command and response status.",
		}, []string{"command", "status"},
	)
	historyLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "focushist",
			Name:      "history_length",
			Help:      "Number of focus events currently retained.",
		},
	)
	leaseSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "focushist",
			Name:      "lease_superseded_total",
			Help:      "Output leases taken over by a newer instance.",
		},
	)
)

// Register registers all collectors with r. Calling it again after a
// successful registration is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{events, navigations, historyLength, leaseSuperseded}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncEvent(result string) {
	if regOK.Load() {
		events.WithLabelValues(result).Inc()
	}
}

func IncNavigation(command, status string) {
	if regOK.Load() {
		navigations.WithLabelValues(command, status).Inc()
	}
}

func SetHistoryLength(n int) {
	if regOK.Load() {
		historyLength.Set(float64(n))
	}
}

func AddSuperseded(n int) {
	if regOK.Load() && n > 0 {
		leaseSuperseded.Add(float64(n))
	}
}
