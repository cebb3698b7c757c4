// Package metrics exposes reconciliation counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results used as the "result" label.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

// Metrics holds every collector the application reports.
type Metrics struct {
	runs          *prometheus.CounterVec
	duration      prometheus.Histogram
	pages         prometheus.Counter
	fetchFailures prometheus.Counter
	newDays       prometheus.Counter
	expired       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_reconcile_runs_total",
				Help: "Reconciliation runs by result",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "streak_reconcile_duration_seconds",
				Help:    "Duration of a reconciliation run including feed fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_feed_pages_total",
			Help: "Feed pages that returned entries",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_feed_fetch_failures_total",
			Help: "Feed page fetches that failed or timed out",
		}),
		newDays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_new_days_total",
			Help: "Activity days recorded for the first time",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_expired_total",
			Help: "Current streaks zeroed after lapsing",
		}),
	}

	reg.MustRegister(m.runs, m.duration, m.pages, m.fetchFailures, m.newDays, m.expired)
	return m
}

// PageFetched counts a feed page that returned entries.
func (m *Metrics) PageFetched() { m.pages.Inc() }

// FetchFailed counts a failed feed page fetch.
func (m *Metrics) FetchFailed() { m.fetchFailures.Inc() }

// RunFinished records the result and duration of one reconciliation.
func (m *Metrics) RunFinished(result string, d time.Duration) {
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

// DaysRecorded counts newly stored activity days.
func (m *Metrics) DaysRecorded(n int) {
	m.newDays.Add(float64(n))
}

// StreaksExpired counts current streaks zeroed by the expiry sweep.
func (m *Metrics) StreaksExpired(n int64) {
	m.expired.Add(float64(n))
}
