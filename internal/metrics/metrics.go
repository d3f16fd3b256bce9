// Package metrics exposes Prometheus instrumentation for refresh and settle cycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aftr"

// Recorder records pipeline metrics. A nil *Recorder is a no-op.
type Recorder struct {
	registry       *prometheus.Registry
	cycles         *prometheus.CounterVec
	leagueRuns     *prometheus.CounterVec
	leagueDuration *prometheus.HistogramVec
	candidates     *prometheus.GaugeVec
	skipped        *prometheus.CounterVec
	fetchErrors    *prometheus.CounterVec
	settled        *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
}

// New creates a recorder on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Refresh cycles by overall status",
			},
			[]string{"status"},
		),
		leagueRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "league_runs_total",
				Help:      "League refreshes by result",
			},
			[]string{"league", "result"},
		),
		leagueDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "league_duration_seconds",
				Help:      "Duration of a league refresh in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"league"},
		),
		candidates: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates",
				Help:      "Candidates in the last written snapshot",
			},
			[]string{"league"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_fixtures_total",
				Help:      "Fixtures skipped because the match model could not be built",
			},
			[]string{"league"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Upstream fetch failures by reason",
			},
			[]string{"league", "reason"},
		),
		settled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settled_total",
				Help:      "Evaluations settled by outcome",
			},
			[]string{"league", "outcome"},
		),
		conflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_conflicts_total",
				Help:      "Settled picks reported again with a different final score",
			},
			[]string{"league"},
		),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RecordCycle(status string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(status).Inc()
}

// RecordLeague records one league refresh. candidates is only set on success.
func (r *Recorder) RecordLeague(league, result string, candidates, skipped int, d time.Duration) {
	if r == nil {
		return
	}
	r.leagueRuns.WithLabelValues(league, result).Inc()
	r.leagueDuration.WithLabelValues(league).Observe(d.Seconds())
	if skipped > 0 {
		r.skipped.WithLabelValues(league).Add(float64(skipped))
	}
	if result == "ok" {
		r.candidates.WithLabelValues(league).Set(float64(candidates))
	}
}

func (r *Recorder) RecordFetchError(league, reason string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(league, reason).Inc()
}

// RecordSettlement adds per-outcome settle counts and conflicts for a league.
func (r *Recorder) RecordSettlement(league string, won, lost, voided, conflicts int) {
	if r == nil {
		return
	}
	r.settled.WithLabelValues(league, "WIN").Add(float64(won))
	r.settled.WithLabelValues(league, "LOSS").Add(float64(lost))
	r.settled.WithLabelValues(league, "VOID").Add(float64(voided))
	if conflicts > 0 {
		r.conflicts.WithLabelValues(league).Add(float64(conflicts))
	}
}
