// Package metrics exposes export and drain counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	phaseSeconds   *prometheus.HistogramVec
	tracksExported prometheus.Counter
	digestsReused  prometheus.Counter
	artworkWritten prometheus.Counter
	artworkDeleted prometheus.Counter
	updates        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "libsync",
			Subsystem: "export",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each export phase.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
		tracksExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "libsync",
			Subsystem: "export",
			Name:      "tracks_total",
			Help:      "Tracks written to the snapshot.",
		}),
		digestsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "libsync",
			Subsystem: "export",
			Name:      "digests_reused_total",
			Help:      "Music digests reused from the previous snapshot in fast mode.",
		}),
		artworkWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "libsync",
			Subsystem: "export",
			Name:      "artwork_written_total",
			Help:      "Artwork files written to disk.",
		}),
		artworkDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "libsync",
			Subsystem: "export",
			Name:      "artwork_deleted_total",
			Help:      "Orphaned artwork files removed.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libsync",
			Subsystem: "drain",
			Name:      "updates_total",
			Help:      "Pending updates processed by the updater.",
		}, []string{"source", "field", "outcome"}),
	}
	r.registry.MustRegister(
		r.phaseSeconds,
		r.tracksExported,
		r.digestsReused,
		r.artworkWritten,
		r.artworkDeleted,
		r.updates,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

func (r *Recorder) ExportFinished(tracks, reused, written, deleted int) {
	if r == nil {
		return
	}
	r.tracksExported.Add(float64(tracks))
	r.digestsReused.Add(float64(reused))
	r.artworkWritten.Add(float64(written))
	r.artworkDeleted.Add(float64(deleted))
}

func (r *Recorder) UpdateProcessed(source, field, outcome string) {
	if r == nil {
		return
	}
	r.updates.WithLabelValues(source, field, outcome).Inc()
}
