// Package telemetry exposes Prometheus instrumentation for overlay
// reconcile traffic. A Recorder is constructed against an explicit
// Registerer and injected into whoever needs it; no default-registry
// globals. All methods are nil-safe so instrumentation stays optional.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder counts reconcile operations for one overlay kind.
type Recorder struct {
	reconciles prometheus.Counter
	added      prometheus.Counter
	changed    prometheus.Counter
	removed    prometheus.Counter
	skipped    prometheus.Counter
	entities   prometheus.Gauge
	batchSize  prometheus.Histogram
}

// NewRecorder registers the reconcile metrics for one overlay kind.
func NewRecorder(reg prometheus.Registerer, kind string) *Recorder {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"kind": kind}

	return &Recorder{
		reconciles: factory.NewCounter(prometheus.CounterOpts{
			Name:        "overlay_reconciles_total",
			Help:        "Completed reconcile passes.",
			ConstLabels: labels,
		}),
		added: factory.NewCounter(prometheus.CounterOpts{
			Name:        "overlay_entities_added_total",
			Help:        "Entities created by reconcile passes.",
			ConstLabels: labels,
		}),
		changed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "overlay_entities_changed_total",
			Help:        "Entities re-rendered by reconcile passes.",
			ConstLabels: labels,
		}),
		removed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "overlay_entities_removed_total",
			Help:        "Entities removed by reconcile passes.",
			ConstLabels: labels,
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Name:        "overlay_updates_skipped_total",
			Help:        "Updates skipped because the fingerprint was unchanged.",
			ConstLabels: labels,
		}),
		entities: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "overlay_entities",
			Help:        "Entities currently registered.",
			ConstLabels: labels,
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "overlay_reconcile_batch_size",
			Help:        "Desired-state list sizes submitted to reconcile.",
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
			ConstLabels: labels,
		}),
	}
}

// ObserveReconcile records one completed reconcile pass.
func (r *Recorder) ObserveReconcile(batch, added, changed, removed, skipped, entities int) {
	if r == nil {
		return
	}
	r.reconciles.Inc()
	r.batchSize.Observe(float64(batch))
	r.added.Add(float64(added))
	r.changed.Add(float64(changed))
	r.removed.Add(float64(removed))
	r.skipped.Add(float64(skipped))
	r.entities.Set(float64(entities))
}

// ObserveSkippedUpdate records a single-entity update short-circuited
// by an unchanged fingerprint.
func (r *Recorder) ObserveSkippedUpdate() {
	if r == nil {
		return
	}
	r.skipped.Inc()
}
