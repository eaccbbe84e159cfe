package metricsvc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/kupanda/core/transition"
)

const namespace = "kupanda"

// TransitionObserver exports engine progress as prometheus metrics.
type TransitionObserver struct {
	states       *prometheus.CounterVec
	running      prometheus.Gauge
	chunks       *prometheus.CounterVec
	chunkOps     *prometheus.CounterVec
	chunkLatency *prometheus.HistogramVec
}

var _ transition.Observer = (*TransitionObserver)(nil) // interface compliance check

// NewTransitionObserver registers the transition metrics with reg (prometheus.DefaultRegisterer when nil).
func NewTransitionObserver(reg prometheus.Registerer) *TransitionObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &TransitionObserver{
		states: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "state_changes_total",
			Help:      "Transition engine state changes, by target state.",
		}, []string{"state"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "running",
			Help:      "Transitions currently purging history or moving students.",
		}),
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "chunks_total",
			Help:      "Chunk commits, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		chunkOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "chunk_ops_total",
			Help:      "Write operations sent in chunks, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		chunkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "chunk_commit_seconds",
			Help:      "Latency of committed chunks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
	}
}

func (o *TransitionObserver) StateChanged(from, to transition.State) {
	o.states.WithLabelValues(string(to)).Inc()
	switch {
	case from == transition.StateIdle && to == transition.StatePurgingHistory:
		o.running.Inc()
	case to == transition.StateDone || to == transition.StateFailed:
		if from != transition.StateIdle {
			o.running.Dec()
		}
	}
}

func (o *TransitionObserver) ChunkCommitted(stage string, _, size int, elapsed time.Duration) {
	o.chunks.WithLabelValues(stage, "committed").Inc()
	o.chunkOps.WithLabelValues(stage, "committed").Add(float64(size))
	o.chunkLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (o *TransitionObserver) ChunkFailed(stage string, _, size int, _ error) {
	o.chunks.WithLabelValues(stage, "failed").Inc()
	o.chunkOps.WithLabelValues(stage, "failed").Add(float64(size))
}
