package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"debate-agent/internal/usecase"
)

// Recorder exports debate counters and timings to Prometheus.
type Recorder struct {
	requests      *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	generation    prometheus.Histogram
	appendRetries prometheus.Counter
}

var _ usecase.Recorder = (*Recorder)(nil)

// New registers the debate metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "debate_requests_total",
			Help: "Debate turns by outcome.",
		}, []string{"outcome"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "debate_fallback_replies_total",
			Help: "Replies replaced by the fallback text, by reason.",
		}, []string{"reason"}),
		generation: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "debate_generation_duration_seconds",
			Help:    "Latency of generation backend calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		appendRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "debate_append_retries_total",
			Help: "Retried history appends.",
		}),
	}
}

func (r *Recorder) DebateOutcome(outcome usecase.Outcome) {
	r.requests.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) FallbackReply(reason string) {
	r.fallbacks.WithLabelValues(reason).Inc()
}

func (r *Recorder) GenerationDuration(d time.Duration) {
	r.generation.Observe(d.Seconds())
}

func (r *Recorder) AppendRetry() {
	r.appendRetries.Inc()
}
