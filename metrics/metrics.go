// Package metrics exports message hook timings and verdicts to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/synqronlabs/quill"
)

const namespace = "quill"

// Observer is a result hook recording how long each message hook ran and
// what it returned. It passes every result through unchanged.
type Observer struct {
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
}

var _ quill.ResultHook = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Time spent in message hooks.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"hook"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_results_total",
			Help:      "Message hook results by return code.",
		}, []string{"hook", "result"}),
	}
	for _, c := range []prometheus.Collector{o.duration, o.results} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) Name() string {
	return "metrics"
}

func (o *Observer) OnHookResult(_ context.Context, _ *quill.Session, res quill.HookResult, elapsed time.Duration, origin quill.MessageHook) quill.HookResult {
	name := origin.Name()
	o.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	o.results.WithLabelValues(name, res.Return.String()).Inc()
	return res
}
