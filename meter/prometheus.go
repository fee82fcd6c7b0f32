package meter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ineyio/quotarelay"
)

// PromMeter exports relay events as Prometheus metrics.
type PromMeter struct {
	relayed  *prometheus.CounterVec
	denied   prometheus.Counter
	feeTotal prometheus.Counter
	duration prometheus.Histogram
}

var _ quotarelay.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter and registers its collectors with reg.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	m := &PromMeter{
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotarelay",
			Name:      "relayed_calls_total",
			Help:      "Calls forwarded to the engine, by inner result.",
		}, []string{"result"}),
		denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotarelay",
			Name:      "denied_calls_total",
			Help:      "Calls rejected because the account's session quota was exhausted.",
		}),
		feeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotarelay",
			Name:      "denied_fee_weight_total",
			Help:      "Sum of reduced fixed fee weight charged for denied calls.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quotarelay",
			Name:      "engine_duration_seconds",
			Help:      "Time spent in the engine for forwarded calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.relayed, m.denied, m.feeTotal, m.duration)
	return m
}

func (m *PromMeter) OnRelayed(e quotarelay.RelayedEvent) {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	m.relayed.WithLabelValues(result).Inc()
	m.duration.Observe(e.Duration.Seconds())
}

func (m *PromMeter) OnDenied(e quotarelay.DeniedEvent) {
	m.denied.Inc()
	m.feeTotal.Add(float64(e.Fee.Weight))
}
