package evaluation

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes evaluation counters. A nil *Metrics records nothing.
type Metrics struct {
	vectors      *prometheus.CounterVec
	noPeak       prometheus.Counter
	invalid      prometheus.Counter
	outputs      prometheus.Counter
	passDuration *prometheus.HistogramVec
}

// NewMetrics creates the evaluation collectors and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		vectors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "piv_correlated_vectors_total",
			Help: "Correlated vectors by window placement tier",
		}, []string{"tier"}),
		noPeak: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piv_no_peak_vectors_total",
			Help: "Vectors whose correlation map had no usable peak",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piv_invalid_vectors_total",
			Help: "Vectors flagged invalid by the normalized median test",
		}),
		outputs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piv_output_files_total",
			Help: "Vector files written",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "piv_pass_duration_seconds",
			Help:    "Wall time of one correlation pass over all vectors",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"pass"}),
	}
	if reg != nil {
		reg.MustRegister(m.vectors, m.noPeak, m.invalid, m.outputs, m.passDuration)
	}
	return m
}

func (m *Metrics) observePass(stats PassStats, d time.Duration) {
	if m == nil {
		return
	}
	for t, n := range stats.Tiers {
		m.vectors.WithLabelValues(Tier(t).String()).Add(float64(n))
	}
	m.noPeak.Add(float64(stats.NoPeak.GetCardinality()))
	m.passDuration.WithLabelValues(passLabel(stats.Pass)).Observe(d.Seconds())
}

func (m *Metrics) observeInvalid(n int) {
	if m == nil {
		return
	}
	m.invalid.Add(float64(n))
}

func (m *Metrics) observeOutput() {
	if m == nil {
		return
	}
	m.outputs.Inc()
}

// passLabel is 1-based like the log output.
func passLabel(p int) string { return strconv.Itoa(p + 1) }
