package hg

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/hg/cmn/mono"
)

// Metrics exposes the engine's completion counts, latency, and in-flight
// gauges to a prometheus.Registerer, the way a long-running RPC target or
// client reports its own health. Constructing one is optional - nothing in
// the engine touches these beyond observe/setProcessing.
type Metrics struct {
	completions *prometheus.CounterVec
	latency     prometheus.Histogram
	processing  prometheus.Gauge
}

// NewMetrics builds and registers a fresh Metrics under reg. Calling it
// twice with the same reg returns prometheus's duplicate-registration
// error, same as any other collector - callers running more than one Class
// per process should use separate registries or a shared *Metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hg",
			Name:      "exchanges_total",
			Help:      "Completed RPC exchanges by terminal status.",
		}, []string{"status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hg",
			Name:      "exchange_latency_seconds",
			Help:      "Origin-observed time from Create to delivered completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hg",
			Name:      "processing_list_size",
			Help:      "Number of handles currently posted or awaiting response on the listen pump.",
		}),
	}
	if err := reg.Register(m.completions); err != nil {
		return nil, err
	}
	if err := reg.Register(m.latency); err != nil {
		return nil, err
	}
	if err := reg.Register(m.processing); err != nil {
		return nil, err
	}
	return m, nil
}

// Attach wires m into ctx so every origin-side completion Trigger delivers
// is counted and the processing-list gauge tracks ctx's processing list.
func (ctx *Context) Attach(m *Metrics) { ctx.metrics = m }

// observe records one origin-side completion: its terminal status, and,
// when createdAt was stamped (it always is, from newHandle), its latency
// since the handle was allocated. mono.NanoTime is runtime.nanotime under
// the mono build tag and time.Now().UnixNano() otherwise.
func (m *Metrics) observe(status Status, createdAt int64) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status.String()).Inc()
	if createdAt > 0 {
		m.latency.Observe(float64(mono.NanoTime()-createdAt) / 1e9)
	}
}

func (m *Metrics) setProcessing(n int) {
	if m == nil {
		return
	}
	m.processing.Set(float64(n))
}
