package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"compintel/pkg/types"
)

// Metrics holds the crawl's Prometheus collectors.
type Metrics struct {
	PagesTotal      *prometheus.CounterVec
	FrontierSize    prometheus.Gauge
	FetchDuration   *prometheus.HistogramVec
	LinksDiscovered prometheus.Counter
}

// New registers the crawl metrics on reg. inflight, when set, backs the
// render in-flight gauge.
func New(reg prometheus.Registerer, inflight func() float64) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		PagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_pages_total",
			Help: "Pages finished, by visit status and fetch mode.",
		}, []string{"status", "mode"}),
		FrontierSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "compintel_frontier_size",
			Help: "URLs waiting in the frontier.",
		}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compintel_fetch_duration_seconds",
			Help:    "Fetch latency by mode.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"mode"}),
		LinksDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "compintel_links_discovered_total",
			Help: "New in-scope URLs admitted to the frontier.",
		}),
	}
	if inflight == nil {
		inflight = func() float64 { return 0 }
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "compintel_render_inflight",
		Help: "Browser tabs currently checked out.",
	}, inflight)
	return m
}

func (m *Metrics) ObservePage(status types.VisitStatus, mode types.FetchMode) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(string(status), string(mode)).Inc()
}

func (m *Metrics) ObserveFetch(mode types.FetchMode, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (m *Metrics) SetFrontier(pending int) {
	if m == nil {
		return
	}
	m.FrontierSize.Set(float64(pending))
}

func (m *Metrics) AddDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LinksDiscovered.Add(float64(n))
}
