package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"compintel/pkg/types"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() float64 { return 2 })

	m.ObservePage(types.StatusOK, types.FetchRendered)
	m.ObservePage(types.StatusOK, types.FetchRendered)
	m.ObservePage(types.StatusBlockedByRobots, "")
	m.ObserveFetch(types.FetchPlain, 300*time.Millisecond)
	m.SetFrontier(7)
	m.AddDiscovered(4)
	m.AddDiscovered(-1)

	if got := testutil.ToFloat64(m.PagesTotal.WithLabelValues("ok", "rendered")); got != 2 {
		t.Fatalf("pages ok/rendered = %v", got)
	}
	if got := testutil.ToFloat64(m.FrontierSize); got != 7 {
		t.Fatalf("frontier = %v", got)
	}
	if got := testutil.ToFloat64(m.LinksDiscovered); got != 4 {
		t.Fatalf("links discovered = %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "compintel_render_inflight" {
			found = mf.GetMetric()[0].GetGauge().GetValue() == 2
		}
	}
	if !found {
		t.Fatalf("render inflight gauge missing or wrong")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObservePage(types.StatusOK, types.FetchPlain)
	m.ObserveFetch(types.FetchPlain, time.Second)
	m.SetFrontier(1)
	m.AddDiscovered(1)
}
