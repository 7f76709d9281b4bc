package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var total float64
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		if out.Counter != nil {
			total += out.Counter.GetValue()
		}
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHit("ads")
	m.RecordHit("ads")
	m.RecordMiss("ads")
	m.RecordCoalesced("ads")
	m.RecordFetch("ads", time.Now(), errors.New("boom"))
	m.RecordRollback("ads", "update")

	if got := counterValue(t, m.Hits.WithLabelValues("ads")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := counterValue(t, m.FetchErrors.WithLabelValues("ads")); got != 1 {
		t.Errorf("fetch errors = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}

func TestMetrics_TwoRegistriesDoNotClash(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
	New(nil)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHit("ads")
	m.RecordStaleHit("ads")
	m.RecordMiss("ads")
	m.RecordCoalesced("ads")
	m.RecordFetch("ads", time.Now(), nil)
	m.RecordRollback("ads", "delete")
	m.SetBuffers("ads", 3)
}
