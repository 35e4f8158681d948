package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterSearchMetrics_Idempotent(t *testing.T) {
	RegisterSearchMetrics()
	RegisterSearchMetrics()

	RerankTotal.WithLabelValues("applied").Inc()
	if got := testutil.ToFloat64(RerankTotal.WithLabelValues("applied")); got < 1 {
		t.Errorf("expected rerank_total{outcome=applied} >= 1, got %f", got)
	}
}
