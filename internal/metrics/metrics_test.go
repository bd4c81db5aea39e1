package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveTransition("approve_submission", "ok", 3*time.Millisecond)
	m.ObserveTransition("approve_submission", "invalid_state", time.Millisecond)
	m.ObservePayout("failed")

	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve_submission", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve_submission", "invalid_state")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("failed")))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("apply", "ok", time.Millisecond)
	m.ObservePayout("ok")
}
