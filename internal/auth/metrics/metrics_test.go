package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementConsentPrompts()
	m.ObserveConsentDecision(true)
	m.ObserveConsentDecision(false)
	m.ObserveConsentDecision(false)
	m.IncrementFailure(FlowExchange, "code_not_found")
	m.ObserveExchangeDuration(3 * time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConsentPrompts), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ConsentDecisions.WithLabelValues("denied")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures.WithLabelValues(FlowExchange, "code_not_found")), 0)

	count, err := testutil.GatherAndCount(reg, "once_token_exchange_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
