package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SignIn("password", OutcomeSuccess)
	m.SignIn("password", OutcomeSuccess)
	m.SignIn("external", OutcomeUnauthorized)
	m.Refresh(OutcomeUnauthorized)
	m.ProviderValidation("Google", OutcomeSuccess, 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signIn.WithLabelValues("password", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signIn.WithLabelValues("external", OutcomeUnauthorized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refresh.WithLabelValues(OutcomeUnauthorized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerResults.WithLabelValues("Google", OutcomeSuccess)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.providerLatency))
}

func TestMetrics_RegisterTwiceReuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.Refresh(OutcomeSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.refresh.WithLabelValues(OutcomeSuccess)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SignIn("password", OutcomeSuccess)
		m.Refresh(OutcomeSuccess)
		m.ProviderValidation("Facebook", OutcomeError, time.Second)
	})
}
