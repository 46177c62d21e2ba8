package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.PollAttempt("balance change")
	c.PollAttempt("balance change")
	c.SwallowedError("balance change")
	c.WaitFinished("balance change", "ready", 2*time.Second)
	c.Violation("unique_event")
	c.Reconciled("plain", "settled")

	require.Equal(t, 2.0, testutil.ToFloat64(c.pollAttempts.WithLabelValues("balance change")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.swallowedErrors.WithLabelValues("balance change")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pollOutcomes.WithLabelValues("balance change", "ready")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.violations.WithLabelValues("unique_event")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.reconciliations.WithLabelValues("plain", "settled")))

	n, err := testutil.GatherAndCount(c.Registry())
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	require.NotPanics(t, func() {
		c.PollAttempt("x")
		c.SwallowedError("x")
		c.WaitFinished("x", "timeout", time.Second)
		c.Violation("x")
		c.Reconciled("x", "y")
	})
	require.Nil(t, c.Registry())
}
