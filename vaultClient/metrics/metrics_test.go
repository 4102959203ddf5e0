package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RoundAttempt("keysign")
	c.RoundAttempt("keysign")
	c.VerificationHit("keysign")
	c.RoundOutcome("keysign", OutcomeVerified)
	c.Broadcast("Ethereum", "MAIN", "BROADCASTED")
	c.CeremonyStarted()
	c.CeremonyStarted()
	c.CeremonyFinished("keygen", OutcomeCompleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.roundAttempts.WithLabelValues("keysign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verificationHits.WithLabelValues("keysign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("Ethereum", "MAIN", "BROADCASTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeCeremonies))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RoundAttempt("x")
		c.VerificationHit("x")
		c.RoundOutcome("x", OutcomeFailed)
		c.MessageSent()
		c.MessageApplied()
		c.DuplicateDropped()
		c.ApplyFailed()
		c.Broadcast("a", "b", "c")
		c.CeremonyStarted()
		c.CeremonyFinished("x", OutcomeFailed)
	})
}
