package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EffectApplied("Burn", ResultApplied)
	m.EffectApplied("Burn", ResultApplied)
	m.EffectApplied("Burn", ResultBlocked)
	m.EffectActivated()
	m.EffectActivated()
	m.EffectRemoved("Burn")
	m.AbilityActivation("Fireball", ResultApplied)
	m.AbilityEnded("Fireball", true)
	m.TagSetChanged()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EffectApplications.WithLabelValues("Burn", ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EffectApplications.WithLabelValues("Burn", ResultBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveEffects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AbilityEnds.WithLabelValues("Fireball", "canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TagSetChanges))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EffectApplied("x", ResultApplied)
		m.EffectActivated()
		m.EffectRemoved("x")
		m.AbilityActivation("x", ResultDenied)
		m.AbilityEnded("x", false)
		m.TagSetChanged()
		m.ReplicationMessage("out", "delta")
	})
}
