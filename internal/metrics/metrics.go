// Package metrics exposes Prometheus collectors for the ability core.
//
// Every method is safe to call on a nil *Metrics, so registries run with
// metrics disabled without branching at call sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultApplied  = "applied"
	ResultStacked  = "stacked"
	ResultBlocked  = "blocked"
	ResultRejected = "rejected"
	ResultDenied   = "denied"
)

// Metrics contains the collectors shared by all actors of one process.
type Metrics struct {
	EffectApplications  *prometheus.CounterVec
	EffectRemovals      *prometheus.CounterVec
	ActiveEffects       prometheus.Gauge
	AbilityActivations  *prometheus.CounterVec
	AbilityEnds         *prometheus.CounterVec
	TagSetChanges       prometheus.Counter
	ReplicationMessages *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EffectApplications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abilitycore_effect_applications_total",
				Help: "Effect application attempts by effect and result",
			},
			[]string{"effect", "result"},
		),
		EffectRemovals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abilitycore_effect_removals_total",
				Help: "Persistent effects removed by effect",
			},
			[]string{"effect"},
		),
		ActiveEffects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "abilitycore_active_effects",
				Help: "Persistent effects currently active",
			},
		),
		AbilityActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abilitycore_ability_activations_total",
				Help: "Ability activation attempts by ability and result",
			},
			[]string{"ability", "result"},
		),
		AbilityEnds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abilitycore_ability_ends_total",
				Help: "Ability activations finished by ability and reason",
			},
			[]string{"ability", "reason"},
		),
		TagSetChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abilitycore_tag_set_changes_total",
				Help: "Transitions of contained tag sets",
			},
		),
		ReplicationMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abilitycore_replication_messages_total",
				Help: "Replication messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
	}

	reg.MustRegister(
		m.EffectApplications,
		m.EffectRemovals,
		m.ActiveEffects,
		m.AbilityActivations,
		m.AbilityEnds,
		m.TagSetChanges,
		m.ReplicationMessages,
	)
	return m
}

// EffectApplied records an application attempt.
func (m *Metrics) EffectApplied(effect, result string) {
	if m == nil {
		return
	}
	m.EffectApplications.WithLabelValues(effect, result).Inc()
}

// EffectActivated records a persistent effect entering the active list.
func (m *Metrics) EffectActivated() {
	if m == nil {
		return
	}
	m.ActiveEffects.Inc()
}

// EffectRemoved records a persistent effect leaving the active list.
func (m *Metrics) EffectRemoved(effect string) {
	if m == nil {
		return
	}
	m.EffectRemovals.WithLabelValues(effect).Inc()
	m.ActiveEffects.Dec()
}

// AbilityActivation records an activation attempt.
func (m *Metrics) AbilityActivation(ability, result string) {
	if m == nil {
		return
	}
	m.AbilityActivations.WithLabelValues(ability, result).Inc()
}

// AbilityEnded records the end of an activation.
func (m *Metrics) AbilityEnded(ability string, canceled bool) {
	if m == nil {
		return
	}
	reason := "ended"
	if canceled {
		reason = "canceled"
	}
	m.AbilityEnds.WithLabelValues(ability, reason).Inc()
}

// TagSetChanged records a tag set transition.
func (m *Metrics) TagSetChanged() {
	if m == nil {
		return
	}
	m.TagSetChanges.Inc()
}

// ReplicationMessage records a sent or received replication message.
func (m *Metrics) ReplicationMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.ReplicationMessages.WithLabelValues(direction, kind).Inc()
}
