// Package ability implements the activation state machine of granted
// abilities: tag gating, cost and cooldown commits through effects, and
// client-side prediction reconciled by the authority.
package ability

import (
	"github.com/udisondev/abilitycore/internal/effect"
)

// PredictionKey ties a predicted activation to the authority's verdict.
type PredictionKey uint32

// EndReason records how the last activation finished.
type EndReason int8

const (
	EndNone EndReason = iota
	EndNatural
	EndCanceled
)

func (r EndReason) String() string {
	switch r {
	case EndNatural:
		return "ended"
	case EndCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// Ability is a granted ability. Owned and mutated by its Registry.
type Ability struct {
	spec *Spec

	cost     *effect.Spec
	cooldown *effect.Spec

	activating        bool
	costCommitted     bool
	cooldownCommitted bool
	removeOnEnd       bool
	predicted         bool
	ownedApplied      bool
	key               PredictionKey
	lastEnd           EndReason
	activations       int
}

// ID returns the definition id.
func (a *Ability) ID() string { return a.spec.ID }

// Spec returns the definition.
func (a *Ability) Spec() *Spec { return a.spec }

// IsActivating reports whether an activation is in flight.
func (a *Ability) IsActivating() bool { return a.activating }

// IsCostCommitted reports whether this activation already paid its cost.
func (a *Ability) IsCostCommitted() bool { return a.costCommitted }

// IsCooldownCommitted reports whether this activation already started its cooldown.
func (a *Ability) IsCooldownCommitted() bool { return a.cooldownCommitted }

// IsPendingRemoval reports whether the ability is evicted when it ends.
func (a *Ability) IsPendingRemoval() bool { return a.removeOnEnd }

// IsPredicted reports whether the running activation was started locally
// ahead of the authority.
func (a *Ability) IsPredicted() bool { return a.activating && a.predicted }

// PredictionKey returns the key of the latest activation.
func (a *Ability) PredictionKey() PredictionKey { return a.key }

// LastEnd returns how the previous activation finished.
func (a *Ability) LastEnd() EndReason { return a.lastEnd }

// Activations returns how many times the ability has been activated.
func (a *Ability) Activations() int { return a.activations }

// CostEffect returns the resolved cost effect, if any.
func (a *Ability) CostEffect() (*effect.Spec, bool) { return a.cost, a.cost != nil }

// CooldownEffect returns the cooldown effect as applied to the owner, if any.
func (a *Ability) CooldownEffect() (*effect.Spec, bool) { return a.cooldown, a.cooldown != nil }
