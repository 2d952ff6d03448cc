package ability

import (
	"fmt"
	"time"

	"github.com/udisondev/abilitycore/internal/tag"
)

// Hooks are per-ability override points. Nil fields fall back to the
// registry's default behaviour.
type Hooks struct {
	// CanActivate is an extra activation predicate; the default passes.
	CanActivate func(r *Registry, a *Ability) bool
	// CheckCost replaces the attribute range check of the cost effect.
	CheckCost func(r *Registry, a *Ability) bool
	// CheckCooldown replaces the cooldown tag check.
	CheckCooldown func(r *Registry, a *Ability) bool

	OnActivated func(r *Registry, a *Ability)
	OnEnded     func(r *Registry, a *Ability, canceled bool)
}

// Spec is an immutable ability definition.
type Spec struct {
	ID        string
	AssetTags tag.Container

	// ActivationRequired must all be present on the owner; any of
	// ActivationBlocked prevents activation.
	ActivationRequired tag.Container
	ActivationBlocked  tag.Container
	// ActivationOwned is added to the owner while the ability is activating.
	ActivationOwned tag.Container

	// BlockAbilitiesWithTag and CancelAbilitiesWithTag feed the registry
	// block set and cancel running abilities while this one is activating.
	BlockAbilitiesWithTag  tag.Container
	CancelAbilitiesWithTag tag.Container

	CostEffect     string
	CooldownEffect string
	CooldownTime   time.Duration
	CooldownTags   tag.Container

	// At least one of RequiredActivatingAbilities must be activating.
	RequiredActivatingAbilities []string
	CancelRequiredAbilities     bool

	Hooks Hooks
}

// HasCooldown reports whether committing the cooldown does anything.
func (s *Spec) HasCooldown() bool {
	return s.CooldownEffect != "" || (s.CooldownTime > 0 && !s.CooldownTags.IsEmpty())
}

// Validate reports definition errors.
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("ability without id")
	}
	if s.CooldownTime < 0 {
		return fmt.Errorf("ability %s: negative cooldown time", s.ID)
	}
	if s.CooldownEffect == "" && s.CooldownTime > 0 && s.CooldownTags.IsEmpty() {
		return fmt.Errorf("ability %s: cooldown time without cooldown effect or tags", s.ID)
	}
	for _, id := range s.RequiredActivatingAbilities {
		if id == s.ID {
			return fmt.Errorf("ability %s: requires itself to be activating", s.ID)
		}
	}
	return nil
}
