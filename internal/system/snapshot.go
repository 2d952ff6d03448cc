package system

import (
	"errors"
	"fmt"
	"time"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
)

// AttributeState is the persisted part of one attribute. Current values are
// derived from the base and the restored effects.
type AttributeState struct {
	Type attribute.Type
	Base float64
}

// EffectState is one persisted effect instance. Remaining is zero for
// effects without a duration.
type EffectState struct {
	Effect      string
	Instigators []actor.ID
	Stacks      int
	Remaining   time.Duration
}

// Snapshot is the persistent state of an actor.
type Snapshot struct {
	Actor      actor.ID
	Attributes []AttributeState
	Abilities  []string
	Effects    []EffectState
}

// Snapshot captures the component's persistent state.
func (s *System) Snapshot() Snapshot {
	snap := Snapshot{Actor: s.ID()}
	for _, t := range s.attrs.Types() {
		a, _ := s.attrs.Get(t)
		snap.Attributes = append(snap.Attributes, AttributeState{Type: t, Base: a.RawBaseValue()})
	}
	for _, a := range s.abilities.GrantedAbilities() {
		snap.Abilities = append(snap.Abilities, a.ID())
	}
	for _, e := range s.effects.Active() {
		remaining := s.effects.Remaining(e.Handle())
		if remaining < 0 {
			remaining = 0
		}
		snap.Effects = append(snap.Effects, EffectState{
			Effect:      e.ID(),
			Instigators: e.Instigators(),
			Stacks:      e.StackCount(),
			Remaining:   remaining,
		})
	}
	return snap
}

// Restore loads snap into the component: base values first, then granted
// abilities, then effects. Unknown ids are skipped and reported together.
// Authority only.
func (s *System) Restore(snap Snapshot) error {
	if !s.actor.HasAuthority() {
		return fmt.Errorf("restore %s: not the authority", s.ID())
	}
	var errs []error
	for _, st := range snap.Attributes {
		if _, ok := s.attrs.Get(st.Type); !ok {
			s.attrs.ConstructType(st.Type)
		}
		s.attrs.InitializeAttribute(st.Type, st.Base)
	}
	for _, id := range snap.Abilities {
		if _, ok := s.abilities.Granted(id); ok {
			continue
		}
		if !s.abilities.GrantByID(id) {
			errs = append(errs, fmt.Errorf("ability %q not found", id))
		}
	}
	for _, st := range snap.Effects {
		spec, ok := s.resolveEffect(st.Effect)
		if !ok {
			errs = append(errs, fmt.Errorf("effect %q not found", st.Effect))
			continue
		}
		if _, ok := s.effects.Restore(spec, st.Instigators, st.Stacks, st.Remaining); !ok {
			errs = append(errs, fmt.Errorf("effect %q could not be applied", st.Effect))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("restore %s: %w", s.ID(), err)
	}
	return nil
}

// resolveEffect looks id up in the catalog and then among the cooldown
// effects derived by granted abilities.
func (s *System) resolveEffect(id string) (*effect.Spec, bool) {
	if s.catalog != nil {
		if spec, ok := s.catalog.EffectSpec(id); ok {
			return spec, true
		}
	}
	for _, a := range s.abilities.GrantedAbilities() {
		if cd, ok := a.CooldownEffect(); ok && cd.ID == id {
			return cd, true
		}
	}
	return nil, false
}
