package system

import (
	"slices"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/timer"
)

// World maps actor ids to their components and routes cross-actor effect
// application to the target's own registry. Like the components it holds,
// a World is driven from the simulation goroutine only.
type World struct {
	timers  timer.Service
	opts    []Option
	systems map[actor.ID]*System
	order   []actor.ID
}

// NewWorld creates an empty world. opts are applied to every spawned System.
func NewWorld(timers timer.Service, opts ...Option) *World {
	return &World{
		timers:  timers,
		opts:    opts,
		systems: make(map[actor.ID]*System),
	}
}

// Spawn creates and registers the component of a. An existing component of
// the same id is returned unchanged.
func (w *World) Spawn(a *actor.Actor, extra ...Option) *System {
	if s, ok := w.systems[a.ID()]; ok {
		return s
	}
	opts := append(slices.Clone(w.opts), WithTargets(w))
	opts = append(opts, extra...)
	s := New(a, w.timers, opts...)
	w.systems[a.ID()] = s
	w.order = append(w.order, a.ID())
	return s
}

// Get returns the component of id.
func (w *World) Get(id actor.ID) (*System, bool) {
	s, ok := w.systems[id]
	return s, ok
}

// Despawn unregisters id. Its active effects keep their timers until they
// are removed by the caller.
func (w *World) Despawn(id actor.ID) bool {
	if _, ok := w.systems[id]; !ok {
		return false
	}
	delete(w.systems, id)
	w.order = slices.DeleteFunc(w.order, func(o actor.ID) bool { return o == id })
	return true
}

// Systems returns the components in spawn order.
func (w *World) Systems() []*System {
	out := make([]*System, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.systems[id])
	}
	return out
}

// AbilityRegistry returns the ability registry of id.
func (w *World) AbilityRegistry(id actor.ID) (*ability.Registry, bool) {
	s, ok := w.systems[id]
	if !ok {
		return nil, false
	}
	return s.abilities, true
}

// Len returns the number of registered components.
func (w *World) Len() int { return len(w.systems) }

// EffectRegistry implements effect.TargetResolver.
func (w *World) EffectRegistry(id actor.ID) (*effect.Registry, bool) {
	s, ok := w.systems[id]
	if !ok {
		return nil, false
	}
	return s.effects, true
}
