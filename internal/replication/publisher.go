package replication

import (
	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/tag"
)

// Publisher broadcasts the state changes of an authoritative System.
type Publisher struct {
	sys *system.System
	ch  Channel
	options
}

// NewPublisher subscribes to sys and sends every change on ch.
func NewPublisher(sys *system.System, ch Channel, opts ...Option) *Publisher {
	p := &Publisher{sys: sys, ch: ch, options: buildOptions(opts)}
	id := sys.ID()

	sys.Attributes().OnValueChanged(func(a *attribute.Attribute, old, new float64) {
		if old != new {
			p.send(Delta{Kind: DeltaAttribute, Actor: id, Name: string(a.Type()), Value: new})
		}
	})
	sys.Tags().OnChanged(func(tag.Change) { p.sendTags() })

	abilities := sys.Abilities()
	abilities.OnGranted(func(a *ability.Ability) {
		p.send(Delta{Kind: DeltaAbilityGranted, Actor: id, Name: a.ID()})
	})
	abilities.OnRemoved(func(a *ability.Ability) {
		p.send(Delta{Kind: DeltaAbilityRemoved, Actor: id, Name: a.ID()})
	})
	abilities.OnActivated(func(a *ability.Ability) {
		p.send(Delta{Kind: DeltaAbilityActivated, Actor: id, Name: a.ID(), Key: a.PredictionKey()})
	})
	abilities.OnEnded(func(a *ability.Ability) {
		p.send(Delta{
			Kind:     DeltaAbilityEnded,
			Actor:    id,
			Name:     a.ID(),
			Key:      a.PredictionKey(),
			Canceled: a.LastEnd() == ability.EndCanceled,
		})
	})
	abilities.OnRejected(func(ab string, key ability.PredictionKey) {
		p.send(Delta{Kind: DeltaAbilityRejected, Actor: id, Name: ab, Key: key})
	})

	effects := sys.Effects()
	effects.OnApplied(func(e *effect.Effect) {
		p.send(Delta{Kind: DeltaEffectApplied, Actor: id, Name: e.ID(), Handle: e.Handle(), Stacks: e.StackCount()})
	})
	effects.OnRemoved(func(e *effect.Effect) {
		p.send(Delta{Kind: DeltaEffectRemoved, Actor: id, Handle: e.Handle()})
	})
	effects.OnStackChanged(func(e *effect.Effect, _, n int) {
		if n > 0 && e.IsActive() {
			p.send(Delta{Kind: DeltaEffectStacks, Actor: id, Handle: e.Handle(), Stacks: n})
		}
	})
	return p
}

// Sync sends the full current state, for observers that join late.
func (p *Publisher) Sync() {
	id := p.sys.ID()
	for _, a := range p.sys.GrantedAbilities() {
		p.send(Delta{Kind: DeltaAbilityGranted, Actor: id, Name: a.ID()})
	}
	attrs := p.sys.Attributes()
	for _, t := range attrs.Types() {
		v, _ := attrs.Value(t)
		p.send(Delta{Kind: DeltaAttribute, Actor: id, Name: string(t), Value: v})
	}
	p.sendTags()
	for _, e := range p.sys.ActiveEffects() {
		p.send(Delta{Kind: DeltaEffectApplied, Actor: id, Name: e.ID(), Handle: e.Handle(), Stacks: e.StackCount()})
	}
	for _, a := range p.sys.ActivatingAbilities() {
		p.send(Delta{Kind: DeltaAbilityActivated, Actor: id, Name: a.ID(), Key: a.PredictionKey()})
	}
}

func (p *Publisher) sendTags() {
	p.send(Delta{Kind: DeltaTags, Actor: p.sys.ID(), Tags: p.sys.ContainedTags().Tags()})
}

func (p *Publisher) send(d Delta) {
	frame, err := EncodeDelta(d)
	if err == nil {
		err = p.ch.Send(frame)
	}
	if err != nil {
		p.log.Error("sending delta", "actor", d.Actor, "kind", d.Kind, "error", err)
		return
	}
	p.metrics.ReplicationMessage("out", d.Kind.String())
}
