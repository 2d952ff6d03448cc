// Package system composes one actor's tag ledger, attributes, effects and
// abilities into a single component and links components into a world.
package system

import (
	"log/slog"
	"time"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/metrics"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/timer"
)

// Catalog resolves every definition a System needs by id.
type Catalog interface {
	effect.Resolver
	ability.Resolver
	attribute.ClassResolver
}

type options struct {
	catalog    Catalog
	targets    effect.TargetResolver
	calculator effect.Calculator
	submitter  ability.Submitter
	hooks      attribute.Hooks
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// Option configures a System.
type Option func(*options)

func WithCatalog(c Catalog) Option { return func(o *options) { o.catalog = c } }
func WithTargets(t effect.TargetResolver) Option { return func(o *options) { o.targets = t } }
func WithCalculator(c effect.Calculator) Option { return func(o *options) { o.calculator = c } }
func WithSubmitter(s ability.Submitter) Option { return func(o *options) { o.submitter = s } }
func WithAttributeHooks(h attribute.Hooks) Option { return func(o *options) { o.hooks = h } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger sets the base logger; the System adds the actor id to it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// System is the ability system component of one actor.
type System struct {
	actor   *actor.Actor
	timers  timer.Service
	catalog Catalog
	log     *slog.Logger

	tags      *tag.Ledger
	attrs     *attribute.Registry
	effects   *effect.Registry
	abilities *ability.Registry
}

// New builds the component of a. All registries share timers.
func New(a *actor.Actor, timers timer.Service, opts ...Option) *System {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("actor", a.ID())

	s := &System{
		actor:   a,
		timers:  timers,
		catalog: o.catalog,
		log:     log,
		tags:    tag.NewLedger(),
	}
	if o.metrics != nil {
		s.tags.OnChanged(func(tag.Change) { o.metrics.TagSetChanged() })
	}

	attrOpts := []attribute.Option{attribute.WithHooks(o.hooks), attribute.WithLogger(log)}
	effectOpts := []effect.Option{effect.WithLogger(log), effect.WithMetrics(o.metrics)}
	abilityOpts := []ability.Option{ability.WithLogger(log), ability.WithMetrics(o.metrics)}
	if o.catalog != nil {
		attrOpts = append(attrOpts, attribute.WithClassResolver(o.catalog))
		effectOpts = append(effectOpts, effect.WithResolver(o.catalog))
		abilityOpts = append(abilityOpts, ability.WithResolver(o.catalog), ability.WithEffectResolver(o.catalog))
	}
	if o.targets != nil {
		effectOpts = append(effectOpts, effect.WithTargets(o.targets))
	}
	if o.calculator != nil {
		effectOpts = append(effectOpts, effect.WithCalculator(o.calculator))
	}
	if o.submitter != nil {
		abilityOpts = append(abilityOpts, ability.WithSubmitter(o.submitter))
	}

	s.attrs = attribute.NewRegistry(a, attrOpts...)
	s.effects = effect.NewRegistry(a.ID(), a, s.attrs, s.tags, timers, effectOpts...)
	s.abilities = ability.NewRegistry(a.ID(), a, s.tags, s.attrs, s.effects, abilityOpts...)
	return s
}

func (s *System) Actor() *actor.Actor { return s.actor }
func (s *System) ID() actor.ID { return s.actor.ID() }
func (s *System) Tags() *tag.Ledger { return s.tags }
func (s *System) Attributes() *attribute.Registry { return s.attrs }
func (s *System) Effects() *effect.Registry { return s.effects }
func (s *System) Abilities() *ability.Registry { return s.abilities }
func (s *System) Timers() timer.Service { return s.timers }

// Catalog returns the definition resolver, or nil.
func (s *System) Catalog() Catalog { return s.catalog }

// AttributeValue returns the current value of t.
func (s *System) AttributeValue(t attribute.Type) (float64, bool) { return s.attrs.Value(t) }

// ContainedTags returns the tags currently on the actor.
func (s *System) ContainedTags() tag.Container { return s.tags.Tags() }

// ActiveEffects returns the active effect instances.
func (s *System) ActiveEffects() []*effect.Effect { return s.effects.Active() }

// GrantedAbilities returns the granted abilities.
func (s *System) GrantedAbilities() []*ability.Ability { return s.abilities.GrantedAbilities() }

// ActivatingAbilities returns the abilities currently activating.
func (s *System) ActivatingAbilities() []*ability.Ability {
	return s.abilities.ActivatingAbilities()
}

// InitAttributes constructs the attributes of a named class.
func (s *System) InitAttributes(class string) bool {
	ok := s.attrs.ConstructClass(class)
	if !ok {
		s.log.Warn("unknown attribute class", "class", class)
	}
	return ok
}

// ApplyEffect applies the effect id to this actor on behalf of instigator.
func (s *System) ApplyEffect(instigator actor.ID, id string, stacks int) (effect.Handle, bool) {
	return s.effects.ApplyByID(instigator, id, stacks)
}

// ApplyEffectTo applies the effect id from this actor to target.
func (s *System) ApplyEffectTo(target actor.ID, id string, stacks int) (effect.Handle, bool) {
	if s.catalog == nil {
		return "", false
	}
	spec, ok := s.catalog.EffectSpec(id)
	if !ok {
		return "", false
	}
	return s.effects.ApplyToTarget(s.ID(), target, spec, stacks)
}

// CooldownRemaining returns the cooldown time left on ability id.
func (s *System) CooldownRemaining(id string) time.Duration {
	return s.abilities.CooldownRemaining(id)
}
