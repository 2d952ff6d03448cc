package replication

import (
	"fmt"
	"slices"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/tag"
)

// EffectView is the replicated state of one effect instance.
type EffectView struct {
	Handle effect.Handle
	Effect string
	Stacks int
}

// AbilityView is the replicated state of one granted ability.
type AbilityView struct {
	ID         string
	Activating bool
	LastEnd    ability.EndReason
	Key        ability.PredictionKey
}

// Mirror keeps the last known state of one remote actor. When a local
// non-authoritative System is attached, deltas are also pushed into it and
// rejected predictions are rolled back.
type Mirror struct {
	actor actor.ID
	local *system.System

	attrs     map[attribute.Type]float64
	attrOrder []attribute.Type
	tags      tag.Container
	abilities map[string]*AbilityView
	effects   []EffectView
	options
}

// NewMirror creates the mirror of id. local may be nil.
func NewMirror(id actor.ID, local *system.System, opts ...Option) *Mirror {
	return &Mirror{
		actor:     id,
		local:     local,
		attrs:     make(map[attribute.Type]float64),
		abilities: make(map[string]*AbilityView),
		options:   buildOptions(opts),
	}
}

// Actor returns the mirrored actor.
func (m *Mirror) Actor() actor.ID { return m.actor }

// Handle decodes and applies one delta frame.
func (m *Mirror) Handle(frame []byte) error {
	d, err := DecodeDelta(frame)
	if err != nil {
		return fmt.Errorf("handle delta: %w", err)
	}
	m.Apply(d)
	return nil
}

// Apply folds d into the mirror. Deltas of other actors are ignored.
func (m *Mirror) Apply(d Delta) bool {
	if d.Actor != m.actor {
		return false
	}
	m.metrics.ReplicationMessage("in", d.Kind.String())

	switch d.Kind {
	case DeltaAttribute:
		t := attribute.Type(d.Name)
		if _, ok := m.attrs[t]; !ok {
			m.attrOrder = append(m.attrOrder, t)
		}
		m.attrs[t] = d.Value
		if m.local != nil {
			m.local.Attributes().ApplyReplicatedValue(t, d.Value)
		}
	case DeltaTags:
		m.tags = tag.NewContainer(d.Tags...)
		if m.local != nil {
			m.local.Tags().Reset(m.tags)
		}
	case DeltaAbilityGranted:
		if _, ok := m.abilities[d.Name]; !ok {
			m.abilities[d.Name] = &AbilityView{ID: d.Name}
		}
		m.grantLocal(d.Name)
	case DeltaAbilityRemoved:
		delete(m.abilities, d.Name)
		if m.local != nil {
			m.local.Abilities().ApplyRemove(d.Name)
		}
	case DeltaAbilityActivated:
		v := m.ability(d.Name)
		v.Activating = true
		v.Key = d.Key
		if m.local != nil {
			m.local.Abilities().ApplyState(d.Name, true, false, d.Key)
		}
	case DeltaAbilityEnded:
		v := m.ability(d.Name)
		v.Activating = false
		v.LastEnd = ability.EndNatural
		if d.Canceled {
			v.LastEnd = ability.EndCanceled
		}
		if m.local != nil {
			m.local.Abilities().ApplyState(d.Name, false, d.Canceled, d.Key)
		}
	case DeltaAbilityRejected:
		if m.local != nil && m.local.Abilities().Rollback(d.Name, d.Key) {
			m.log.Debug("prediction rolled back", "actor", m.actor, "ability", d.Name, "key", d.Key)
		}
	case DeltaEffectApplied:
		if i := m.effectIndex(d.Handle); i >= 0 {
			m.effects[i].Stacks = d.Stacks
		} else {
			m.effects = append(m.effects, EffectView{Handle: d.Handle, Effect: d.Name, Stacks: d.Stacks})
		}
	case DeltaEffectRemoved:
		if i := m.effectIndex(d.Handle); i >= 0 {
			m.effects = slices.Delete(m.effects, i, i+1)
		}
	case DeltaEffectStacks:
		if i := m.effectIndex(d.Handle); i >= 0 {
			m.effects[i].Stacks = d.Stacks
		}
	default:
		return false
	}
	return true
}

func (m *Mirror) grantLocal(id string) {
	if m.local == nil || m.local.Catalog() == nil {
		return
	}
	spec, ok := m.local.Catalog().AbilitySpec(id)
	if !ok {
		m.log.Warn("replicated grant of unknown ability", "actor", m.actor, "ability", id)
		return
	}
	m.local.Abilities().ApplyGrant(spec)
}

func (m *Mirror) ability(id string) *AbilityView {
	v, ok := m.abilities[id]
	if !ok {
		v = &AbilityView{ID: id}
		m.abilities[id] = v
	}
	return v
}

func (m *Mirror) effectIndex(h effect.Handle) int {
	return slices.IndexFunc(m.effects, func(e EffectView) bool { return e.Handle == h })
}

// AttributeValue returns the last replicated value of t.
func (m *Mirror) AttributeValue(t attribute.Type) (float64, bool) {
	v, ok := m.attrs[t]
	return v, ok
}

// Attributes returns the replicated attribute types in arrival order.
func (m *Mirror) Attributes() []attribute.Type { return slices.Clone(m.attrOrder) }

// Tags returns the last replicated tag set.
func (m *Mirror) Tags() tag.Container { return m.tags }

// Ability returns the replicated state of id.
func (m *Mirror) Ability(id string) (AbilityView, bool) {
	v, ok := m.abilities[id]
	if !ok {
		return AbilityView{}, false
	}
	return *v, true
}

// Effects returns the replicated effect instances.
func (m *Mirror) Effects() []EffectView { return slices.Clone(m.effects) }

// Demux routes delta frames to the mirror of their actor.
type Demux struct {
	mirrors map[actor.ID]*Mirror
}

// NewDemux creates a demultiplexer over mirrors.
func NewDemux(mirrors ...*Mirror) *Demux {
	d := &Demux{mirrors: make(map[actor.ID]*Mirror, len(mirrors))}
	for _, m := range mirrors {
		d.Add(m)
	}
	return d
}

// Add registers m, replacing any mirror of the same actor.
func (d *Demux) Add(m *Mirror) { d.mirrors[m.actor] = m }

// Get returns the mirror of id.
func (d *Demux) Get(id actor.ID) (*Mirror, bool) {
	m, ok := d.mirrors[id]
	return m, ok
}

// Handle decodes frame and applies it to the matching mirror. Frames for
// unknown actors are dropped.
func (d *Demux) Handle(frame []byte) error {
	delta, err := DecodeDelta(frame)
	if err != nil {
		return fmt.Errorf("demux delta: %w", err)
	}
	if m, ok := d.mirrors[delta.Actor]; ok {
		m.Apply(delta)
	}
	return nil
}

// HandleAll handles frames in order and stops at the first error.
func (d *Demux) HandleAll(frames [][]byte) error {
	for _, f := range frames {
		if err := d.Handle(f); err != nil {
			return err
		}
	}
	return nil
}
