// Package effect implements gameplay effects: instant, infinite and timed
// bundles of attribute modifiers with stacking and periodicity, owned by the
// target actor's effect registry.
package effect

import (
	"fmt"
	"slices"

	"github.com/oklog/ulid/v2"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/timer"
)

// Handle is the stable identity of one effect instance.
type Handle string

// NewHandle returns a fresh, time-sortable handle.
func NewHandle() Handle { return Handle(ulid.Make().String()) }

// IsValid reports whether the handle is set.
func (h Handle) IsValid() bool { return h != "" }

// State is the lifecycle stage of an instance.
type State int8

const (
	StateUnapplied State = iota
	StateActive
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUnapplied:
		return "unapplied"
	case StateActive:
		return "active"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Effect is one persistent instance of a Spec on a target. Effects are owned
// by the target's Registry and mutated only through it; holders outside the
// registry should keep the Handle rather than the pointer.
type Effect struct {
	handle      Handle
	spec        *Spec
	target      actor.ID
	instigators []actor.ID
	stacks      int
	state       State
	inhibited   bool

	durationTimer timer.Handle
	periodTimer   timer.Handle
}

func newEffect(spec *Spec, target, instigator actor.ID) *Effect {
	e := &Effect{
		handle: NewHandle(),
		spec:   spec,
		target: target,
	}
	if instigator.IsValid() {
		e.instigators = []actor.ID{instigator}
	}
	return e
}

// Handle returns the instance handle.
func (e *Effect) Handle() Handle { return e.handle }

// Spec returns the shared definition.
func (e *Effect) Spec() *Spec { return e.spec }

// ID returns the definition id.
func (e *Effect) ID() string { return e.spec.ID }

// Target returns the actor the effect applies to.
func (e *Effect) Target() actor.ID { return e.target }

// Instigators returns a copy of the instigator set in arrival order.
func (e *Effect) Instigators() []actor.ID { return slices.Clone(e.instigators) }

// Instigator returns the first instigator, or "".
func (e *Effect) Instigator() actor.ID {
	if len(e.instigators) == 0 {
		return ""
	}
	return e.instigators[0]
}

// HasInstigator reports whether id applied this instance.
func (e *Effect) HasInstigator(id actor.ID) bool {
	return slices.Contains(e.instigators, id)
}

// StackCount returns the current stack count. Non-stacking effects report 1
// while active.
func (e *Effect) StackCount() int { return e.stacks }

// State returns the lifecycle state.
func (e *Effect) State() State { return e.state }

// IsActive reports whether the instance is registered and not removed.
func (e *Effect) IsActive() bool { return e.state == StateActive }

// IsInhibited reports whether ongoing tag requirements currently suspend it.
func (e *Effect) IsInhibited() bool { return e.inhibited }

func (e *Effect) addInstigator(id actor.ID) {
	if id.IsValid() && !e.HasInstigator(id) {
		e.instigators = append(e.instigators, id)
	}
}

// modifierSource keys the i-th modifier of this instance on its attribute.
// One slot per modifier keeps two modifiers of one effect from colliding.
func (e *Effect) modifierSource(i int) attribute.Source {
	return attribute.Source(fmt.Sprintf("%s/%d", e.handle, i))
}
