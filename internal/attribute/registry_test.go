package attribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/abilitycore/internal/actor"
)

type staticClasses map[string][]Spec

func (c staticClasses) AttributeClass(name string) ([]Spec, bool) {
	s, ok := c[name]
	return s, ok
}

func newAuthorityRegistry(opts ...Option) (*Registry, *actor.Actor) {
	a := actor.New("hero", actor.RoleAuthority)
	return NewRegistry(a, opts...), a
}

func TestRegistry_Construct(t *testing.T) {
	r, _ := newAuthorityRegistry(WithClassResolver(staticClasses{
		"Caster": {
			{Type: "Mana", Value: 50, Range: &Range{Min: 0, MaxAttribute: "MaxMana"}},
			{Type: "MaxMana", Value: 80},
		},
	}))

	hp := r.Construct(Spec{Type: "Health", Value: 100})
	require.NotNil(t, hp)
	assert.Same(t, hp, r.Construct(Spec{Type: "Health", Value: 5}), "one attribute per type")

	r.ConstructType("Stamina")
	assert.True(t, r.ConstructClass("Caster"))
	assert.False(t, r.ConstructClass("Missing"))
	assert.Nil(t, r.Construct(Spec{}))

	assert.Equal(t, []Type{"Health", "Stamina", "Mana", "MaxMana"}, r.Types())

	v, ok := r.Value("Stamina")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestRegistry_RangeReferencesOtherAttribute(t *testing.T) {
	r, _ := newAuthorityRegistry()
	r.Construct(Spec{Type: "MaxMana", Value: 80})
	r.Construct(Spec{Type: "Mana", Value: 50, Range: &Range{Min: 0, MaxAttribute: "MaxMana"}})

	assert.True(t, r.CanApplyModifierInstant("Mana", OpPlus, 30))
	assert.False(t, r.CanApplyModifierInstant("Mana", OpPlus, 31))

	r.ApplyModifier("MaxMana", OpPlus, "gear", 20, 1)
	assert.True(t, r.CanApplyModifierInstant("Mana", OpPlus, 50), "bound follows the referenced current value")
	assert.False(t, r.CanApplyModifierInstant("Unknown", OpPlus, 1))
}

func TestRegistry_AuthorityGating(t *testing.T) {
	r, owner := newAuthorityRegistry()
	r.Construct(Spec{Type: "Health", Value: 100})
	owner.SetRole(actor.RoleAutonomousProxy)

	assert.False(t, r.InitializeAttribute("Health", 1))
	assert.False(t, r.ApplyModifier("Health", OpPlus, "buff", 10, 1))
	assert.False(t, r.ApplyModifierInstant("Health", OpMinus, 10))
	assert.False(t, r.RemoveModifier("Health", OpPlus, "buff"))
	assert.False(t, r.SetModifierActive("Health", OpPlus, "buff", false))

	v, _ := r.Value("Health")
	assert.Equal(t, 100.0, v)

	owner.SetRole(actor.RoleAuthority)
	assert.True(t, r.ApplyModifier("Health", OpPlus, "buff", 10, 1))
	v, _ = r.Value("Health")
	assert.Equal(t, 110.0, v)
}

func TestRegistry_PreconditionNoOps(t *testing.T) {
	r, _ := newAuthorityRegistry()
	r.Construct(Spec{Type: "Health", Value: 100})

	assert.False(t, r.ApplyModifier("Missing", OpPlus, "buff", 10, 1))
	assert.False(t, r.ApplyModifier("Health", OpPlus, "", 10, 1))
	assert.False(t, r.InitializeAttribute("Missing", 1))
}

func TestRegistry_HooksAndListeners(t *testing.T) {
	var events []ModifierEvent
	r, _ := newAuthorityRegistry(WithHooks(Hooks{
		PreModifierApplied:  func(ev ModifierEvent) { events = append(events, ev) },
		PostModifierApplied: func(ev ModifierEvent) { events = append(events, ev) },
	}))

	var changed []Type
	r.OnValueChanged(func(a *Attribute, _, _ float64) { changed = append(changed, a.Type()) })

	r.Construct(Spec{Type: "Health", Value: 100})
	r.ApplyModifier("Health", OpPlus, "buff", 10, 1)
	r.ApplyModifierInstant("Health", OpMinus, 5)
	r.RemoveModifier("Health", OpPlus, "buff")

	require.Len(t, events, 6)
	assert.True(t, events[2].Instant)
	assert.True(t, events[4].Removed)
	assert.Equal(t, []Type{"Health", "Health", "Health"}, changed, "listener attaches to attributes built later")

	v, _ := r.Value("Health")
	assert.Equal(t, 95.0, v)
}

func TestRegistry_ApplyReplicatedValue(t *testing.T) {
	r, owner := newAuthorityRegistry()
	r.Construct(Spec{Type: "Health", Value: 100})
	assert.False(t, r.ApplyReplicatedValue("Health", 10), "the authority owns its values")

	owner.SetRole(actor.RoleSimulatedProxy)
	assert.True(t, r.ApplyReplicatedValue("Health", 40))
	assert.True(t, r.ApplyReplicatedValue("Mana", 7))
	assert.False(t, r.ApplyReplicatedValue("", 1))

	v, _ := r.Value("Health")
	assert.Equal(t, 40.0, v)
	v, _ = r.Value("Mana")
	assert.Equal(t, 7.0, v)
}
