package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/timer"
)

func loadTestdata(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load("testdata/definitions.yaml")
	require.NoError(t, err)
	return c
}

func TestLoad_Definitions(t *testing.T) {
	c := loadTestdata(t)

	assert.Len(t, c.Effects(), 5)
	assert.Len(t, c.Abilities(), 2)
	assert.Equal(t, []string{"Warrior"}, c.Classes())
	require.Len(t, c.Actors(), 2)
	assert.Equal(t, []string{"Strike", "Cleave"}, c.Actors()[0].Abilities)

	bleed, ok := c.EffectSpec("Bleed")
	require.True(t, ok)
	assert.Equal(t, effect.DurationHasDuration, bleed.DurationPolicy)
	assert.Equal(t, 6*time.Second, bleed.Duration)
	assert.Equal(t, time.Second, bleed.Period)
	assert.Equal(t, effect.StackingHasLimit, bleed.Stacking.Policy)
	assert.Equal(t, 3, bleed.Stacking.Limit)
	assert.Equal(t, effect.ExpireRemoveSingleStack, bleed.Stacking.Expiration)
	assert.Equal(t, effect.InstigatorsShareOne, bleed.InstigatorPolicy)
	assert.True(t, bleed.Stacking.RefreshDurationOnStacking, "defaults to true")
	assert.True(t, bleed.Tags.Asset.HasTag("Effect.Debuff"))
	require.Len(t, bleed.Modifiers, 1)
	assert.Equal(t, effect.ModifierSpec{Attribute: "Health", Operator: attribute.OpMinus, Value: 4}, bleed.Modifiers[0])

	enrage, _ := c.EffectSpec("Enrage")
	assert.False(t, enrage.Stacking.RefreshDurationOnStacking)
	assert.True(t, enrage.Stacking.ResetPeriodOnStacking)

	cleave, ok := c.AbilitySpec("Cleave")
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, cleave.CooldownTime)
	assert.True(t, cleave.CooldownTags.HasTagExact("Cooldown.Cleave"))
	assert.True(t, cleave.CancelRequiredAbilities)

	specs, ok := c.AttributeClass("Warrior")
	require.True(t, ok)
	require.Len(t, specs, 4)
	require.NotNil(t, specs[1].Range)
	assert.Equal(t, attribute.Type("MaxHealth"), specs[1].Range.MaxAttribute)

	_, ok = c.EffectSpec("Missing")
	assert.False(t, ok)
}

func TestCatalog_ResolvesForSystem(t *testing.T) {
	c := loadTestdata(t)
	timers := timer.NewManager()
	s := system.New(actor.New("hero", actor.RoleAuthority), timers, system.WithCatalog(c))

	require.True(t, s.InitAttributes("Warrior"))
	require.True(t, s.Abilities().GrantByID("Strike"))

	// Strike costs 20 rage and the warrior starts at zero.
	assert.False(t, s.Abilities().CanActivate("Strike"))
	_, ok := s.ApplyEffect("hero", "Enrage", 2)
	require.True(t, ok)
	assert.True(t, s.Tags().HasTag("State.Enraged"))

	// Enrage adds a modifier; the cost range check runs on the base value.
	assert.False(t, s.Abilities().CanActivate("Strike"))
	require.True(t, s.Attributes().InitializeAttribute("Rage", 50))
	require.True(t, s.Abilities().TryActivate("Strike"))
	require.True(t, s.Abilities().Commit("Strike"))

	base, _ := s.Attributes().BaseValue("Rage")
	assert.Equal(t, 30.0, base)
	assert.True(t, s.Tags().HasTag("Cooldown.Strike"))

	timers.Advance(1500 * time.Millisecond)
	assert.False(t, s.Tags().HasTag("Cooldown.Strike"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "malformed yaml",
			yaml: "effects: [",
			want: "parsing definitions",
		},
		{
			name: "unknown operator",
			yaml: `
effects:
  - id: Bad
    modifiers: [{attribute: Health, operator: Pow, value: 1}]`,
			want: `unknown modifier operator "Pow"`,
		},
		{
			name: "unknown policy",
			yaml: `
effects:
  - id: Bad
    duration_policy: Forever`,
			want: `unknown duration policy "Forever"`,
		},
		{
			name: "bad duration",
			yaml: `
effects:
  - id: Bad
    duration_policy: HasDuration
    duration: soon`,
			want: "duration",
		},
		{
			name: "has duration without duration",
			yaml: `
effects:
  - id: Bad
    duration_policy: HasDuration`,
			want: "requires a positive duration",
		},
		{
			name: "invalid tag",
			yaml: `
abilities:
  - id: Bad
    activation_owned: [State..Casting]`,
			want: `invalid tag "State..Casting"`,
		},
		{
			name: "dangling cost effect",
			yaml: `
abilities:
  - id: Bolt
    cost_effect: Cost.Nowhere`,
			want: `unknown cost effect "Cost.Nowhere"`,
		},
		{
			name: "dangling overflow effect",
			yaml: `
effects:
  - id: Stack
    duration_policy: Infinite
    stacking: {policy: StackHasLimit, limit: 2, overflow_effects: [Boom]}`,
			want: `unknown overflow effect "Boom"`,
		},
		{
			name: "unknown actor class",
			yaml: `
actors:
  - id: hero
    class: Mage`,
			want: `unknown attribute set "Mage"`,
		},
		{
			name: "unbounded max attribute",
			yaml: `
attribute_sets:
  Rogue:
    - {type: Energy, value: 10, range: {min: 0, max_attribute: MaxEnergy}}`,
			want: "bounded by unknown attribute MaxEnergy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_DuplicateIDs(t *testing.T) {
	_, err := Parse([]byte(`
effects:
  - id: Burn
  - id: Burn
abilities:
  - id: Kick
  - id: Kick
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Contains(t, err.Error(), "effect Burn")
	assert.Contains(t, err.Error(), "ability Kick")
}

func TestCatalog_Programmatic(t *testing.T) {
	c := New()
	require.NoError(t, c.AddEffect(&effect.Spec{ID: "Shield", DurationPolicy: effect.DurationInfinite,
		Tags: effect.Tags{Granted: tag.NewContainer("State.Shielded")}}))
	assert.ErrorIs(t, c.AddEffect(&effect.Spec{ID: "Shield"}), ErrDuplicateID)
	assert.Error(t, c.AddEffect(&effect.Spec{}))

	require.NoError(t, c.AddClass("Golem", []attribute.Spec{{Type: "Health", Value: 500}}))
	assert.ErrorIs(t, c.AddClass("Golem", nil), ErrDuplicateID)

	c.AddActor(ActorDef{ID: "golem", Class: "Golem", Effects: []string{"Shield"}})
	assert.NoError(t, c.Validate())

	// Returned sets are copies.
	specs, _ := c.AttributeClass("Golem")
	specs[0].Value = 1
	again, _ := c.AttributeClass("Golem")
	assert.Equal(t, 500.0, again[0].Value)

	c.AddActor(ActorDef{ID: "golem"})
	assert.ErrorIs(t, c.Validate(), ErrDuplicateID)
}
