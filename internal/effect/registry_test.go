package effect

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/timer"
)

type specTable map[string]*Spec

func (t specTable) EffectSpec(id string) (*Spec, bool) {
	s, ok := t[id]
	return s, ok
}

type fixture struct {
	owner  *actor.Actor
	attrs  *attribute.Registry
	tags   *tag.Ledger
	timers *timer.Manager
	specs  specTable
	reg    *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		owner:  actor.New("hero", actor.RoleAuthority),
		tags:   tag.NewLedger(),
		timers: timer.NewManager(),
		specs:  specTable{},
	}
	f.attrs = attribute.NewRegistry(f.owner)
	f.attrs.Construct(attribute.Spec{Type: "Health", Value: 100})
	f.attrs.Construct(attribute.Spec{Type: "Armor", Value: 10})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithResolver(f.specs), WithLogger(logger)}, opts...)
	f.reg = NewRegistry(f.owner.ID(), f.owner, f.attrs, f.tags, f.timers, opts...)
	return f
}

func (f *fixture) value(t *testing.T, at attribute.Type) float64 {
	t.Helper()
	v, ok := f.attrs.Value(at)
	require.True(t, ok, "attribute %s", at)
	return v
}

func armorBuff(id string) *Spec {
	return &Spec{
		ID:             id,
		DurationPolicy: DurationHasDuration,
		Duration:       10 * time.Second,
		Modifiers:      []ModifierSpec{{Attribute: "Armor", Operator: attribute.OpPlus, Value: 5}},
		Stacking:       Stacking{RefreshDurationOnStacking: true, ResetPeriodOnStacking: true},
	}
}

func stackingBuff(limit int) *Spec {
	s := armorBuff("Fortify")
	s.Stacking = Stacking{
		Policy:                    StackingHasLimit,
		Limit:                     limit,
		Expiration:                ExpireRemoveSingleStack,
		RefreshDurationOnStacking: true,
	}
	return s
}

func TestApply_InstantLeavesNoModifier(t *testing.T) {
	f := newFixture(t)
	hit := &Spec{
		ID:        "Hit",
		Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 15}},
	}

	h, ok := f.reg.ApplyToSelf("orc", hit, 2)
	require.True(t, ok)
	assert.False(t, h.IsValid(), "instant effects have no instance")

	hp, _ := f.attrs.Get("Health")
	assert.Equal(t, 70.0, hp.CurrentValue())
	assert.Equal(t, 70.0, hp.RawBaseValue())
	assert.Equal(t, 0, hp.ModifierCount())
	assert.Empty(t, f.reg.Active())
}

func TestApply_DurationModifierLifetime(t *testing.T) {
	f := newFixture(t)
	h, ok := f.reg.ApplyToSelf("cleric", armorBuff("Shield"), 1)
	require.True(t, ok)
	require.True(t, h.IsValid())

	armor, _ := f.attrs.Get("Armor")
	assert.Equal(t, 15.0, armor.CurrentValue())
	assert.Equal(t, 1, armor.ModifierCount())
	assert.Equal(t, 10.0, armor.RawBaseValue(), "persistent modifiers never touch the base")

	f.timers.Advance(9 * time.Second)
	assert.Equal(t, 15.0, armor.CurrentValue())
	assert.Equal(t, time.Second, f.reg.Remaining(h))

	f.timers.Advance(time.Second)
	assert.Equal(t, 10.0, armor.CurrentValue())
	assert.Equal(t, 0, armor.ModifierCount())
	assert.Empty(t, f.reg.Active())
}

func TestApply_InfiniteNeverExpires(t *testing.T) {
	f := newFixture(t)
	aura := armorBuff("Aura")
	aura.DurationPolicy = DurationInfinite

	h, ok := f.reg.ApplyToSelf("", aura, 1)
	require.True(t, ok)
	f.timers.Advance(time.Hour)

	assert.Equal(t, 15.0, f.value(t, "Armor"))
	d, ok := f.reg.RemainingDuration("Aura")
	assert.True(t, ok)
	assert.Equal(t, InfiniteDuration, d)

	require.True(t, f.reg.RemoveByHandle(h, RemoveAll))
	assert.Equal(t, 10.0, f.value(t, "Armor"))
}

func TestRemove_Idempotent(t *testing.T) {
	f := newFixture(t)
	removed := 0
	f.reg.OnRemoved(func(*Effect) { removed++ })

	h, _ := f.reg.ApplyToSelf("cleric", armorBuff("Shield"), 1)
	e, ok := f.reg.ActiveByHandle(h)
	require.True(t, ok)

	assert.True(t, f.reg.RemoveByHandle(h, RemoveAll))
	assert.False(t, f.reg.RemoveByHandle(h, RemoveAll))
	assert.False(t, f.reg.remove(e))

	assert.Equal(t, 1, removed)
	assert.Equal(t, StateRemoved, e.State())
	assert.Equal(t, 0, e.StackCount())
	assert.Equal(t, 10.0, f.value(t, "Armor"))
}

func TestStacking_ClampAtLimit(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(3)

	h, ok := f.reg.ApplyToSelf("cleric", spec, 2)
	require.True(t, ok)
	h2, ok := f.reg.ApplyToSelf("cleric", spec, 2)
	require.True(t, ok)
	assert.Equal(t, h, h2, "same instigator stacks on the same instance")

	assert.Equal(t, 3, f.reg.StackCount("Fortify"))
	assert.Equal(t, 25.0, f.value(t, "Armor"), "modifier scales with stacks")
}

func TestStacking_DenyOnOverflow(t *testing.T) {
	f := newFixture(t)
	stackEvents := 0
	f.specs["Overflow"] = &Spec{
		ID:        "Overflow",
		Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpPlus, Value: 1}},
	}
	f.reg.OnStackChanged(func(*Effect, int, int) { stackEvents++ })

	spec := stackingBuff(3)
	spec.Stacking.DenyOnOverflow = true
	spec.Stacking.OverflowEffects = []string{"Overflow"}

	f.reg.ApplyToSelf("cleric", spec, 2)
	f.reg.ApplyToSelf("cleric", spec, 2)
	require.Equal(t, 3, f.reg.StackCount("Fortify"))
	assert.Equal(t, 101.0, f.value(t, "Health"), "reaching the limit fires overflow once")

	f.timers.Advance(4 * time.Second)
	before := stackEvents
	_, ok := f.reg.ApplyToSelf("cleric", spec, 1)
	assert.False(t, ok, "apply at full stack is rejected")
	assert.Equal(t, 3, f.reg.StackCount("Fortify"))
	assert.Equal(t, 101.0, f.value(t, "Health"), "no further overflow side effects")
	assert.Equal(t, before, stackEvents)

	d, _ := f.reg.RemainingDuration("Fortify")
	assert.Equal(t, 6*time.Second, d, "denied application does not refresh")
}

func TestStacking_ClearOnOverflow(t *testing.T) {
	f := newFixture(t)
	f.specs["Explode"] = &Spec{
		ID:        "Explode",
		Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 50}},
	}
	spec := stackingBuff(3)
	spec.ID = "Charge"
	spec.Stacking.ClearOnOverflow = true
	spec.Stacking.OverflowEffects = []string{"Explode"}

	f.reg.ApplyToSelf("mage", spec, 1)
	f.reg.ApplyToSelf("mage", spec, 1)
	assert.Equal(t, 2, f.reg.StackCount("Charge"))

	f.reg.ApplyToSelf("mage", spec, 1)
	assert.Equal(t, 50.0, f.value(t, "Health"))
	assert.Empty(t, f.reg.ActiveByType("Charge"), "effect cleared after overflow")
	assert.Equal(t, 10.0, f.value(t, "Armor"))
}

func TestStacking_NoLimit(t *testing.T) {
	f := newFixture(t)
	spec := armorBuff("Rage")
	spec.Stacking.Policy = StackingNoLimit

	for range 5 {
		f.reg.ApplyToSelf("self", spec, 2)
	}
	assert.Equal(t, 10, f.reg.StackCount("Rage"))
	assert.Equal(t, 60.0, f.value(t, "Armor"))
}

func TestExpiration_Policies(t *testing.T) {
	tests := []struct {
		name       string
		policy     StackExpirationPolicy
		after      time.Duration
		wantStacks int
	}{
		{name: "clear entire stack", policy: ExpireClearEntireStack, after: 10 * time.Second, wantStacks: 0},
		{name: "remove single stack", policy: ExpireRemoveSingleStack, after: 10 * time.Second, wantStacks: 2},
		{name: "remove single stack twice", policy: ExpireRemoveSingleStack, after: 20 * time.Second, wantStacks: 1},
		{name: "remove single stack drains", policy: ExpireRemoveSingleStack, after: 30 * time.Second, wantStacks: 0},
		{name: "refresh duration", policy: ExpireRefreshDuration, after: time.Minute, wantStacks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			spec := stackingBuff(5)
			spec.Stacking.Expiration = tt.policy

			f.reg.ApplyToSelf("cleric", spec, 3)
			f.timers.Advance(tt.after)

			assert.Equal(t, tt.wantStacks, f.reg.StackCount("Fortify"))
			assert.Equal(t, 10.0+5*float64(tt.wantStacks), f.value(t, "Armor"))
		})
	}
}

func TestRefresh_OnStacking(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(5)

	f.reg.ApplyToSelf("cleric", spec, 1)
	f.timers.Advance(8 * time.Second)
	f.reg.ApplyToSelf("cleric", spec, 1)

	d, _ := f.reg.RemainingDuration("Fortify")
	assert.Equal(t, 10*time.Second, d)

	spec.Stacking.RefreshDurationOnStacking = false
	f.timers.Advance(2 * time.Second)
	f.reg.ApplyToSelf("cleric", spec, 1)
	d, _ = f.reg.RemainingDuration("Fortify")
	assert.Equal(t, 8*time.Second, d)
}

func TestRefresh_SkippedForClearEntireStack(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(5)
	spec.Stacking.Expiration = ExpireClearEntireStack

	f.reg.ApplyToSelf("cleric", spec, 1)
	f.timers.Advance(8 * time.Second)
	f.reg.ApplyToSelf("cleric", spec, 1)

	d, _ := f.reg.RemainingDuration("Fortify")
	assert.Equal(t, 2*time.Second, d)
}

func TestPeriodic_OneDosePerTick(t *testing.T) {
	f := newFixture(t)
	poison := &Spec{
		ID:             "Poison",
		DurationPolicy: DurationHasDuration,
		Duration:       5 * time.Second,
		Period:         time.Second,
		Stacking:       Stacking{Policy: StackingNoLimit, Expiration: ExpireClearEntireStack},
		Modifiers:      []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 4}},
	}

	f.reg.ApplyToSelf("rogue", poison, 3)
	assert.Equal(t, 96.0, f.value(t, "Health"), "executes once on application")

	f.timers.Advance(3 * time.Second)
	assert.Equal(t, 84.0, f.value(t, "Health"), "stacks do not multiply a tick")

	f.timers.Advance(10 * time.Second)
	hp, _ := f.attrs.Get("Health")
	assert.Equal(t, 0, hp.ModifierCount())
	assert.Empty(t, f.reg.Active())
	assert.Equal(t, 0, f.timers.Len(), "timers are cleared on removal")
}

func TestPeriodic_ResetOnStacking(t *testing.T) {
	f := newFixture(t)
	regen := &Spec{
		ID:             "Regen",
		DurationPolicy: DurationInfinite,
		Period:         2 * time.Second,
		Stacking:       Stacking{ResetPeriodOnStacking: true},
		Modifiers:      []ModifierSpec{{Attribute: "Health", Operator: attribute.OpPlus, Value: 1}},
	}

	f.reg.ApplyToSelf("druid", regen, 1)
	f.timers.Advance(1500 * time.Millisecond)
	f.reg.ApplyToSelf("druid", regen, 1)
	f.timers.Advance(time.Second)
	assert.Equal(t, 101.0, f.value(t, "Health"), "period restarted by re-application")

	f.timers.Advance(time.Second)
	assert.Equal(t, 102.0, f.value(t, "Health"))
}

func TestInstigatorPolicies(t *testing.T) {
	tests := []struct {
		name          string
		policy        InstigatorPolicy
		wantInstances int
		wantStacks    int
	}{
		{name: "their own only", policy: InstigatorsApplyTheirOwnOnly, wantInstances: 2, wantStacks: 3},
		{name: "share one", policy: InstigatorsShareOne, wantInstances: 1, wantStacks: 3},
		{name: "their own multi", policy: InstigatorsApplyTheirOwnMulti, wantInstances: 3, wantStacks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			spec := stackingBuff(10)
			spec.InstigatorPolicy = tt.policy

			f.reg.ApplyToSelf("a", spec, 1)
			f.reg.ApplyToSelf("b", spec, 1)
			f.reg.ApplyToSelf("a", spec, 1)

			instances := f.reg.ActiveByType("Fortify")
			assert.Len(t, instances, tt.wantInstances)
			assert.Equal(t, tt.wantStacks, f.reg.StackCount("Fortify"))
			if tt.policy == InstigatorsShareOne {
				assert.Equal(t, []actor.ID{"a", "b"}, instances[0].Instigators())
			}
		})
	}
}

func TestInstigatorPolicies_ShareOneDeniedAddKeepsInstigators(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(2)
	spec.InstigatorPolicy = InstigatorsShareOne
	spec.Stacking.DenyOnOverflow = true

	h, ok := f.reg.ApplyToSelf("a", spec, 2)
	require.True(t, ok)

	_, ok = f.reg.ApplyToSelf("b", spec, 1)
	assert.False(t, ok)

	e, _ := f.reg.ActiveByHandle(h)
	assert.Equal(t, []actor.ID{"a"}, e.Instigators())
	assert.Equal(t, 2, e.StackCount())
}

func TestBlocking_ApplicationTags(t *testing.T) {
	f := newFixture(t)
	spec := armorBuff("Bless")
	spec.Tags.ApplicationRequired = tag.NewContainer("State.Alive")
	spec.Tags.ApplicationBlocked = tag.NewContainer("State.Cursed")

	_, ok := f.reg.ApplyToSelf("cleric", spec, 1)
	assert.False(t, ok, "required tag missing")

	f.tags.AddTag("State.Alive", 1)
	f.tags.AddTag("State.Cursed.Minor", 1)
	_, ok = f.reg.ApplyToSelf("cleric", spec, 1)
	assert.False(t, ok, "blocked tag present through hierarchy")

	f.tags.RemoveTag("State.Cursed.Minor", 1)
	_, ok = f.reg.ApplyToSelf("cleric", spec, 1)
	assert.True(t, ok)
	assert.Equal(t, 15.0, f.value(t, "Armor"))
}

func TestBlocking_BlockEffectsWithTags(t *testing.T) {
	f := newFixture(t)
	immunity := armorBuff("FireImmunity")
	immunity.Tags.BlockEffects = tag.NewContainer("Damage.Fire")
	burn := &Spec{
		ID:        "Burn",
		Tags:      Tags{Asset: tag.NewContainer("Damage.Fire.Burn")},
		Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 10}},
	}

	h, _ := f.reg.ApplyToSelf("", immunity, 1)
	assert.True(t, f.reg.IsBlocked(burn))
	_, ok := f.reg.ApplyToSelf("mage", burn, 1)
	assert.False(t, ok)
	assert.Equal(t, 100.0, f.value(t, "Health"))

	f.reg.RemoveByHandle(h, RemoveAll)
	_, ok = f.reg.ApplyToSelf("mage", burn, 1)
	assert.True(t, ok)
	assert.Equal(t, 90.0, f.value(t, "Health"))
}

func TestRemoveEffectsWithTags(t *testing.T) {
	f := newFixture(t)
	slow := armorBuff("Slow")
	slow.Tags.Asset = tag.NewContainer("Debuff.Slow")
	cleanse := &Spec{ID: "Cleanse", Tags: Tags{RemoveEffects: tag.NewContainer("Debuff")}}

	f.reg.ApplyToSelf("ice", slow, 1)
	require.Len(t, f.reg.ActiveByTags(tag.NewContainer("Debuff")), 1)

	f.reg.ApplyToSelf("cleric", cleanse, 1)
	assert.Empty(t, f.reg.Active())
	assert.Equal(t, 10.0, f.value(t, "Armor"))
}

func TestGrantedTags_ReferenceCounted(t *testing.T) {
	f := newFixture(t)
	spec := armorBuff("Stun")
	spec.InstigatorPolicy = InstigatorsApplyTheirOwnMulti
	spec.Tags.Granted = tag.NewContainer("State.Stunned")

	h1, _ := f.reg.ApplyToSelf("a", spec, 1)
	h2, _ := f.reg.ApplyToSelf("b", spec, 1)
	assert.Equal(t, 2, f.tags.Count("State.Stunned"))

	f.reg.RemoveByHandle(h1, RemoveAll)
	assert.True(t, f.tags.HasTag("State.Stunned"))
	f.reg.RemoveByHandle(h2, RemoveAll)
	assert.False(t, f.tags.HasTag("State.Stunned"))
}

func TestOngoingRequirements_Inhibit(t *testing.T) {
	f := newFixture(t)
	spec := armorBuff("Stance")
	spec.DurationPolicy = DurationInfinite
	spec.Tags.Granted = tag.NewContainer("Stance.Defensive")
	spec.Tags.OngoingBlocked = tag.NewContainer("State.Silenced")

	h, _ := f.reg.ApplyToSelf("self", spec, 1)
	assert.Equal(t, 15.0, f.value(t, "Armor"))

	f.tags.AddTag("State.Silenced", 1)
	e, _ := f.reg.ActiveByHandle(h)
	assert.True(t, e.IsInhibited())
	assert.Equal(t, 10.0, f.value(t, "Armor"))
	assert.False(t, f.tags.HasTag("Stance.Defensive"))

	f.tags.RemoveTag("State.Silenced", 1)
	assert.False(t, e.IsInhibited())
	assert.Equal(t, 15.0, f.value(t, "Armor"))
	assert.True(t, f.tags.HasTag("Stance.Defensive"))

	f.tags.AddTag("State.Silenced", 1)
	f.reg.RemoveByHandle(h, RemoveAll)
	f.tags.RemoveTag("State.Silenced", 1)
	assert.False(t, f.tags.HasTag("Stance.Defensive"), "removed while inhibited leaves no tags behind")
	assert.Equal(t, 10.0, f.value(t, "Armor"))
}

func TestRemoveByStacks(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(5)
	spec.Tags.Asset = tag.NewContainer("Buff.Armor")

	f.reg.ApplyToSelf("a", spec, 4)
	assert.Equal(t, 1, f.reg.RemoveByType("Fortify", 1))
	assert.Equal(t, 3, f.reg.StackCount("Fortify"))

	assert.Equal(t, 1, f.reg.RemoveByTags(tag.NewContainer("Buff"), 2))
	assert.Equal(t, 1, f.reg.StackCount("Fortify"))

	assert.Equal(t, 1, f.reg.RemoveByTagPattern(tag.MustCompilePattern("Buff.*"), RemoveAll))
	assert.Empty(t, f.reg.Active())
	assert.Equal(t, 0, f.reg.RemoveByType("Fortify", RemoveAll))
}

func TestAuthorityGating(t *testing.T) {
	f := newFixture(t)
	h, _ := f.reg.ApplyToSelf("a", armorBuff("Shield"), 1)
	f.owner.SetRole(actor.RoleSimulatedProxy)

	_, ok := f.reg.ApplyToSelf("a", armorBuff("Other"), 1)
	assert.False(t, ok)
	assert.False(t, f.reg.RemoveByHandle(h, RemoveAll))
	assert.Equal(t, 0, f.reg.RemoveByType("Shield", RemoveAll))
	assert.Len(t, f.reg.Active(), 1)
	assert.Equal(t, 15.0, f.value(t, "Armor"))
}

type targets map[actor.ID]*Registry

func (m targets) EffectRegistry(id actor.ID) (*Registry, bool) {
	r, ok := m[id]
	return r, ok
}

func TestApplyToTarget_UsesTargetRegistry(t *testing.T) {
	world := targets{}
	src := newFixture(t, WithTargets(world))
	dst := newFixture(t)
	world["orc"] = dst.reg

	hit := &Spec{ID: "Hit", Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 30}}}
	_, ok := src.reg.ApplyToTarget("hero", "orc", hit, 1)
	require.True(t, ok)

	assert.Equal(t, 100.0, src.value(t, "Health"))
	assert.Equal(t, 70.0, dst.value(t, "Health"))

	_, ok = src.reg.ApplyToTarget("hero", "ghost", hit, 1)
	assert.False(t, ok)
}

func TestCalculator_Overrides(t *testing.T) {
	f := newFixture(t, WithCalculator(func(ctx MagnitudeContext) float64 {
		if ctx.Instigator == "giant" {
			return ctx.Modifier.Value * 2
		}
		return ctx.Modifier.Value
	}))
	hit := &Spec{ID: "Hit", Modifiers: []ModifierSpec{{Attribute: "Health", Operator: attribute.OpMinus, Value: 10}}}

	f.reg.ApplyToSelf("giant", hit, 1)
	f.reg.ApplyToSelf("goblin", hit, 1)
	assert.Equal(t, 70.0, f.value(t, "Health"))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	spec := stackingBuff(5)

	h, ok := f.reg.Restore(spec, []actor.ID{"a", "b"}, 4, 3*time.Second)
	require.True(t, ok)
	e, _ := f.reg.ActiveByHandle(h)
	assert.Equal(t, 4, e.StackCount())
	assert.Equal(t, []actor.ID{"a", "b"}, e.Instigators())
	assert.Equal(t, 3*time.Second, f.reg.Remaining(h))
	assert.Equal(t, 30.0, f.value(t, "Armor"))
}

func TestSpec_Validate(t *testing.T) {
	assert.NoError(t, armorBuff("ok").Validate())
	assert.Error(t, (&Spec{}).Validate())
	assert.Error(t, (&Spec{ID: "x", DurationPolicy: DurationHasDuration}).Validate())
	assert.Error(t, (&Spec{ID: "x", Stacking: Stacking{Policy: StackingHasLimit}}).Validate())
	assert.Error(t, (&Spec{ID: "x", Period: time.Second}).Validate())
	assert.Error(t, (&Spec{ID: "x", Modifiers: []ModifierSpec{{Operator: attribute.OpPlus}}}).Validate())
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseDurationPolicy("HasDuration")
	require.NoError(t, err)
	assert.Equal(t, DurationHasDuration, p)

	s, err := ParseStackingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, StackingNone, s)

	e, err := ParseStackExpirationPolicy("RemoveSingleStackAndRefreshDuration")
	require.NoError(t, err)
	assert.Equal(t, ExpireRemoveSingleStack, e)

	_, err = ParseInstigatorPolicy("Nope")
	assert.Error(t, err)
	assert.Equal(t, "InstigatorsShareOne", InstigatorsShareOne.String())
}
