package data

import (
	"errors"
	"fmt"
	"time"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/tag"
)

// document is the YAML layout of a definitions file.
type document struct {
	AttributeSets map[string][]attributeDef `yaml:"attribute_sets"`
	Effects       []effectDef               `yaml:"effects"`
	Abilities     []abilityDef              `yaml:"abilities"`
	Actors        []ActorDef                `yaml:"actors"`
}

type attributeDef struct {
	Type  string    `yaml:"type"`
	Value float64   `yaml:"value"`
	Range *rangeDef `yaml:"range"`
}

type rangeDef struct {
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	MaxAttribute string  `yaml:"max_attribute"`
}

type modifierDef struct {
	Attribute string  `yaml:"attribute"`
	Operator  string  `yaml:"operator"`
	Value     float64 `yaml:"value"`
}

type stackingDef struct {
	Policy          string   `yaml:"policy"`
	Limit           int      `yaml:"limit"`
	DenyOnOverflow  bool     `yaml:"deny_on_overflow"`
	ClearOnOverflow bool     `yaml:"clear_on_overflow"`
	OverflowEffects []string `yaml:"overflow_effects"`
	Expiration      string   `yaml:"expiration"`

	// nil → true
	RefreshDurationOnStacking *bool `yaml:"refresh_duration_on_stacking"`
	ResetPeriodOnStacking     *bool `yaml:"reset_period_on_stacking"`
}

type effectTagsDef struct {
	Asset               []string `yaml:"asset"`
	Granted             []string `yaml:"granted"`
	ApplicationRequired []string `yaml:"application_required"`
	ApplicationBlocked  []string `yaml:"application_blocked"`
	OngoingRequired     []string `yaml:"ongoing_required"`
	OngoingBlocked      []string `yaml:"ongoing_blocked"`
	BlockEffects        []string `yaml:"block_effects"`
	RemoveEffects       []string `yaml:"remove_effects"`
}

type effectDef struct {
	ID               string        `yaml:"id"`
	DurationPolicy   string        `yaml:"duration_policy"`
	Duration         string        `yaml:"duration"`
	Period           string        `yaml:"period"`
	Stacking         stackingDef   `yaml:"stacking"`
	InstigatorPolicy string        `yaml:"instigator_policy"`
	Modifiers        []modifierDef `yaml:"modifiers"`
	Tags             effectTagsDef `yaml:"tags"`
}

type abilityDef struct {
	ID                          string   `yaml:"id"`
	AssetTags                   []string `yaml:"asset_tags"`
	ActivationRequired          []string `yaml:"activation_required"`
	ActivationBlocked           []string `yaml:"activation_blocked"`
	ActivationOwned             []string `yaml:"activation_owned"`
	BlockAbilitiesWithTag       []string `yaml:"block_abilities_with_tag"`
	CancelAbilitiesWithTag      []string `yaml:"cancel_abilities_with_tag"`
	CostEffect                  string   `yaml:"cost_effect"`
	CooldownEffect              string   `yaml:"cooldown_effect"`
	CooldownTime                string   `yaml:"cooldown_time"`
	CooldownTags                []string `yaml:"cooldown_tags"`
	RequiredActivatingAbilities []string `yaml:"required_activating_abilities"`
	CancelRequiredAbilities     bool     `yaml:"cancel_required_abilities"`
}

// ActorDef describes an actor the server spawns at startup.
type ActorDef struct {
	ID        string   `yaml:"id"`
	Class     string   `yaml:"class"`
	Abilities []string `yaml:"abilities"`
	Effects   []string `yaml:"effects"`
}

func (d attributeDef) spec() (attribute.Spec, error) {
	if d.Type == "" {
		return attribute.Spec{}, errors.New("attribute without type")
	}
	s := attribute.Spec{Type: attribute.Type(d.Type), Value: d.Value}
	if d.Range != nil {
		if d.Range.Min > d.Range.Max && d.Range.MaxAttribute == "" {
			return s, fmt.Errorf("attribute %s: range min %v above max %v", d.Type, d.Range.Min, d.Range.Max)
		}
		s.Range = &attribute.Range{
			Min:          d.Range.Min,
			Max:          d.Range.Max,
			MaxAttribute: attribute.Type(d.Range.MaxAttribute),
		}
	}
	return s, nil
}

func (d effectDef) spec() (*effect.Spec, error) {
	s := &effect.Spec{ID: d.ID}
	var err error
	if s.DurationPolicy, err = effect.ParseDurationPolicy(d.DurationPolicy); err != nil {
		return nil, err
	}
	if s.Duration, err = parseDuration("duration", d.Duration); err != nil {
		return nil, err
	}
	if s.Period, err = parseDuration("period", d.Period); err != nil {
		return nil, err
	}
	if s.InstigatorPolicy, err = effect.ParseInstigatorPolicy(d.InstigatorPolicy); err != nil {
		return nil, err
	}

	st := d.Stacking
	s.Stacking = effect.Stacking{
		Limit:                     st.Limit,
		DenyOnOverflow:            st.DenyOnOverflow,
		ClearOnOverflow:           st.ClearOnOverflow,
		OverflowEffects:           st.OverflowEffects,
		RefreshDurationOnStacking: boolOr(st.RefreshDurationOnStacking, true),
		ResetPeriodOnStacking:     boolOr(st.ResetPeriodOnStacking, true),
	}
	if s.Stacking.Policy, err = effect.ParseStackingPolicy(st.Policy); err != nil {
		return nil, err
	}
	if s.Stacking.Expiration, err = effect.ParseStackExpirationPolicy(st.Expiration); err != nil {
		return nil, err
	}

	for _, m := range d.Modifiers {
		op, err := attribute.ParseOperator(m.Operator)
		if err != nil {
			return nil, err
		}
		s.Modifiers = append(s.Modifiers, effect.ModifierSpec{
			Attribute: attribute.Type(m.Attribute),
			Operator:  op,
			Value:     m.Value,
		})
	}

	var ts tagSets
	t := d.Tags
	s.Tags = effect.Tags{
		Asset:               ts.of(t.Asset),
		Granted:             ts.of(t.Granted),
		ApplicationRequired: ts.of(t.ApplicationRequired),
		ApplicationBlocked:  ts.of(t.ApplicationBlocked),
		OngoingRequired:     ts.of(t.OngoingRequired),
		OngoingBlocked:      ts.of(t.OngoingBlocked),
		BlockEffects:        ts.of(t.BlockEffects),
		RemoveEffects:       ts.of(t.RemoveEffects),
	}
	if err := ts.err(); err != nil {
		return nil, err
	}
	return s, s.Validate()
}

func (d abilityDef) spec() (*ability.Spec, error) {
	cooldown, err := parseDuration("cooldown_time", d.CooldownTime)
	if err != nil {
		return nil, err
	}
	var ts tagSets
	s := &ability.Spec{
		ID:                          d.ID,
		AssetTags:                   ts.of(d.AssetTags),
		ActivationRequired:          ts.of(d.ActivationRequired),
		ActivationBlocked:           ts.of(d.ActivationBlocked),
		ActivationOwned:             ts.of(d.ActivationOwned),
		BlockAbilitiesWithTag:       ts.of(d.BlockAbilitiesWithTag),
		CancelAbilitiesWithTag:      ts.of(d.CancelAbilitiesWithTag),
		CostEffect:                  d.CostEffect,
		CooldownEffect:              d.CooldownEffect,
		CooldownTime:                cooldown,
		CooldownTags:                ts.of(d.CooldownTags),
		RequiredActivatingAbilities: d.RequiredActivatingAbilities,
		CancelRequiredAbilities:     d.CancelRequiredAbilities,
	}
	if err := ts.err(); err != nil {
		return nil, err
	}
	return s, s.Validate()
}

// parseDuration accepts Go duration strings; "" is zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", field, s)
	}
	return d, nil
}

// tagSets builds containers and remembers every malformed tag name.
type tagSets struct {
	errs []error
}

func (p *tagSets) of(names []string) tag.Container {
	var c tag.Container
	for _, n := range names {
		t := tag.Tag(n)
		if !t.IsValid() {
			p.errs = append(p.errs, fmt.Errorf("invalid tag %q", n))
			continue
		}
		c.Add(t)
	}
	return c
}

func (p *tagSets) err() error { return errors.Join(p.errs...) }

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
