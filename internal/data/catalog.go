// Package data loads effect, ability and attribute set definitions and
// resolves them by identifier.
package data

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
)

// ErrDuplicateID is returned when two definitions of one kind share an id.
var ErrDuplicateID = errors.New("duplicate definition id")

// Catalog holds immutable definitions. It implements effect.Resolver,
// ability.Resolver and attribute.ClassResolver. A loaded catalog is read-only
// and may be shared between goroutines.
type Catalog struct {
	effects     map[string]*effect.Spec
	effectOrder []string

	abilities    map[string]*ability.Spec
	abilityOrder []string

	classes    map[string][]attribute.Spec
	classOrder []string

	actors []ActorDef
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		effects:   make(map[string]*effect.Spec),
		abilities: make(map[string]*ability.Spec),
		classes:   make(map[string][]attribute.Spec),
	}
}

// Load reads and parses a definitions file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("loading definitions %s: %w", path, err)
	}
	slog.Info("loaded definitions",
		"path", path,
		"effects", len(c.effects),
		"abilities", len(c.abilities),
		"classes", len(c.classes),
		"actors", len(c.actors))
	return c, nil
}

// Parse builds a validated catalog from YAML. All definition errors are
// reported together.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing definitions: %w", err)
	}

	c := New()
	var errs []error

	// Map iteration order is random; sort so errors and Classes() are stable.
	names := make([]string, 0, len(doc.AttributeSets))
	for name := range doc.AttributeSets {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		specs := make([]attribute.Spec, 0, len(doc.AttributeSets[name]))
		for _, def := range doc.AttributeSets[name] {
			s, err := def.spec()
			if err != nil {
				errs = append(errs, fmt.Errorf("attribute set %s: %w", name, err))
				continue
			}
			specs = append(specs, s)
		}
		if err := c.AddClass(name, specs); err != nil {
			errs = append(errs, err)
		}
	}

	for i, def := range doc.Effects {
		s, err := def.spec()
		if err != nil {
			errs = append(errs, fmt.Errorf("effect #%d %q: %w", i, def.ID, err))
			continue
		}
		if err := c.AddEffect(s); err != nil {
			errs = append(errs, err)
		}
	}

	for i, def := range doc.Abilities {
		s, err := def.spec()
		if err != nil {
			errs = append(errs, fmt.Errorf("ability #%d %q: %w", i, def.ID, err))
			continue
		}
		if err := c.AddAbility(s); err != nil {
			errs = append(errs, err)
		}
	}

	c.actors = doc.Actors

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// AddEffect registers s. s must not be mutated afterwards.
func (c *Catalog) AddEffect(s *effect.Spec) error {
	if s == nil || s.ID == "" {
		return errors.New("effect without id")
	}
	if _, ok := c.effects[s.ID]; ok {
		return fmt.Errorf("effect %s: %w", s.ID, ErrDuplicateID)
	}
	c.effects[s.ID] = s
	c.effectOrder = append(c.effectOrder, s.ID)
	return nil
}

// AddAbility registers s. s must not be mutated afterwards.
func (c *Catalog) AddAbility(s *ability.Spec) error {
	if s == nil || s.ID == "" {
		return errors.New("ability without id")
	}
	if _, ok := c.abilities[s.ID]; ok {
		return fmt.Errorf("ability %s: %w", s.ID, ErrDuplicateID)
	}
	c.abilities[s.ID] = s
	c.abilityOrder = append(c.abilityOrder, s.ID)
	return nil
}

// AddClass registers a named attribute set.
func (c *Catalog) AddClass(name string, specs []attribute.Spec) error {
	if name == "" {
		return errors.New("attribute set without name")
	}
	if _, ok := c.classes[name]; ok {
		return fmt.Errorf("attribute set %s: %w", name, ErrDuplicateID)
	}
	c.classes[name] = slices.Clone(specs)
	c.classOrder = append(c.classOrder, name)
	return nil
}

// AddActor appends an actor definition.
func (c *Catalog) AddActor(a ActorDef) { c.actors = append(c.actors, a) }

// EffectSpec implements effect.Resolver.
func (c *Catalog) EffectSpec(id string) (*effect.Spec, bool) {
	s, ok := c.effects[id]
	return s, ok
}

// AbilitySpec implements ability.Resolver.
func (c *Catalog) AbilitySpec(id string) (*ability.Spec, bool) {
	s, ok := c.abilities[id]
	return s, ok
}

// AttributeClass implements attribute.ClassResolver.
func (c *Catalog) AttributeClass(name string) ([]attribute.Spec, bool) {
	specs, ok := c.classes[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(specs), true
}

// Effects returns the effect definitions in load order.
func (c *Catalog) Effects() []*effect.Spec {
	out := make([]*effect.Spec, 0, len(c.effectOrder))
	for _, id := range c.effectOrder {
		out = append(out, c.effects[id])
	}
	return out
}

// Abilities returns the ability definitions in load order.
func (c *Catalog) Abilities() []*ability.Spec {
	out := make([]*ability.Spec, 0, len(c.abilityOrder))
	for _, id := range c.abilityOrder {
		out = append(out, c.abilities[id])
	}
	return out
}

// Classes returns the attribute set names.
func (c *Catalog) Classes() []string { return slices.Clone(c.classOrder) }

// Actors returns the startup actor definitions.
func (c *Catalog) Actors() []ActorDef { return slices.Clone(c.actors) }

// Validate checks cross references between definitions.
func (c *Catalog) Validate() error {
	var errs []error

	for _, id := range c.effectOrder {
		s := c.effects[id]
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		for _, of := range s.Stacking.OverflowEffects {
			if _, ok := c.effects[of]; !ok {
				errs = append(errs, fmt.Errorf("effect %s: unknown overflow effect %q", id, of))
			}
		}
	}

	for _, id := range c.abilityOrder {
		s := c.abilities[id]
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		if s.CostEffect != "" {
			if _, ok := c.effects[s.CostEffect]; !ok {
				errs = append(errs, fmt.Errorf("ability %s: unknown cost effect %q", id, s.CostEffect))
			}
		}
		if s.CooldownEffect != "" {
			if _, ok := c.effects[s.CooldownEffect]; !ok {
				errs = append(errs, fmt.Errorf("ability %s: unknown cooldown effect %q", id, s.CooldownEffect))
			}
		}
		for _, req := range s.RequiredActivatingAbilities {
			if _, ok := c.abilities[req]; !ok {
				errs = append(errs, fmt.Errorf("ability %s: unknown required ability %q", id, req))
			}
		}
	}

	for _, name := range c.classOrder {
		seen := make(map[attribute.Type]bool)
		for _, s := range c.classes[name] {
			if seen[s.Type] {
				errs = append(errs, fmt.Errorf("attribute set %s: attribute %s: %w", name, s.Type, ErrDuplicateID))
			}
			seen[s.Type] = true
		}
		for _, s := range c.classes[name] {
			if s.Range != nil && s.Range.MaxAttribute != "" && !seen[s.Range.MaxAttribute] {
				errs = append(errs, fmt.Errorf("attribute set %s: %s bounded by unknown attribute %s",
					name, s.Type, s.Range.MaxAttribute))
			}
		}
	}

	ids := make(map[string]bool, len(c.actors))
	for i, a := range c.actors {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("actor #%d without id", i))
			continue
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("actor %s: %w", a.ID, ErrDuplicateID))
		}
		ids[a.ID] = true
		if _, ok := c.classes[a.Class]; a.Class != "" && !ok {
			errs = append(errs, fmt.Errorf("actor %s: unknown attribute set %q", a.ID, a.Class))
		}
		for _, ab := range a.Abilities {
			if _, ok := c.abilities[ab]; !ok {
				errs = append(errs, fmt.Errorf("actor %s: unknown ability %q", a.ID, ab))
			}
		}
		for _, e := range a.Effects {
			if _, ok := c.effects[e]; !ok {
				errs = append(errs, fmt.Errorf("actor %s: unknown effect %q", a.ID, e))
			}
		}
	}

	return errors.Join(errs...)
}
