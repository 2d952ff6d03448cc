// Package attribute implements numeric gameplay attributes with layered
// modifiers and the per-actor attribute registry.
//
// An attribute's current value is a pure function of its base value and six
// modifier lists, evaluated in this order:
//
//  1. the newest OuterOverride, if any, wins outright;
//  2. otherwise base is the newest InnerOverride, or the raw base value;
//  3. (base + ΣPlus − ΣMinus) × (1 + ΣMultiply) / ΣDivide,
//
// where each Σ sums value × stack count over active modifiers and a zero
// divide sum is treated as one.
package attribute

import "slices"

// Range bounds the values an instant modifier may produce.
// When MaxAttribute is set its current value replaces Max.
type Range struct {
	Min          float64
	Max          float64
	MaxAttribute Type
}

// ChangeFunc observes a value transition. It is called even when old == new.
type ChangeFunc func(a *Attribute, old, new float64)

// Attribute is a single scalar stat owned by one Registry.
type Attribute struct {
	typ       Type
	base      float64
	current   float64
	modifiers [operatorCount][]Modifier
	rng       *Range
	maxRef    func(Type) (float64, bool)

	onCurrent []ChangeFunc
	onBase    []ChangeFunc
}

// New creates an attribute with base and current set to value.
// rng may be nil for an unbounded attribute.
func New(t Type, value float64, rng *Range) *Attribute {
	a := &Attribute{typ: t, base: value, current: value}
	if rng != nil {
		r := *rng
		a.rng = &r
	}
	return a
}

// Type returns the attribute type.
func (a *Attribute) Type() Type { return a.typ }

// Range returns a copy of the configured range and whether one is set.
func (a *Attribute) Range() (Range, bool) {
	if a.rng == nil {
		return Range{}, false
	}
	return *a.rng, true
}

// OnCurrentChanged registers a listener for current value recomputes.
func (a *Attribute) OnCurrentChanged(fn ChangeFunc) {
	if fn != nil {
		a.onCurrent = append(a.onCurrent, fn)
	}
}

// OnBaseChanged registers a listener for base value changes.
func (a *Attribute) OnBaseChanged(fn ChangeFunc) {
	if fn != nil {
		a.onBase = append(a.onBase, fn)
	}
}

// Initialize sets base and current to value without recomputing.
func (a *Attribute) Initialize(value float64) {
	oldBase, oldCurrent := a.base, a.current
	a.base = value
	a.current = value
	a.fire(a.onBase, oldBase, value)
	a.fire(a.onCurrent, oldCurrent, value)
}

// CurrentValue returns the last recomputed value.
func (a *Attribute) CurrentValue() float64 { return a.current }

// BaseValue returns the base value in effect: the newest InnerOverride if one
// is active, otherwise the raw base.
func (a *Attribute) BaseValue() float64 {
	if m, ok := a.newest(OpInnerOverride); ok {
		return m.Value
	}
	return a.base
}

// RawBaseValue returns the stored base value ignoring overrides.
func (a *Attribute) RawBaseValue() float64 { return a.base }

// UpdateBaseValue folds op permanently into the raw base and recomputes.
// Returns false for an unknown operator.
func (a *Attribute) UpdateBaseValue(op Operator, value float64) bool {
	if !op.IsValid() {
		return false
	}
	old := a.base
	a.base = fold(a.base, op, value)
	a.fire(a.onBase, old, a.base)
	a.Recompute()
	return true
}

// CanApplyModifierInstant reports whether folding op/value into the base
// keeps it inside the configured range. Unbounded attributes accept anything.
func (a *Attribute) CanApplyModifierInstant(op Operator, value float64) bool {
	if !op.IsValid() {
		return false
	}
	if a.rng == nil {
		return true
	}
	candidate := fold(a.base, op, value)
	if candidate < a.rng.Min {
		return false
	}
	return candidate <= a.maxBound()
}

// ApplyModifierInstant folds op/value into the base if the range allows it.
func (a *Attribute) ApplyModifierInstant(op Operator, value float64) bool {
	if !a.CanApplyModifierInstant(op, value) {
		return false
	}
	return a.UpdateBaseValue(op, value)
}

// ApplyModifier adds or updates the modifier owned by src in op's list and
// recomputes. An existing entry keeps its active flag, takes the new value and
// stack count, and becomes the newest entry of its list.
func (a *Attribute) ApplyModifier(op Operator, src Source, value float64, stacks int) bool {
	if !op.IsValid() || !src.IsValid() {
		return false
	}
	if stacks < 1 {
		stacks = 1
	}
	mod := Modifier{Source: src, Value: value, StackCount: stacks, Active: true}
	list := a.modifiers[op]
	if i := indexOf(list, src); i >= 0 {
		mod.Active = list[i].Active
		list = slices.Delete(list, i, i+1)
	}
	a.modifiers[op] = append(list, mod)
	a.Recompute()
	return true
}

// RemoveModifier deletes the modifier owned by src in op's list and recomputes.
// Returns false if there was nothing to remove.
func (a *Attribute) RemoveModifier(op Operator, src Source) bool {
	if !op.IsValid() {
		return false
	}
	i := indexOf(a.modifiers[op], src)
	if i < 0 {
		return false
	}
	a.modifiers[op] = slices.Delete(a.modifiers[op], i, i+1)
	a.Recompute()
	return true
}

// SetModifierActive toggles whether a modifier contributes, keeping its slot.
func (a *Attribute) SetModifierActive(op Operator, src Source, active bool) bool {
	if !op.IsValid() {
		return false
	}
	i := indexOf(a.modifiers[op], src)
	if i < 0 {
		return false
	}
	if a.modifiers[op][i].Active == active {
		return true
	}
	a.modifiers[op][i].Active = active
	a.Recompute()
	return true
}

// Modifier returns the modifier owned by src in op's list.
func (a *Attribute) Modifier(op Operator, src Source) (Modifier, bool) {
	if !op.IsValid() {
		return Modifier{}, false
	}
	i := indexOf(a.modifiers[op], src)
	if i < 0 {
		return Modifier{}, false
	}
	return a.modifiers[op][i], true
}

// Modifiers returns a copy of op's list, oldest first.
func (a *Attribute) Modifiers(op Operator) []Modifier {
	if !op.IsValid() {
		return nil
	}
	return slices.Clone(a.modifiers[op])
}

// ModifierCount returns the number of modifiers across all lists.
func (a *Attribute) ModifierCount() int {
	n := 0
	for _, list := range a.modifiers {
		n += len(list)
	}
	return n
}

// Recompute re-evaluates the current value and always notifies listeners.
func (a *Attribute) Recompute() {
	old := a.current
	a.current = a.evaluate()
	a.fire(a.onCurrent, old, a.current)
}

func (a *Attribute) evaluate() float64 {
	if m, ok := a.newest(OpOuterOverride); ok {
		return m.Value
	}
	base := a.BaseValue()
	plus := a.sum(OpPlus)
	minus := a.sum(OpMinus)
	multiply := a.sum(OpMultiply)
	divide := a.sum(OpDivide)
	if divide == 0 {
		divide = 1
	}
	return (base + plus - minus) * (1 + multiply) / divide
}

func (a *Attribute) sum(op Operator) float64 {
	total := 0.0
	for _, m := range a.modifiers[op] {
		total += m.magnitude()
	}
	return total
}

// newest returns the most recently applied active modifier of op.
func (a *Attribute) newest(op Operator) (Modifier, bool) {
	list := a.modifiers[op]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Active {
			return list[i], true
		}
	}
	return Modifier{}, false
}

func (a *Attribute) maxBound() float64 {
	if a.rng.MaxAttribute != "" && a.maxRef != nil {
		if v, ok := a.maxRef(a.rng.MaxAttribute); ok {
			return v
		}
	}
	return a.rng.Max
}

func (a *Attribute) fire(listeners []ChangeFunc, old, new float64) {
	for _, fn := range listeners {
		fn(a, old, new)
	}
}

func fold(base float64, op Operator, value float64) float64 {
	switch op {
	case OpPlus:
		return base + value
	case OpMinus:
		return base - value
	case OpMultiply:
		return base * value
	case OpDivide:
		if value == 0 {
			value = 1
		}
		return base / value
	case OpInnerOverride, OpOuterOverride:
		return value
	default:
		return base
	}
}

func indexOf(list []Modifier, src Source) int {
	return slices.IndexFunc(list, func(m Modifier) bool { return m.Source == src })
}
