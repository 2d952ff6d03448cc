package attribute

import (
	"log/slog"
	"slices"

	"github.com/udisondev/abilitycore/internal/actor"
)

// Spec describes an attribute to construct.
type Spec struct {
	Type  Type
	Value float64
	Range *Range
}

// ClassResolver returns the attribute specs of a named attribute set.
// Implementations must be idempotent and side-effect free.
type ClassResolver interface {
	AttributeClass(name string) ([]Spec, bool)
}

// ModifierEvent describes a modifier mutation passed to Hooks.
type ModifierEvent struct {
	Attribute Type
	Operator  Operator
	Source    Source
	Value     float64
	Stacks    int
	Instant   bool
	Removed   bool
}

// Hooks are optional instrumentation points around modifier mutation.
// They observe; they cannot veto.
type Hooks struct {
	PreModifierApplied  func(ModifierEvent)
	PostModifierApplied func(ModifierEvent)
}

// Registry owns one Attribute per Type for a single actor.
// Every mutating method is a no-op off the authoritative copy.
type Registry struct {
	role    actor.Roler
	classes ClassResolver
	hooks   Hooks
	log     *slog.Logger

	attrs map[Type]*Attribute
	order []Type

	listeners []ChangeFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithClassResolver enables construction by class name.
func WithClassResolver(r ClassResolver) Option {
	return func(reg *Registry) { reg.classes = r }
}

// WithHooks installs modifier hooks.
func WithHooks(h Hooks) Option {
	return func(reg *Registry) { reg.hooks = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		if l != nil {
			reg.log = l
		}
	}
}

// NewRegistry creates an empty registry gated by role.
func NewRegistry(role actor.Roler, opts ...Option) *Registry {
	r := &Registry{
		role:  role,
		log:   slog.Default(),
		attrs: make(map[Type]*Attribute),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnValueChanged registers a listener on every current-value recompute of
// every attribute, including attributes constructed later.
func (r *Registry) OnValueChanged(fn ChangeFunc) {
	if fn == nil {
		return
	}
	r.listeners = append(r.listeners, fn)
	for _, t := range r.order {
		r.attrs[t].OnCurrentChanged(fn)
	}
}

// Construct adds an attribute from spec. An existing attribute of the same
// type is kept and returned unchanged.
func (r *Registry) Construct(spec Spec) *Attribute {
	if spec.Type == "" {
		return nil
	}
	if a, ok := r.attrs[spec.Type]; ok {
		return a
	}
	a := New(spec.Type, spec.Value, spec.Range)
	a.maxRef = r.Value
	for _, fn := range r.listeners {
		a.OnCurrentChanged(fn)
	}
	r.attrs[spec.Type] = a
	r.order = append(r.order, spec.Type)
	return a
}

// ConstructType adds an attribute with default value and no range.
func (r *Registry) ConstructType(t Type) *Attribute {
	return r.Construct(Spec{Type: t})
}

// ConstructClass adds every attribute of a named class.
// Returns false when the class is unknown or no resolver is configured.
func (r *Registry) ConstructClass(name string) bool {
	if r.classes == nil {
		return false
	}
	specs, ok := r.classes.AttributeClass(name)
	if !ok {
		r.log.Debug("unknown attribute class", "class", name)
		return false
	}
	for _, s := range specs {
		r.Construct(s)
	}
	return true
}

// Get returns the attribute of type t.
func (r *Registry) Get(t Type) (*Attribute, bool) {
	a, ok := r.attrs[t]
	return a, ok
}

// Value returns the current value of t.
func (r *Registry) Value(t Type) (float64, bool) {
	a, ok := r.attrs[t]
	if !ok {
		return 0, false
	}
	return a.CurrentValue(), true
}

// BaseValue returns the base value in effect for t.
func (r *Registry) BaseValue(t Type) (float64, bool) {
	a, ok := r.attrs[t]
	if !ok {
		return 0, false
	}
	return a.BaseValue(), true
}

// Types returns attribute types in construction order.
func (r *Registry) Types() []Type { return slices.Clone(r.order) }

// InitializeAttribute sets base and current of t. Authority only.
func (r *Registry) InitializeAttribute(t Type, value float64) bool {
	a, ok := r.mutable(t)
	if !ok {
		return false
	}
	a.Initialize(value)
	return true
}

// ApplyReplicatedValue mirrors a value received from the authority into a
// non-authoritative copy, constructing the attribute if needed.
func (r *Registry) ApplyReplicatedValue(t Type, value float64) bool {
	if t == "" || (r.role != nil && r.role.HasAuthority()) {
		return false
	}
	a, ok := r.attrs[t]
	if !ok {
		a = r.ConstructType(t)
	}
	a.Initialize(value)
	return true
}

// ApplyModifier adds or updates a persistent modifier. Authority only.
func (r *Registry) ApplyModifier(t Type, op Operator, src Source, value float64, stacks int) bool {
	a, ok := r.mutable(t)
	if !ok || !src.IsValid() || !op.IsValid() {
		return false
	}
	ev := ModifierEvent{Attribute: t, Operator: op, Source: src, Value: value, Stacks: stacks}
	r.pre(ev)
	applied := a.ApplyModifier(op, src, value, stacks)
	r.post(ev)
	return applied
}

// RemoveModifier removes a persistent modifier. Authority only.
func (r *Registry) RemoveModifier(t Type, op Operator, src Source) bool {
	a, ok := r.mutable(t)
	if !ok || !src.IsValid() {
		return false
	}
	ev := ModifierEvent{Attribute: t, Operator: op, Source: src, Removed: true}
	r.pre(ev)
	removed := a.RemoveModifier(op, src)
	r.post(ev)
	return removed
}

// SetModifierActive toggles a persistent modifier. Authority only.
func (r *Registry) SetModifierActive(t Type, op Operator, src Source, active bool) bool {
	a, ok := r.mutable(t)
	if !ok {
		return false
	}
	return a.SetModifierActive(op, src, active)
}

// CanApplyModifierInstant reports whether an instant modifier would be accepted.
// Unknown attributes never accept.
func (r *Registry) CanApplyModifierInstant(t Type, op Operator, value float64) bool {
	a, ok := r.attrs[t]
	if !ok {
		return false
	}
	return a.CanApplyModifierInstant(op, value)
}

// ApplyModifierInstant folds a modifier into the base value. Authority only.
func (r *Registry) ApplyModifierInstant(t Type, op Operator, value float64) bool {
	a, ok := r.mutable(t)
	if !ok {
		return false
	}
	ev := ModifierEvent{Attribute: t, Operator: op, Value: value, Stacks: 1, Instant: true}
	r.pre(ev)
	applied := a.ApplyModifierInstant(op, value)
	r.post(ev)
	if !applied {
		r.log.Debug("instant modifier rejected", "attribute", t, "op", op, "value", value)
	}
	return applied
}

func (r *Registry) mutable(t Type) (*Attribute, bool) {
	if r.role == nil || !r.role.HasAuthority() {
		return nil, false
	}
	a, ok := r.attrs[t]
	return a, ok
}

func (r *Registry) pre(ev ModifierEvent) {
	if r.hooks.PreModifierApplied != nil {
		r.hooks.PreModifierApplied(ev)
	}
}

func (r *Registry) post(ev ModifierEvent) {
	if r.hooks.PostModifierApplied != nil {
		r.hooks.PostModifierApplied(ev)
	}
}
