package effect

import (
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/metrics"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/timer"
)

// RemoveAll removes an effect regardless of its stack count.
const RemoveAll = -1

// InfiniteDuration is reported as the remaining time of effects that never expire.
const InfiniteDuration time.Duration = -1

// maxReevaluations bounds the ongoing-requirement fixpoint loop. Effects whose
// granted tags invalidate their own requirements would otherwise flip forever.
const maxReevaluations = 8

// maxOverflowDepth bounds chains of overflow effects triggering each other.
const maxOverflowDepth = 4

// Resolver returns effect definitions by id.
type Resolver interface {
	EffectSpec(id string) (*Spec, bool)
}

// TargetResolver returns the effect registry owned by another actor.
type TargetResolver interface {
	EffectRegistry(id actor.ID) (*Registry, bool)
}

// MagnitudeContext is passed to a Calculator for every modifier execution.
type MagnitudeContext struct {
	Spec       *Spec
	Effect     *Effect // nil for instant effects
	Index      int
	Modifier   ModifierSpec
	Target     actor.ID
	Instigator actor.ID
}

// Calculator overrides the magnitude of a modifier. The default uses the
// definition value unchanged.
type Calculator func(ctx MagnitudeContext) float64

// Registry owns the active persistent effects of one actor and applies
// instant effects to it. All mutating methods are no-ops off the authority.
//
// Not safe for concurrent use: timers and tag changes call back into the
// registry on the simulation thread.
type Registry struct {
	owner   actor.ID
	role    actor.Roler
	attrs   *attribute.Registry
	tags    *tag.Ledger
	timers  timer.Service
	specs   Resolver
	targets TargetResolver
	calc    Calculator
	log     *slog.Logger
	metrics *metrics.Metrics

	active  []*Effect
	blocked *tag.Ledger

	evaluating    bool
	dirty         bool
	overflowDepth int

	onApplied []func(*Effect)
	onRemoved []func(*Effect)
	onStack   []func(e *Effect, old, new int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver enables ApplyByID and overflow effects.
func WithResolver(r Resolver) Option { return func(reg *Registry) { reg.specs = r } }

// WithTargets enables ApplyToTarget.
func WithTargets(t TargetResolver) Option { return func(reg *Registry) { reg.targets = t } }

// WithCalculator installs a magnitude override.
func WithCalculator(c Calculator) Option { return func(reg *Registry) { reg.calc = c } }

// WithMetrics records applications and removals.
func WithMetrics(m *metrics.Metrics) Option { return func(reg *Registry) { reg.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		if l != nil {
			reg.log = l
		}
	}
}

// NewRegistry creates the effect registry of owner. It subscribes to the
// tag ledger to re-evaluate ongoing requirements.
func NewRegistry(owner actor.ID, role actor.Roler, attrs *attribute.Registry, tags *tag.Ledger, timers timer.Service, opts ...Option) *Registry {
	r := &Registry{
		owner:   owner,
		role:    role,
		attrs:   attrs,
		tags:    tags,
		timers:  timers,
		log:     slog.Default(),
		blocked: tag.NewLedger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	tags.OnChanged(func(tag.Change) { r.reevaluate() })
	return r
}

// Owner returns the actor this registry belongs to.
func (r *Registry) Owner() actor.ID { return r.owner }

// OnApplied registers a listener for persistent effects entering the active list.
func (r *Registry) OnApplied(fn func(*Effect)) {
	if fn != nil {
		r.onApplied = append(r.onApplied, fn)
	}
}

// OnRemoved registers a listener for persistent effects leaving the active list.
func (r *Registry) OnRemoved(fn func(*Effect)) {
	if fn != nil {
		r.onRemoved = append(r.onRemoved, fn)
	}
}

// OnStackChanged registers a listener for stack count changes.
func (r *Registry) OnStackChanged(fn func(e *Effect, old, new int)) {
	if fn != nil {
		r.onStack = append(r.onStack, fn)
	}
}

func (r *Registry) hasAuthority() bool {
	return r.role != nil && r.role.HasAuthority()
}

// ApplyByID resolves id and applies it to the owner.
func (r *Registry) ApplyByID(instigator actor.ID, id string, stacks int) (Handle, bool) {
	if r.specs == nil {
		return "", false
	}
	spec, ok := r.specs.EffectSpec(id)
	if !ok {
		r.log.Debug("unknown effect", "effect", id, "actor", r.owner)
		return "", false
	}
	return r.ApplyToSelf(instigator, spec, stacks)
}

// ApplyToTarget applies spec through the target's own registry.
func (r *Registry) ApplyToTarget(instigator, target actor.ID, spec *Spec, stacks int) (Handle, bool) {
	if !r.hasAuthority() || spec == nil {
		return "", false
	}
	if target == r.owner {
		return r.ApplyToSelf(instigator, spec, stacks)
	}
	if r.targets == nil {
		return "", false
	}
	dst, ok := r.targets.EffectRegistry(target)
	if !ok {
		r.log.Debug("effect target not found", "effect", spec.ID, "target", target)
		return "", false
	}
	return dst.ApplyToSelf(instigator, spec, stacks)
}

// ApplyToSelf applies spec to the owner with stacks applications (values
// below 1 count as 1). Instant effects return an empty handle on success.
// Persistent effects return the handle of the instance that absorbed the
// application; false means the application was refused or denied.
func (r *Registry) ApplyToSelf(instigator actor.ID, spec *Spec, stacks int) (Handle, bool) {
	if !r.hasAuthority() || spec == nil {
		return "", false
	}
	if stacks < 1 {
		stacks = 1
	}
	if !r.CanApply(spec) {
		r.metrics.EffectApplied(spec.ID, metrics.ResultBlocked)
		r.log.Debug("effect blocked", "effect", spec.ID, "actor", r.owner, "instigator", instigator)
		return "", false
	}

	if spec.IsInstant() {
		for range stacks {
			r.executeInstant(spec, nil, instigator)
		}
		r.removeMatching(spec.Tags.RemoveEffects, nil)
		r.metrics.EffectApplied(spec.ID, metrics.ResultApplied)
		r.log.Debug("instant effect executed", "effect", spec.ID, "actor", r.owner, "stacks", stacks)
		return "", true
	}

	if e := r.findExisting(spec, instigator); e != nil {
		return r.reapply(e, instigator, stacks)
	}

	e := newEffect(spec, r.owner, instigator)
	e.stacks = 1
	if spec.IsStacking() {
		e.stacks = spec.clampStacks(stacks)
	}
	r.activate(e)
	r.removeMatching(spec.Tags.RemoveEffects, e)
	r.metrics.EffectApplied(spec.ID, metrics.ResultApplied)
	if e.IsActive() && spec.HasStackLimit() && e.stacks >= spec.Stacking.Limit {
		r.overflow(e)
	}
	return e.handle, true
}

// CanApply reports whether spec would pass the blocking checks on the owner.
func (r *Registry) CanApply(spec *Spec) bool {
	if spec == nil {
		return false
	}
	if r.blocked.Len() > 0 && spec.Tags.Asset.HasAny(r.blocked.Tags()) {
		return false
	}
	if !r.tags.HasAll(spec.Tags.ApplicationRequired) {
		return false
	}
	return !r.tags.HasAny(spec.Tags.ApplicationBlocked)
}

// CanExecuteInstant reports whether every modifier of spec, at the magnitude
// an application by instigator would use, fits its attribute's range.
func (r *Registry) CanExecuteInstant(instigator actor.ID, spec *Spec) bool {
	if spec == nil {
		return false
	}
	for i, m := range spec.Modifiers {
		v := r.magnitude(spec, nil, i, m, instigator)
		if !r.attrs.CanApplyModifierInstant(m.Attribute, m.Operator, v) {
			return false
		}
	}
	return true
}

// IsBlocked reports whether the block set produced by active effects
// rejects spec.
func (r *Registry) IsBlocked(spec *Spec) bool {
	return spec != nil && r.blocked.Len() > 0 && spec.Tags.Asset.HasAny(r.blocked.Tags())
}

// findExisting locates the instance an application folds into under the
// spec's instigator policy.
func (r *Registry) findExisting(spec *Spec, instigator actor.ID) *Effect {
	switch spec.InstigatorPolicy {
	case InstigatorsApplyTheirOwnMulti:
		return nil
	case InstigatorsShareOne:
		for _, e := range r.active {
			if e.spec.ID == spec.ID && e.IsActive() {
				return e
			}
		}
	default:
		for _, e := range r.active {
			if e.spec.ID == spec.ID && e.IsActive() && (e.HasInstigator(instigator) || (len(e.instigators) == 0 && !instigator.IsValid())) {
				return e
			}
		}
	}
	return nil
}

// reapply folds an accepted application into e. A denied stack add leaves
// e untouched, including its instigators.
func (r *Registry) reapply(e *Effect, instigator actor.ID, stacks int) (Handle, bool) {
	spec := e.spec
	if spec.IsStacking() && r.stackDenied(e) {
		r.metrics.EffectApplied(spec.ID, metrics.ResultDenied)
		r.log.Debug("effect stack denied", "effect", spec.ID, "actor", r.owner, "stacks", e.stacks)
		return e.handle, false
	}
	e.addInstigator(instigator)
	if spec.IsStacking() {
		r.addStack(e, stacks)
		if !e.IsActive() {
			return e.handle, true
		}
		r.metrics.EffectApplied(spec.ID, metrics.ResultStacked)
	} else {
		r.metrics.EffectApplied(spec.ID, metrics.ResultApplied)
	}
	if spec.refreshesOnStacking() {
		if spec.Stacking.RefreshDurationOnStacking {
			r.refreshDuration(e)
		}
		if spec.Stacking.ResetPeriodOnStacking {
			r.resetPeriod(e)
		}
	}
	return e.handle, true
}

// stackDenied reports whether a stack add on e is refused at the limit.
func (r *Registry) stackDenied(e *Effect) bool {
	spec := e.spec
	return spec.HasStackLimit() && e.stacks >= spec.Stacking.Limit && spec.Stacking.DenyOnOverflow
}

// addStack adds n stacks and fires overflow when the limit is reached.
func (r *Registry) addStack(e *Effect, n int) {
	spec := e.spec
	r.setStacks(e, spec.clampStacks(e.stacks+n))
	if spec.HasStackLimit() && e.stacks >= spec.Stacking.Limit {
		r.overflow(e)
	}
}

// overflow applies the configured overflow effects and clears the stack if asked.
func (r *Registry) overflow(e *Effect) {
	spec := e.spec
	if r.specs != nil && r.overflowDepth < maxOverflowDepth {
		r.overflowDepth++
		for _, id := range spec.Stacking.OverflowEffects {
			if id == spec.ID {
				continue
			}
			if of, ok := r.specs.EffectSpec(id); ok {
				r.ApplyToSelf(e.Instigator(), of, 1)
			}
		}
		r.overflowDepth--
	}
	if spec.Stacking.ClearOnOverflow {
		r.remove(e)
	}
}

func (r *Registry) setStacks(e *Effect, n int) {
	old := e.stacks
	if n == old {
		return
	}
	e.stacks = n
	if n > 0 && !e.spec.IsPeriodic() {
		r.applyPersistent(e)
	}
	for _, fn := range r.onStack {
		fn(e, old, n)
	}
}

// activate registers a new instance and runs its first execution.
func (r *Registry) activate(e *Effect) {
	r.register(e, e.spec.Duration)
	r.execute(e)
	r.announce(e, "effect applied")
}

// register makes e active and arms its timers. The duration timer runs for d.
func (r *Registry) register(e *Effect, d time.Duration) {
	spec := e.spec
	e.state = StateActive
	r.active = append(r.active, e)
	r.metrics.EffectActivated()

	h := e.handle
	if spec.DurationPolicy == DurationHasDuration {
		e.durationTimer = r.timers.SetTimer(d, false, func() { r.expire(h) })
	}
	if spec.IsPeriodic() {
		e.periodTimer = r.timers.SetTimer(spec.Period, true, func() { r.tick(h) })
	}
	e.inhibited = !r.ongoingSatisfied(spec)
}

// announce grants the instance tags and notifies listeners.
func (r *Registry) announce(e *Effect, msg string) {
	spec := e.spec
	if !e.inhibited {
		r.tags.AddTags(spec.Tags.Granted, 1)
	}
	r.blocked.AddTags(spec.Tags.BlockEffects, 1)

	r.log.Debug(msg,
		"effect", spec.ID,
		"handle", e.handle,
		"actor", r.owner,
		"instigator", e.Instigator(),
		"stacks", e.stacks,
		"inhibited", e.inhibited)

	for _, fn := range r.onApplied {
		fn(e)
	}
}

// execute runs one execution of an active instance: a single instant dose
// for periodic effects, persistent modifiers scaled by stacks otherwise.
func (r *Registry) execute(e *Effect) {
	if e.spec.IsPeriodic() {
		if !e.inhibited {
			r.executeInstant(e.spec, e, e.Instigator())
		}
		return
	}
	r.applyPersistent(e)
}

func (r *Registry) executeInstant(spec *Spec, e *Effect, instigator actor.ID) {
	for i, m := range spec.Modifiers {
		v := r.magnitude(spec, e, i, m, instigator)
		r.attrs.ApplyModifierInstant(m.Attribute, m.Operator, v)
	}
}

func (r *Registry) applyPersistent(e *Effect) {
	for i, m := range e.spec.Modifiers {
		v := r.magnitude(e.spec, e, i, m, e.Instigator())
		src := e.modifierSource(i)
		r.attrs.ApplyModifier(m.Attribute, m.Operator, src, v, e.stacks)
		if e.inhibited {
			r.attrs.SetModifierActive(m.Attribute, m.Operator, src, false)
		}
	}
}

func (r *Registry) removePersistent(e *Effect) {
	for i, m := range e.spec.Modifiers {
		r.attrs.RemoveModifier(m.Attribute, m.Operator, e.modifierSource(i))
	}
}

func (r *Registry) magnitude(spec *Spec, e *Effect, i int, m ModifierSpec, instigator actor.ID) float64 {
	if r.calc == nil {
		return m.Value
	}
	return r.calc(MagnitudeContext{
		Spec:       spec,
		Effect:     e,
		Index:      i,
		Modifier:   m,
		Target:     r.owner,
		Instigator: instigator,
	})
}

func (r *Registry) tick(h Handle) {
	e := r.find(h)
	if e == nil {
		return
	}
	r.execute(e)
}

// expire handles the duration timer firing.
func (r *Registry) expire(h Handle) {
	e := r.find(h)
	if e == nil {
		return
	}
	e.durationTimer = 0
	spec := e.spec
	if !spec.IsStacking() {
		r.remove(e)
		return
	}
	switch spec.Stacking.Expiration {
	case ExpireRemoveSingleStack:
		if e.stacks <= 1 {
			r.remove(e)
			return
		}
		r.setStacks(e, e.stacks-1)
		r.refreshDuration(e)
	case ExpireRefreshDuration:
		r.refreshDuration(e)
	default:
		r.remove(e)
	}
}

func (r *Registry) refreshDuration(e *Effect) {
	r.restartDuration(e, e.spec.Duration)
}

func (r *Registry) restartDuration(e *Effect, d time.Duration) {
	if e.spec.DurationPolicy != DurationHasDuration || !e.IsActive() {
		return
	}
	if e.durationTimer.IsValid() {
		r.timers.ClearTimer(e.durationTimer)
	}
	h := e.handle
	e.durationTimer = r.timers.SetTimer(d, false, func() { r.expire(h) })
}

func (r *Registry) resetPeriod(e *Effect) {
	if !e.spec.IsPeriodic() || !e.IsActive() {
		return
	}
	if e.periodTimer.IsValid() {
		r.timers.ClearTimer(e.periodTimer)
	}
	h := e.handle
	e.periodTimer = r.timers.SetTimer(e.spec.Period, true, func() { r.tick(h) })
}

// remove is the terminal transition. It is idempotent.
func (r *Registry) remove(e *Effect) bool {
	if !e.IsActive() {
		return false
	}
	e.state = StateRemoved
	spec := e.spec

	if e.durationTimer.IsValid() {
		r.timers.ClearTimer(e.durationTimer)
		e.durationTimer = 0
	}
	if e.periodTimer.IsValid() {
		r.timers.ClearTimer(e.periodTimer)
		e.periodTimer = 0
	}
	if !spec.IsPeriodic() {
		r.removePersistent(e)
	}
	if e.stacks > 0 {
		old := e.stacks
		e.stacks = 0
		for _, fn := range r.onStack {
			fn(e, old, 0)
		}
	}
	if i := slices.Index(r.active, e); i >= 0 {
		r.active = slices.Delete(r.active, i, i+1)
	}
	r.blocked.RemoveTags(spec.Tags.BlockEffects, 1)
	if !e.inhibited {
		r.tags.RemoveTags(spec.Tags.Granted, 1)
	}
	r.metrics.EffectRemoved(spec.ID)
	r.log.Debug("effect removed", "effect", spec.ID, "handle", e.handle, "actor", r.owner)

	for _, fn := range r.onRemoved {
		fn(e)
	}
	return true
}

// removeStacks removes n stacks, or the whole effect for RemoveAll and
// non-stacking effects.
func (r *Registry) removeStacks(e *Effect, n int) bool {
	if !e.IsActive() {
		return false
	}
	if n == RemoveAll || n <= 0 || !e.spec.IsStacking() || e.stacks <= n {
		return r.remove(e)
	}
	r.setStacks(e, e.stacks-n)
	return true
}

// RemoveByHandle removes stacks from one instance. Authority only.
func (r *Registry) RemoveByHandle(h Handle, stacks int) bool {
	if !r.hasAuthority() {
		return false
	}
	e := r.find(h)
	if e == nil {
		return false
	}
	return r.removeStacks(e, stacks)
}

// RemoveByType removes stacks from every instance of id. Returns the number
// of instances touched. Authority only.
func (r *Registry) RemoveByType(id string, stacks int) int {
	return r.removeWhere(stacks, func(e *Effect) bool { return e.spec.ID == id })
}

// RemoveByTags removes stacks from every instance whose asset tags match any
// tag of c. Authority only.
func (r *Registry) RemoveByTags(c tag.Container, stacks int) int {
	if c.IsEmpty() {
		return 0
	}
	return r.removeWhere(stacks, func(e *Effect) bool { return e.spec.Tags.Asset.HasAny(c) })
}

// RemoveByTagPattern removes stacks from every instance with an asset tag
// matching p. Authority only.
func (r *Registry) RemoveByTagPattern(p tag.Pattern, stacks int) int {
	return r.removeWhere(stacks, func(e *Effect) bool {
		return slices.ContainsFunc(e.spec.Tags.Asset.Tags(), p.Match)
	})
}

func (r *Registry) removeWhere(stacks int, match func(*Effect) bool) int {
	if !r.hasAuthority() {
		return 0
	}
	n := 0
	for _, e := range slices.Clone(r.active) {
		if e.IsActive() && match(e) && r.removeStacks(e, stacks) {
			n++
		}
	}
	return n
}

// removeMatching removes active effects (except skip) whose asset tags match c.
func (r *Registry) removeMatching(c tag.Container, skip *Effect) {
	if c.IsEmpty() {
		return
	}
	for _, e := range slices.Clone(r.active) {
		if e != skip && e.IsActive() && e.spec.Tags.Asset.HasAny(c) {
			r.remove(e)
		}
	}
}

// Restore re-creates a persisted instance with an exact stack count and
// remaining duration. A non-positive remaining keeps the full duration.
//
// The persisted base values already hold every dose the instance produced,
// so restoring runs no periodic dose, no overflow effects and no
// remove-effects sweep. Blocking checks are skipped too: the instance was
// active when it was saved.
func (r *Registry) Restore(spec *Spec, instigators []actor.ID, stacks int, remaining time.Duration) (Handle, bool) {
	if !r.hasAuthority() || spec == nil || spec.IsInstant() {
		return "", false
	}
	var first actor.ID
	if len(instigators) > 0 {
		first = instigators[0]
	}
	e := newEffect(spec, r.owner, first)
	for _, id := range instigators[min(1, len(instigators)):] {
		e.addInstigator(id)
	}
	e.stacks = 1
	if spec.IsStacking() {
		e.stacks = spec.clampStacks(max(stacks, 1))
	}

	d := spec.Duration
	if remaining > 0 {
		d = remaining
	}
	r.register(e, d)
	if !spec.IsPeriodic() {
		r.applyPersistent(e)
	}
	r.announce(e, "effect restored")
	return e.handle, true
}

func (r *Registry) find(h Handle) *Effect {
	for _, e := range r.active {
		if e.handle == h && e.IsActive() {
			return e
		}
	}
	return nil
}

// Active returns the active instances in application order.
func (r *Registry) Active() []*Effect { return slices.Clone(r.active) }

// ActiveByHandle returns one active instance.
func (r *Registry) ActiveByHandle(h Handle) (*Effect, bool) {
	e := r.find(h)
	return e, e != nil
}

// ActiveByType returns the active instances of id.
func (r *Registry) ActiveByType(id string) []*Effect {
	var out []*Effect
	for _, e := range r.active {
		if e.spec.ID == id {
			out = append(out, e)
		}
	}
	return out
}

// ActiveByTags returns the active instances whose asset tags match any tag of c.
func (r *Registry) ActiveByTags(c tag.Container) []*Effect {
	var out []*Effect
	for _, e := range r.active {
		if e.spec.Tags.Asset.HasAny(c) {
			out = append(out, e)
		}
	}
	return out
}

// RemainingDuration returns the longest remaining time among instances of id,
// InfiniteDuration for effects without a duration, and false when none is active.
func (r *Registry) RemainingDuration(id string) (time.Duration, bool) {
	var best time.Duration
	found := false
	for _, e := range r.active {
		if e.spec.ID != id {
			continue
		}
		found = true
		if e.spec.DurationPolicy != DurationHasDuration {
			return InfiniteDuration, true
		}
		if d := r.timers.Remaining(e.durationTimer); d > best {
			best = d
		}
	}
	return best, found
}

// Remaining returns the remaining time of one instance.
func (r *Registry) Remaining(h Handle) time.Duration {
	e := r.find(h)
	if e == nil {
		return 0
	}
	if e.spec.DurationPolicy != DurationHasDuration {
		return InfiniteDuration
	}
	return r.timers.Remaining(e.durationTimer)
}

// StackCount returns the total stacks of id across instances.
func (r *Registry) StackCount(id string) int {
	n := 0
	for _, e := range r.active {
		if e.spec.ID == id {
			n += e.stacks
		}
	}
	return n
}

func (r *Registry) ongoingSatisfied(spec *Spec) bool {
	return r.tags.HasAll(spec.Tags.OngoingRequired) && !r.tags.HasAny(spec.Tags.OngoingBlocked)
}

// reevaluate inhibits or resumes effects whose ongoing requirements changed.
// Re-entrant tag changes are folded into the running pass.
func (r *Registry) reevaluate() {
	if !r.hasAuthority() {
		return
	}
	if r.evaluating {
		r.dirty = true
		return
	}
	r.evaluating = true
	defer func() { r.evaluating = false }()

	for pass := 0; pass < maxReevaluations; pass++ {
		r.dirty = false
		for _, e := range slices.Clone(r.active) {
			if !e.IsActive() {
				continue
			}
			ok := r.ongoingSatisfied(e.spec)
			if ok == e.inhibited {
				r.setInhibited(e, !ok)
			}
		}
		if !r.dirty {
			return
		}
	}
	r.log.Warn("ongoing tag requirements did not settle", "actor", r.owner)
}

// setInhibited suspends or resumes an active instance: its persistent
// modifiers stop contributing and its granted tags are withdrawn.
func (r *Registry) setInhibited(e *Effect, inhibited bool) {
	if e.inhibited == inhibited {
		return
	}
	e.inhibited = inhibited
	if !e.spec.IsPeriodic() {
		for i, m := range e.spec.Modifiers {
			r.attrs.SetModifierActive(m.Attribute, m.Operator, e.modifierSource(i), !inhibited)
		}
	}
	if inhibited {
		r.tags.RemoveTags(e.spec.Tags.Granted, 1)
	} else {
		r.tags.AddTags(e.spec.Tags.Granted, 1)
	}
	r.log.Debug("effect inhibition changed", "effect", e.spec.ID, "handle", e.handle, "inhibited", inhibited)
}
