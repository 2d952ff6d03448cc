package ability

import (
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/metrics"
	"github.com/udisondev/abilitycore/internal/tag"
)

// Resolver returns ability definitions by id.
type Resolver interface {
	AbilitySpec(id string) (*Spec, bool)
}

// RequestKind is the action a locally controlled mirror asks the authority for.
type RequestKind uint8

const (
	RequestActivate RequestKind = iota + 1
	RequestEnd
	RequestCancel
)

func (k RequestKind) String() string {
	switch k {
	case RequestActivate:
		return "activate"
	case RequestEnd:
		return "end"
	case RequestCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Request is a predicted action forwarded to the authority.
type Request struct {
	Kind    RequestKind
	Ability string
	Key     PredictionKey
}

// Submitter forwards requests from a locally controlled mirror.
type Submitter interface {
	Submit(req Request)
}

// Registry owns the granted abilities of one actor.
//
// On the authority every operation runs for real. A locally controlled
// mirror with a Submitter predicts activations and forwards them; any other
// mirror only changes through the Apply* replication entry points.
type Registry struct {
	owner   actor.ID
	role    actor.Roler
	tags    *tag.Ledger
	attrs   *attribute.Registry
	effects *effect.Registry

	specs       Resolver
	effectSpecs effect.Resolver
	submitter   Submitter
	log         *slog.Logger
	metrics     *metrics.Metrics

	granted    []*Ability
	activating []*Ability
	blocked    *tag.Ledger
	nextKey    PredictionKey

	onGranted   []func(*Ability)
	onRemoved   []func(*Ability)
	onActivated []func(*Ability)
	onEnded     []func(*Ability)
	onCanceled  []func(*Ability)
	onRejected  []func(id string, key PredictionKey)
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver enables GrantByID.
func WithResolver(r Resolver) Option { return func(reg *Registry) { reg.specs = r } }

// WithEffectResolver resolves cost and cooldown effects.
func WithEffectResolver(r effect.Resolver) Option {
	return func(reg *Registry) { reg.effectSpecs = r }
}

// WithSubmitter enables prediction on a locally controlled mirror.
func WithSubmitter(s Submitter) Option { return func(reg *Registry) { reg.submitter = s } }

// WithMetrics records activations and ends.
func WithMetrics(m *metrics.Metrics) Option { return func(reg *Registry) { reg.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		if l != nil {
			reg.log = l
		}
	}
}

// NewRegistry creates the ability registry of owner.
func NewRegistry(owner actor.ID, role actor.Roler, tags *tag.Ledger, attrs *attribute.Registry, effects *effect.Registry, opts ...Option) *Registry {
	r := &Registry{
		owner:   owner,
		role:    role,
		tags:    tags,
		attrs:   attrs,
		effects: effects,
		log:     slog.Default(),
		blocked: tag.NewLedger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Owner returns the actor this registry belongs to.
func (r *Registry) Owner() actor.ID { return r.owner }

func (r *Registry) OnGranted(fn func(*Ability)) { r.onGranted = appendListener(r.onGranted, fn) }
func (r *Registry) OnRemoved(fn func(*Ability)) { r.onRemoved = appendListener(r.onRemoved, fn) }
func (r *Registry) OnActivated(fn func(*Ability)) { r.onActivated = appendListener(r.onActivated, fn) }
func (r *Registry) OnEnded(fn func(*Ability)) { r.onEnded = appendListener(r.onEnded, fn) }
func (r *Registry) OnCanceled(fn func(*Ability)) { r.onCanceled = appendListener(r.onCanceled, fn) }

// OnRejected registers a listener for activation requests the authority refused.
func (r *Registry) OnRejected(fn func(id string, key PredictionKey)) {
	if fn != nil {
		r.onRejected = append(r.onRejected, fn)
	}
}

func appendListener(list []func(*Ability), fn func(*Ability)) []func(*Ability) {
	if fn == nil {
		return list
	}
	return append(list, fn)
}

func notify(list []func(*Ability), a *Ability) {
	for _, fn := range list {
		fn(a)
	}
}

func (r *Registry) hasAuthority() bool {
	return r.role != nil && r.role.HasAuthority()
}

func (r *Registry) predicts() bool {
	return r.role != nil && !r.role.HasAuthority() && r.role.IsLocallyControlled() && r.submitter != nil
}

// GrantByID resolves id and grants it. Authority only.
func (r *Registry) GrantByID(id string) bool {
	if r.specs == nil {
		return false
	}
	spec, ok := r.specs.AbilitySpec(id)
	if !ok {
		r.log.Debug("unknown ability", "ability", id, "actor", r.owner)
		return false
	}
	return r.Grant(spec)
}

// Grant adds spec to the registry. At most one instance per id exists;
// granting an already granted id is a no-op. Authority only.
func (r *Registry) Grant(spec *Spec) bool {
	if !r.hasAuthority() {
		return false
	}
	return r.grant(spec)
}

// ApplyGrant mirrors a grant replicated from the authority.
func (r *Registry) ApplyGrant(spec *Spec) bool {
	if r.hasAuthority() {
		return false
	}
	return r.grant(spec)
}

func (r *Registry) grant(spec *Spec) bool {
	if spec == nil || spec.ID == "" {
		return false
	}
	if a := r.find(spec.ID); a != nil {
		// A grant during a pending removal keeps the ability.
		a.removeOnEnd = false
		return false
	}
	a := &Ability{spec: spec}
	a.cost = r.resolveEffect(spec.CostEffect)
	a.cooldown = cooldownSpec(spec, r.resolveEffect(spec.CooldownEffect))
	r.granted = append(r.granted, a)

	r.log.Debug("ability granted", "ability", spec.ID, "actor", r.owner)
	notify(r.onGranted, a)
	return true
}

func (r *Registry) resolveEffect(id string) *effect.Spec {
	if id == "" || r.effectSpecs == nil {
		return nil
	}
	s, ok := r.effectSpecs.EffectSpec(id)
	if !ok {
		r.log.Warn("ability references unknown effect", "effect", id, "actor", r.owner)
		return nil
	}
	return s
}

// cooldownSpec derives the effect applied on cooldown commit. Abilities that
// override the time or add tags get a private copy so two abilities sharing
// one cooldown effect do not fold into the same instance.
func cooldownSpec(spec *Spec, base *effect.Spec) *effect.Spec {
	if base == nil {
		if spec.CooldownTime <= 0 || spec.CooldownTags.IsEmpty() {
			return nil
		}
		return &effect.Spec{
			ID:             "Cooldown." + spec.ID,
			DurationPolicy: effect.DurationHasDuration,
			Duration:       spec.CooldownTime,
			Tags:           effect.Tags{Granted: spec.CooldownTags},
		}
	}
	if spec.CooldownTime <= 0 && spec.CooldownTags.IsEmpty() {
		return base
	}
	cd := *base
	cd.ID = base.ID + "@" + spec.ID
	if spec.CooldownTime > 0 {
		cd.DurationPolicy = effect.DurationHasDuration
		cd.Duration = spec.CooldownTime
	}
	granted := base.Tags.Granted
	granted.AppendContainer(spec.CooldownTags)
	cd.Tags.Granted = granted
	return &cd
}

// Remove evicts id, or marks it for eviction when its activation ends.
// Authority only.
func (r *Registry) Remove(id string) bool {
	if !r.hasAuthority() {
		return false
	}
	return r.removeGranted(id)
}

// ApplyRemove mirrors a removal replicated from the authority.
func (r *Registry) ApplyRemove(id string) bool {
	if r.hasAuthority() {
		return false
	}
	return r.removeGranted(id)
}

func (r *Registry) removeGranted(id string) bool {
	a := r.find(id)
	if a == nil {
		return false
	}
	if a.activating {
		a.removeOnEnd = true
		r.log.Debug("ability removal deferred", "ability", id, "actor", r.owner)
		return true
	}
	r.evict(a)
	return true
}

func (r *Registry) evict(a *Ability) {
	if i := slices.Index(r.granted, a); i >= 0 {
		r.granted = slices.Delete(r.granted, i, i+1)
	}
	r.log.Debug("ability removed", "ability", a.ID(), "actor", r.owner)
	notify(r.onRemoved, a)
}

// Granted returns the granted instance of id.
func (r *Registry) Granted(id string) (*Ability, bool) {
	a := r.find(id)
	return a, a != nil
}

// GrantedAbilities returns the granted abilities in grant order.
func (r *Registry) GrantedAbilities() []*Ability { return slices.Clone(r.granted) }

// ActivatingAbilities returns the in-flight abilities in activation order.
func (r *Registry) ActivatingAbilities() []*Ability { return slices.Clone(r.activating) }

func (r *Registry) find(id string) *Ability {
	for _, a := range r.granted {
		if a.spec.ID == id {
			return a
		}
	}
	return nil
}

// IsBlocked reports whether the registry block set rejects id.
func (r *Registry) IsBlocked(id string) bool {
	a := r.find(id)
	return a != nil && r.blocked.Len() > 0 && a.spec.AssetTags.HasAny(r.blocked.Tags())
}

// CanActivate reports whether id could activate now. It has no side effects.
func (r *Registry) CanActivate(id string) bool {
	a := r.find(id)
	return a != nil && r.canActivate(a)
}

func (r *Registry) canActivate(a *Ability) bool {
	spec := a.spec
	if a.activating {
		return false
	}
	if r.tags.HasAny(spec.ActivationBlocked) {
		return false
	}
	if !r.tags.HasAll(spec.ActivationRequired) {
		return false
	}
	if !r.checkCost(a) || !r.checkCooldown(a) {
		return false
	}
	if spec.Hooks.CanActivate != nil && !spec.Hooks.CanActivate(r, a) {
		return false
	}
	if len(spec.RequiredActivatingAbilities) > 0 {
		return slices.ContainsFunc(spec.RequiredActivatingAbilities, r.isActivating)
	}
	return true
}

func (r *Registry) isActivating(id string) bool {
	a := r.find(id)
	return a != nil && a.activating
}

func (r *Registry) checkCost(a *Ability) bool {
	if a.spec.Hooks.CheckCost != nil {
		return a.spec.Hooks.CheckCost(r, a)
	}
	if a.cost == nil || !a.cost.IsInstant() {
		return true
	}
	if r.effects != nil {
		return r.effects.CanExecuteInstant(r.owner, a.cost)
	}
	for _, m := range a.cost.Modifiers {
		if !r.attrs.CanApplyModifierInstant(m.Attribute, m.Operator, m.Value) {
			return false
		}
	}
	return true
}

func (r *Registry) checkCooldown(a *Ability) bool {
	if a.spec.Hooks.CheckCooldown != nil {
		return a.spec.Hooks.CheckCooldown(r, a)
	}
	if a.cooldown == nil {
		return true
	}
	if granted := a.cooldown.Tags.Granted; !granted.IsEmpty() {
		return !r.tags.HasAny(granted)
	}
	return r.effects == nil || len(r.effects.ActiveByType(a.cooldown.ID)) == 0
}

// CooldownRemaining returns the time left on id's cooldown, or zero.
func (r *Registry) CooldownRemaining(id string) time.Duration {
	a := r.find(id)
	if a == nil || a.cooldown == nil || r.effects == nil {
		return 0
	}
	d, ok := r.effects.RemainingDuration(a.cooldown.ID)
	if !ok || d < 0 {
		return 0
	}
	return d
}

// TryActivate activates id if it passes CanActivate and the registry block
// set. On a locally controlled mirror the activation is predicted and
// forwarded to the authority.
func (r *Registry) TryActivate(id string) bool {
	switch {
	case r.hasAuthority():
		return r.tryActivate(id, 0)
	case r.predicts():
		return r.predict(id)
	default:
		return false
	}
}

func (r *Registry) tryActivate(id string, key PredictionKey) bool {
	a := r.find(id)
	if a == nil {
		r.log.Debug("activation of ungranted ability", "ability", id, "actor", r.owner)
		return false
	}
	if !r.canActivate(a) || r.IsBlocked(id) {
		r.metrics.AbilityActivation(id, metrics.ResultBlocked)
		r.log.Debug("ability activation blocked", "ability", id, "actor", r.owner)
		return false
	}
	a.key = key
	a.predicted = false
	r.activate(a, true)
	r.metrics.AbilityActivation(id, metrics.ResultApplied)
	return true
}

func (r *Registry) predict(id string) bool {
	a := r.find(id)
	if a == nil || !r.canActivate(a) || r.IsBlocked(id) {
		return false
	}
	r.nextKey++
	a.key = r.nextKey
	a.predicted = true
	r.activate(a, false)
	r.submitter.Submit(Request{Kind: RequestActivate, Ability: id, Key: a.key})
	return true
}

// activate transitions a to activating. Only the authority writes tags and
// block sets; mirrors receive those through the replicated tag state.
func (r *Registry) activate(a *Ability, authoritative bool) {
	spec := a.spec
	if spec.CancelRequiredAbilities {
		for _, id := range spec.RequiredActivatingAbilities {
			if other := r.find(id); other != nil && other.activating {
				r.end(other, true, authoritative)
			}
		}
	}
	if authoritative {
		a.costCommitted = false
		a.cooldownCommitted = false
	}
	a.activating = true
	a.activations++
	r.activating = append(r.activating, a)

	if authoritative {
		r.tags.AddTags(spec.ActivationOwned, 1)
		a.ownedApplied = true
		r.updateBlockAndCancel(spec.BlockAbilitiesWithTag, spec.CancelAbilitiesWithTag, true, a)
	}

	r.log.Debug("ability activated",
		"ability", spec.ID,
		"actor", r.owner,
		"predicted", a.predicted,
		"key", a.key)

	notify(r.onActivated, a)
	if spec.Hooks.OnActivated != nil {
		spec.Hooks.OnActivated(r, a)
	}
}

// CommitCost applies the cost effect once per activation. Returns whether the
// cost is committed after the call. Authority only.
func (r *Registry) CommitCost(id string) bool {
	a := r.find(id)
	if a == nil || !r.hasAuthority() || !a.activating {
		return false
	}
	if a.costCommitted {
		return true
	}
	if !r.checkCost(a) {
		r.log.Debug("ability cost check failed", "ability", id, "actor", r.owner)
		return false
	}
	if a.cost != nil {
		if _, ok := r.effects.ApplyToSelf(r.owner, a.cost, 1); !ok {
			return false
		}
	}
	a.costCommitted = true
	return true
}

// CommitCooldown applies the cooldown effect once per activation. Returns
// whether the cooldown is committed after the call. Authority only.
func (r *Registry) CommitCooldown(id string) bool {
	a := r.find(id)
	if a == nil || !r.hasAuthority() || !a.activating {
		return false
	}
	if a.cooldownCommitted {
		return true
	}
	if !r.checkCooldown(a) {
		r.log.Debug("ability cooldown check failed", "ability", id, "actor", r.owner)
		return false
	}
	if a.cooldown != nil {
		if _, ok := r.effects.ApplyToSelf(r.owner, a.cooldown, 1); !ok {
			return false
		}
	}
	a.cooldownCommitted = true
	return true
}

// Commit checks both cost and cooldown before committing either.
func (r *Registry) Commit(id string) bool {
	a := r.find(id)
	if a == nil || !r.hasAuthority() || !a.activating {
		return false
	}
	if (!a.costCommitted && !r.checkCost(a)) || (!a.cooldownCommitted && !r.checkCooldown(a)) {
		return false
	}
	return r.CommitCost(id) && r.CommitCooldown(id)
}

// End finishes the running activation of id. Idempotent.
func (r *Registry) End(id string) bool { return r.endByID(id, false) }

// Cancel force-stops the running activation of id. Idempotent.
func (r *Registry) Cancel(id string) bool { return r.endByID(id, true) }

func (r *Registry) endByID(id string, canceled bool) bool {
	a := r.find(id)
	if a == nil || !a.activating {
		return false
	}
	switch {
	case r.hasAuthority():
		return r.end(a, canceled, true)
	case r.predicts():
		kind := RequestEnd
		if canceled {
			kind = RequestCancel
		}
		key := a.key
		ok := r.end(a, canceled, false)
		r.submitter.Submit(Request{Kind: kind, Ability: id, Key: key})
		return ok
	default:
		return false
	}
}

func (r *Registry) end(a *Ability, canceled, authoritative bool) bool {
	if !a.activating {
		return false
	}
	spec := a.spec
	a.activating = false
	if i := slices.Index(r.activating, a); i >= 0 {
		r.activating = slices.Delete(r.activating, i, i+1)
	}
	if a.ownedApplied {
		r.tags.RemoveTags(spec.ActivationOwned, 1)
		r.blocked.RemoveTags(spec.BlockAbilitiesWithTag, 1)
		a.ownedApplied = false
	}
	a.lastEnd = EndNatural
	if canceled {
		a.lastEnd = EndCanceled
	}

	r.metrics.AbilityEnded(spec.ID, canceled)
	r.log.Debug("ability ended", "ability", spec.ID, "actor", r.owner, "canceled", canceled)

	if spec.Hooks.OnEnded != nil {
		spec.Hooks.OnEnded(r, a, canceled)
	}
	if canceled {
		notify(r.onCanceled, a)
	}
	notify(r.onEnded, a)

	if a.removeOnEnd && !a.activating {
		a.removeOnEnd = false
		r.evict(a)
	}
	return true
}

// CancelWithTags cancels every activating ability whose asset tags match any
// tag of c, except the one with id except. Returns the number canceled.
// Authority only.
func (r *Registry) CancelWithTags(c tag.Container, except string) int {
	if !r.hasAuthority() || c.IsEmpty() {
		return 0
	}
	n := 0
	for _, a := range slices.Clone(r.activating) {
		if a.spec.ID != except && a.spec.AssetTags.HasAny(c) && r.end(a, true, true) {
			n++
		}
	}
	return n
}

// UpdateBlockAndCancelTags adds (or removes with add=false) block to the
// registry block set and, when adding, cancels activating abilities matching
// cancel. Authority only.
func (r *Registry) UpdateBlockAndCancelTags(block, cancel tag.Container, add bool) {
	if !r.hasAuthority() {
		return
	}
	r.updateBlockAndCancel(block, cancel, add, nil)
}

func (r *Registry) updateBlockAndCancel(block, cancel tag.Container, add bool, source *Ability) {
	if !add {
		r.blocked.RemoveTags(block, 1)
		return
	}
	r.blocked.AddTags(block, 1)
	except := ""
	if source != nil {
		except = source.spec.ID
	}
	r.CancelWithTags(cancel, except)
}

// Execute runs a request forwarded by a locally controlled mirror. Refused
// activations are reported through OnRejected so the mirror can roll back.
// Authority only.
func (r *Registry) Execute(req Request) bool {
	if !r.hasAuthority() {
		return false
	}
	switch req.Kind {
	case RequestActivate:
		if a := r.find(req.Ability); a != nil && a.activating && req.Key != 0 && a.key == req.Key {
			return true
		}
		if r.tryActivate(req.Ability, req.Key) {
			return true
		}
		r.metrics.AbilityActivation(req.Ability, metrics.ResultRejected)
		r.log.Debug("predicted activation rejected", "ability", req.Ability, "actor", r.owner, "key", req.Key)
		for _, fn := range r.onRejected {
			fn(req.Ability, req.Key)
		}
		return false
	case RequestEnd:
		return r.End(req.Ability)
	case RequestCancel:
		return r.Cancel(req.Ability)
	default:
		return false
	}
}

// Rollback cancels a predicted activation the authority refused. Stale keys
// are ignored. Mirrors only.
func (r *Registry) Rollback(id string, key PredictionKey) bool {
	if r.hasAuthority() {
		return false
	}
	a := r.find(id)
	if a == nil || !a.activating || !a.predicted || a.key != key {
		return false
	}
	r.log.Debug("predicted activation rolled back", "ability", id, "actor", r.owner, "key", key)
	return r.end(a, true, false)
}

// ApplyState mirrors an activation state change replicated from the
// authority. A confirmation of a local prediction is a no-op.
func (r *Registry) ApplyState(id string, activating, canceled bool, key PredictionKey) bool {
	if r.hasAuthority() {
		return false
	}
	a := r.find(id)
	if a == nil {
		return false
	}
	if activating {
		if a.activating {
			return false
		}
		a.key = key
		a.predicted = false
		r.activate(a, false)
		return true
	}
	// An end for an older activation must not stop a newer prediction.
	if a.predicted && key != 0 && a.key != key {
		return false
	}
	return r.end(a, canceled, false)
}
