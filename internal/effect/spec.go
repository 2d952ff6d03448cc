package effect

import (
	"fmt"
	"time"

	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/tag"
)

// DurationPolicy decides whether an effect persists.
type DurationPolicy int8

const (
	DurationInstant DurationPolicy = iota
	DurationInfinite
	DurationHasDuration
)

// StackingPolicy decides whether re-application adds stacks.
type StackingPolicy int8

const (
	StackingNone StackingPolicy = iota
	StackingNoLimit
	StackingHasLimit
)

// StackExpirationPolicy decides what the duration timer does to a stacked effect.
type StackExpirationPolicy int8

const (
	// ExpireClearEntireStack removes the effect with all its stacks.
	ExpireClearEntireStack StackExpirationPolicy = iota
	// ExpireRemoveSingleStack drops one stack and restarts the duration.
	ExpireRemoveSingleStack
	// ExpireRefreshDuration restarts the duration; stacks only leave by removal.
	ExpireRefreshDuration
)

// InstigatorPolicy decides how applications from several instigators share instances.
type InstigatorPolicy int8

const (
	// InstigatorsApplyTheirOwnOnly gives every instigator one instance of its own.
	InstigatorsApplyTheirOwnOnly InstigatorPolicy = iota
	// InstigatorsShareOne folds every instigator into a single instance.
	InstigatorsShareOne
	// InstigatorsApplyTheirOwnMulti spawns a new instance on every application.
	InstigatorsApplyTheirOwnMulti
)

var (
	durationNames   = []string{"Instant", "Infinite", "HasDuration"}
	stackingNames   = []string{"None", "StackNoLimit", "StackHasLimit"}
	expirationNames = []string{"ClearEntireStack", "RemoveSingleStackAndRefreshDuration", "RefreshDuration"}
	instigatorNames = []string{"InstigatorsApplyTheirOwnOnly", "InstigatorsShareOne", "InstigatorsApplyTheirOwnMulti"}
)

func (p DurationPolicy) String() string        { return enumName(durationNames, int(p)) }
func (p StackingPolicy) String() string        { return enumName(stackingNames, int(p)) }
func (p StackExpirationPolicy) String() string { return enumName(expirationNames, int(p)) }
func (p InstigatorPolicy) String() string      { return enumName(instigatorNames, int(p)) }

// ParseDurationPolicy resolves a policy name.
func ParseDurationPolicy(s string) (DurationPolicy, error) {
	i, err := parseEnum("duration policy", durationNames, s)
	return DurationPolicy(i), err
}

// ParseStackingPolicy resolves a policy name.
func ParseStackingPolicy(s string) (StackingPolicy, error) {
	i, err := parseEnum("stacking policy", stackingNames, s)
	return StackingPolicy(i), err
}

// ParseStackExpirationPolicy resolves a policy name.
func ParseStackExpirationPolicy(s string) (StackExpirationPolicy, error) {
	i, err := parseEnum("stack expiration policy", expirationNames, s)
	return StackExpirationPolicy(i), err
}

// ParseInstigatorPolicy resolves a policy name.
func ParseInstigatorPolicy(s string) (InstigatorPolicy, error) {
	i, err := parseEnum("instigator policy", instigatorNames, s)
	return InstigatorPolicy(i), err
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("unknown(%d)", i)
	}
	return names[i]
}

// parseEnum maps an empty string to the zero value.
func parseEnum(kind string, names []string, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

// ModifierSpec is one attribute modification carried by an effect.
type ModifierSpec struct {
	Attribute attribute.Type
	Operator  attribute.Operator
	Value     float64
}

// Stacking configures re-application behaviour.
type Stacking struct {
	Policy          StackingPolicy
	Limit           int
	DenyOnOverflow  bool
	ClearOnOverflow bool
	OverflowEffects []string
	Expiration      StackExpirationPolicy

	RefreshDurationOnStacking bool
	ResetPeriodOnStacking     bool
}

// Tags groups the tag sets an effect reads and writes.
type Tags struct {
	// Asset describes the effect itself.
	Asset tag.Container
	// Granted is added to the target's ledger while the effect is active.
	Granted tag.Container

	ApplicationRequired tag.Container
	ApplicationBlocked  tag.Container
	OngoingRequired     tag.Container
	OngoingBlocked      tag.Container

	// BlockEffects blocks application of effects whose asset tags match while active.
	BlockEffects tag.Container
	// RemoveEffects removes active effects whose asset tags match on application.
	RemoveEffects tag.Container
}

// Spec is an immutable effect definition shared by all its instances.
type Spec struct {
	ID               string
	DurationPolicy   DurationPolicy
	Duration         time.Duration
	Period           time.Duration
	Stacking         Stacking
	Modifiers        []ModifierSpec
	Tags             Tags
	InstigatorPolicy InstigatorPolicy
}

// IsInstant reports whether the effect executes once and leaves no instance.
func (s *Spec) IsInstant() bool { return s.DurationPolicy == DurationInstant }

// IsPeriodic reports whether a persistent effect executes on an interval.
func (s *Spec) IsPeriodic() bool { return !s.IsInstant() && s.Period > 0 }

// IsStacking reports whether re-application adds stacks.
func (s *Spec) IsStacking() bool { return s.Stacking.Policy != StackingNone }

// HasStackLimit reports whether stacks are bounded.
func (s *Spec) HasStackLimit() bool {
	return s.Stacking.Policy == StackingHasLimit && s.Stacking.Limit > 0
}

// clampStacks bounds n to [0, limit] for limited stacking.
func (s *Spec) clampStacks(n int) int {
	if n < 0 {
		return 0
	}
	if s.HasStackLimit() && n > s.Stacking.Limit {
		return s.Stacking.Limit
	}
	return n
}

// refreshesOnStacking reports whether re-application may restart timers at all.
// Refreshing a stack that expires as a whole would be meaningless.
func (s *Spec) refreshesOnStacking() bool {
	return !(s.IsStacking() && s.Stacking.Expiration == ExpireClearEntireStack)
}

// Validate reports definition errors that would make the effect misbehave.
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("effect without id")
	}
	if s.DurationPolicy == DurationHasDuration && s.Duration <= 0 {
		return fmt.Errorf("effect %s: HasDuration requires a positive duration", s.ID)
	}
	if s.Stacking.Policy == StackingHasLimit && s.Stacking.Limit <= 0 {
		return fmt.Errorf("effect %s: StackHasLimit requires a positive limit", s.ID)
	}
	if s.IsInstant() && s.Period > 0 {
		return fmt.Errorf("effect %s: instant effects cannot be periodic", s.ID)
	}
	for i, m := range s.Modifiers {
		if m.Attribute == "" {
			return fmt.Errorf("effect %s: modifier %d has no attribute", s.ID, i)
		}
		if !m.Operator.IsValid() {
			return fmt.Errorf("effect %s: modifier %d has invalid operator", s.ID, i)
		}
	}
	return nil
}
