package system

import "github.com/udisondev/abilitycore/internal/tag"

// TriggerKind is the phase of a discrete input trigger.
type TriggerKind uint8

const (
	TriggerStarted TriggerKind = iota + 1
	TriggerOngoing
	TriggerTriggered
	TriggerCanceled
	TriggerCompleted
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerStarted:
		return "started"
	case TriggerOngoing:
		return "ongoing"
	case TriggerTriggered:
		return "triggered"
	case TriggerCanceled:
		return "canceled"
	case TriggerCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Trigger is a named input bound to an ability.
type Trigger struct {
	Kind    TriggerKind
	Ability string
}

// HandleTrigger turns an input trigger into an ability call. Ongoing keeps
// the current activation and reports whether one is running.
func (s *System) HandleTrigger(t Trigger) bool {
	switch t.Kind {
	case TriggerStarted, TriggerTriggered:
		return s.abilities.TryActivate(t.Ability)
	case TriggerOngoing:
		a, ok := s.abilities.Granted(t.Ability)
		return ok && a.IsActivating()
	case TriggerCanceled:
		return s.abilities.Cancel(t.Ability)
	case TriggerCompleted:
		return s.abilities.End(t.Ability)
	default:
		s.log.Debug("unknown trigger", "kind", t.Kind, "ability", t.Ability)
		return false
	}
}

// HandleEvent activates every granted ability whose asset tags match event.
// Returns the number activated.
func (s *System) HandleEvent(event tag.Tag) int {
	n := 0
	for _, a := range s.abilities.GrantedAbilities() {
		if a.Spec().AssetTags.HasTag(event) && s.abilities.TryActivate(a.ID()) {
			n++
		}
	}
	return n
}
