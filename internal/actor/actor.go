// Package actor holds the identity and network role of a gameplay actor.
//
// The ability core never looks inside an actor: modifiers, effects and
// abilities only need an identity to compare and a role to gate mutations.
package actor

// ID is an opaque actor identity. Only equality is meaningful.
type ID string

// IsValid reports whether the identity is set.
func (id ID) IsValid() bool { return id != "" }

// Role describes which copy of an actor's state this process holds.
type Role int8

const (
	// RoleAuthority is the single copy allowed to perform canonical mutations.
	RoleAuthority Role = iota
	// RoleAutonomousProxy is a locally controlled mirror that predicts.
	RoleAutonomousProxy
	// RoleSimulatedProxy is a passive mirror of remote state.
	RoleSimulatedProxy
)

// String returns the role name used in logs.
func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleAutonomousProxy:
		return "autonomous_proxy"
	case RoleSimulatedProxy:
		return "simulated_proxy"
	default:
		return "unknown"
	}
}

// Roler is consumed by every registry to gate mutating entry points.
type Roler interface {
	HasAuthority() bool
	IsLocallyControlled() bool
}

// Actor couples an identity with its role. The role may change at runtime,
// for example when the host hands authority over after a migration.
type Actor struct {
	id   ID
	role Role
}

// New creates an actor with the given identity and role.
func New(id ID, role Role) *Actor {
	return &Actor{id: id, role: role}
}

// ID returns the actor identity.
func (a *Actor) ID() ID { return a.id }

// Role returns the current role.
func (a *Actor) Role() Role { return a.role }

// SetRole switches the role.
func (a *Actor) SetRole(r Role) { a.role = r }

// HasAuthority reports whether this copy may mutate canonical state.
func (a *Actor) HasAuthority() bool { return a.role == RoleAuthority }

// IsLocallyControlled reports whether input for this actor originates here.
// The authority counts as locally controlled when it has no remote owner.
func (a *Actor) IsLocallyControlled() bool {
	return a.role == RoleAuthority || a.role == RoleAutonomousProxy
}
