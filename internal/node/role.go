package node

// Role is the finite-state-machine state of a node with respect to the hub.
type Role int32

const (
	// RoleIdle is the initial state, and the state a crashed hub is reset to.
	RoleIdle Role = iota
	// RoleSeeking means the node is looking for a hub or trying to become one.
	RoleSeeking
	// RoleConnectedToHub means the node holds a connection record to the hub.
	RoleConnectedToHub
	// RoleIsHub means the node holds the reserved identity and relays traffic.
	RoleIsHub
)

// IsConnected returns true when the node has a path to the rest of the overlay.
func (r Role) IsConnected() bool {
	return r == RoleConnectedToHub || r == RoleIsHub
}

// IsOrphan returns true when the node is neither the hub nor attached to it.
func (r Role) IsOrphan() bool {
	return r == RoleIdle || r == RoleSeeking
}

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RoleSeeking:
		return "seeking"
	case RoleConnectedToHub:
		return "connected"
	case RoleIsHub:
		return "hub"
	default:
		return "unknown"
	}
}
