package identity

// ProfileRole is the application role attached to a profile.
type ProfileRole = string

const (
	// RolePublic is a regular household user scheduling pickups.
	RolePublic ProfileRole = "PUBLIC"
	// RoleCollector picks up and transports e-waste.
	RoleCollector ProfileRole = "COLLECTOR"
	// RoleRecyclingCenter operates a drop-off/processing facility.
	RoleRecyclingCenter ProfileRole = "RECYCLING_CENTER"
	// RoleAdmin administers the marketplace.
	RoleAdmin ProfileRole = "ADMIN"
)

// ParseRole validates a raw role string and reports whether it is known.
func ParseRole(raw string) (ProfileRole, bool) {
	switch raw {
	case RolePublic, RoleCollector, RoleRecyclingCenter, RoleAdmin:
		return raw, true
	default:
		return "", false
	}
}

// IsValidRole checks if the role is one of the predefined valid roles.
func IsValidRole(role ProfileRole) bool {
	_, ok := ParseRole(role)
	return ok
}

// RequiresApproval reports whether profiles with this role start in
// pending_approval rather than active.
func RequiresApproval(role ProfileRole) bool {
	switch role {
	case RoleCollector, RoleRecyclingCenter:
		return true
	default:
		return false
	}
}

// Elevated reports whether the role grants more than household access.
// Automatic reconciliation never invents a profile with an elevated role.
func Elevated(role ProfileRole) bool {
	return role != "" && role != RolePublic
}
