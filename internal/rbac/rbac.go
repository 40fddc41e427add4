package rbac

import "ecoroster/console/internal/auth"

type Role string
type Action string

const (
	RoleNone  Role = "none"
	RoleAdmin Role = "admin"
)

const (
	ActionView    Action = "view"
	ActionApprove Action = "approve"
	ActionRemove  Action = "remove"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionView || action == ActionApprove || action == ActionRemove
	default:
		return false
	}
}

// RoleOf derives the console role of an identity from the admin domain.
func RoleOf(id *auth.Identity, adminDomain string) Role {
	if auth.IsAdmin(id, adminDomain) {
		return RoleAdmin
	}
	return RoleNone
}
