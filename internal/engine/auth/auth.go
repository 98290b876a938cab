package auth

import (
	"fmt"
	"strings"

	"usrtaskmgt/internal/domain"
)

// System roles recognised by the task routes.
const (
	RoleOfficer = "officer"
	RoleCitizen = "citizen"
)

// SystemRoles lists every role allowed to use the generic task routes.
var SystemRoles = []string{RoleOfficer, RoleCitizen}

// ForbiddenError indicates a missing role.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// RequireRole fails unless id carries role.
func RequireRole(id domain.Identity, role string) error {
	if id.HasRole(role) {
		return nil
	}
	return ForbiddenError{Role: role}
}

// RequireAnyRole fails unless id carries at least one of roles.
func RequireAnyRole(id domain.Identity, roles ...string) error {
	for _, r := range roles {
		if id.HasRole(r) {
			return nil
		}
	}
	return ForbiddenError{Role: strings.Join(roles, "|")}
}
