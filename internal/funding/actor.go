package funding

import (
	"strings"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

// Permission names a capability checked by registry operations.
type Permission string

const (
	PermProjectCreate   Permission = "project:create"
	PermProjectApprove  Permission = "project:approve"
	PermProjectComplete Permission = "project:complete"
	PermProjectCancel   Permission = "project:cancel"
	PermProjectManage   Permission = "project:manage"
	PermClaimSubmit     Permission = "claim:submit"
	PermClaimDecide     Permission = "claim:decide"
)

var rolePermissions = map[models.UserRole][]Permission{
	models.RoleAdmin: {
		PermProjectCreate, PermProjectApprove, PermProjectComplete, PermProjectCancel,
		PermProjectManage, PermClaimSubmit, PermClaimDecide,
	},
	models.RoleNGO:        {PermProjectCreate},
	models.RolePresident:  {PermProjectApprove, PermProjectComplete, PermProjectCancel, PermClaimDecide},
	models.RoleContractor: {PermClaimSubmit},
	models.RoleViewer:     {},
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	ID   string
	Role models.UserRole
}

// NewActor builds an actor, normalising the role to upper case.
func NewActor(id string, role models.UserRole) Actor {
	return Actor{ID: strings.TrimSpace(id), Role: models.UserRole(strings.ToUpper(string(role)))}
}

// Can reports whether the actor's role grants perm.
func (a Actor) Can(perm Permission) bool {
	for _, granted := range rolePermissions[a.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// Permissions lists what the actor's role grants.
func (a Actor) Permissions() []Permission {
	return append([]Permission(nil), rolePermissions[a.Role]...)
}

func (a Actor) authenticated() error {
	if a.ID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "actor identity is required")
	}
	if _, ok := rolePermissions[a.Role]; !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
	return nil
}

func (a Actor) require(perm Permission) error {
	if err := a.authenticated(); err != nil {
		return err
	}
	if !a.Can(perm) {
		return appErrors.Clone(appErrors.ErrForbidden, "role "+string(a.Role)+" lacks "+string(perm))
	}
	return nil
}

// requireOwnerOr admits the project creator or anyone holding perm.
func (a Actor) requireOwnerOr(project models.Project, perm Permission) error {
	if err := a.authenticated(); err != nil {
		return err
	}
	if a.ID == project.CreatedBy || a.Can(perm) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the project owner or an authorised role may do this")
}
