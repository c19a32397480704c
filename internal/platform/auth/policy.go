package auth

import (
	"github.com/google/uuid"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

type Role string

const (
	RoleDirector  Role = "MEDICAL_DIRECTOR"
	RoleParamedic Role = "PARAMEDIC"
)

func (r Role) Valid() bool {
	return r == RoleDirector || r == RoleParamedic
}

// Actor is the authenticated caller.
type Actor struct {
	ID    uuid.UUID
	Role  Role
	Name  string
	Email string
}

func (a Actor) IsDirector() bool  { return a.Role == RoleDirector }
func (a Actor) IsParamedic() bool { return a.Role == RoleParamedic }

type Action string

const (
	ActionCreateCase    Action = "case:create"
	ActionListCases     Action = "case:list"
	ActionViewCase      Action = "case:view"
	ActionAssignCase    Action = "case:assign"
	ActionUpdateStatus  Action = "case:update_status"
	ActionAddNote       Action = "case:add_note"
	ActionCompleteCase  Action = "case:complete"
	ActionViewStats     Action = "case:stats"
	ActionExportCases   Action = "case:export"
	ActionViewOwnCases  Action = "paramedic:own_cases"
	ActionUpdateProfile Action = "paramedic:update_profile"
	ActionManageUsers   Action = "user:manage"
)

// Resource describes the object an action targets. AssigneeID is the
// paramedic assigned to a case; OwnerID is the user a profile belongs to.
// Either may be uuid.Nil.
type Resource struct {
	AssigneeID uuid.UUID
	OwnerID    uuid.UUID
}

// rule decides whether actor may act on res.
type rule func(actor Actor, res Resource) bool

func directorOnly(a Actor, _ Resource) bool { return a.IsDirector() }

func paramedicOnly(a Actor, _ Resource) bool { return a.IsParamedic() }

func anyUser(a Actor, _ Resource) bool { return a.Role.Valid() }

func directorOrAssignee(a Actor, res Resource) bool {
	if a.IsDirector() {
		return true
	}
	return a.IsParamedic() && res.AssigneeID != uuid.Nil && res.AssigneeID == a.ID
}

func selfParamedic(a Actor, res Resource) bool {
	return a.IsParamedic() && res.OwnerID == a.ID
}

var policy = map[Action]rule{
	ActionCreateCase:    directorOnly,
	ActionListCases:     anyUser,
	ActionViewCase:      directorOrAssignee,
	ActionAssignCase:    directorOnly,
	ActionUpdateStatus:  directorOrAssignee,
	ActionAddNote:       directorOrAssignee,
	ActionCompleteCase:  directorOrAssignee,
	ActionViewStats:     directorOnly,
	ActionExportCases:   directorOnly,
	ActionViewOwnCases:  paramedicOnly,
	ActionUpdateProfile: selfParamedic,
	ActionManageUsers:   directorOnly,
}

// Authorize returns an Unauthorized error unless actor may perform action
// on res. Unknown actions are denied.
func Authorize(actor Actor, action Action, res Resource) error {
	allow, ok := policy[action]
	if !ok || !allow(actor, res) {
		return apperr.Unauthorized("not authorized to perform %s", action)
	}
	return nil
}
