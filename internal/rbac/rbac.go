// Package rbac decides which actors may act on a mod request.
package rbac

import (
	"fmt"
	"strings"
)

type Role string
type Action string

const (
	RoleAnyone  Role = "anyone"
	RoleCreator Role = "creator"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleAuthor  Role = "author"
)

const (
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
	ActionComment       Action = "comment"
	ActionDeleteComment Action = "delete_comment"
)

// Can reports whether holders of role may perform action. There is no
// hierarchy: a role only grants what is listed for it.
func Can(role Role, action Action) bool {
	switch action {
	case ActionCreate, ActionRead:
		return true
	case ActionEdit:
		return role == RoleCreator
	case ActionDelete:
		return role == RoleCreator || role == RoleAdmin
	case ActionComment:
		return role == RoleCreator || role == RoleManager || role == RoleAdmin
	case ActionDeleteComment:
		return role == RoleAuthor || role == RoleAdmin
	default:
		return false
	}
}

// Roles is the static manager/admin configuration.
type Roles struct {
	Managers []string
	Admins   []string
}

// Subject describes what an action targets. CommentAuthor is only set for
// comment deletion.
type Subject struct {
	Creator       string
	CommentAuthor string
}

type Decision struct {
	Allowed bool
	Reason  string
}

// Policy evaluates Can against the roles an actor holds for a subject. It is
// immutable after construction and safe for concurrent use.
type Policy struct {
	managers     map[string]struct{}
	admins       map[string]struct{}
	managerOrder []string
	adminOrder   []string
}

func NewPolicy(roles Roles) *Policy {
	p := &Policy{
		managers: make(map[string]struct{}),
		admins:   make(map[string]struct{}),
	}
	p.managerOrder = addAll(p.managers, roles.Managers)
	p.adminOrder = addAll(p.admins, roles.Admins)
	return p
}

func addAll(set map[string]struct{}, ids []string) []string {
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		ordered = append(ordered, id)
	}
	return ordered
}

func (p *Policy) IsManager(actor string) bool {
	_, ok := p.managers[actor]
	return ok
}

func (p *Policy) IsAdmin(actor string) bool {
	_, ok := p.admins[actor]
	return ok
}

// Managers returns the configured manager ids in configuration order.
func (p *Policy) Managers() []string {
	return append([]string(nil), p.managerOrder...)
}

// Admins returns the configured admin ids in configuration order.
func (p *Policy) Admins() []string {
	return append([]string(nil), p.adminOrder...)
}

// RolesOf lists every role actor holds with respect to subject.
func (p *Policy) RolesOf(actor string, subject Subject) []Role {
	roles := []Role{RoleAnyone}
	if actor == "" {
		return roles
	}
	if actor == subject.Creator {
		roles = append(roles, RoleCreator)
	}
	if subject.CommentAuthor != "" && actor == subject.CommentAuthor {
		roles = append(roles, RoleAuthor)
	}
	if p.IsManager(actor) {
		roles = append(roles, RoleManager)
	}
	if p.IsAdmin(actor) {
		roles = append(roles, RoleAdmin)
	}
	return roles
}

func (p *Policy) Decide(actor string, subject Subject, action Action) Decision {
	for _, role := range p.RolesOf(actor, subject) {
		if Can(role, action) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: denialReason(action)}
}

func denialReason(action Action) string {
	switch action {
	case ActionEdit:
		return "only the creator can edit this request"
	case ActionDelete:
		return "only the creator or an admin can delete this request"
	case ActionComment:
		return "only the creator, a manager or an admin can comment on this request"
	case ActionDeleteComment:
		return "only the comment author or an admin can delete this comment"
	default:
		return fmt.Sprintf("action %q is not allowed", action)
	}
}
