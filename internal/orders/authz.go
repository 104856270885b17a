package orders

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// Actor is the authenticated caller, resolved upstream.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type Action string

const (
	ActionViewOrder    Action = "order:view"
	ActionCancelOrder  Action = "order:cancel"
	ActionUpdateStatus Action = "order:update_status"
	ActionListOrders   Action = "order:list_all"
	ActionViewStats    Action = "stats:view"
	ActionPayOrder     Action = "payment:checkout"
)

// Authorizer decides whether actor may perform action on a resource owned by ownerID.
// An empty ownerID means the resource has no owner (collection-level action).
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, ownerID string, action Action) error
}

// RoleAuthorizer: admins may do anything; owners may act on their own
// resources unless the action is admin-only.
type RoleAuthorizer struct {
	AdminOnly map[Action]bool
}

func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{AdminOnly: map[Action]bool{
		ActionUpdateStatus: true,
		ActionListOrders:   true,
		ActionViewStats:    true,
	}}
}

func (a *RoleAuthorizer) Authorize(_ context.Context, actor Actor, ownerID string, action Action) error {
	if actor.UserID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	if actor.IsAdmin() {
		return nil
	}
	if a.AdminOnly[action] {
		return fmt.Errorf("%w: %s requires admin", ErrForbidden, action)
	}
	if ownerID == "" || ownerID != actor.UserID {
		return ErrForbidden
	}
	return nil
}
