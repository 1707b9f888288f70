// Package authorization answers role-permission questions. Permission
// denials are distinct from entitlement denials: the former depend on who
// the user is, the latter on what the tenant pays for.
package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("permission_denied")
)

// Service checks whether an actor may perform an action on an object
// inside a tenant.
type Service interface {
	Authorize(ctx context.Context, actor, tenantID, object, action string) error
}
