/*
Package authz provides capability-set authorization checks.

PURPOSE:
  The engine treats authentication as external; what arrives here is an
  Actor with a granted permission set. Operations gate themselves with
  Require(actor, permission) before touching the ledger. Permission strings
  follow the "resource:action" convention.

USAGE:
  actor := authz.Actor{ID: "admin-1", Permissions: authz.NewSet(authz.PermPaymentsCreate)}
  if err := authz.Require(actor, authz.PermOutgoingApprove); err != nil {
      return err // wraps ledger.ErrUnauthorized
  }

SEE ALSO:
  - payments/admission.go, treasury/outgoing.go: Call sites
*/
package authz

import (
	"context"
	"fmt"

	"github.com/HogrHonar/dormitory-ledger/ledger"
)

// =============================================================================
// PERMISSIONS
// =============================================================================

type Permission string

const (
	PermPaymentsCreate  Permission = "payments:create"
	PermOutgoingCreate  Permission = "outgoing:create"
	PermOutgoingApprove Permission = "outgoing:approve" // also covers reject
	PermOutgoingDelete  Permission = "outgoing:delete"
	PermInsuranceManage Permission = "insurance:manage"
	PermExpensesCreate  Permission = "expenses:create"
	PermCatalogManage   Permission = "catalog:manage"
)

// Set is a granted capability set.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// AllPermissions returns a set granting everything. For dev and tests.
func AllPermissions() Set {
	return NewSet(
		PermPaymentsCreate,
		PermOutgoingCreate,
		PermOutgoingApprove,
		PermOutgoingDelete,
		PermInsuranceManage,
		PermExpensesCreate,
		PermCatalogManage,
	)
}

// =============================================================================
// ACTOR
// =============================================================================

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID          string
	Permissions Set
}

// Require fails with ledger.ErrUnauthorized unless the actor holds the
// permission.
func Require(actor Actor, p Permission) error {
	if actor.Permissions.Has(p) {
		return nil
	}
	return fmt.Errorf("actor %q lacks %q: %w", actor.ID, p, ledger.ErrUnauthorized)
}

// =============================================================================
// CONTEXT PLUMBING
// =============================================================================

type ctxKey struct{}

// WithActor attaches the actor to the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the actor from the context, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	return actor, ok
}
