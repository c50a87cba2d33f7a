package types

import (
	"context"
)

// Role identifies which side of the milestone workflow an actor is on.
type Role string

const (
	// RoleFarmer is the producing role: it advances milestones up to submission.
	RoleFarmer Role = "farmer"
	// RoleAdmin is the reviewing role: it verifies, rejects or skips milestones.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleAdmin
}

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
