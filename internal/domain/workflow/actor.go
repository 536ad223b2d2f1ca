package workflow

import "context"

type actorKey struct{}

// WithActor stores the role the caller is acting as
func WithActor(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, actorKey{}, role)
}

// ActorFrom returns the acting role stored by WithActor
func ActorFrom(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(actorKey{}).(Role)
	return role, ok
}

// RequireRole passes only when the acting role matches
func RequireRole(role Role) GuardFunc {
	return func(ctx context.Context) bool {
		actor, ok := ActorFrom(ctx)
		return ok && actor == role
	}
}
