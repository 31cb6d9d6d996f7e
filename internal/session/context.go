package session

import "context"

type contextKey struct{}

// ContextWithUser stores the signed-in snapshot.
func ContextWithUser(ctx context.Context, snap *Snapshot) context.Context {
	return context.WithValue(ctx, contextKey{}, snap)
}

// UserFromContext returns the signed-in snapshot, or nil.
func UserFromContext(ctx context.Context) *Snapshot {
	snap, _ := ctx.Value(contextKey{}).(*Snapshot)
	return snap
}
