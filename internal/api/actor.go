package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// Request headers carrying identity.
const (
	TokenHeader         = "X-Session-Token"
	ActorUsernameHeader = "X-Actor-Username"
	ActorRoleHeader     = "X-Actor-Role"
)

var errMissingPath = errors.New("path is required")

// TokenLookup resolves a session token to its snapshot.
type TokenLookup interface {
	Lookup(ctx context.Context, token string) (*session.Snapshot, error)
}

// ActorMiddleware places the caller's identity on the request context. A
// valid session token wins; otherwise the actor headers are used as given.
// Requests are never rejected here.
func ActorMiddleware(lookup TokenLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := shared.Actor{
				Username: strings.TrimSpace(r.Header.Get(ActorUsernameHeader)),
				Role:     strings.TrimSpace(r.Header.Get(ActorRoleHeader)),
				Address:  clientAddress(r),
			}
			if token := requestToken(r); token != "" && lookup != nil {
				snap, err := lookup.Lookup(ctx, token)
				switch {
				case err == nil:
					actor.Username = snap.Username
					actor.Role = snap.Role
					ctx = session.ContextWithUser(ctx, snap)
				case errors.Is(err, shared.ErrSessionNotActive):
				default:
					logger.Warn("session lookup failed", slog.Any("error", err))
				}
			}
			ctx = shared.ContextWithActor(ctx, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientAddress(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
