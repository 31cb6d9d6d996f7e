package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrSessionEnded is reported when the held token is no longer active.
var ErrSessionEnded = errors.New("session: ended elsewhere")

// DefaultHeartbeatInterval is how often a client re-checks its token.
const DefaultHeartbeatInterval = 30 * time.Second

// Lister fetches the full list of session records.
type Lister interface {
	Sessions(ctx context.Context) ([]Session, error)
}

// Heartbeat polls the session list on a fixed interval and forces a logout
// once the held token is no longer active. Revocation is therefore seen
// within one interval, not instantly.
type Heartbeat struct {
	lister   Lister
	token    string
	interval time.Duration
	onEnd    func(error)
	logger   *slog.Logger
}

// NewHeartbeat constructs a Heartbeat for token. onEnd runs once, with
// ErrSessionEnded, when the session is gone.
func NewHeartbeat(lister Lister, token string, interval time.Duration, onEnd func(error), logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onEnd == nil {
		onEnd = func(error) {}
	}
	return &Heartbeat{lister: lister, token: token, interval: interval, onEnd: onEnd, logger: logger}
}

// Check reports whether an active record holds the token.
func (h *Heartbeat) Check(ctx context.Context) (bool, error) {
	sessions, err := h.lister.Sessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.Token == h.token && s.Active() {
			return true, nil
		}
	}
	return false, nil
}

// Run ticks until the context is cancelled or the session ends. It returns
// ErrSessionEnded after invoking the callback, or the context error.
// Failed checks are logged and retried on the next tick.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			active, err := h.Check(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Warn("session heartbeat", slog.Any("error", err))
				continue
			}
			if !active {
				h.onEnd(ErrSessionEnded)
				return ErrSessionEnded
			}
		}
	}
}
