package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// Store is the part of the records gateway sessions are kept through.
type Store interface {
	Get(ctx context.Context, entityType, id string) ([]records.Record, error)
	FindBy(ctx context.Context, entityType, field, value string) ([]records.Record, error)
	Save(ctx context.Context, entityType string, fields map[string]any, explicitID string) (records.SaveResult, error)
}

// Manager drives the server side of the session lifecycle.
type Manager struct {
	store  Store
	cache  *TokenCache
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewManager constructs a Manager. cache may be nil.
func NewManager(store Store, cache *TokenCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, cache: cache, logger: logger, now: time.Now}
}

// Login checks credentials and opens a new active session. Any failure to
// match an account yields shared.ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, shared.ErrInvalidCredentials
	}
	accounts, err := m.store.FindBy(ctx, UsersType, "username", username)
	if err != nil {
		return Session{}, fmt.Errorf("session: find account: %w", err)
	}
	if len(accounts) == 0 {
		return Session{}, shared.ErrInvalidCredentials
	}
	account := accounts[0]
	if err := bcrypt.CompareHashAndPassword([]byte(account.Value("password")), []byte(password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}

	grants, err := rbac.ParseGrants(account.Value("permissions"))
	if err != nil {
		m.logger.Warn("ignoring unreadable grants", slog.String("username", username), slog.Any("error", err))
		grants = nil
	}
	now := m.now().UTC()
	snap := Snapshot{
		Token:    NewToken(now),
		Username: account.Value("username"),
		Role:     account.Value("role"),
		Nama:     account.Value("nama"),
		Grants:   grants,
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return Session{}, err
	}
	res, err := m.store.Save(ctx, EntityType, map[string]any{
		"token":      snap.Token,
		"username":   snap.Username,
		"role":       snap.Role,
		"snapshot":   string(encoded),
		"status":     StatusActive,
		"created_at": now.Format(time.RFC3339Nano),
	}, "")
	if err != nil {
		return Session{}, fmt.Errorf("session: persist: %w", err)
	}
	if err := m.cache.Set(ctx, snap); err != nil {
		m.logger.Warn("cache session", slog.Any("error", err))
	}
	return Session{
		ID:        res.ID,
		Token:     snap.Token,
		Username:  snap.Username,
		Role:      snap.Role,
		Status:    StatusActive,
		CreatedAt: now,
		User:      snap,
	}, nil
}

// Logout revokes the caller's own token. Unknown or already revoked tokens
// are not an error.
func (m *Manager) Logout(ctx context.Context, token string) error {
	_, err := m.revoke(ctx, token)
	return err
}

// Revoke ends any session by token. It reports shared.ErrNotFound when no
// record carries the token.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	found, err := m.revoke(ctx, token)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session: revoke: %w", shared.ErrNotFound)
	}
	return nil
}

func (m *Manager) revoke(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	recs, err := m.store.FindBy(ctx, EntityType, "token", token)
	if err != nil {
		return false, fmt.Errorf("session: find: %w", err)
	}
	if len(recs) == 0 {
		return false, nil
	}
	// marker dulu, baru status; lookup yang sedang berjalan tidak bisa
	// mengisi cache lagi
	if err := m.cache.MarkRevoked(ctx, token); err != nil {
		m.logger.Warn("mark session revoked", slog.Any("error", err))
	}
	for _, rec := range recs {
		if !strings.EqualFold(rec.Value("status"), StatusActive) {
			continue
		}
		if err := m.markRevoked(ctx, rec.ID); err != nil {
			return true, err
		}
	}
	if err := m.cache.Delete(ctx, token); err != nil {
		m.logger.Warn("evict session", slog.Any("error", err))
	}
	return true, nil
}

func (m *Manager) markRevoked(ctx context.Context, id int64) error {
	_, err := m.store.Save(ctx, EntityType, map[string]any{"status": StatusRevoked}, strconv.FormatInt(id, 10))
	if err != nil {
		return fmt.Errorf("session: revoke %d: %w", id, err)
	}
	return nil
}

// List returns every session record, newest first. Unreadable records are
// logged and skipped.
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	recs, err := m.store.Get(ctx, EntityType, "")
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		sess, err := fromRecord(rec)
		if err != nil {
			m.logger.Warn("skip session record", slog.Int64("id", rec.ID), slog.Any("error", err))
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Lookup returns the snapshot of an active token, or
// shared.ErrSessionNotActive. Concurrent lookups of one token share a
// single database read.
func (m *Manager) Lookup(ctx context.Context, token string) (*Snapshot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, shared.ErrSessionNotActive
	}
	if snap, ok, err := m.cache.Get(ctx, token); err != nil {
		m.logger.Warn("read session cache", slog.Any("error", err))
	} else if ok {
		return snap, nil
	}

	v, err, _ := m.group.Do(token, func() (any, error) {
		recs, err := m.store.FindBy(ctx, EntityType, "token", token)
		if err != nil {
			return nil, fmt.Errorf("session: lookup: %w", err)
		}
		for _, rec := range recs {
			sess, err := fromRecord(rec)
			if err != nil || !sess.Active() {
				continue
			}
			snap := sess.User
			if err := m.cache.Set(ctx, snap); errors.Is(err, errTokenRevoked) {
				return nil, shared.ErrSessionNotActive
			} else if err != nil {
				m.logger.Warn("cache session", slog.Any("error", err))
			}
			return &snap, nil
		}
		return nil, shared.ErrSessionNotActive
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// ExpireOlderThan revokes active sessions created more than ttl ago and
// returns how many were revoked.
func (m *Manager) ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	sessions, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-ttl)
	var (
		expired int
		errs    []error
	)
	for _, sess := range sessions {
		if !sess.Active() || sess.CreatedAt.IsZero() || sess.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.cache.MarkRevoked(ctx, sess.Token); err != nil {
			m.logger.Warn("mark session revoked", slog.Any("error", err))
		}
		if err := m.markRevoked(ctx, sess.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}
