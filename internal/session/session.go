// Package session issues opaque login tokens, keeps one record per token in
// the sessions entity table and answers whether a token is still active.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/records"
)

const (
	// EntityType is the registry entry holding session records.
	EntityType = "sessions"
	// UsersType is the registry entry holding accounts.
	UsersType = "users"

	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Snapshot is the user as seen at login, enriched with the token.
type Snapshot struct {
	Token    string       `json:"token"`
	Username string       `json:"username"`
	Role     string       `json:"role"`
	Nama     string       `json:"nama,omitempty"`
	Grants   []rbac.Grant `json:"permissions,omitempty"`
}

// User converts the snapshot into a permission subject.
func (s Snapshot) User() rbac.UserRecord {
	return rbac.UserRecord{Username: s.Username, Role: s.Role, Grants: s.Grants}
}

// Session is one stored login.
type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	User      Snapshot  `json:"user"`
}

// Active reports whether the session has not been revoked.
func (s Session) Active() bool { return s.Status == StatusActive }

func fromRecord(rec records.Record) (Session, error) {
	sess := Session{
		ID:       rec.ID,
		Token:    rec.Value("token"),
		Username: rec.Value("username"),
		Role:     rec.Value("role"),
		Status:   strings.ToLower(rec.Value("status")),
	}
	if raw := rec.Value("created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Session{}, fmt.Errorf("session %d: created_at: %w", rec.ID, err)
		}
		sess.CreatedAt = ts
	}
	if raw := rec.Value("snapshot"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.User); err != nil {
			return Session{}, fmt.Errorf("session %d: snapshot: %w", rec.ID, err)
		}
	}
	if sess.User.Token == "" {
		sess.User.Token = sess.Token
	}
	if sess.User.Username == "" {
		sess.User.Username = sess.Username
		sess.User.Role = sess.Role
	}
	return sess, nil
}
