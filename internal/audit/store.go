package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	source_address TEXT NOT NULL DEFAULT ''
)`

const insertSQL = `INSERT INTO audit_logs (occurred_at, actor_username, actor_role, action, target_type, target_id, details, source_address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const windowSQL = `SELECT occurred_at, actor_username, actor_role, action, target_type, target_id, details, source_address
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR actor_username = $3)
  AND ($4::text IS NULL OR target_type = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6 LIMIT $7`

// DB is the subset of *pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists the audit trail in PostgreSQL.
type PGStore struct {
	db DB
}

// NewPGStore constructs a PGStore.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the audit_logs table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createTableSQL)
	return err
}

// Insert appends one entry.
func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, insertSQL, e.Timestamp, e.ActorUsername, e.ActorRole, string(e.Action), e.TargetType, e.TargetID, e.Details, e.SourceAddress)
	return err
}

// Window lists entries matching arg, newest first.
func (s *PGStore) Window(ctx context.Context, arg WindowParams) ([]Entry, error) {
	rows, err := s.db.Query(ctx, windowSQL, arg.From, arg.To, arg.Actor, arg.Entity, arg.Action, arg.Offset, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.Timestamp, &e.ActorUsername, &e.ActorRole, &action, &e.TargetType, &e.TargetID, &e.Details, &e.SourceAddress); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
