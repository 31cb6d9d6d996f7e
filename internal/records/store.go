package records

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pondok-erp/pondok-erp/internal/schema"
)

// Assignment binds a whitelisted column to the value written into it.
type Assignment struct {
	Column schema.Column
	Value  *string
}

// Store executes gateway operations against the relational store.
type Store interface {
	SelectAll(ctx context.Context, et *schema.EntityType) ([]Record, error)
	SelectByID(ctx context.Context, et *schema.EntityType, id int64) (*Record, error)
	SelectWhere(ctx context.Context, et *schema.EntityType, col schema.Column, value string) ([]Record, error)
	Insert(ctx context.Context, et *schema.EntityType, values []Assignment) (int64, error)
	Update(ctx context.Context, et *schema.EntityType, id int64, values []Assignment) (int64, error)
	Delete(ctx context.Context, et *schema.EntityType, id int64) (int64, error)
}

// DB is the subset of *pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on PostgreSQL with bound parameters only.
type PGStore struct {
	db DB
}

// NewPGStore constructs a PGStore.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// SelectAll lists every record, newest first.
func (s *PGStore) SelectAll(ctx context.Context, et *schema.EntityType) ([]Record, error) {
	return s.query(ctx, et, et.SelectAllSQL())
}

// SelectByID returns the record or nil when none matches.
func (s *PGStore) SelectByID(ctx context.Context, et *schema.EntityType, id int64) (*Record, error) {
	recs, err := s.query(ctx, et, et.SelectByIDSQL(), id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// SelectWhere lists records whose col equals value, newest first.
func (s *PGStore) SelectWhere(ctx context.Context, et *schema.EntityType, col schema.Column, value string) ([]Record, error) {
	stmt, err := et.SelectWhereSQL(col)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, et, stmt, value)
}

// Insert writes exactly the supplied columns and returns the new id.
func (s *PGStore) Insert(ctx context.Context, et *schema.EntityType, values []Assignment) (int64, error) {
	cols, args := split(values)
	stmt, err := et.InsertSQL(cols)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Update writes exactly the supplied columns and reports affected rows.
func (s *PGStore) Update(ctx context.Context, et *schema.EntityType, id int64, values []Assignment) (int64, error) {
	if len(values) == 0 {
		return 0, errors.New("records: update without values")
	}
	cols, args := split(values)
	stmt, err := et.UpdateSQL(cols)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, stmt, append(args, id)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes the row and reports affected rows.
func (s *PGStore) Delete(ctx context.Context, et *schema.EntityType, id int64) (int64, error) {
	tag, err := s.db.Exec(ctx, et.DeleteSQL(), id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) query(ctx context.Context, et *schema.EntityType, stmt string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fields := et.Fields()
	out := []Record{}
	for rows.Next() {
		var id int64
		values := make([]*string, len(fields))
		dest := make([]any, 0, len(fields)+1)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := Record{ID: id, Fields: make(map[string]*string, len(fields))}
		for i, f := range fields {
			rec.Fields[f] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func split(values []Assignment) ([]schema.Column, []any) {
	cols := make([]schema.Column, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		cols[i] = v.Column
		args[i] = v.Value
	}
	return cols, args
}
