package schema

import (
	"errors"
	"strconv"
	"strings"
)

// ErrForeignColumn is returned when a builder receives a column of another table.
var ErrForeignColumn = errors.New("schema: column does not belong to table")

const idColumn = `"id"`

// CreateTableSQL returns the idempotent CREATE TABLE statement for e.
func (e *EntityType) CreateTableSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(e.Table().Quoted())
	b.WriteString(" (" + idColumn + " BIGSERIAL PRIMARY KEY")
	for _, col := range e.Columns() {
		b.WriteString(", ")
		b.WriteString(col.Quoted())
		b.WriteString(" TEXT")
	}
	b.WriteString(")")
	return b.String()
}

// AddColumnSQL returns the ALTER TABLE statement adding col.
func (e *EntityType) AddColumnSQL(col Column) (string, error) {
	if col.table != e.name {
		return "", ErrForeignColumn
	}
	return "ALTER TABLE " + e.Table().Quoted() + " ADD COLUMN " + col.Quoted() + " TEXT", nil
}

// CountSQL counts rows of e.
func (e *EntityType) CountSQL() string {
	return "SELECT COUNT(*) FROM " + e.Table().Quoted()
}

// SelectAllSQL lists every record newest first.
func (e *EntityType) SelectAllSQL() string {
	return e.selectPrefix() + " ORDER BY " + idColumn + " DESC"
}

// SelectByIDSQL fetches one record by id ($1).
func (e *EntityType) SelectByIDSQL() string {
	return e.selectPrefix() + " WHERE " + idColumn + " = $1"
}

// SelectWhereSQL lists records whose col equals $1, newest first.
func (e *EntityType) SelectWhereSQL(col Column) (string, error) {
	if col.table != e.name {
		return "", ErrForeignColumn
	}
	return e.selectPrefix() + " WHERE " + col.Quoted() + " = $1 ORDER BY " + idColumn + " DESC", nil
}

// InsertSQL inserts exactly cols ($1..$n) and returns the new id.
func (e *EntityType) InsertSQL(cols []Column) (string, error) {
	if len(cols) == 0 {
		return "INSERT INTO " + e.Table().Quoted() + " DEFAULT VALUES RETURNING " + idColumn, nil
	}
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, col := range cols {
		if col.table != e.name {
			return "", ErrForeignColumn
		}
		names[i] = col.Quoted()
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return "INSERT INTO " + e.Table().Quoted() + " (" + strings.Join(names, ", ") + ") VALUES (" +
		strings.Join(params, ", ") + ") RETURNING " + idColumn, nil
}

// UpdateSQL sets exactly cols ($1..$n) on the row whose id is $n+1.
func (e *EntityType) UpdateSQL(cols []Column) (string, error) {
	if len(cols) == 0 {
		return "", errors.New("schema: update without columns")
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		if col.table != e.name {
			return "", ErrForeignColumn
		}
		sets[i] = col.Quoted() + " = $" + strconv.Itoa(i+1)
	}
	return "UPDATE " + e.Table().Quoted() + " SET " + strings.Join(sets, ", ") +
		" WHERE " + idColumn + " = $" + strconv.Itoa(len(cols)+1), nil
}

// DeleteSQL removes the row whose id is $1.
func (e *EntityType) DeleteSQL() string {
	return "DELETE FROM " + e.Table().Quoted() + " WHERE " + idColumn + " = $1"
}

func (e *EntityType) selectPrefix() string {
	names := make([]string, 0, len(e.fields)+1)
	names = append(names, idColumn)
	for _, col := range e.Columns() {
		names = append(names, col.Quoted())
	}
	return "SELECT " + strings.Join(names, ", ") + " FROM " + e.Table().Quoted()
}
