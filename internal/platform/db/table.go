package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Table is the single-table CRUD shared by repositories whose rows map onto
// one struct. Columns lists every column except id, in the order Values
// returns them and Scan reads them (after id).
type Table[T any] struct {
	Pool    *pgxpool.Pool
	Name    string
	Entity  string
	Columns string
	Scan    func(Scanner) (*T, error)
	Values  func(*T) []interface{}
	ID      func(*T) *uuid.UUID
}

func (t *Table[T]) conn(ctx context.Context) Querier {
	return Conn(ctx, t.Pool)
}

func (t *Table[T]) selectSQL() string {
	return `SELECT id, ` + t.Columns + ` FROM ` + t.Name
}

// Create assigns an id when unset and inserts the row.
func (t *Table[T]) Create(ctx context.Context, v *T) error {
	id := t.ID(v)
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	args := append([]interface{}{*id}, t.Values(v)...)
	_, err := t.conn(ctx).Exec(ctx,
		`INSERT INTO `+t.Name+` (id, `+t.Columns+`) VALUES (`+Placeholders(1, len(args))+`)`, args...)
	return MapError(err, t.Entity, *id)
}

func (t *Table[T]) Update(ctx context.Context, v *T) error {
	id := *t.ID(v)
	args := append(t.Values(v), id)
	tag, err := t.conn(ctx).Exec(ctx,
		`UPDATE `+t.Name+` SET `+Assignments(t.Columns, 1)+` WHERE id = `+Placeholders(len(args), 1), args...)
	return ExpectRow(tag, err, t.Entity, id)
}

func (t *Table[T]) GetByID(ctx context.Context, id uuid.UUID) (*T, error) {
	v, err := t.Scan(t.conn(ctx).QueryRow(ctx, t.selectSQL()+` WHERE id = $1`, id))
	if err != nil {
		return nil, MapError(err, t.Entity, id)
	}
	return v, nil
}

// GetBy returns the first row whose column equals value.
func (t *Table[T]) GetBy(ctx context.Context, column string, value interface{}) (*T, error) {
	v, err := t.Scan(t.conn(ctx).QueryRow(ctx, t.selectSQL()+` WHERE `+column+` = $1 ORDER BY date_created LIMIT 1`, value))
	if err != nil {
		return nil, MapError(err, t.Entity, value)
	}
	return v, nil
}

func (t *Table[T]) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.conn(ctx).Exec(ctx, `DELETE FROM `+t.Name+` WHERE id = $1`, id)
	return ExpectRow(tag, err, t.Entity, id)
}

// Select returns the rows matching w; tail is appended verbatim (ORDER BY,
// LIMIT).
func (t *Table[T]) Select(ctx context.Context, w *Where, tail string) ([]*T, error) {
	if w == nil {
		w = &Where{}
	}
	rows, err := t.conn(ctx).Query(ctx, t.selectSQL()+w.SQL()+` `+tail, w.Args()...)
	if err != nil {
		return nil, err
	}
	return Collect(rows, t.Scan)
}

func (t *Table[T]) Count(ctx context.Context, w *Where) (int, error) {
	if w == nil {
		w = &Where{}
	}
	var n int
	err := t.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM `+t.Name+w.SQL(), w.Args()...).Scan(&n)
	return n, err
}

// Exec runs a statement against the table's connection.
func (t *Table[T]) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := t.conn(ctx).Exec(ctx, sql, args...)
	return err
}

// Retirable adds name lookups and listing to metadata tables (which carry
// name and retired columns).
type Retirable[T any] struct {
	Table[T]
}

func (t *Retirable[T]) GetByName(ctx context.Context, name string) (*T, error) {
	v, err := t.Scan(t.conn(ctx).QueryRow(ctx, t.selectSQL()+` WHERE lower(name) = lower($1) ORDER BY retired, date_created LIMIT 1`, name))
	if err != nil {
		return nil, MapError(err, t.Entity, name)
	}
	return v, nil
}

func (t *Retirable[T]) List(ctx context.Context, includeRetired bool) ([]*T, error) {
	var w Where
	if !includeRetired {
		w.Add("NOT retired")
	}
	return t.Select(ctx, &w, `ORDER BY name`)
}

// Find lists non-retired rows whose name contains fragment.
func (t *Retirable[T]) Find(ctx context.Context, fragment string, includeRetired bool) ([]*T, error) {
	var w Where
	w.Add("name ILIKE ?", "%"+fragment+"%")
	if !includeRetired {
		w.Add("NOT retired")
	}
	return t.Select(ctx, &w, `ORDER BY name`)
}
