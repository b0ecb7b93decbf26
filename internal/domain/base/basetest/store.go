// Package basetest provides an in-memory repository for service tests.
package basetest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/platform/apierr"
)

// Table stores copies of T keyed by id. ID must return a pointer to the id
// field of a row.
type Table[T any] struct {
	Entity string
	ID     func(*T) *uuid.UUID

	mu    sync.Mutex
	rows  map[uuid.UUID]*T
	order []uuid.UUID
}

func NewTable[T any](entity string, id func(*T) *uuid.UUID) *Table[T] {
	return &Table[T]{Entity: entity, ID: id, rows: make(map[uuid.UUID]*T)}
}

func (t *Table[T]) Create(_ context.Context, v *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.ID(v)
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if _, ok := t.rows[*id]; ok {
		return apierr.Conflict(t.Entity+".duplicate", "%s %s exists", t.Entity, *id)
	}
	cp := *v
	t.rows[*id] = &cp
	t.order = append(t.order, *id)
	return nil
}

func (t *Table[T]) Update(_ context.Context, v *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := *t.ID(v)
	if _, ok := t.rows[id]; !ok {
		return apierr.NotFound(t.Entity, id)
	}
	cp := *v
	t.rows[id] = &cp
	return nil
}

func (t *Table[T]) GetByID(_ context.Context, id uuid.UUID) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.rows[id]
	if !ok {
		return nil, apierr.NotFound(t.Entity, id)
	}
	cp := *v
	return &cp, nil
}

func (t *Table[T]) Delete(_ context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return apierr.NotFound(t.Entity, id)
	}
	delete(t.rows, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Filter returns copies of the rows matching keep, in insertion order.
func (t *Table[T]) Filter(keep func(*T) bool) []*T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*T
	for _, id := range t.order {
		if v := t.rows[id]; keep == nil || keep(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out
}

// Each calls fn on the stored rows so tests can edit them in place.
func (t *Table[T]) Each(fn func(*T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		fn(t.rows[id])
	}
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Sorted returns Filter(keep) ordered by less.
func (t *Table[T]) Sorted(keep func(*T) bool, less func(a, b *T) bool) []*T {
	out := t.Filter(keep)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
