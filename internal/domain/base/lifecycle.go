package base

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/platform/auth"
)

// Store is the repository surface the lifecycle helpers need.
type Store[T any] interface {
	GetByID(ctx context.Context, id uuid.UUID) (T, error)
	Update(ctx context.Context, v T) error
}

// Retirable is satisfied by pointers to structs embedding Metadata.
type Retirable interface {
	Retire(user, reason string) error
	Unretire()
	Stamp(user string, isNew bool)
}

// RetireByID loads, retires and stores the row.
func RetireByID[T Retirable](ctx context.Context, store Store[T], id uuid.UUID, reason string) (T, error) {
	v, err := store.GetByID(ctx, id)
	if err != nil {
		return v, err
	}
	if err := v.Retire(auth.ActorFromContext(ctx), reason); err != nil {
		return v, err
	}
	return v, store.Update(ctx, v)
}

// UnretireByID loads, unretires and stores the row.
func UnretireByID[T Retirable](ctx context.Context, store Store[T], id uuid.UUID) (T, error) {
	v, err := store.GetByID(ctx, id)
	if err != nil {
		return v, err
	}
	v.Unretire()
	v.Stamp(auth.ActorFromContext(ctx), false)
	return v, store.Update(ctx, v)
}

// Voidable is satisfied by pointers to structs embedding Data.
type Voidable interface {
	Void(user, reason string, at time.Time) error
	Unvoid()
	Stamp(user string, isNew bool)
}

// VoidByID loads, voids and stores the row. Dependents are the caller's
// concern.
func VoidByID[T Voidable](ctx context.Context, store Store[T], id uuid.UUID, reason string) (T, error) {
	v, err := store.GetByID(ctx, id)
	if err != nil {
		return v, err
	}
	if err := v.Void(auth.ActorFromContext(ctx), reason, Now()); err != nil {
		return v, err
	}
	return v, store.Update(ctx, v)
}

// UnvoidByID loads, unvoids and stores the row.
func UnvoidByID[T Voidable](ctx context.Context, store Store[T], id uuid.UUID) (T, error) {
	v, err := store.GetByID(ctx, id)
	if err != nil {
		return v, err
	}
	v.Unvoid()
	v.Stamp(auth.ActorFromContext(ctx), false)
	return v, store.Update(ctx, v)
}
