package administration

import "context"

type Repository interface {
	Get(ctx context.Context, name string) (*GlobalProperty, error)
	// List returns every property whose name starts with prefix; "" lists all.
	List(ctx context.Context, prefix string) ([]*GlobalProperty, error)
	Upsert(ctx context.Context, gp *GlobalProperty) error
	Delete(ctx context.Context, name string) error
}
