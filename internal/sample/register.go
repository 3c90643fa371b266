package sample

import (
	"context"
	"fmt"

	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/internal/transport"
)

// Register adds the sample services to host. Each request gets a fresh
// service value over entities.
func Register(host *transport.Host, entities *store.Entities) error {
	factories := []transport.Factory{
		func(context.Context) (any, error) { return NewCatalogService(entities), nil },
		func(context.Context) (any, error) { return NewOrderService(entities), nil },
	}
	for _, f := range factories {
		if _, err := host.Register(f); err != nil {
			return fmt.Errorf("register sample service: %w", err)
		}
	}
	return nil
}

// Seed stores a starter catalog for the tenant of ctx.
func Seed(ctx context.Context, entities *store.Entities) error {
	return entities.Seed(ctx,
		&Category{ID: 1, Name: "Beverages"},
		&Category{ID: 2, Name: "Bakery"},
		&Product{ID: 1, Name: "Espresso Beans", Price: 14.5, CategoryID: 1, Version: 1},
		&Product{ID: 2, Name: "Green Tea", Price: 6.25, CategoryID: 1, Version: 1},
		&Product{ID: 3, Name: "Sourdough Loaf", Price: 5, CategoryID: 2, Version: 1},
		&Product{ID: 4, Name: "Rye Crackers", Price: 3.75, Status: ProductDiscontinued, CategoryID: 2, Version: 1},
	)
}
