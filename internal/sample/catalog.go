package sample

import (
	"context"
	"strconv"
	"strings"

	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/model"
)

// CatalogService exposes categories and products. Reads are anonymous;
// changes to the category list require the catalog-admin role.
type CatalogService struct {
	entities *store.Entities
	nextID   int
}

// NewCatalogService creates a CatalogService over entities. A service value
// serves one request.
func NewCatalogService(entities *store.Entities) *CatalogService {
	return &CatalogService{entities: entities}
}

// Operations declares the operation metadata of the service.
func (s *CatalogService) Operations() model.OperationMetadata {
	return model.OperationMetadata{
		"GetProducts": {model.Query{IsComposable: true, ResultLimit: 500}},
		"GetProductsByCategory": {
			model.Query{IsComposable: true},
			model.Params{Names: []string{"categoryID"}},
			model.ValidateParam{Index: 0, Rule: "min=1"},
		},
		"GetProduct": {model.Params{Names: []string{"id"}}},
		"SearchProducts": {
			model.Query{},
			model.Params{Names: []string{"term"}},
			model.ValidateParam{Index: 0, Rule: "required,min=2"},
		},
		"InsertCategory":  {model.RequiresRole{Roles: []string{RoleCatalogAdmin}}},
		"DeleteProduct":   {model.RequiresRole{Roles: []string{RoleCatalogAdmin}}},
		"Discontinue":     {model.EntityAction{}, model.RequiresAuthentication{}},
		"AdjustPrice":     {model.EntityAction{}, model.Params{Names: []string{"product", "percent"}}, model.ValidateParam{Index: 1, Rule: "gte=-90,lte=500"}},
		"CountByCategory": {model.Invoke{}, model.Params{Names: []string{"categoryID"}}},
	}
}

// GetCategories returns every category.
func (s *CatalogService) GetCategories(ctx context.Context) ([]*Category, error) {
	return store.LoadAll[Category](ctx, s.entities)
}

// GetProducts returns every product.
func (s *CatalogService) GetProducts(ctx context.Context) ([]*Product, error) {
	return store.LoadAll[Product](ctx, s.entities)
}

// GetProductsByCategory returns the active products of a category and
// reports the category's full product count, discontinued included.
func (s *CatalogService) GetProductsByCategory(ctx context.Context, categoryID int, total *int) ([]*Product, error) {
	all, err := store.LoadAll[Product](ctx, s.entities)
	if err != nil {
		return nil, err
	}
	var out []*Product
	count := 0
	for _, p := range all {
		if p.CategoryID != categoryID {
			continue
		}
		count++
		if p.Status == ProductActive {
			out = append(out, p)
		}
	}
	*total = count
	return out, nil
}

// GetProduct returns a single product.
func (s *CatalogService) GetProduct(ctx context.Context, id int) (*Product, error) {
	return store.Load[Product](ctx, s.entities, strconv.Itoa(id))
}

// SearchProducts matches products whose name contains term, ignoring case.
func (s *CatalogService) SearchProducts(ctx context.Context, term string) ([]*Product, error) {
	all, err := store.LoadAll[Product](ctx, s.entities)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	var out []*Product
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), term) {
			out = append(out, p)
		}
	}
	return out, nil
}

// InsertCategory adds a category.
func (s *CatalogService) InsertCategory(ctx context.Context, c *Category) error {
	if c.ID == 0 {
		return model.NewEntityValidationError("category id is required", "id")
	}
	return nil
}

// InsertProduct adds a product and assigns its id.
func (s *CatalogService) InsertProduct(ctx context.Context, p *Product) error {
	if err := s.requireCategory(ctx, p.CategoryID); err != nil {
		return err
	}
	id, err := s.allocateID(ctx)
	if err != nil {
		return err
	}
	p.ID = id
	p.Status = ProductActive
	p.Version = 1
	return nil
}

// UpdateProduct applies client changes to a product.
func (s *CatalogService) UpdateProduct(ctx context.Context, p *Product) error {
	original, _ := model.ChangeSetFrom(ctx).GetOriginal(p).(*Product)
	if original != nil && original.CategoryID != p.CategoryID {
		if err := s.requireCategory(ctx, p.CategoryID); err != nil {
			return err
		}
	}
	if original != nil && original.Status == ProductDiscontinued && p.Status == ProductActive {
		return model.NewEntityValidationError("a discontinued product cannot be reactivated", "status")
	}
	p.Version++
	return nil
}

// DeleteProduct removes a product.
func (s *CatalogService) DeleteProduct(ctx context.Context, p *Product) error {
	return nil
}

// Discontinue withdraws a product from sale.
func (s *CatalogService) Discontinue(p *Product) error {
	if p.Status == ProductDiscontinued {
		return model.NewEntityValidationError("product is already discontinued", "status")
	}
	p.Status = ProductDiscontinued
	return nil
}

// AdjustPrice changes a product's price by percent.
func (s *CatalogService) AdjustPrice(p *Product, percent float64) {
	p.Price = float64(int64(p.Price*(100+percent)+0.5)) / 100
}

// CountByCategory returns the number of products in a category.
func (s *CatalogService) CountByCategory(ctx context.Context, categoryID int) (int, error) {
	all, err := store.LoadAll[Product](ctx, s.entities)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range all {
		if p.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

func (s *CatalogService) requireCategory(ctx context.Context, id int) error {
	if id == 0 {
		return nil
	}
	if _, err := store.Load[Category](ctx, s.entities, strconv.Itoa(id)); err != nil {
		if isNotFound(err) {
			return model.NewEntityValidationError("category "+strconv.Itoa(id)+" does not exist", "category_id")
		}
		return err
	}
	return nil
}

// allocateID returns the next free product id. Ids handed out earlier in
// the same change set are skipped.
func (s *CatalogService) allocateID(ctx context.Context) (int, error) {
	if s.nextID == 0 {
		all, err := store.LoadAll[Product](ctx, s.entities)
		if err != nil {
			return 0, err
		}
		s.nextID = 1
		for _, p := range all {
			if p.ID >= s.nextID {
				s.nextID = p.ID + 1
			}
		}
	}
	id := s.nextID
	s.nextID++
	return id, nil
}
