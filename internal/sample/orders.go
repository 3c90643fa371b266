package sample

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/model"
)

// Roles checked by the sample services.
const (
	RoleCatalogAdmin = "catalog-admin"
	RoleFulfilment   = "fulfilment"
)

// OrderService manages customer orders. Every operation requires an
// authenticated caller.
type OrderService struct {
	entities *store.Entities
}

// NewOrderService creates an OrderService over entities.
func NewOrderService(entities *store.Entities) *OrderService {
	return &OrderService{entities: entities}
}

// ServiceAttributes applies to every operation of the service.
func (s *OrderService) ServiceAttributes() []model.Attribute {
	return []model.Attribute{model.RequiresAuthentication{}}
}

// Operations declares the operation metadata of the service.
func (s *OrderService) Operations() model.OperationMetadata {
	return model.OperationMetadata{
		"GetOrder": {model.Params{Names: []string{"number"}}},
		"Ship":     {model.EntityAction{}, model.RequiresRole{Roles: []string{RoleFulfilment}}},
		"Cancel":   {model.EntityAction{}},
		"OrderTotal": {
			model.Invoke{},
			model.Params{Names: []string{"number"}},
			model.ValidateParam{Index: 0, Rule: "required"},
		},
	}
}

// GetOrders returns every order with its lines.
func (s *OrderService) GetOrders(ctx context.Context) ([]*Order, error) {
	orders, err := store.LoadAll[Order](ctx, s.entities)
	if err != nil {
		return nil, err
	}
	lines, err := store.LoadAll[OrderLine](ctx, s.entities)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[string][]*OrderLine)
	for _, l := range lines {
		byOrder[l.OrderNumber] = append(byOrder[l.OrderNumber], l)
	}
	for _, o := range orders {
		o.Lines = byOrder[o.Number]
		sort.Slice(o.Lines, func(i, j int) bool { return o.Lines[i].Line < o.Lines[j].Line })
	}
	return orders, nil
}

// GetOrder returns an order with its lines.
func (s *OrderService) GetOrder(ctx context.Context, number string) (*Order, error) {
	o, err := store.Load[Order](ctx, s.entities, number)
	if err != nil {
		return nil, err
	}
	lines, err := s.linesOf(ctx, number)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

// InsertOrder opens an order.
func (s *OrderService) InsertOrder(ctx context.Context, o *Order) error {
	_, err := store.Load[Order](ctx, s.entities, o.Number)
	switch {
	case err == nil:
		return model.NewEntityValidationError("order "+o.Number+" already exists", "number")
	case !isNotFound(err):
		return err
	}
	o.Status = OrderOpen
	o.Version = 1
	return nil
}

// UpdateOrder applies client changes to an open order.
func (s *OrderService) UpdateOrder(ctx context.Context, o *Order) error {
	if err := requireOpen(ctx, o); err != nil {
		return err
	}
	o.Version++
	return nil
}

// InsertOrderLine adds a line to an order. The product must exist and be
// active.
func (s *OrderService) InsertOrderLine(ctx context.Context, l *OrderLine) error {
	p, err := store.Load[Product](ctx, s.entities, strconv.Itoa(l.ProductID))
	if isNotFound(err) {
		return model.NewEntityValidationError(fmt.Sprintf("product %d does not exist", l.ProductID), "product_id")
	}
	if err != nil {
		return err
	}
	if p.Status != ProductActive {
		return model.NewEntityValidationError(p.Name+" is discontinued", "product_id")
	}
	return nil
}

// UpdateOrderLine changes a line's quantity.
func (s *OrderService) UpdateOrderLine(ctx context.Context, l *OrderLine) error {
	original, _ := model.ChangeSetFrom(ctx).GetOriginal(l).(*OrderLine)
	if original != nil && original.ProductID != l.ProductID {
		return model.NewEntityValidationError("the product of a line cannot change", "product_id")
	}
	return nil
}

// DeleteOrderLine removes a line.
func (s *OrderService) DeleteOrderLine(ctx context.Context, l *OrderLine) error {
	return nil
}

// Ship marks an open order as shipped.
func (s *OrderService) Ship(ctx context.Context, o *Order) error {
	if err := requireOpen(ctx, o); err != nil {
		return err
	}
	o.Status = OrderShipped
	return nil
}

// Cancel cancels an open order.
func (s *OrderService) Cancel(ctx context.Context, o *Order) error {
	if err := requireOpen(ctx, o); err != nil {
		return err
	}
	o.Status = OrderCancelled
	return nil
}

// OrderTotal returns the priced sum of an order's lines.
func (s *OrderService) OrderTotal(ctx context.Context, number string) (float64, error) {
	if _, err := store.Load[Order](ctx, s.entities, number); err != nil {
		return 0, err
	}
	lines, err := s.linesOf(ctx, number)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, l := range lines {
		p, err := store.Load[Product](ctx, s.entities, strconv.Itoa(l.ProductID))
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", l.Line, err)
		}
		total += p.Price * float64(l.Quantity)
	}
	return total, nil
}

func (s *OrderService) linesOf(ctx context.Context, number string) ([]*OrderLine, error) {
	all, err := store.LoadAll[OrderLine](ctx, s.entities)
	if err != nil {
		return nil, err
	}
	var out []*OrderLine
	for _, l := range all {
		if l.OrderNumber == number {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out, nil
}

// requireOpen rejects changes to an order that was not open when the client
// read it.
func requireOpen(ctx context.Context, o *Order) error {
	current := o
	if original, ok := model.ChangeSetFrom(ctx).GetOriginal(o).(*Order); ok && original != nil {
		current = original
	}
	if current.Status != OrderOpen {
		return model.NewEntityValidationError("order "+o.Number+" is no longer open", "status")
	}
	return nil
}

func isNotFound(err error) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == model.ErrNotFound
}
