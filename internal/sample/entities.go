// Package sample provides a small product catalog and ordering domain
// hosted by riaserver. It exercises query, submit, entity action and invoke
// operations against the entity store.
package sample

import "github.com/pitabwire/ria/model"

// ProductStatus is the lifecycle state of a product.
type ProductStatus int

// Product states.
const (
	ProductActive ProductStatus = iota
	ProductDiscontinued
)

// EnumMembers exposes ProductStatus to clients as an enumeration.
func (ProductStatus) EnumMembers() []model.EnumMember {
	return []model.EnumMember{
		{Name: "Active", Value: int64(ProductActive)},
		{Name: "Discontinued", Value: int64(ProductDiscontinued)},
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus int

// Order states.
const (
	OrderOpen OrderStatus = iota
	OrderShipped
	OrderCancelled
)

// EnumMembers exposes OrderStatus to clients as an enumeration.
func (OrderStatus) EnumMembers() []model.EnumMember {
	return []model.EnumMember{
		{Name: "Open", Value: int64(OrderOpen)},
		{Name: "Shipped", Value: int64(OrderShipped)},
		{Name: "Cancelled", Value: int64(OrderCancelled)},
	}
}

// Category groups products.
type Category struct {
	ID   int    `json:"id" ria:"key"`
	Name string `json:"name" validate:"required"`
}

// Product is a sellable item.
type Product struct {
	ID         int           `json:"id" ria:"key"`
	Name       string        `json:"name" validate:"required,max=120"`
	Price      float64       `json:"price" validate:"gte=0"`
	Status     ProductStatus `json:"status"`
	CategoryID int           `json:"category_id"`
	Version    int           `json:"version" ria:"concurrency"`
	Category   *Category     `json:"category,omitempty" ria:"association=Product_Category,this=CategoryID,other=ID,fk" validate:"-"`
}

// Order is a customer order composed of lines.
type Order struct {
	Number   string       `json:"number" ria:"key" validate:"required"`
	Customer string       `json:"customer" validate:"required"`
	Status   OrderStatus  `json:"status"`
	Version  int          `json:"version" ria:"concurrency"`
	Lines    []*OrderLine `json:"lines,omitempty" ria:"association=Order_Lines,this=Number,other=OrderNumber,composition" validate:"-"`
}

// OrderLine is one product quantity within an order.
type OrderLine struct {
	OrderNumber string `json:"order_number" ria:"key"`
	Line        int    `json:"line" ria:"key"`
	ProductID   int    `json:"product_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"min=1"`
}
