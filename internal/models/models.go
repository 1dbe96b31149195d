package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the fulfillment stage of an order.
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists every valid status.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus maps raw input to a known status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range OrderStatuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// Valid reports whether s is one of the enumerated statuses.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
// The relation is total over valid statuses: an administrator may correct a
// mistaken status in any direction.
func CanTransition(from, to OrderStatus) bool {
	return from.Valid() && to.Valid()
}

func (s OrderStatus) String() string {
	return string(s)
}

// CustomerInfo is the shopper's delivery information embedded in an order.
type CustomerInfo struct {
	FullName string `json:"fullName" bson:"fullName"`
	Phone    string `json:"phone" bson:"phone"`
	Address  string `json:"address" bson:"address"`
	Region   string `json:"region" bson:"region"`
	Notes    string `json:"notes,omitempty" bson:"notes,omitempty"`
}

// OrderItem is a snapshot of a product at order time
type OrderItem struct {
	ProductID string  `json:"productId" bson:"productId"`
	Name      string  `json:"name" bson:"name"`
	Price     float64 `json:"price" bson:"price"`
	Quantity  int     `json:"quantity" bson:"quantity"`
}

// Order represents a customer order
type Order struct {
	ID        string       `json:"_id" bson:"-" db:"id"`
	OrderID   string       `json:"orderId" bson:"orderId" db:"order_id"`
	Customer  CustomerInfo `json:"customer" bson:"customer" db:"-"`
	Items     []OrderItem  `json:"items" bson:"items" db:"-"`
	Total     float64      `json:"total" bson:"total" db:"total"`
	Status    OrderStatus  `json:"status" bson:"status" db:"status"`
	CreatedAt time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID          string    `json:"_id" bson:"-" db:"id"`
	Name        string    `json:"name" bson:"name" db:"name"`
	Description string    `json:"description" bson:"description" db:"description"`
	Price       float64   `json:"price" bson:"price" db:"price"`
	Category    string    `json:"category" bson:"category" db:"category"`
	Image       string    `json:"image,omitempty" bson:"image,omitempty" db:"image"`
	Stock       int       `json:"stock" bson:"stock" db:"stock"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// ProductFilter narrows a catalog listing.
type ProductFilter struct {
	Category string
	Search   string
}

// TeamMember is a profile shown on the storefront's about page.
type TeamMember struct {
	ID        string    `json:"_id" bson:"-" db:"id"`
	Name      string    `json:"name" bson:"name" db:"name"`
	Role      string    `json:"role" bson:"role" db:"role"`
	Bio       string    `json:"bio,omitempty" bson:"bio,omitempty" db:"bio"`
	Phone     string    `json:"phone,omitempty" bson:"phone,omitempty" db:"phone"`
	Email     string    `json:"email,omitempty" bson:"email,omitempty" db:"email"`
	Image     string    `json:"image,omitempty" bson:"image,omitempty" db:"image"`
	IsLeader  bool      `json:"isLeader" bson:"isLeader" db:"is_leader"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}
