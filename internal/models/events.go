package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a shopper's checkout is persisted
type OrderCreatedEvent struct {
	BaseEvent
	ID      string      `json:"id"`
	OrderID string      `json:"order_id"`
	Region  string      `json:"region"`
	Total   float64     `json:"total"`
	Items   []OrderItem `json:"items"`
}

// OrderStatusChangedEvent published when an administrator updates an order
type OrderStatusChangedEvent struct {
	BaseEvent
	ID      string      `json:"id"`
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}
