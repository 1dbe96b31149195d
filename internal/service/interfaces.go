package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
)

// OrderRepository persists orders. Implemented by store.Store,
// mongostore.Store and memstore.MemoryStore.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error)
}

type ProductRepository interface {
	GetProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetCategories(ctx context.Context) ([]string, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

type TeamRepository interface {
	GetTeamMembers(ctx context.Context) ([]models.TeamMember, error)
	GetTeamMemberByID(ctx context.Context, id string) (*models.TeamMember, error)
	CountLeaders(ctx context.Context) (int, error)
	CreateTeamMember(ctx context.Context, member *models.TeamMember) error
	UpdateTeamMember(ctx context.Context, member *models.TeamMember) error
	DeleteTeamMember(ctx context.Context, id string) error
}

// Repository is everything a storage backend provides
type Repository interface {
	OrderRepository
	ProductRepository
	TeamRepository
	Ping(ctx context.Context) error
	Close() error
}

// OrderCache holds the admin order listing and idempotent create results.
// Implemented by redisclient.Client.
type OrderCache interface {
	GetOrderList(ctx context.Context) ([]models.Order, error)
	OrderListGeneration(ctx context.Context) (int64, error)
	SetOrderList(ctx context.Context, gen int64, orders []models.Order, ttl time.Duration) (bool, error)
	InvalidateOrderList(ctx context.Context) error

	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
	GetIdempotentResult(ctx context.Context, key string, dest interface{}) error
	SetIdempotentResult(ctx context.Context, key string, value interface{}) error
}

// EventPublisher publishes order events. Implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Locker provides short-lived mutual exclusion across instances
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redisclient.Lock, bool, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}
