package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/orderid"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	orderListFlight = "orders:list"

	defaultIdempotencyWait = 5 * time.Second
	idempotencyPoll        = 50 * time.Millisecond
	// reservations outlive any single create attempt
	idempotencyReserveTTL = time.Minute
)

// OrderServiceConfig tunes the order lifecycle
type OrderServiceConfig struct {
	Regions       []string
	MaxIDAttempts int
	CacheTTL      time.Duration
	// IdempotencyWait bounds how long a duplicate request waits for the
	// request holding its key before giving up with ErrRequestInProgress.
	IdempotencyWait time.Duration
}

// OrderService owns order creation and the admin status workflow
type OrderService struct {
	orders         OrderRepository
	cache          OrderCache
	eventPublisher EventPublisher
	ids            *orderid.Generator
	regions        models.RegionSet
	maxAttempts    int
	cacheTTL       time.Duration
	idemWait       time.Duration
	group          singleflight.Group
	logger         *zap.Logger
}

// NewOrderService creates a new order service. cache and eventPublisher may be nil.
func NewOrderService(
	orders OrderRepository,
	cache OrderCache,
	eventPublisher EventPublisher,
	ids *orderid.Generator,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.MaxIDAttempts < 1 {
		cfg.MaxIDAttempts = 1
	}
	if ids == nil {
		ids = orderid.NewGenerator(orderid.DefaultPrefix)
	}
	if cfg.IdempotencyWait <= 0 {
		cfg.IdempotencyWait = defaultIdempotencyWait
	}
	return &OrderService{
		orders:         orders,
		cache:          cache,
		eventPublisher: eventPublisher,
		ids:            ids,
		regions:        models.NewRegionSet(cfg.Regions),
		maxAttempts:    cfg.MaxIDAttempts,
		cacheTTL:       cfg.CacheTTL,
		idemWait:       cfg.IdempotencyWait,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout submission
type CreateOrderRequest struct {
	Customer       models.CustomerInfo `json:"customer"`
	Items          []models.OrderItem  `json:"items"`
	Total          *float64            `json:"total"`
	IdempotencyKey string              `json:"-"`
}

// CreateOrderResponse carries the generated reference and record id
type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
	ID      string `json:"_id"`
}

// Regions returns the delivery regions orders are accepted for
func (s *OrderService) Regions() []string {
	return s.regions.Names()
}

// CreateOrder validates the submission and persists it as a pending order.
// A generated id that collides with an existing order is replaced and the
// insert retried, up to the configured number of attempts.
//
// With an idempotency key the key is reserved before inserting. A request
// that finds it reserved waits for the holder and returns the same result.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if err := s.validateCreateOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	reserved := false
	if req.IdempotencyKey != "" && s.cache != nil {
		resp, claimed, err := s.claimIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("idempotency").Inc()
			return nil, err
		}
		if resp != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", resp.OrderID))
			return resp, nil
		}
		reserved = claimed
	}

	order := &models.Order{
		Customer: req.Customer.Normalized(),
		Items:    append([]models.OrderItem(nil), req.Items...),
		Total:    *req.Total,
		Status:   models.OrderStatusPending,
	}

	if err := s.insertWithFreshID(ctx, order); err != nil {
		util.RecordError(span, err)
		if reserved {
			s.releaseIdempotencyKey(context.WithoutCancel(ctx), req.IdempotencyKey)
		}
		return nil, err
	}

	resp := &CreateOrderResponse{OrderID: order.OrderID, ID: order.ID}
	if reserved {
		if err := s.cache.SetIdempotentResult(ctx, req.IdempotencyKey, resp); err != nil {
			s.logger.Warn("Failed to record idempotent result", zap.Error(err))
		}
	}

	span.SetAttributes(attribute.String("order.id", order.OrderID))
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("id", order.ID),
		zap.Float64("total", order.Total))

	s.invalidateList(ctx)

	event := &models.OrderCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCreated),
		ID:        order.ID,
		OrderID:   order.OrderID,
		Region:    order.Customer.Region,
		Total:     order.Total,
		Items:     order.Items,
	}
	if s.eventPublisher != nil {
		if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}

	return resp, nil
}

func (s *OrderService) insertWithFreshID(ctx context.Context, order *models.Order) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order.OrderID = s.ids.Next()

		err := s.orders.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateOrderID) {
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
			return fmt.Errorf("failed to create order: %w", err)
		}

		util.OrderIDCollisionsTotal.Inc()
		s.logger.Warn("Order id collision, regenerating",
			zap.String("order_id", order.OrderID),
			zap.Int("attempt", attempt))
	}

	util.OrdersFailedTotal.WithLabelValues("id_exhausted").Inc()
	return fmt.Errorf("%w after %d attempts", ErrOrderIDExhausted, s.maxAttempts)
}

// claimIdempotencyKey reserves key for this request. It returns the recorded
// response when an earlier request with the key already finished. The bool is
// false when redis is unavailable; the create then proceeds unguarded.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, key string) (*CreateOrderResponse, bool, error) {
	deadline := time.Now().Add(s.idemWait)
	for {
		ok, err := s.cache.ReserveIdempotencyKey(ctx, key, idempotencyReserveTTL)
		if err != nil {
			s.logger.Warn("Idempotency reservation failed", zap.Error(err))
			return nil, false, nil
		}
		if ok {
			return nil, true, nil
		}

		var recorded CreateOrderResponse
		err = s.cache.GetIdempotentResult(ctx, key, &recorded)
		switch {
		case err == nil:
			return &recorded, false, nil
		case errors.Is(err, redisclient.ErrCacheMiss):
			// holder gave the key back; try to take it
			continue
		case !errors.Is(err, redisclient.ErrIdempotencyPending):
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
			return nil, false, nil
		}

		if time.Now().After(deadline) {
			return nil, false, ErrRequestInProgress
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(idempotencyPoll):
		}
	}
}

func (s *OrderService) releaseIdempotencyKey(ctx context.Context, key string) {
	if err := s.cache.ReleaseIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key",
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

func (s *OrderService) validateCreateOrder(req *CreateOrderRequest) error {
	if req == nil {
		return newValidationError(map[string]string{"body": "request body is required"})
	}

	fields := map[string]string{}
	for k, v := range req.Customer.Validate(s.regions) {
		fields["customer."+k] = v
	}

	if len(req.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	for i, item := range req.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if strings.TrimSpace(item.ProductID) == "" {
			fields[prefix+"productId"] = "product id is required"
		}
		if strings.TrimSpace(item.Name) == "" {
			fields[prefix+"name"] = "name is required"
		}
		if item.Price < 0 {
			fields[prefix+"price"] = "price must not be negative"
		}
		if item.Quantity < 1 {
			fields[prefix+"quantity"] = "quantity must be at least 1"
		}
	}

	switch {
	case req.Total == nil:
		fields["total"] = "total is required"
	case *req.Total < 0:
		fields["total"] = "total must not be negative"
	}

	return newValidationError(fields)
}

// ListOrders returns every order, newest first. Reads go through the
// redis cache; concurrent misses share one repository call.
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if s.cache == nil {
		orders, err := s.orders.ListOrders(ctx)
		if err != nil {
			util.RecordError(span, err)
			return nil, fmt.Errorf("failed to list orders: %w", err)
		}
		return orders, nil
	}

	cached, err := s.cache.GetOrderList(ctx)
	if err == nil {
		util.OrderListCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		s.logger.Warn("Order list cache read failed", zap.Error(err))
	}
	util.OrderListCacheTotal.WithLabelValues("miss").Inc()

	// generation is read before the repository: an invalidation during the
	// read turns the refill into a no-op and later callers get a new flight
	gen, genErr := s.cache.OrderListGeneration(ctx)
	if genErr != nil {
		s.logger.Warn("Order list generation read failed", zap.Error(genErr))
	}
	flight := fmt.Sprintf("%s:%d", orderListFlight, gen)

	v, err, _ := s.group.Do(flight, func() (interface{}, error) {
		orders, err := s.orders.ListOrders(ctx)
		if err != nil {
			return nil, err
		}
		if genErr == nil && s.cacheTTL > 0 {
			stored, err := s.cache.SetOrderList(ctx, gen, orders, s.cacheTTL)
			if err != nil {
				s.logger.Warn("Order list cache write failed", zap.Error(err))
			} else if !stored {
				s.logger.Debug("Order list changed during read, cache refill skipped")
			}
		}
		return orders, nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return v.([]models.Order), nil
}

// GetOrder retrieves an order by record id
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.String("id", id))
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// SetStatus moves an order to one of the enumerated statuses
func (s *OrderService) SetStatus(ctx context.Context, id, rawStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus",
		attribute.String("id", id),
		attribute.String("status", rawStatus))
	defer span.End()

	status, err := models.ParseOrderStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	util.OrderStatusChangesTotal.WithLabelValues(status.String()).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", updated.OrderID),
		zap.String("from", current.Status.String()),
		zap.String("to", status.String()))

	s.invalidateList(ctx)

	if s.eventPublisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
			ID:        updated.ID,
			OrderID:   updated.OrderID,
			From:      current.Status,
			To:        status,
		}
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return updated, nil
}

// InvalidateOrderList drops the cached listing
func (s *OrderService) InvalidateOrderList(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateOrderList(ctx)
}

func (s *OrderService) invalidateList(ctx context.Context) {
	if err := s.InvalidateOrderList(ctx); err != nil {
		s.logger.Warn("Failed to invalidate order list cache", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
