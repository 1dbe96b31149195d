package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ListInvalidator drops cached order listings
type ListInvalidator interface {
	InvalidateOrderList(ctx context.Context) error
}

// OrderEventWorker drops the shared order listing when an order event is
// consumed. OrderService already invalidates inline; the worker repeats it
// for inline invalidations that failed (those are only logged) and for
// orders written by producers that publish to the topic directly. Handler
// errors are retried by the consumer.
type OrderEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	cache        ListInvalidator
	logger       *zap.Logger
}

// NewOrderEventWorker creates a new order event worker
func NewOrderEventWorker(consumer *broker.Consumer, cache ListInvalidator) *OrderEventWorker {
	w := &OrderEventWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		cache:        cache,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderCreated(w.handleOrderCreated)
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChanged)

	return w
}

// Handler exposes the event dispatcher the worker consumes with
func (w *OrderEventWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

func (w *OrderEventWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	w.logger.Info("Order created event",
		zap.String("order_id", event.OrderID),
		zap.String("region", event.Region),
		zap.Float64("total", event.Total))
	return w.cache.InvalidateOrderList(ctx)
}

func (w *OrderEventWorker) handleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Info("Order status changed event",
		zap.String("order_id", event.OrderID),
		zap.String("from", event.From.String()),
		zap.String("to", event.To.String()))
	return w.cache.InvalidateOrderList(ctx)
}

// Start starts the worker
func (w *OrderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderEventWorker) Stop() error {
	w.logger.Info("Stopping order event worker")
	return w.consumer.Close()
}
