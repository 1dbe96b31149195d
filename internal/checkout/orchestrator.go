package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of the checkout lifecycle
type State int

const (
	Idle State = iota
	Validating
	Submitting
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrEmptyCart means there is nothing to check out; send the shopper back to the catalog.
	ErrEmptyCart          = errors.New("cart is empty")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrAlreadyCompleted   = errors.New("checkout already completed")
	ErrSubmitFailed       = errors.New("order submission failed")
)

// ValidationError lists the delivery fields that need correcting
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "invalid customer info: " + strings.Join(keys, ", ")
}

// OrderRequest is the order-creation payload
type OrderRequest struct {
	Customer       models.CustomerInfo `json:"customer"`
	Items          []models.OrderItem  `json:"items"`
	Total          float64             `json:"total"`
	Status         models.OrderStatus  `json:"status"`
	IdempotencyKey string              `json:"-"`
}

// Confirmation identifies a created order
type Confirmation struct {
	OrderID string `json:"orderId"`
	ID      string `json:"_id"`
}

// OrderCreator submits orders to the backend
type OrderCreator interface {
	CreateOrder(ctx context.Context, req *OrderRequest) (*Confirmation, error)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTransitionHook observes every state change. The hook runs while the
// orchestrator is locked and must not call back into it.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(o *Orchestrator) {
		o.onTransition = fn
	}
}

// Orchestrator drives one checkout from the shopper's cart to a created
// order. At most one submission is in flight at a time; a new checkout
// needs a new Orchestrator once Success is reached.
type Orchestrator struct {
	mu             sync.Mutex
	cart           *cart.Store
	creator        OrderCreator
	regions        models.RegionSet
	state          State
	orderID        string
	lastErr        error
	idempotencyKey string
	onTransition   func(from, to State)
	logger         *zap.Logger
}

// New creates an orchestrator in the Idle state
func New(c *cart.Store, creator OrderCreator, regions models.RegionSet, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cart:           c,
		creator:        creator,
		regions:        regions,
		state:          Idle,
		idempotencyKey: uuid.New().String(),
		logger:         util.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates the delivery details and submits the cart as an order.
// Invalid details return a *ValidationError without contacting the backend.
// A backend or transport failure leaves the cart intact and the
// orchestrator in Failed, from where Submit may be called again.
func (o *Orchestrator) Submit(ctx context.Context, info models.CustomerInfo) (*Confirmation, error) {
	o.mu.Lock()

	switch o.state {
	case Validating, Submitting:
		o.mu.Unlock()
		util.CheckoutSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSubmissionInFlight
	case Success:
		o.mu.Unlock()
		return nil, ErrAlreadyCompleted
	}

	if o.cart.IsEmpty() {
		o.mu.Unlock()
		return nil, ErrEmptyCart
	}

	o.transition(Validating)
	if fields := info.Validate(o.regions); fields != nil {
		o.lastErr = &ValidationError{Fields: fields}
		o.transition(Idle)
		err := o.lastErr
		o.mu.Unlock()
		util.CheckoutSubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	req := o.buildRequest(info.Normalized())
	o.transition(Submitting)
	o.mu.Unlock()

	conf, err := o.creator.CreateOrder(ctx, req)

	o.mu.Lock()

	if err == nil && (conf == nil || conf.OrderID == "") {
		err = errors.New("response carried no order id")
	}
	if err != nil {
		o.lastErr = fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		o.transition(Failed)
		failed := o.lastErr
		o.mu.Unlock()
		util.CheckoutSubmissionsTotal.WithLabelValues("failed").Inc()
		o.logger.Warn("Checkout submission failed", zap.Error(err))
		return nil, failed
	}

	o.orderID = conf.OrderID
	o.lastErr = nil
	o.transition(Success)
	o.mu.Unlock()

	// Success is terminal, so no other Submit can touch the cart from here.
	// Clearing unlocked lets cart subscribers call back into the orchestrator.
	o.cart.Clear()
	util.CheckoutSubmissionsTotal.WithLabelValues("success").Inc()
	o.logger.Info("Checkout completed", zap.String("order_id", conf.OrderID))
	return conf, nil
}

// buildRequest snapshots the cart. Items copy name and price so later
// catalog edits do not alter the order.
func (o *Orchestrator) buildRequest(info models.CustomerInfo) *OrderRequest {
	snap := o.cart.Snapshot()

	items := make([]models.OrderItem, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		items = append(items, models.OrderItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Price:     line.Product.Price.InexactFloat64(),
			Quantity:  line.Quantity,
		})
	}

	return &OrderRequest{
		Customer:       info,
		Items:          items,
		Total:          snap.Totals.TotalPrice.InexactFloat64(),
		Status:         models.OrderStatusPending,
		IdempotencyKey: o.idempotencyKey,
	}
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	o.state = to
	o.logger.Debug("Checkout state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if o.onTransition != nil {
		o.onTransition(from, to)
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OrderID is the created order's reference once in Success
func (o *Orchestrator) OrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orderID
}

// LastError is the error of the most recent failed attempt
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
