package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regions = models.NewRegionSet([]string{"Addis Ababa", "Oromia"})

type fakeCreator struct {
	mu       sync.Mutex
	calls    []*OrderRequest
	err      error
	conf     *Confirmation
	release  chan struct{}
	received chan struct{}
}

func (f *fakeCreator) CreateOrder(ctx context.Context, req *OrderRequest) (*Confirmation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.received != nil {
		f.received <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.conf != nil {
		return f.conf, nil
	}
	return &Confirmation{OrderID: "GAF-4821", ID: "1"}, nil
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func filledCart() *cart.Store {
	c := cart.New()
	c.AddItem(cart.Product{ID: "p1", Name: "Tomatoes", Price: decimal.NewFromInt(50)}, 2)
	c.AddItem(cart.Product{ID: "p2", Name: "Onions", Price: decimal.NewFromInt(30)}, 1)
	return c
}

func validCustomer() models.CustomerInfo {
	return models.CustomerInfo{
		FullName: "Abebe Kebede",
		Phone:    "0911000000",
		Address:  "Bole, house 12",
		Region:   "Addis Ababa",
	}
}

func TestSubmitSuccess(t *testing.T) {
	c := filledCart()
	creator := &fakeCreator{}

	var seen []State
	o := New(c, creator, regions, WithTransitionHook(func(from, to State) {
		seen = append(seen, to)
	}))

	conf, err := o.Submit(context.Background(), validCustomer())
	require.NoError(t, err)
	assert.Equal(t, "GAF-4821", conf.OrderID)

	assert.Equal(t, Success, o.State())
	assert.Equal(t, "GAF-4821", o.OrderID())
	assert.True(t, c.IsEmpty())
	assert.Equal(t, []State{Validating, Submitting, Success}, seen)

	require.Equal(t, 1, creator.callCount())
	req := creator.calls[0]
	assert.Equal(t, 130.0, req.Total)
	assert.Equal(t, models.OrderStatusPending, req.Status)
	require.Len(t, req.Items, 2)
	assert.Equal(t, models.OrderItem{ProductID: "p1", Name: "Tomatoes", Price: 50, Quantity: 2}, req.Items[0])
	assert.NotEmpty(t, req.IdempotencyKey)

	_, err = o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, 1, creator.callCount())
}

func TestCartSubscriberMayReadOrchestrator(t *testing.T) {
	c := filledCart()
	o := New(c, &fakeCreator{}, regions)

	var stateOnClear State
	var idOnClear string
	c.Subscribe(func(snap cart.Snapshot) {
		if snap.Totals.TotalItems == 0 {
			stateOnClear = o.State()
			idOnClear = o.OrderID()
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), validCustomer())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked while the cart notified its subscriber")
	}
	assert.Equal(t, Success, stateOnClear)
	assert.Equal(t, "GAF-4821", idOnClear)
	assert.True(t, c.IsEmpty())
}

func TestSubmitEmptyCart(t *testing.T) {
	creator := &fakeCreator{}
	o := New(cart.New(), creator, regions)

	_, err := o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, Idle, o.State())
	assert.Zero(t, creator.callCount())
}

func TestSubmitUnknownRegionMakesNoCall(t *testing.T) {
	c := filledCart()
	creator := &fakeCreator{}
	o := New(c, creator, regions)

	info := validCustomer()
	info.Region = "Atlantis"

	_, err := o.Submit(context.Background(), info)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "region")
	assert.Equal(t, Idle, o.State())
	assert.Zero(t, creator.callCount())
	assert.Equal(t, 2, c.Len())
}

func TestSubmitMissingFields(t *testing.T) {
	o := New(filledCart(), &fakeCreator{}, regions)

	_, err := o.Submit(context.Background(), models.CustomerInfo{Region: "Oromia"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
	assert.Equal(t, err, o.LastError())
}

func TestSubmitFailurePreservesCartAndAllowsRetry(t *testing.T) {
	c := filledCart()
	creator := &fakeCreator{err: &APIError{StatusCode: 500, Message: "database unavailable"}}
	o := New(c, creator, regions)

	_, err := o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrSubmitFailed)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)

	assert.Equal(t, Failed, o.State())
	assert.Equal(t, 3, c.Totals().TotalItems)

	// a retry from Failed re-validates first
	bad := validCustomer()
	bad.Phone = ""
	_, err = o.Submit(context.Background(), bad)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, creator.callCount())

	creator.err = nil
	conf, err := o.Submit(context.Background(), validCustomer())
	require.NoError(t, err)
	assert.Equal(t, "GAF-4821", conf.OrderID)
	assert.True(t, c.IsEmpty())

	// every attempt of one checkout carries the same idempotency key
	assert.Equal(t, creator.calls[0].IdempotencyKey, creator.calls[1].IdempotencyKey)
}

func TestSubmitMissingOrderIDIsFailure(t *testing.T) {
	c := filledCart()
	o := New(c, &fakeCreator{conf: &Confirmation{ID: "1"}}, regions)

	_, err := o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, Failed, o.State())
	assert.False(t, c.IsEmpty())
}

func TestSubmitRejectsDuplicateWhileInFlight(t *testing.T) {
	creator := &fakeCreator{release: make(chan struct{}), received: make(chan struct{}, 1)}
	o := New(filledCart(), creator, regions)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), validCustomer())
		done <- err
	}()

	<-creator.received
	assert.Equal(t, Submitting, o.State())

	_, err := o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(creator.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, creator.callCount())
	assert.Equal(t, Success, o.State())
}

func TestTransportErrorIsFailure(t *testing.T) {
	o := New(filledCart(), &fakeCreator{err: errors.New("dial tcp: connection refused")}, regions)

	_, err := o.Submit(context.Background(), validCustomer())
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, Failed, o.State())
	assert.Contains(t, o.LastError().Error(), "connection refused")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "submitting", Submitting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
