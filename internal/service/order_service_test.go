package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/orderid"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegions = []string{"Addis Ababa", "Oromia", "Amhara"}

// collidingRepo rejects the first n inserts as duplicate order ids
type collidingRepo struct {
	*memstore.MemoryStore
	mu        sync.Mutex
	remaining int
	attempted []string
}

func (r *collidingRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	r.attempted = append(r.attempted, order.OrderID)
	if r.remaining > 0 {
		r.remaining--
		r.mu.Unlock()
		return store.ErrDuplicateOrderID
	}
	r.mu.Unlock()
	return r.MemoryStore.CreateOrder(ctx, order)
}

type failingRepo struct {
	*memstore.MemoryStore
}

func (r *failingRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	return errors.New("connection reset")
}

// heldListRepo blocks one ListOrders call after it has read the rows
type heldListRepo struct {
	*memstore.MemoryStore
	hold    atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (r *heldListRepo) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := r.MemoryStore.ListOrders(ctx)
	if r.hold.CompareAndSwap(true, false) {
		close(r.read)
		<-r.release
	}
	return orders, err
}

// slowCreateRepo widens the window between reserving a key and inserting
type slowCreateRepo struct {
	*memstore.MemoryStore
	delay time.Duration
}

func (r *slowCreateRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	time.Sleep(r.delay)
	return r.MemoryStore.CreateOrder(ctx, order)
}

type fakePublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return p.err
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return p.err
}

func newTestCache(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisclient.NewFromRedis(rdb), mr
}

func newTestOrderService(repo OrderRepository, cache OrderCache, pub EventPublisher) *OrderService {
	return NewOrderService(repo, cache, pub,
		orderid.NewGeneratorWithSource(orderid.DefaultPrefix, rand.NewSource(7)),
		OrderServiceConfig{Regions: testRegions, MaxIDAttempts: 5, CacheTTL: time.Minute})
}

func float(v float64) *float64 { return &v }

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		Customer: models.CustomerInfo{
			FullName: "Abebe Kebede",
			Phone:    "0911000000",
			Address:  "Bole, house 12",
			Region:   "Addis Ababa",
		},
		Items: []models.OrderItem{
			{ProductID: "p1", Name: "Tomatoes", Price: 50, Quantity: 2},
			{ProductID: "p2", Name: "Onions", Price: 30, Quantity: 1},
		},
		Total: float(130),
	}
}

func TestCreateOrder(t *testing.T) {
	repo := memstore.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newTestOrderService(repo, nil, pub)
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	assert.Regexp(t, orderid.Pattern, resp.OrderID)
	assert.NotEmpty(t, resp.ID)

	order, err := svc.GetOrder(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 130.0, order.Total)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, resp.OrderID, order.OrderID)

	require.Len(t, pub.created, 1)
	assert.Equal(t, models.EventTypeOrderCreated, pub.created[0].EventType)
	assert.Equal(t, "Addis Ababa", pub.created[0].Region)
}

func TestCreateOrderRetriesOnCollision(t *testing.T) {
	repo := &collidingRepo{MemoryStore: memstore.NewMemoryStore(), remaining: 3}
	svc := newTestOrderService(repo, nil, nil)

	resp, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	require.Len(t, repo.attempted, 4)
	assert.Equal(t, repo.attempted[3], resp.OrderID)
	for _, id := range repo.attempted {
		assert.Regexp(t, orderid.Pattern, id)
	}
}

func TestCreateOrderIDExhausted(t *testing.T) {
	repo := &collidingRepo{MemoryStore: memstore.NewMemoryStore(), remaining: 100}
	svc := newTestOrderService(repo, nil, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrOrderIDExhausted)
	assert.Len(t, repo.attempted, 5)

	orders, err := repo.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderRepositoryFailure(t *testing.T) {
	svc := newTestOrderService(&failingRepo{memstore.NewMemoryStore()}, nil, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderIDExhausted)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestOrderService(memstore.NewMemoryStore(), nil, nil)

	tests := []struct {
		name   string
		mutate func(r *CreateOrderRequest)
		field  string
	}{
		{"missing name", func(r *CreateOrderRequest) { r.Customer.FullName = " " }, "customer.fullName"},
		{"missing phone", func(r *CreateOrderRequest) { r.Customer.Phone = "" }, "customer.phone"},
		{"missing address", func(r *CreateOrderRequest) { r.Customer.Address = "" }, "customer.address"},
		{"unknown region", func(r *CreateOrderRequest) { r.Customer.Region = "Atlantis" }, "customer.region"},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }, "items"},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[1].Quantity = 0 }, "items[1].quantity"},
		{"missing product id", func(r *CreateOrderRequest) { r.Items[0].ProductID = "" }, "items[0].productId"},
		{"negative price", func(r *CreateOrderRequest) { r.Items[0].Price = -1 }, "items[0].price"},
		{"missing total", func(r *CreateOrderRequest) { r.Total = nil }, "total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := svc.CreateOrder(context.Background(), req)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestCreateOrderIdempotent(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := memstore.NewMemoryStore()
	svc := newTestOrderService(repo, cache, nil)
	ctx := context.Background()

	req := validRequest()
	req.IdempotencyKey = "checkout-abc"

	first, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	orders, err := repo.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestConcurrentCreatesNeverShareOrderID(t *testing.T) {
	repo := memstore.NewMemoryStore()
	svc := NewOrderService(repo, nil, nil, orderid.NewGenerator(orderid.DefaultPrefix),
		OrderServiceConfig{Regions: testRegions, MaxIDAttempts: 10})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), validRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	orders, err := repo.ListOrders(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, o := range orders {
		assert.False(t, seen[o.OrderID], "duplicate %s", o.OrderID)
		seen[o.OrderID] = true
	}
}

func TestSetStatus(t *testing.T) {
	repo := memstore.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newTestOrderService(repo, nil, pub)
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	created, err := svc.GetOrder(ctx, resp.ID)
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, resp.ID, "delivered")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, updated.Status)

	orders, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusDelivered, orders[0].Status)
	assert.True(t, orders[0].UpdatedAt.After(created.UpdatedAt))

	require.Len(t, pub.changed, 1)
	assert.Equal(t, models.OrderStatusPending, pub.changed[0].From)
	assert.Equal(t, models.OrderStatusDelivered, pub.changed[0].To)

	// any status may follow any other
	back, err := svc.SetStatus(ctx, resp.ID, "Pending")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, back.Status)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	repo := memstore.NewMemoryStore()
	svc := newTestOrderService(repo, nil, nil)
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, resp.ID, "shipped")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	order, err := svc.GetOrder(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestSetStatusUnknownOrder(t *testing.T) {
	svc := newTestOrderService(memstore.NewMemoryStore(), nil, nil)

	_, err := svc.SetStatus(context.Background(), "missing", "delivered")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrdersUsesCache(t *testing.T) {
	cache, mr := newTestCache(t)
	repo := memstore.NewMemoryStore()
	svc := newTestOrderService(repo, cache, nil)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	orders, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, mr.Exists("orders:list"))

	// a write behind the service's back is hidden until the cache is dropped
	require.NoError(t, repo.CreateOrder(ctx, &models.Order{OrderID: "GAF-9999"}))
	orders, err = svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	require.NoError(t, svc.InvalidateOrderList(ctx))
	orders, err = svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, "GAF-9999", orders[0].OrderID)
}

func TestCreateOrderInvalidatesCache(t *testing.T) {
	cache, mr := newTestCache(t)
	svc := newTestOrderService(memstore.NewMemoryStore(), cache, nil)
	ctx := context.Background()

	_, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists("orders:list"))

	_, err = svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	assert.False(t, mr.Exists("orders:list"))
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newTestOrderService(memstore.NewMemoryStore(), nil, pub)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestListRefillDoesNotResurrectOldStatus(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &heldListRepo{
		MemoryStore: memstore.NewMemoryStore(),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := newTestOrderService(repo, cache, nil)
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	repo.hold.Store(true)
	slow := make(chan []models.Order, 1)
	go func() {
		orders, err := svc.ListOrders(ctx)
		assert.NoError(t, err)
		slow <- orders
	}()
	<-repo.read

	_, err = svc.SetStatus(ctx, created.ID, "delivered")
	require.NoError(t, err)

	// a listing started after the update does not share the held read
	orders, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusDelivered, orders[0].Status)

	close(repo.release)
	stale := <-slow
	require.Len(t, stale, 1)
	assert.Equal(t, models.OrderStatusPending, stale[0].Status)

	orders, err = svc.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusDelivered, orders[0].Status)

	require.NoError(t, svc.InvalidateOrderList(ctx))
	orders, err = svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, orders[0].Status)
}

func TestConcurrentCreatesWithSameIdempotencyKey(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &slowCreateRepo{MemoryStore: memstore.NewMemoryStore(), delay: 100 * time.Millisecond}
	svc := newTestOrderService(repo, cache, nil)
	ctx := context.Background()

	const n = 8
	results := make([]*CreateOrderResponse, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.IdempotencyKey = "same-key"
			resp, err := svc.CreateOrder(ctx, req)
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	orders, err := repo.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, orders[0].OrderID, r.OrderID)
		assert.Equal(t, orders[0].ID, r.ID)
	}
}

func TestFailedCreateReleasesIdempotencyKey(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	req := validRequest()
	req.IdempotencyKey = "retry-me"

	failing := newTestOrderService(&failingRepo{MemoryStore: memstore.NewMemoryStore()}, cache, nil)
	_, err := failing.CreateOrder(ctx, req)
	require.Error(t, err)
	assert.False(t, mr.Exists("idempotency:retry-me"))

	repo := memstore.NewMemoryStore()
	svc := newTestOrderService(repo, cache, nil)
	resp, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.OrderID)
}

func TestIdempotencyKeyHeldTooLong(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := memstore.NewMemoryStore()
	svc := NewOrderService(repo, cache, nil, nil, OrderServiceConfig{
		Regions:         testRegions,
		MaxIDAttempts:   5,
		IdempotencyWait: 100 * time.Millisecond,
	})
	ctx := context.Background()

	ok, err := cache.ReserveIdempotencyKey(ctx, "stuck", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	req := validRequest()
	req.IdempotencyKey = "stuck"
	_, err = svc.CreateOrder(ctx, req)
	assert.ErrorIs(t, err, ErrRequestInProgress)

	orders, err := repo.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
