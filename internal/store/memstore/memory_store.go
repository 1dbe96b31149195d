package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// MemoryStore keeps orders, products and team members in process memory.
// It honours the same uniqueness rules as the database backends.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	orders   map[string]*models.Order
	orderIDs map[string]string // orderId -> record id
	products map[string]*models.Product
	team     map[string]*models.TeamMember
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		orderIDs: make(map[string]string),
		products: make(map[string]*models.Product),
		team:     make(map[string]*models.TeamMember),
	}
}

func (s *MemoryStore) newID() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// later returns now, nudged past prev so updates always move forward
func later(prev time.Time) time.Time {
	ts := time.Now().UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	return ts
}

func copyOrder(o *models.Order) models.Order {
	out := *o
	out.Items = append([]models.OrderItem(nil), o.Items...)
	return out
}

// CreateOrder stores a new order; a reused orderId is rejected
func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.orderIDs[order.OrderID]; taken {
		return store.ErrDuplicateOrderID
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	order.ID = s.newID()
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt

	stored := copyOrder(order)
	s.orders[order.ID] = &stored
	s.orderIDs[order.OrderID] = order.ID
	return nil
}

// GetOrderByID retrieves an order by record id
func (s *MemoryStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := copyOrder(o)
	return &out, nil
}

// ListOrders returns every order, newest first
func (s *MemoryStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, copyOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return numericID(orders[i].ID) > numericID(orders[j].ID)
	})
	return orders, nil
}

// UpdateOrderStatus sets the status and returns the updated order
func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = later(o.UpdatedAt)

	out := copyOrder(o)
	return &out, nil
}

// GetProducts lists products matching the filter, newest first
func (s *MemoryStore) GetProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	products := []models.Product{}
	for _, p := range s.products {
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool {
		return numericID(products[i].ID) > numericID(products[j].ID)
	})
	return products, nil
}

// GetProductByID retrieves a product
func (s *MemoryStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

// GetCategories returns the distinct categories in use, sorted
func (s *MemoryStore) GetCategories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	categories := []string{}
	for _, p := range s.products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// CreateProduct stores a new product
func (s *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.ID = s.newID()
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = product.CreatedAt

	stored := *product
	s.products[product.ID] = &stored
	return nil
}

// UpdateProduct replaces a product's editable fields
func (s *MemoryStore) UpdateProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = later(existing.UpdatedAt)

	stored := *product
	s.products[product.ID] = &stored
	return nil
}

// DeleteProduct removes a product
func (s *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// GetTeamMembers lists the team, leader first
func (s *MemoryStore) GetTeamMembers(ctx context.Context) ([]models.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]models.TeamMember, 0, len(s.team))
	for _, m := range s.team {
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].IsLeader != members[j].IsLeader {
			return members[i].IsLeader
		}
		return numericID(members[i].ID) < numericID(members[j].ID)
	})
	return members, nil
}

// GetTeamMemberByID retrieves a team member
func (s *MemoryStore) GetTeamMemberByID(ctx context.Context, id string) (*models.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.team[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *m
	return &out, nil
}

// CountLeaders returns how many members are flagged as leader
func (s *MemoryStore) CountLeaders(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLeadersExcept(""), nil
}

func (s *MemoryStore) countLeadersExcept(id string) int {
	n := 0
	for _, m := range s.team {
		if m.IsLeader && m.ID != id {
			n++
		}
	}
	return n
}

// CreateTeamMember stores a new member; a second leader is rejected
func (s *MemoryStore) CreateTeamMember(ctx context.Context, member *models.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if member.IsLeader && s.countLeadersExcept("") > 0 {
		return store.ErrLeaderExists
	}

	member.ID = s.newID()
	member.CreatedAt = time.Now().UTC()
	member.UpdatedAt = member.CreatedAt

	stored := *member
	s.team[member.ID] = &stored
	return nil
}

// UpdateTeamMember replaces a member's editable fields
func (s *MemoryStore) UpdateTeamMember(ctx context.Context, member *models.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.team[member.ID]
	if !ok {
		return store.ErrNotFound
	}
	if member.IsLeader && s.countLeadersExcept(member.ID) > 0 {
		return store.ErrLeaderExists
	}
	member.CreatedAt = existing.CreatedAt
	member.UpdatedAt = later(existing.UpdatedAt)

	stored := *member
	s.team[member.ID] = &stored
	return nil
}

// DeleteTeamMember removes a member
func (s *MemoryStore) DeleteTeamMember(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.team[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.team, id)
	return nil
}

func numericID(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}
