package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Product is the catalog data a cart line refers to.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
	Image    string          `json:"image,omitempty"`
}

// Line is one product entry in the cart.
type Line struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Subtotal returns unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals is derived from the line set, never stored.
type Totals struct {
	TotalItems int             `json:"totalItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// Snapshot is an immutable view handed to observers.
type Snapshot struct {
	Lines  []Line `json:"lines"`
	Totals Totals `json:"totals"`
}

// Persister keeps a cart across process restarts, keyed by shopper session.
type Persister interface {
	SaveCart(ctx context.Context, sessionID string, lines []Line) error
	LoadCart(ctx context.Context, sessionID string) ([]Line, error)
	DeleteCart(ctx context.Context, sessionID string) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister mirrors every mutation to p under sessionID.
func WithPersister(p Persister, sessionID string) Option {
	return func(s *Store) {
		s.persister = p
		s.sessionID = sessionID
	}
}

// WithPersistTimeout bounds each persister call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.persistTimeout = d
	}
}

// Store holds one shopper's in-progress selection. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	lines     []Line
	observers []func(Snapshot)

	persister      Persister
	sessionID      string
	persistTimeout time.Duration
	logger         *zap.Logger
}

// New creates an empty cart.
func New(opts ...Option) *Store {
	s := &Store{
		persistTimeout: 2 * time.Second,
		logger:         util.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replaces the current lines with the persisted cart, if any.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	lines, err := s.persister.LoadCart(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}

	s.mu.Lock()
	s.lines = mergeLines(lines)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// AddItem increments the line for product.ID, or appends a new one.
// Quantities below one are treated as one.
func (s *Store) AddItem(product Product, quantity int) {
	if quantity < 1 {
		quantity = 1
	}

	s.mutate(func() {
		for i := range s.lines {
			if s.lines[i].Product.ID == product.ID {
				s.lines[i].Quantity += quantity
				return
			}
		}
		s.lines = append(s.lines, Line{Product: product, Quantity: quantity})
	})
}

// RemoveItem deletes the line for productID. Absent ids are ignored.
func (s *Store) RemoveItem(productID string) {
	s.mutate(func() {
		for i := range s.lines {
			if s.lines[i].Product.ID == productID {
				s.lines = append(s.lines[:i], s.lines[i+1:]...)
				return
			}
		}
	})
}

// UpdateQuantity sets the line's quantity to max(1, quantity).
func (s *Store) UpdateQuantity(productID string, quantity int) {
	if quantity < 1 {
		quantity = 1
	}

	s.mutate(func() {
		for i := range s.lines {
			if s.lines[i].Product.ID == productID {
				s.lines[i].Quantity = quantity
				return
			}
		}
	})
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	snap := s.snapshotLocked()
	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		if err := s.persister.DeleteCart(ctx, s.sessionID); err != nil {
			s.logger.Warn("Failed to delete persisted cart",
				zap.String("session_id", s.sessionID),
				zap.Error(err))
		}
		cancel()
	}
	s.mu.Unlock()

	s.notify(snap)
}

// Totals sums quantities and line subtotals.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeTotals(s.lines)
}

// Lines returns a copy of the lines in insertion order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines...)
}

// Snapshot returns lines and totals taken atomically.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of distinct products.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) mutate(apply func()) {
	s.mu.Lock()
	apply()
	snap := s.snapshotLocked()
	s.persistLocked(snap.Lines)
	s.mu.Unlock()

	s.notify(snap)
}

// persistLocked saves best effort; a cart must stay usable when storage is down.
func (s *Store) persistLocked(lines []Line) {
	if s.persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.persister.SaveCart(ctx, s.sessionID, lines); err != nil {
		s.logger.Warn("Failed to persist cart",
			zap.String("session_id", s.sessionID),
			zap.Int("lines", len(lines)),
			zap.Error(err))
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Lines:  append([]Line(nil), s.lines...),
		Totals: computeTotals(s.lines),
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	observers := make([]func(Snapshot), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func computeTotals(lines []Line) Totals {
	totals := Totals{TotalPrice: decimal.Zero}
	for _, l := range lines {
		totals.TotalItems += l.Quantity
		totals.TotalPrice = totals.TotalPrice.Add(l.Subtotal())
	}
	return totals
}

// mergeLines folds duplicate product ids and drops non-positive quantities,
// so restored data always satisfies the one-line-per-product rule.
func mergeLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		if i, ok := index[l.Product.ID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.Product.ID] = len(out)
		out = append(out, l)
	}
	return out
}
