package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type orderRow struct {
	ID        string    `db:"id"`
	OrderID   string    `db:"order_id"`
	Customer  []byte    `db:"customer"`
	Items     []byte    `db:"items"`
	Total     float64   `db:"total"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *orderRow) toModel() (*models.Order, error) {
	order := &models.Order{
		ID:        r.ID,
		OrderID:   r.OrderID,
		Total:     r.Total,
		Status:    models.OrderStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Customer, &order.Customer); err != nil {
		return nil, fmt.Errorf("failed to decode customer of order %s: %w", r.OrderID, err)
	}
	if err := json.Unmarshal(r.Items, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of order %s: %w", r.OrderID, err)
	}
	return order, nil
}

const orderColumns = "id, order_id, customer, items, total, status, created_at, updated_at"

// CreateOrder inserts a new order and fills in its id and timestamps.
// A clash on order_id returns ErrDuplicateOrderID.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("failed to encode customer: %w", err)
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	query := `
		INSERT INTO orders (order_id, customer, items, total, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	var row struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err = s.db.GetContext(ctx, &row, query,
		order.OrderID, string(customer), string(items), order.Total, string(order.Status))
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == constraintOrderID {
			return ErrDuplicateOrderID
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	order.ID = row.ID
	order.CreatedAt = row.CreatedAt
	order.UpdatedAt = row.UpdatedAt
	return nil
}

// GetOrderByID retrieves an order by its internal id
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	pk, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListOrders returns every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// UpdateOrderStatus sets the status and returns the updated order
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	pk, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING "+orderColumns,
		string(status), pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return row.toModel()
}
