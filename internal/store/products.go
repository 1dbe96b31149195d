package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
)

const productColumns = "id, name, description, price, category, image, stock, created_at, updated_at"

// GetProducts lists the catalog, optionally narrowed by category and a
// case-insensitive search over name and description
func (s *Store) GetProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("LOWER(category) = LOWER($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	pk, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var product models.Product
	err = s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetCategories returns the distinct non-empty categories
func (s *Store) GetCategories(ctx context.Context) ([]string, error) {
	categories := []string{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category")
	return categories, err
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, category, image, stock)
		VALUES (:name, :description, :price, :category, :image, :stock)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, product)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return fmt.Errorf("failed to insert product: no row returned")
	}
	return rows.Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

// UpdateProduct replaces the mutable fields of a product
func (s *Store) UpdateProduct(ctx context.Context, product *models.Product) error {
	pk, err := parseID(product.ID)
	if err != nil {
		return err
	}

	err = s.db.GetContext(ctx, product, `
		UPDATE products
		SET name = $1, description = $2, price = $3, category = $4, image = $5, stock = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING `+productColumns,
		product.Name, product.Description, product.Price, product.Category, product.Image, product.Stock, pk)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product. Orders keep their own item snapshots.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	pk, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", pk)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
