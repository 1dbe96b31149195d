package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CatalogService manages the product catalog
type CatalogService struct {
	products ProductRepository
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products ProductRepository) *CatalogService {
	return &CatalogService{
		products: products,
		logger:   util.GetLogger(),
	}
}

// ListProducts returns products, optionally narrowed by category and a
// case-insensitive search over name and description
func (s *CatalogService) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	filter.Category = strings.TrimSpace(filter.Category)
	filter.Search = strings.TrimSpace(filter.Search)

	products, err := s.products.GetProducts(ctx, filter)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.products.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]string, error) {
	categories, err := s.products.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, product *models.Product) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := validateProduct(product); err != nil {
		return err
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to create product: %w", err)
	}

	util.CatalogMutationsTotal.WithLabelValues("product", "create").Inc()
	s.logger.Info("Product created", zap.String("id", product.ID), zap.String("name", product.Name))
	return nil
}

// UpdateProduct replaces the product stored under id
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, product *models.Product) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if err := validateProduct(product); err != nil {
		return err
	}
	product.ID = id

	err := s.products.UpdateProduct(ctx, product)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to update product: %w", err)
	}

	util.CatalogMutationsTotal.WithLabelValues("product", "update").Inc()
	return nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	err := s.products.DeleteProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	util.CatalogMutationsTotal.WithLabelValues("product", "delete").Inc()
	s.logger.Info("Product deleted", zap.String("id", id))
	return nil
}

func validateProduct(p *models.Product) error {
	if p == nil {
		return newValidationError(map[string]string{"body": "request body is required"})
	}

	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)

	fields := map[string]string{}
	if p.Name == "" {
		fields["name"] = "name is required"
	}
	if p.Category == "" {
		fields["category"] = "category is required"
	}
	if p.Price < 0 {
		fields["price"] = "price must not be negative"
	}
	if p.Stock < 0 {
		fields["stock"] = "stock must not be negative"
	}
	if msg := validateImage(p.Image); msg != "" {
		fields["image"] = msg
	}
	return newValidationError(fields)
}

// validateImage accepts a URL or a base64 data URL whose payload decodes
func validateImage(image string) string {
	if !strings.HasPrefix(image, "data:") {
		return ""
	}

	header, payload, ok := strings.Cut(image, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "image must be a base64 data URL"
	}
	if !strings.HasPrefix(header, "data:image/") {
		return "image must have an image media type"
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "image payload is not valid base64"
	}
	return ""
}
