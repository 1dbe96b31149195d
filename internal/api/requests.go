package api

import (
	"storefront/internal/models"
	"storefront/internal/service"
)

type customerRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Region   string `json:"region" binding:"required"`
	Notes    string `json:"notes"`
}

type orderItemRequest struct {
	ProductID string  `json:"productId" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	Price     float64 `json:"price" binding:"gte=0"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
}

type createOrderRequest struct {
	Customer customerRequest    `json:"customer"`
	Items    []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	Total    *float64           `json:"total" binding:"required,gte=0"`
}

func (r *createOrderRequest) toService(idempotencyKey string) *service.CreateOrderRequest {
	items := make([]models.OrderItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		})
	}
	return &service.CreateOrderRequest{
		Customer: models.CustomerInfo{
			FullName: r.Customer.FullName,
			Phone:    r.Customer.Phone,
			Address:  r.Customer.Address,
			Region:   r.Customer.Region,
			Notes:    r.Customer.Notes,
		},
		Items:          items,
		Total:          r.Total,
		IdempotencyKey: idempotencyKey,
	}
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type productRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" binding:"gte=0"`
	Category    string  `json:"category" binding:"required"`
	Image       string  `json:"image"`
	Stock       int     `json:"stock" binding:"gte=0"`
}

func (r *productRequest) toModel() *models.Product {
	return &models.Product{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Category:    r.Category,
		Image:       r.Image,
		Stock:       r.Stock,
	}
}

type teamMemberRequest struct {
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Bio      string `json:"bio"`
	Phone    string `json:"phone"`
	Email    string `json:"email" binding:"omitempty,email"`
	Image    string `json:"image"`
	IsLeader bool   `json:"isLeader"`
}

func (r *teamMemberRequest) toModel() *models.TeamMember {
	return &models.TeamMember{
		Name:     r.Name,
		Role:     r.Role,
		Bio:      r.Bio,
		Phone:    r.Phone,
		Email:    r.Email,
		Image:    r.Image,
		IsLeader: r.IsLeader,
	}
}
