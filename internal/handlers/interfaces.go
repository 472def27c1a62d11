package handlers

import (
	"context"
	"time"

	"household-planet/internal/models"

	"github.com/google/uuid"
)

// ----- Orders -----

type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, req *models.UpdateOrderStatusRequest) error
	GetOrderHistory(ctx context.Context, orderID uuid.UUID) ([]*models.OrderStatusHistory, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ----- Payments -----

type PaymentService interface {
	InitiateMpesa(ctx context.Context, orderID uuid.UUID, req *models.InitiateMpesaRequest) (*models.InitiateMpesaResponse, error)
	HandleMpesaCallback(ctx context.Context, payload []byte) error
	HandleCardCallback(ctx context.Context, verifHash string, payload []byte) error
	GetPayments(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error)
}

// ----- Promo -----

type PromoService interface {
	Validate(ctx context.Context, req *models.ValidatePromoRequest) (*models.ValidatePromoResult, error)
	CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error)
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	UpdatePromoCode(ctx context.Context, code string, req *models.UpdatePromoCodeRequest) (*models.PromoCode, error)
	DeletePromoCode(ctx context.Context, code string) error
	ListPromoCodes(ctx context.Context, limit, offset int) ([]*models.PromoCode, error)
	ListUsages(ctx context.Context, code string, limit, offset int) ([]*models.PromoCodeUsage, error)
}

// ----- Delivery -----

type DeliveryPricing interface {
	PriceFor(name string, express bool) (*models.DeliveryQuote, error)
	List() []models.DeliveryLocation
}

// ----- Auth -----

type AuthService interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
}

// ----- Analytics -----

type AnalyticsProvider interface {
	GetSalesReport(ctx context.Context, filter *models.AnalyticsFilter) (*models.SalesReport, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
