package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus представляет статус заказа
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Valid проверяет, что статус известен системе.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus представляет статус оплаты заказа
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentMethod — способ оплаты, выбранный при оформлении.
type PaymentMethod string

const (
	PaymentMethodMpesa          PaymentMethod = "MPESA"
	PaymentMethodCard           PaymentMethod = "CARD"
	PaymentMethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodMpesa || m == PaymentMethodCard || m == PaymentMethodCashOnDelivery
}

// Order представляет заказ в системе
type Order struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OrderNumber      string          `json:"order_number" db:"order_number"`
	UserID           *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	CustomerName     string          `json:"customer_name" db:"customer_name"`
	CustomerPhone    string          `json:"customer_phone" db:"customer_phone"`
	CustomerEmail    *string         `json:"customer_email,omitempty" db:"customer_email"`
	DeliveryLocation string          `json:"delivery_location" db:"delivery_location"`
	DeliveryAddress  string          `json:"delivery_address" db:"delivery_address"`
	Express          bool            `json:"express" db:"express"`
	Items            []OrderItem     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee" db:"delivery_fee"`
	DiscountAmount   decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	PromoCode        *string         `json:"promo_code,omitempty" db:"promo_code"`
	Total            decimal.Decimal `json:"total" db:"total"`
	Status           OrderStatus     `json:"status" db:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentMethod    PaymentMethod   `json:"payment_method" db:"payment_method"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsGuest сообщает, что заказ оформлен без учётной записи.
func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// OrderItem представляет товар в заказе
type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`
}

// Product — позиция каталога, нужная для оформления заказа.
type Product struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	CategoryID *uuid.UUID      `json:"category_id,omitempty" db:"category_id"`
	Price      decimal.Decimal `json:"price" db:"price"`
	IsActive   bool            `json:"is_active" db:"is_active"`
}

// CreateOrderRequest представляет запрос на создание заказа
type CreateOrderRequest struct {
	Items            []CreateOrderItemRequest `json:"items"`
	DeliveryLocation string                   `json:"delivery_location"`
	DeliveryAddress  string                   `json:"delivery_address"`
	Express          bool                     `json:"express,omitempty"`
	PromoCode        *string                  `json:"promo_code,omitempty"`
	PaymentMethod    PaymentMethod            `json:"payment_method"`
	CustomerName     string                   `json:"customer_name"`
	CustomerPhone    string                   `json:"customer_phone"`
	CustomerEmail    *string                  `json:"customer_email,omitempty"`

	// Заполняется из токена, не из тела запроса.
	UserID *uuid.UUID `json:"-"`
}

// CreateOrderItemRequest представляет запрос на создание товара в заказе
type CreateOrderItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// UpdateOrderStatusRequest представляет запрос на обновление статуса заказа
type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status"`
	Notes  *string     `json:"notes,omitempty"`

	ChangedBy *uuid.UUID `json:"-"`
}

// OrderStatusHistory — запись журнала смены статуса.
type OrderStatusHistory struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	OrderID    uuid.UUID   `json:"order_id" db:"order_id"`
	FromStatus OrderStatus `json:"from_status" db:"from_status"`
	ToStatus   OrderStatus `json:"to_status" db:"to_status"`
	Notes      *string     `json:"notes,omitempty" db:"notes"`
	ChangedBy  *uuid.UUID  `json:"changed_by,omitempty" db:"changed_by"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// OrderFilter задаёт фильтры списка заказов в админке.
type OrderFilter struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	UserID        *uuid.UUID
	Limit         int
	Offset        int
}
