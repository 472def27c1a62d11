package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType описывает тип промокода.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

// PromoCode представляет промокод в системе.
type PromoCode struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	Code           string           `json:"code" db:"code"`
	Description    string           `json:"description" db:"description"`
	DiscountType   DiscountType     `json:"discount_type" db:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value" db:"discount_value"`
	MinOrderAmount decimal.Decimal  `json:"min_order_amount" db:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty" db:"max_discount"`
	UsageLimit     *int             `json:"usage_limit,omitempty" db:"usage_limit"`
	PerUserLimit   *int             `json:"per_user_limit,omitempty" db:"per_user_limit"`
	UsedCount      int              `json:"used_count" db:"used_count"`
	ValidFrom      time.Time        `json:"valid_from" db:"valid_from"`
	ValidUntil     time.Time        `json:"valid_until" db:"valid_until"`
	IsActive       bool             `json:"is_active" db:"is_active"`
	ProductIDs     []uuid.UUID      `json:"product_ids,omitempty" db:"product_ids"`
	CategoryIDs    []uuid.UUID      `json:"category_ids,omitempty" db:"category_ids"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Scoped сообщает, ограничен ли промокод товарами или категориями.
func (p *PromoCode) Scoped() bool {
	return len(p.ProductIDs) > 0 || len(p.CategoryIDs) > 0
}

// PromoCodeUsage — запись о погашении промокода заказом. Только добавление.
type PromoCodeUsage struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PromoCodeID    uuid.UUID       `json:"promo_code_id" db:"promo_code_id"`
	OrderID        uuid.UUID       `json:"order_id" db:"order_id"`
	OrderNumber    string          `json:"order_number,omitempty" db:"order_number"`
	UserID         *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	UsedAt         time.Time       `json:"used_at" db:"used_at"`
}

// ValidatePromoRequest описывает запрос на проверку промокода.
type ValidatePromoRequest struct {
	Code        string          `json:"code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	ProductIDs  []uuid.UUID     `json:"product_ids,omitempty"`
	CategoryIDs []uuid.UUID     `json:"category_ids,omitempty"`
	UserID      *uuid.UUID      `json:"-"`
}

// ValidatePromoResult — ответ на успешную проверку промокода.
type ValidatePromoResult struct {
	Valid          bool            `json:"valid"`
	PromoCode      string          `json:"promo_code"`
	DiscountType   DiscountType    `json:"discount_type"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// CreatePromoCodeRequest описывает запрос на создание промокода.
type CreatePromoCodeRequest struct {
	Code           string           `json:"code"`
	Description    string           `json:"description,omitempty"`
	DiscountType   DiscountType     `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount decimal.Decimal  `json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit     *int             `json:"usage_limit,omitempty"`    // nil = безлимит
	PerUserLimit   *int             `json:"per_user_limit,omitempty"` // nil = безлимит
	ValidFrom      time.Time        `json:"valid_from"`
	ValidUntil     time.Time        `json:"valid_until"`
	IsActive       bool             `json:"is_active"`
	ProductIDs     []uuid.UUID      `json:"product_ids,omitempty"`
	CategoryIDs    []uuid.UUID      `json:"category_ids,omitempty"`
}

// UpdatePromoCodeRequest описывает запрос на обновление промокода. Код не меняется.
type UpdatePromoCodeRequest struct {
	Description    string           `json:"description,omitempty"`
	DiscountType   DiscountType     `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount decimal.Decimal  `json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit     *int             `json:"usage_limit,omitempty"`
	PerUserLimit   *int             `json:"per_user_limit,omitempty"`
	ValidFrom      time.Time        `json:"valid_from"`
	ValidUntil     time.Time        `json:"valid_until"`
	IsActive       bool             `json:"is_active"`
	ProductIDs     []uuid.UUID      `json:"product_ids,omitempty"`
	CategoryIDs    []uuid.UUID      `json:"category_ids,omitempty"`
}
