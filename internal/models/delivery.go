package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryLocation описывает зону доставки и её тариф.
type DeliveryLocation struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Name             string           `json:"name" db:"name"`
	Tier             int              `json:"tier" db:"tier"`
	Price            decimal.Decimal  `json:"price" db:"price"`
	EstimatedDays    string           `json:"estimated_days" db:"estimated_days"`
	ExpressAvailable bool             `json:"express_available" db:"express_available"`
	ExpressPrice     *decimal.Decimal `json:"express_price,omitempty" db:"express_price"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// DeliveryQuote — результат расчёта стоимости доставки в конкретную зону.
type DeliveryQuote struct {
	Location      string          `json:"location"`
	Price         decimal.Decimal `json:"price"`
	EstimatedDays string          `json:"estimated_days"`
	Tier          int             `json:"tier"`
	Express       bool            `json:"express"`
}
