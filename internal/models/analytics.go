package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalyticsGroupBy описывает доступные варианты группировки периодов.
type AnalyticsGroupBy string

const (
	AnalyticsGroupNone  AnalyticsGroupBy = "none"
	AnalyticsGroupDay   AnalyticsGroupBy = "day"
	AnalyticsGroupWeek  AnalyticsGroupBy = "week"
	AnalyticsGroupMonth AnalyticsGroupBy = "month"
)

// AnalyticsFilter задает временной интервал и параметры агрегации.
type AnalyticsFilter struct {
	From           time.Time
	To             time.Time
	GroupBy        AnalyticsGroupBy
	TopItemsLimit  int
	IncludePeriods bool
}

// SalesReport описывает продажи за период. Учитываются только оплаченные заказы.
type SalesReport struct {
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	Revenue           decimal.Decimal    `json:"revenue"`
	OrdersCount       int                `json:"orders_count"`
	AverageOrderValue decimal.Decimal    `json:"average_order_value"`
	DiscountTotal     decimal.Decimal    `json:"discount_total"`
	DeliveryFeeTotal  decimal.Decimal    `json:"delivery_fee_total"`
	TopProducts       []TopProduct       `json:"top_products"`
	PromoPerformance  []PromoPerformance `json:"promo_performance"`
	Periods           []SalesPeriod      `json:"periods,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
	GroupBy           string             `json:"group_by,omitempty"`
}

// SalesPeriod хранит агрегированные метрики по периоду.
type SalesPeriod struct {
	Period      string          `json:"period"`
	Revenue     decimal.Decimal `json:"revenue"`
	OrdersCount int             `json:"orders_count"`
}

// TopProduct описывает популярный товар в заказах.
type TopProduct struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// PromoPerformance — сколько раз погашен промокод и на какую сумму.
type PromoPerformance struct {
	Code          string          `json:"code"`
	Redemptions   int             `json:"redemptions"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
}
