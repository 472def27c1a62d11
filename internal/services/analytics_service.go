package services

import (
	"context"
	"fmt"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/redis"

	"github.com/shopspring/decimal"
)

const (
	DefaultTopItemsLimit = 5
	defaultCacheTTL      = 10 * time.Minute
)

// AnalyticsService агрегирует продажи по оплаченным заказам и кеширует отчёты.
type AnalyticsService struct {
	db              *database.DB
	redis           *redis.Client
	log             *logger.Logger
	cacheTTL        time.Duration
	defaultTopItems int
	defaultGroupBy  models.AnalyticsGroupBy
	now             func() time.Time
}

// NewAnalyticsService создает новый сервис аналитики.
func NewAnalyticsService(db *database.DB, redisClient *redis.Client, log *logger.Logger, cfg *config.AnalyticsConfig) *AnalyticsService {
	cacheTTL := defaultCacheTTL
	defaultTop := DefaultTopItemsLimit
	groupBy := models.AnalyticsGroupNone

	if cfg != nil {
		if cfg.CacheTTLMinutes > 0 {
			cacheTTL = time.Duration(cfg.CacheTTLMinutes) * time.Minute
		}
		if cfg.DefaultTopLimit > 0 {
			defaultTop = cfg.DefaultTopLimit
		}
		switch models.AnalyticsGroupBy(cfg.DefaultGroupBy) {
		case models.AnalyticsGroupDay, models.AnalyticsGroupWeek, models.AnalyticsGroupMonth, models.AnalyticsGroupNone:
			groupBy = models.AnalyticsGroupBy(cfg.DefaultGroupBy)
		}
	}

	return &AnalyticsService{
		db:              db,
		redis:           redisClient,
		log:             log,
		cacheTTL:        cacheTTL,
		defaultTopItems: defaultTop,
		defaultGroupBy:  groupBy,
		now:             time.Now,
	}
}

// GetSalesReport возвращает выручку, средний чек, скидки, доставку, топ товаров и
// эффективность промокодов за период. Учитываются только оплаченные заказы.
func (s *AnalyticsService) GetSalesReport(ctx context.Context, filter *models.AnalyticsFilter) (*models.SalesReport, error) {
	filter = s.normalizeFilter(filter)
	cacheKey := s.buildCacheKey("sales", filter)

	var cached models.SalesReport
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	summary, err := s.fetchSalesSummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	periods, err := s.fetchSalesPeriods(ctx, filter)
	if err != nil {
		return nil, err
	}

	topProducts, err := s.fetchTopProducts(ctx, filter)
	if err != nil {
		return nil, err
	}

	promos, err := s.fetchPromoPerformance(ctx, filter)
	if err != nil {
		return nil, err
	}

	aov := decimal.Zero
	if summary.OrdersCount > 0 {
		aov = models.RoundMoney(summary.Revenue.Div(decimal.NewFromInt(int64(summary.OrdersCount))))
	}

	result := &models.SalesReport{
		From:              filter.From,
		To:                filter.To,
		Revenue:           models.RoundMoney(summary.Revenue),
		OrdersCount:       summary.OrdersCount,
		AverageOrderValue: aov,
		DiscountTotal:     models.RoundMoney(summary.DiscountTotal),
		DeliveryFeeTotal:  models.RoundMoney(summary.DeliveryFeeTotal),
		TopProducts:       topProducts,
		PromoPerformance:  promos,
		Periods:           periods,
		GeneratedAt:       s.now(),
		GroupBy:           string(filter.GroupBy),
	}

	s.saveToCache(ctx, cacheKey, result)
	return result, nil
}

type salesSummary struct {
	Revenue          decimal.Decimal
	OrdersCount      int
	DiscountTotal    decimal.Decimal
	DeliveryFeeTotal decimal.Decimal
}

func (s *AnalyticsService) fetchSalesSummary(ctx context.Context, filter *models.AnalyticsFilter) (*salesSummary, error) {
	query := `
		SELECT COALESCE(SUM(total), 0) AS revenue,
		       COUNT(*) AS orders_count,
		       COALESCE(SUM(discount_amount), 0) AS discount_total,
		       COALESCE(SUM(delivery_fee), 0) AS delivery_fee_total
	FROM orders
	WHERE payment_status = 'PAID' AND created_at BETWEEN $1 AND $2
	`

	row := s.db.QueryRowContext(ctx, query, filter.From, filter.To)
	summary := &salesSummary{}
	if err := row.Scan(&summary.Revenue, &summary.OrdersCount, &summary.DiscountTotal, &summary.DeliveryFeeTotal); err != nil {
		return nil, fmt.Errorf("failed to load sales summary: %w", err)
	}

	return summary, nil
}

func (s *AnalyticsService) fetchSalesPeriods(ctx context.Context, filter *models.AnalyticsFilter) ([]models.SalesPeriod, error) {
	if filter.GroupBy == models.AnalyticsGroupNone || !filter.IncludePeriods {
		return nil, nil
	}

	periodExpr := "date_trunc('day', created_at)"
	switch filter.GroupBy {
	case models.AnalyticsGroupWeek:
		periodExpr = "date_trunc('week', created_at)"
	case models.AnalyticsGroupMonth:
		periodExpr = "date_trunc('month', created_at)"
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS period,
		       COALESCE(SUM(total), 0) AS revenue,
		       COUNT(*) AS orders_count
	FROM orders
	WHERE payment_status = 'PAID' AND created_at BETWEEN $1 AND $2
	GROUP BY period
	ORDER BY period ASC
	`, periodExpr)

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales periods: %w", err)
	}
	defer rows.Close()

	var result []models.SalesPeriod
	for rows.Next() {
		var (
			periodTime time.Time
			item       models.SalesPeriod
		)
		if err := rows.Scan(&periodTime, &item.Revenue, &item.OrdersCount); err != nil {
			return nil, fmt.Errorf("failed to scan sales period: %w", err)
		}
		item.Period = formatPeriod(periodTime, filter.GroupBy)
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sales periods: %w", err)
	}

	return result, nil
}

func (s *AnalyticsService) fetchTopProducts(ctx context.Context, filter *models.AnalyticsFilter) ([]models.TopProduct, error) {
	query := `
		SELECT oi.product_name,
		       COALESCE(SUM(oi.quantity), 0) AS total_quantity,
		       COALESCE(SUM(oi.line_total), 0) AS revenue
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id
	WHERE o.payment_status = 'PAID' AND o.created_at BETWEEN $1 AND $2
	GROUP BY oi.product_name
	ORDER BY total_quantity DESC, revenue DESC, oi.product_name ASC
	LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To, filter.TopItemsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top products: %w", err)
	}
	defer rows.Close()

	var result []models.TopProduct
	for rows.Next() {
		var item models.TopProduct
		if err := rows.Scan(&item.Name, &item.Quantity, &item.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan top product: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top products: %w", err)
	}

	return result, nil
}

func (s *AnalyticsService) fetchPromoPerformance(ctx context.Context, filter *models.AnalyticsFilter) ([]models.PromoPerformance, error) {
	query := `
		SELECT pc.code,
		       COUNT(u.id) AS redemptions,
		       COALESCE(SUM(u.discount_amount), 0) AS discount_total
	FROM promo_code_usages u
	JOIN promo_codes pc ON pc.id = u.promo_code_id
	WHERE u.used_at BETWEEN $1 AND $2
	GROUP BY pc.code
	ORDER BY redemptions DESC, pc.code ASC
	LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To, filter.TopItemsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load promo performance: %w", err)
	}
	defer rows.Close()

	var result []models.PromoPerformance
	for rows.Next() {
		var item models.PromoPerformance
		if err := rows.Scan(&item.Code, &item.Redemptions, &item.DiscountTotal); err != nil {
			return nil, fmt.Errorf("failed to scan promo performance: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promo performance: %w", err)
	}

	return result, nil
}

func (s *AnalyticsService) buildCacheKey(kind string, filter *models.AnalyticsFilter) string {
	return redis.GenerateKey(redis.KeyPrefixStats, fmt.Sprintf(
		"%s:%s:%s:%s:%d:%t",
		kind,
		filter.From.Format(time.RFC3339),
		filter.To.Format(time.RFC3339),
		filter.GroupBy,
		filter.TopItemsLimit,
		filter.IncludePeriods,
	))
}

func (s *AnalyticsService) normalizeFilter(filter *models.AnalyticsFilter) *models.AnalyticsFilter {
	if filter == nil {
		filter = &models.AnalyticsFilter{}
	}
	if filter.TopItemsLimit <= 0 {
		filter.TopItemsLimit = s.defaultTopItems
	}
	if filter.GroupBy == "" {
		filter.GroupBy = s.defaultGroupBy
	}
	filter.IncludePeriods = filter.GroupBy != models.AnalyticsGroupNone
	return filter
}

func (s *AnalyticsService) tryGetFromCache(ctx context.Context, key string, dest interface{}) bool {
	if s.redis == nil {
		return false
	}

	if err := s.redis.Get(ctx, key, dest); err != nil {
		return false
	}
	return true
}

func (s *AnalyticsService) saveToCache(ctx context.Context, key string, value interface{}) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to cache analytics result")
	}
}

func formatPeriod(period time.Time, groupBy models.AnalyticsGroupBy) string {
	switch groupBy {
	case models.AnalyticsGroupWeek:
		return period.Format("2006-01-02") // начало недели
	case models.AnalyticsGroupMonth:
		return period.Format("2006-01")
	default:
		return period.Format("2006-01-02")
	}
}
