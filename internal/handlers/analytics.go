package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/models"
)

const defaultMaxRangeDays = 365

// AnalyticsHandler обрабатывает эндпоинты аналитики.
type AnalyticsHandler struct {
	service AnalyticsProvider
	log     *logger.Logger
	cfg     *config.AnalyticsConfig
	now     func() time.Time
}

// NewAnalyticsHandler создает новый обработчик аналитики.
func NewAnalyticsHandler(service AnalyticsProvider, log *logger.Logger, cfg *config.AnalyticsConfig) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// GetSalesReport возвращает отчёт о продажах с возможностью экспорта в CSV.
func (h *AnalyticsHandler) GetSalesReport(w http.ResponseWriter, r *http.Request) {
	filter, format, err := parseAnalyticsFilter(r, h.cfg, h.now().UTC())
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyticsTimeout(h.cfg))
	defer cancel()

	report, err := h.service.GetSalesReport(ctx, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load analytics")
		return
	}

	if format == "csv" {
		if err := writeSalesCSV(w, report); err != nil {
			h.log.WithError(err).Warn("Failed to stream sales CSV")
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, report)
}

func parseAnalyticsFilter(r *http.Request, cfg *config.AnalyticsConfig, now time.Time) (*models.AnalyticsFilter, string, error) {
	query := r.URL.Query()

	toParam := query.Get("to")
	fromParam := query.Get("from")

	to := endOfDay(now)
	if toParam != "" {
		parsed, err := time.Parse("2006-01-02", toParam)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'to' date, expected YYYY-MM-DD")
		}
		to = endOfDay(parsed)
	}

	maxRangeDays := defaultMaxRangeDays
	if cfg != nil && cfg.MaxRangeDays > 0 {
		maxRangeDays = cfg.MaxRangeDays
	}

	// по умолчанию последние 30 дней
	from := startOfDay(to.AddDate(0, 0, -29))
	if fromParam != "" {
		parsed, err := time.Parse("2006-01-02", fromParam)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'from' date, expected YYYY-MM-DD")
		}
		from = startOfDay(parsed)
	}

	if from.After(to) {
		return nil, "", fmt.Errorf("'from' date must be before 'to' date")
	}

	minAllowedFrom := startOfDay(to.AddDate(0, 0, -maxRangeDays+1))
	if from.Before(minAllowedFrom) {
		return nil, "", fmt.Errorf("date range too wide, max %d days", maxRangeDays)
	}

	groupBy := models.AnalyticsGroupBy(strings.ToLower(query.Get("group_by")))
	switch groupBy {
	case "", models.AnalyticsGroupDay, models.AnalyticsGroupWeek, models.AnalyticsGroupMonth, models.AnalyticsGroupNone:
	default:
		return nil, "", fmt.Errorf("group_by must be one of: day, week, month, none")
	}

	format := strings.ToLower(query.Get("format"))
	if format != "" && format != "json" && format != "csv" {
		return nil, "", fmt.Errorf("format must be json or csv")
	}

	filter := &models.AnalyticsFilter{
		From:          from,
		To:            to,
		GroupBy:       groupBy,
		TopItemsLimit: parseIntWithDefault(query.Get("top_limit"), 0),
	}

	return filter, format, nil
}

func parseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

func writeSalesCSV(w http.ResponseWriter, report *models.SalesReport) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=sales.csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"section", "period", "revenue", "orders_count", "average_order_value", "discount_total", "delivery_fee_total"})
	rangeLabel := fmt.Sprintf("%s..%s", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	_ = writer.Write([]string{
		"summary",
		rangeLabel,
		report.Revenue.StringFixed(2),
		strconv.Itoa(report.OrdersCount),
		report.AverageOrderValue.StringFixed(2),
		report.DiscountTotal.StringFixed(2),
		report.DeliveryFeeTotal.StringFixed(2),
	})

	for _, period := range report.Periods {
		_ = writer.Write([]string{"period", period.Period, period.Revenue.StringFixed(2), strconv.Itoa(period.OrdersCount)})
	}

	_ = writer.Write([]string{})
	_ = writer.Write([]string{"section", "product_name", "quantity", "revenue"})
	for _, item := range report.TopProducts {
		_ = writer.Write([]string{"top_product", item.Name, strconv.Itoa(item.Quantity), item.Revenue.StringFixed(2)})
	}

	_ = writer.Write([]string{})
	_ = writer.Write([]string{"section", "code", "redemptions", "discount_total"})
	for _, promo := range report.PromoPerformance {
		_ = writer.Write([]string{"promo", promo.Code, strconv.Itoa(promo.Redemptions), promo.DiscountTotal.StringFixed(2)})
	}

	writer.Flush()
	return writer.Error()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Millisecond*999), time.UTC)
}

func analyticsTimeout(cfg *config.AnalyticsConfig) time.Duration {
	if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}
