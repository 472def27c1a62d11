package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"household-planet/internal/apperror"
	"household-planet/internal/clock"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	maxItemQuantity   = 1000
	defaultOrderLimit = 50
	maxOrderLimit     = 200
)

const orderColumns = `id, order_number, user_id, customer_name, customer_phone, customer_email, delivery_location,
		       delivery_address, express, subtotal, delivery_fee, discount_amount, promo_code, total, status,
		       payment_status, payment_method, created_at, updated_at`

// EventPublisher публикует доменные события. Реализуется kafka.Producer.
type EventPublisher interface {
	PublishOrderCreated(order *models.Order) error
	PublishOrderStatusChanged(orderID uuid.UUID, orderNumber string, oldStatus, newStatus models.OrderStatus, notes *string) error
	PublishPaymentStatusChanged(data models.PaymentStatusChangedData) error
	PublishPromoRedeemed(data models.PromoRedeemedData) error
}

// OrderService представляет сервис для работы с заказами
type OrderService struct {
	db       *database.DB
	log      *logger.Logger
	delivery *DeliveryPricingService
	promo    *PromoService
	events   EventPublisher
	clock    clock.Clock
}

// NewOrderService создает новый экземпляр сервиса заказов. events может быть nil.
func NewOrderService(db *database.DB, log *logger.Logger, delivery *DeliveryPricingService, promo *PromoService, events EventPublisher, clk clock.Clock) *OrderService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &OrderService{
		db:       db,
		log:      log,
		delivery: delivery,
		promo:    promo,
		events:   events,
		clock:    clk,
	}
}

// CreateOrder оформляет заказ: цены товаров, доставка, промокод и итог считаются
// на сервере в одной транзакции вместе с записью о погашении и платежом.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	items, err := normalizeCreateOrderRequest(req)
	if err != nil {
		return nil, err
	}

	quote, err := s.delivery.PriceFor(req.DeliveryLocation, req.Express)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	products, err := s.loadProductsWithTx(ctx, tx, items)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &models.Order{
		ID:               uuid.New(),
		OrderNumber:      GenerateOrderNumber(now),
		UserID:           req.UserID,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerEmail:    req.CustomerEmail,
		DeliveryLocation: quote.Location,
		DeliveryAddress:  strings.TrimSpace(req.DeliveryAddress),
		Express:          quote.Express,
		DeliveryFee:      quote.Price,
		DiscountAmount:   decimal.Zero,
		Status:           models.OrderStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		PaymentMethod:    req.PaymentMethod,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	subtotal := decimal.Zero
	var productIDs, categoryIDs []uuid.UUID
	for _, item := range items {
		product := products[item.ProductID]
		lineTotal := models.RoundMoney(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		subtotal = subtotal.Add(lineTotal)

		order.Items = append(order.Items, models.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
		productIDs = append(productIDs, product.ID)
		if product.CategoryID != nil {
			categoryIDs = append(categoryIDs, *product.CategoryID)
		}
	}
	order.Subtotal = models.RoundMoney(subtotal)

	var promo *models.PromoCode
	if req.PromoCode != nil && strings.TrimSpace(*req.PromoCode) != "" {
		if s.promo == nil {
			return nil, apperror.Validation("promo codes are not supported", nil)
		}

		promo, order.DiscountAmount, err = s.promo.ApplyWithTx(ctx, tx, &models.ValidatePromoRequest{
			Code:        *req.PromoCode,
			OrderAmount: order.Subtotal,
			ProductIDs:  productIDs,
			CategoryIDs: categoryIDs,
			UserID:      req.UserID,
		})
		if err != nil {
			return nil, err
		}
		code := promo.Code
		order.PromoCode = &code
	}

	total, anomaly := ComputeTotal(order.Subtotal, order.DeliveryFee, order.DiscountAmount)
	if anomaly {
		s.log.WithFields(map[string]interface{}{
			"order_number": order.OrderNumber,
			"subtotal":     order.Subtotal.String(),
			"discount":     order.DiscountAmount.String(),
			"reason":       apperror.ReasonNegativeTotalAnomaly,
		}).Warn("Discount exceeded subtotal, total clamped")
	}
	order.Total = total

	if err := insertOrderWithTx(ctx, tx, order); err != nil {
		return nil, err
	}

	if promo != nil {
		if _, err := s.promo.RecordUsageWithTx(ctx, tx, promo.ID, order.ID, order.UserID, order.DiscountAmount); err != nil {
			return nil, err
		}
	}

	paymentQuery := `
		INSERT INTO payments (id, order_id, provider, status, amount, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, paymentQuery, uuid.New(), order.ID, models.ProviderFor(order.PaymentMethod),
		models.PaymentStatusPending, order.Total, order.CustomerPhone, now, now); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"guest":        order.IsGuest(),
		"total":        order.Total.String(),
	}).Info("Order created successfully")

	s.publishCreated(order)
	return order, nil
}

func (s *OrderService) publishCreated(order *models.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderCreated(order); err != nil {
		s.log.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order created event")
	}
	if order.PromoCode != nil {
		err := s.events.PublishPromoRedeemed(models.PromoRedeemedData{
			PromoCode:      *order.PromoCode,
			OrderID:        order.ID,
			DiscountAmount: order.DiscountAmount,
		})
		if err != nil {
			s.log.WithError(err).WithField("order_id", order.ID).Error("Failed to publish promo redeemed event")
		}
	}
}

func insertOrderWithTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (id, order_number, user_id, customer_name, customer_phone, customer_email, delivery_location,
		                    delivery_address, express, subtotal, delivery_fee, discount_amount, promo_code, total, status,
		                    payment_status, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := tx.ExecContext(ctx, query, order.ID, order.OrderNumber, order.UserID, order.CustomerName, order.CustomerPhone,
		order.CustomerEmail, order.DeliveryLocation, order.DeliveryAddress, order.Express, order.Subtotal, order.DeliveryFee,
		order.DiscountAmount, order.PromoCode, order.Total, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery, item.ID, item.OrderID, item.ProductID, item.ProductName,
			item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// loadProductsWithTx читает актуальные цены. Цены из запроса клиента не принимаются.
func (s *OrderService) loadProductsWithTx(ctx context.Context, tx *sql.Tx, items []models.CreateOrderItemRequest) (map[uuid.UUID]*models.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID.String())
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, name, category_id, price, is_active FROM products WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]*models.Product, len(items))
	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Price, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok || !p.IsActive {
			return nil, apperror.BusinessRule(apperror.ReasonProductUnavailable, "product is not available").
				WithDetail("product_id", item.ProductID)
		}
	}
	return products, nil
}

// normalizeCreateOrderRequest проверяет запрос, нормализует контакты и склеивает
// повторяющиеся позиции.
func normalizeCreateOrderRequest(req *models.CreateOrderRequest) ([]models.CreateOrderItemRequest, error) {
	if req == nil {
		return nil, apperror.Validation("request body is required", nil)
	}
	if len(req.Items) == 0 {
		return nil, apperror.Validation("order must contain at least one item", nil)
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperror.Validation("payment_method must be one of MPESA, CARD, CASH_ON_DELIVERY", nil)
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return nil, apperror.Validation("customer_name is required", nil)
	}
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return nil, err
	}
	req.CustomerPhone = phone

	if req.CustomerEmail != nil {
		email := strings.TrimSpace(*req.CustomerEmail)
		if email == "" {
			req.CustomerEmail = nil
		} else {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, apperror.Validation("customer_email is invalid", err)
			}
			req.CustomerEmail = &email
		}
	}

	merged := make([]models.CreateOrderItemRequest, 0, len(req.Items))
	index := make(map[uuid.UUID]int, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == uuid.Nil {
			return nil, apperror.Validation("product_id is required", nil)
		}
		if item.Quantity <= 0 || item.Quantity > maxItemQuantity {
			return nil, apperror.Validation(fmt.Sprintf("quantity must be between 1 and %d", maxItemQuantity), nil)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

type orderScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row orderScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.CustomerName, &order.CustomerPhone, &order.CustomerEmail,
		&order.DeliveryLocation, &order.DeliveryAddress, &order.Express, &order.Subtotal, &order.DeliveryFee,
		&order.DiscountAmount, &order.PromoCode, &order.Total, &order.Status, &order.PaymentStatus, &order.PaymentMethod,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder получает заказ по ID
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("order not found", err)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	// Получение товаров заказа
	itemsQuery := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := s.db.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}

	return order, nil
}

// GetOrders получает список заказов с фильтрацией
func (s *OrderService) GetOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}

	if filter.PaymentStatus != nil {
		query += fmt.Sprintf(" AND payment_status = $%d", argIndex)
		args = append(args, *filter.PaymentStatus)
		argIndex++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *filter.UserID)
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	if limit > maxOrderLimit {
		limit = maxOrderLimit
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)
	argIndex++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatus обновляет статус заказа. Повторная установка того же статуса ничего не меняет.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, req *models.UpdateOrderStatusRequest) error {
	if req == nil || req.Status == "" {
		return apperror.Validation("status is required", nil)
	}
	if !req.Status.Valid() {
		return apperror.Validation("unknown order status", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	change, err := transitionOrderWithTx(ctx, tx, orderID, req.Status, req.Notes, req.ChangedBy, s.clock.Now())
	if err != nil {
		return err
	}
	if change == nil {
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order status update: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"order_id":   orderID,
		"old_status": change.OldStatus,
		"new_status": change.NewStatus,
	}).Info("Order status updated")

	if s.events != nil {
		if err := s.events.PublishOrderStatusChanged(orderID, change.OrderNumber, change.OldStatus, change.NewStatus, req.Notes); err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Error("Failed to publish order status changed event")
		}
	}

	return nil
}

// GetOrderHistory возвращает историю смены статусов заказа.
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID uuid.UUID) ([]*models.OrderStatusHistory, error) {
	query := `
		SELECT id, order_id, from_status, to_status, notes, changed_by, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	defer rows.Close()

	var history []*models.OrderStatusHistory
	for rows.Next() {
		h := &models.OrderStatusHistory{}
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order history: %w", err)
	}
	return history, nil
}
