package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"household-planet/internal/apperror"
	"household-planet/internal/clock"
	"household-planet/internal/config"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "debug", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &database.DB{DB: db}, mock
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu             sync.Mutex
	created        []*models.Order
	statusChanged  []models.OrderStatusChangedData
	paymentChanged []models.PaymentStatusChangedData
	redeemed       []models.PromoRedeemedData
	err            error
}

func (p *recordingPublisher) PublishOrderCreated(order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, order)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(orderID uuid.UUID, orderNumber string, oldStatus, newStatus models.OrderStatus, notes *string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, models.OrderStatusChangedData{
		OrderID: orderID, OrderNumber: orderNumber, OldStatus: oldStatus, NewStatus: newStatus, Notes: notes,
	})
	return p.err
}

func (p *recordingPublisher) PublishPaymentStatusChanged(data models.PaymentStatusChangedData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paymentChanged = append(p.paymentChanged, data)
	return p.err
}

func (p *recordingPublisher) PublishPromoRedeemed(data models.PromoRedeemedData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redeemed = append(p.redeemed, data)
	return p.err
}

var orderRowsColumns = []string{
	"id", "order_number", "user_id", "customer_name", "customer_phone", "customer_email", "delivery_location",
	"delivery_address", "express", "subtotal", "delivery_fee", "discount_amount", "promo_code", "total", "status",
	"payment_status", "payment_method", "created_at", "updated_at",
}

func newTestOrderService(t *testing.T) (*OrderService, sqlmock.Sqlmock, *recordingPublisher) {
	db, mock := newMockDB(t)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMockClock(promoNow)
	log := newTestLogger()
	events := &recordingPublisher{}
	promo := NewPromoService(db, log, clk)
	return NewOrderService(db, log, newDefaultPricing(), promo, events, clk), mock, events
}

func strPtr(s string) *string { return &s }

func TestOrderService_CreateOrderWithPromo(t *testing.T) {
	service, mock, events := newTestOrderService(t)

	potID := uuid.New()
	bucketID := uuid.New()
	categoryID := uuid.New()
	userID := uuid.New()

	promo := newPromoRow("SAVE500", models.DiscountTypeFixed, "500", "1000")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, category_id, price, is_active FROM products WHERE id = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category_id", "price", "is_active"}).
			AddRow(potID.String(), "Cooking Pot 5L", nil, "1000.00", true).
			AddRow(bucketID.String(), "Plastic Bucket", categoryID.String(), "500.00", true))
	mock.ExpectQuery("SELECT .* FROM promo_codes WHERE code = \\$1 FOR UPDATE").
		WithArgs("SAVE500").
		WillReturnRows(promo.rows())
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO promo_code_usages").
		WithArgs(sqlmock.AnyArg(), promo.id, sqlmock.AnyArg(), &userID, sqlmock.AnyArg(), promoNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), models.PaymentProviderMpesa, models.PaymentStatusPending,
			sqlmock.AnyArg(), "254712345678", promoNow, promoNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order, err := service.CreateOrder(context.Background(), &models.CreateOrderRequest{
		Items: []models.CreateOrderItemRequest{
			{ProductID: potID, Quantity: 1},
			{ProductID: bucketID, Quantity: 3},
			{ProductID: potID, Quantity: 1},
		},
		DeliveryLocation: "rongai",
		PromoCode:        strPtr("save500"),
		PaymentMethod:    models.PaymentMethodMpesa,
		CustomerName:     "Wanjiku Kamau",
		CustomerPhone:    "0712 345 678",
		UserID:           &userID,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if !order.Subtotal.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("expected subtotal 3500, got %s", order.Subtotal)
	}
	if !order.DeliveryFee.Equal(decimal.NewFromInt(300)) || order.DeliveryLocation != "Rongai" {
		t.Fatalf("unexpected delivery: %s %s", order.DeliveryLocation, order.DeliveryFee)
	}
	if !order.DiscountAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected discount 500, got %s", order.DiscountAmount)
	}
	if !order.Total.Equal(decimal.NewFromInt(3300)) {
		t.Fatalf("expected total 3300, got %s", order.Total)
	}
	if len(order.Items) != 2 || order.Items[0].Quantity != 2 {
		t.Fatalf("expected merged items, got %+v", order.Items)
	}
	if order.Status != models.OrderStatusPending || order.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PromoCode == nil || *order.PromoCode != "SAVE500" {
		t.Fatalf("expected promo code on order, got %v", order.PromoCode)
	}

	if len(events.created) != 1 || len(events.redeemed) != 1 {
		t.Fatalf("expected created and redeemed events, got %d/%d", len(events.created), len(events.redeemed))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_CreateGuestOrderWithoutPromo(t *testing.T) {
	service, mock, events := newTestOrderService(t)
	events.err = errors.New("kafka down")

	productID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category_id", "price", "is_active"}).
			AddRow(productID.String(), "Dish Rack", nil, "2500", true))
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), models.PaymentProviderCash, models.PaymentStatusPending,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order, err := service.CreateOrder(context.Background(), &models.CreateOrderRequest{
		Items:            []models.CreateOrderItemRequest{{ProductID: productID, Quantity: 1}},
		DeliveryLocation: "Nairobi CBD",
		PaymentMethod:    models.PaymentMethodCashOnDelivery,
		CustomerName:     "Otieno",
		CustomerPhone:    "+254 112 345 678",
		CustomerEmail:    strPtr(" otieno@example.com "),
	})
	if err != nil {
		t.Fatalf("expected success even when publishing fails, got %v", err)
	}

	if !order.IsGuest() {
		t.Fatalf("expected guest order")
	}
	if !order.Total.Equal(decimal.NewFromInt(2600)) {
		t.Fatalf("expected total 2600, got %s", order.Total)
	}
	if order.CustomerPhone != "254112345678" || *order.CustomerEmail != "otieno@example.com" {
		t.Fatalf("contacts not normalized: %s %s", order.CustomerPhone, *order.CustomerEmail)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_CreateOrderProductUnavailable(t *testing.T) {
	tests := []struct {
		name string
		rows func(id uuid.UUID) *sqlmock.Rows
	}{
		{"missing", func(uuid.UUID) *sqlmock.Rows {
			return sqlmock.NewRows([]string{"id", "name", "category_id", "price", "is_active"})
		}},
		{"inactive", func(id uuid.UUID) *sqlmock.Rows {
			return sqlmock.NewRows([]string{"id", "name", "category_id", "price", "is_active"}).
				AddRow(id.String(), "Old Kettle", nil, "900", false)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mock, events := newTestOrderService(t)
			productID := uuid.New()

			mock.ExpectBegin()
			mock.ExpectQuery("FROM products").WillReturnRows(tt.rows(productID))
			mock.ExpectRollback()

			_, err := service.CreateOrder(context.Background(), &models.CreateOrderRequest{
				Items:            []models.CreateOrderItemRequest{{ProductID: productID, Quantity: 1}},
				DeliveryLocation: "Westlands",
				PaymentMethod:    models.PaymentMethodCard,
				CustomerName:     "Achieng",
				CustomerPhone:    "0722000111",
			})
			if apperror.ReasonOf(err) != apperror.ReasonProductUnavailable {
				t.Fatalf("expected product unavailable, got %v", err)
			}
			if len(events.created) != 0 {
				t.Fatalf("no events expected on failure")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestOrderService_CreateOrderPromoRejectedRollsBack(t *testing.T) {
	service, mock, _ := newTestOrderService(t)
	productID := uuid.New()
	promo := newPromoRow("FIXED100", models.DiscountTypeFixed, "100", "500")

	mock.ExpectBegin()
	mock.ExpectQuery("FROM products").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category_id", "price", "is_active"}).
			AddRow(productID.String(), "Sponge", nil, "80", true))
	mock.ExpectQuery("FOR UPDATE").WithArgs("FIXED100").WillReturnRows(promo.rows())
	mock.ExpectRollback()

	_, err := service.CreateOrder(context.Background(), &models.CreateOrderRequest{
		Items:            []models.CreateOrderItemRequest{{ProductID: productID, Quantity: 1}},
		DeliveryLocation: "Nairobi CBD",
		PromoCode:        strPtr("FIXED100"),
		PaymentMethod:    models.PaymentMethodMpesa,
		CustomerName:     "Kip",
		CustomerPhone:    "0700000000",
	})
	assertReason(t, err, apperror.KindBusinessRule, apperror.ReasonMinimumOrderNotMet)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_CreateOrderValidation(t *testing.T) {
	service, mock, _ := newTestOrderService(t)
	productID := uuid.New()

	valid := func() *models.CreateOrderRequest {
		return &models.CreateOrderRequest{
			Items:            []models.CreateOrderItemRequest{{ProductID: productID, Quantity: 1}},
			DeliveryLocation: "Nairobi CBD",
			PaymentMethod:    models.PaymentMethodMpesa,
			CustomerName:     "Njeri",
			CustomerPhone:    "0711222333",
		}
	}

	tests := []struct {
		name   string
		mutate func(r *models.CreateOrderRequest)
		kind   apperror.Kind
		reason apperror.Reason
	}{
		{"no items", func(r *models.CreateOrderRequest) { r.Items = nil }, apperror.KindValidation, ""},
		{"zero quantity", func(r *models.CreateOrderRequest) { r.Items[0].Quantity = 0 }, apperror.KindValidation, ""},
		{"bad payment method", func(r *models.CreateOrderRequest) { r.PaymentMethod = "PAYPAL" }, apperror.KindValidation, ""},
		{"missing name", func(r *models.CreateOrderRequest) { r.CustomerName = " " }, apperror.KindValidation, ""},
		{"bad phone", func(r *models.CreateOrderRequest) { r.CustomerPhone = "12345" }, apperror.KindValidation, ""},
		{"bad email", func(r *models.CreateOrderRequest) { r.CustomerEmail = strPtr("not-an-email") }, apperror.KindValidation, ""},
		{"unknown location", func(r *models.CreateOrderRequest) { r.DeliveryLocation = "Nonexistent Place" }, apperror.KindNotFound, apperror.ReasonLocationNotFound},
		{"express unavailable", func(r *models.CreateOrderRequest) { r.DeliveryLocation = "Mombasa"; r.Express = true }, apperror.KindBusinessRule, apperror.ReasonExpressNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := service.CreateOrder(context.Background(), req)
			if !apperror.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if tt.reason != "" && apperror.ReasonOf(err) != tt.reason {
				t.Fatalf("expected reason %s, got %s", tt.reason, apperror.ReasonOf(err))
			}
		})
	}

	// до БД дело не доходит
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_GetOrder(t *testing.T) {
	service, mock, _ := newTestOrderService(t)

	orderID := uuid.New()
	itemID := uuid.New()
	productID := uuid.New()
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM orders WHERE id = \\$1").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(orderRowsColumns).AddRow(
			orderID.String(), "HP-1777000000000-A1B2C3", nil, "Wanjiku", "254712345678", nil, "Nairobi CBD",
			"Moi Avenue", false, "2500.00", "100.00", "0.00", nil, "2600.00", "PENDING",
			"PENDING", "MPESA", created, created))
	mock.ExpectQuery("FROM order_items").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "product_name", "quantity", "unit_price", "line_total"}).
			AddRow(itemID.String(), orderID.String(), productID.String(), "Dish Rack", int64(1), "2500.00", "2500.00"))

	order, err := service.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}

	want := []models.OrderItem{{
		ID:          itemID,
		OrderID:     orderID,
		ProductID:   productID,
		ProductName: "Dish Rack",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(2500),
		LineTotal:   decimal.NewFromInt(2500),
	}}
	decimalEqual := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(want, order.Items, decimalEqual); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if !order.IsGuest() || order.PromoCode != nil || !order.Total.Equal(decimal.NewFromInt(2600)) {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestOrderService_GetOrderNotFound(t *testing.T) {
	service, mock, _ := newTestOrderService(t)

	mock.ExpectQuery("FROM orders").WillReturnRows(sqlmock.NewRows(orderRowsColumns))

	if _, err := service.GetOrder(context.Background(), uuid.New()); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderService_GetOrdersFilters(t *testing.T) {
	service, mock, _ := newTestOrderService(t)

	status := models.OrderStatusPending
	userID := uuid.New()

	mock.ExpectQuery("FROM orders WHERE 1=1 AND status = \\$1 AND user_id = \\$2 ORDER BY created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(status, userID, maxOrderLimit, 10).
		WillReturnRows(sqlmock.NewRows(orderRowsColumns))

	orders, err := service.GetOrders(context.Background(), models.OrderFilter{
		Status: &status,
		UserID: &userID,
		Limit:  1000,
		Offset: 10,
	})
	if err != nil {
		t.Fatalf("get orders failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected empty list, got %d", len(orders))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	service, mock, events := newTestOrderService(t)

	orderID := uuid.New()
	adminID := uuid.New()
	notes := "packed and handed to rider"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT order_number, status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"order_number", "status"}).AddRow("HP-1-ABCDEF", "PROCESSING"))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusShipped, promoNow, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(sqlmock.AnyArg(), orderID, models.OrderStatusProcessing, models.OrderStatusShipped, &notes, &adminID, promoNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := service.UpdateOrderStatus(context.Background(), orderID, &models.UpdateOrderStatusRequest{
		Status:    models.OrderStatusShipped,
		Notes:     &notes,
		ChangedBy: &adminID,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if len(events.statusChanged) != 1 || events.statusChanged[0].NewStatus != models.OrderStatusShipped {
		t.Fatalf("expected status changed event, got %+v", events.statusChanged)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_UpdateOrderStatusSameStatusIsNoop(t *testing.T) {
	service, mock, events := newTestOrderService(t)
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"order_number", "status"}).AddRow("HP-1-ABCDEF", "CONFIRMED"))
	mock.ExpectRollback()

	if err := service.UpdateOrderStatus(context.Background(), orderID, &models.UpdateOrderStatusRequest{Status: models.OrderStatusConfirmed}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if len(events.statusChanged) != 0 {
		t.Fatalf("no event expected for no-op")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_UpdateOrderStatusInvalidTransition(t *testing.T) {
	service, mock, _ := newTestOrderService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"order_number", "status"}).AddRow("HP-1-ABCDEF", "DELIVERED"))
	mock.ExpectRollback()

	err := service.UpdateOrderStatus(context.Background(), uuid.New(), &models.UpdateOrderStatusRequest{Status: models.OrderStatusPending})
	assertReason(t, err, apperror.KindConflict, apperror.ReasonInvalidStatusTransition)
}

func TestOrderService_UpdateOrderStatusErrors(t *testing.T) {
	service, mock, _ := newTestOrderService(t)

	if err := service.UpdateOrderStatus(context.Background(), uuid.New(), &models.UpdateOrderStatusRequest{}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := service.UpdateOrderStatus(context.Background(), uuid.New(), &models.UpdateOrderStatusRequest{Status: "LOST"}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"order_number", "status"}))
	mock.ExpectRollback()

	if err := service.UpdateOrderStatus(context.Background(), uuid.New(), &models.UpdateOrderStatusRequest{Status: models.OrderStatusCancelled}); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderService_GetOrderHistory(t *testing.T) {
	service, mock, _ := newTestOrderService(t)
	orderID := uuid.New()

	mock.ExpectQuery("FROM order_status_history").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "from_status", "to_status", "notes", "changed_by", "created_at"}).
			AddRow(uuid.NewString(), orderID.String(), "PENDING", "CONFIRMED", nil, nil, promoNow).
			AddRow(uuid.NewString(), orderID.String(), "CONFIRMED", "PROCESSING", "picked", uuid.NewString(), promoNow))

	history, err := service.GetOrderHistory(context.Background(), orderID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 || history[1].ToStatus != models.OrderStatusProcessing || history[1].ChangedBy == nil {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCanTransitionOrder(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     bool
	}{
		{models.OrderStatusPending, models.OrderStatusConfirmed, true},
		{models.OrderStatusConfirmed, models.OrderStatusProcessing, true},
		{models.OrderStatusProcessing, models.OrderStatusShipped, true},
		{models.OrderStatusShipped, models.OrderStatusDelivered, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, true},
		{models.OrderStatusShipped, models.OrderStatusCancelled, true},
		{models.OrderStatusPending, models.OrderStatusShipped, false},
		{models.OrderStatusDelivered, models.OrderStatusPending, false},
		{models.OrderStatusDelivered, models.OrderStatusCancelled, false},
		{models.OrderStatusCancelled, models.OrderStatusPending, false},
		{models.OrderStatusRefunded, models.OrderStatusPending, false},
	}

	for _, tt := range tests {
		if got := CanTransitionOrder(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestCanTransitionPayment(t *testing.T) {
	tests := []struct {
		from, to models.PaymentStatus
		want     bool
	}{
		{models.PaymentStatusPending, models.PaymentStatusPaid, true},
		{models.PaymentStatusPending, models.PaymentStatusFailed, true},
		{models.PaymentStatusFailed, models.PaymentStatusPending, true},
		{models.PaymentStatusFailed, models.PaymentStatusPaid, false},
		{models.PaymentStatusPaid, models.PaymentStatusPending, false},
		{models.PaymentStatusPaid, models.PaymentStatusFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransitionPayment(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}
