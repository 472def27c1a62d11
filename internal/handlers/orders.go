package handlers

import (
	"context"
	"net/http"

	"household-planet/internal/auth"
	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/redis"

	"github.com/google/uuid"
)

// OrderHandler представляет обработчик для заказов
type OrderHandler struct {
	orderService OrderService
	payments     PaymentService
	redisClient  RedisClient
	log          *logger.Logger
}

// NewOrderHandler создает новый обработчик заказов
func NewOrderHandler(orderService OrderService, payments PaymentService, redisClient RedisClient, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		payments:     payments,
		redisClient:  redisClient,
		log:          log,
	}
}

// OrderDetails — заказ вместе с попытками оплаты.
type OrderDetails struct {
	*models.Order
	Payments []*models.Payment `json:"payments"`
}

// CreateOrder оформляет заказ зарегистрированного клиента.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())
	if principal == nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Authorization token required")
		return
	}

	var req models.CreateOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID := principal.UserID
	req.UserID = &userID

	h.createOrder(w, r, &req)
}

// CreateGuestOrder оформляет заказ без учётной записи; контакты обязательны.
func (h *OrderHandler) CreateGuestOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = nil

	h.createOrder(w, r, &req)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request, req *models.CreateOrderRequest) {
	order, err := h.orderService.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create order")
		return
	}

	h.cacheOrder(r.Context(), order)
	h.log.WithFields(map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"guest":        order.IsGuest(),
	}).Info("Order created successfully")

	writeJSONResponse(w, http.StatusCreated, order)
}

// GetOrder возвращает заказ владельцу или сотруднику с правом orders:read.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.loadOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order")
		return
	}

	principal := auth.FromContext(r.Context())
	if !principal.Can(auth.PermOrdersRead) && !ownsOrder(principal, order) {
		// чужой заказ не отличаем от несуществующего
		writeErrorResponse(w, http.StatusNotFound, "order not found")
		return
	}

	payments, err := h.payments.GetPayments(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order payments")
		return
	}

	writeJSONResponse(w, http.StatusOK, OrderDetails{Order: order, Payments: payments})
}

// InitiateMpesaPayment отправляет STK push по заказу. Гостевой заказ может оплатить
// кто угодно, заказ клиента только сам клиент или сотрудник с payments:manage.
func (h *OrderHandler) InitiateMpesaPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req models.InitiateMpesaRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	order, err := h.loadOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order")
		return
	}

	if !order.IsGuest() {
		principal := auth.FromContext(r.Context())
		if principal == nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Authorization token required")
			return
		}
		if !ownsOrder(principal, order) && !principal.Can(auth.PermPaymentsManage) {
			writeErrorResponse(w, http.StatusNotFound, "order not found")
			return
		}
	}

	resp, err := h.payments.InitiateMpesa(r.Context(), orderID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to initiate M-Pesa payment")
		return
	}

	h.invalidateOrder(r.Context(), orderID)
	h.log.WithFields(map[string]interface{}{
		"order_id":            orderID,
		"checkout_request_id": resp.CheckoutRequestID,
	}).Info("M-Pesa STK push sent")

	writeJSONResponse(w, http.StatusAccepted, resp)
}

// ListOrders возвращает заказы для админки с фильтрами.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := parsePagination(r, 50, 100)
	filter := models.OrderFilter{Limit: limit, Offset: offset}

	if statusStr := query.Get("status"); statusStr != "" {
		s := models.OrderStatus(statusStr)
		if !s.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid order status")
			return
		}
		filter.Status = &s
	}

	if paymentStr := query.Get("payment_status"); paymentStr != "" {
		ps := models.PaymentStatus(paymentStr)
		switch ps {
		case models.PaymentStatusPending, models.PaymentStatusPaid, models.PaymentStatusFailed:
			filter.PaymentStatus = &ps
		default:
			writeErrorResponse(w, http.StatusBadRequest, "Invalid payment status")
			return
		}
	}

	if userIDStr := query.Get("user_id"); userIDStr != "" {
		id, err := uuid.Parse(userIDStr)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid user ID")
			return
		}
		filter.UserID = &id
	}

	orders, err := h.orderService.GetOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get orders")
		return
	}

	writeJSONResponse(w, http.StatusOK, orders)
}

// UpdateOrderStatus меняет статус заказа от имени сотрудника.
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if principal := auth.FromContext(r.Context()); principal != nil {
		actor := principal.UserID
		req.ChangedBy = &actor
	}

	if err := h.orderService.UpdateOrderStatus(r.Context(), orderID, &req); err != nil {
		writeServiceError(w, h.log, err, "Failed to update order status")
		return
	}

	h.invalidateOrder(r.Context(), orderID)
	h.invalidateStats(r.Context())

	h.log.WithField("order_id", orderID).WithField("new_status", req.Status).Info("Order status updated")
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Order status updated successfully"})
}

// GetOrderHistory возвращает журнал смены статусов заказа.
func (h *OrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	history, err := h.orderService.GetOrderHistory(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order history")
		return
	}

	writeJSONResponse(w, http.StatusOK, history)
}

// HandleOrderEvent сбрасывает кеш заказа по событиям из Kafka: статус мог смениться
// вебхуком или сверкой, минуя HTTP-обработчики.
func (h *OrderHandler) HandleOrderEvent(ctx context.Context, event *models.Event) error {
	var ref struct {
		OrderID   uuid.UUID            `json:"order_id"`
		NewStatus models.PaymentStatus `json:"new_status"`
	}
	if err := event.Decode(&ref); err != nil {
		return err
	}
	if ref.OrderID == uuid.Nil {
		return nil
	}

	h.invalidateOrder(ctx, ref.OrderID)
	if event.Type == models.EventTypePaymentStatusChanged && ref.NewStatus == models.PaymentStatusPaid {
		h.invalidateStats(ctx)
	}
	return nil
}

func (h *OrderHandler) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, orderID.String())
	if h.redisClient != nil {
		var cached models.Order
		if err := h.redisClient.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	h.cacheOrder(ctx, order)
	return order, nil
}

func (h *OrderHandler) cacheOrder(ctx context.Context, order *models.Order) {
	if h.redisClient == nil {
		return
	}
	cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, order.ID.String())
	if err := h.redisClient.Set(ctx, cacheKey, order, orderCacheTTL); err != nil {
		h.log.WithError(err).Warn("Failed to cache order")
	}
}

func (h *OrderHandler) invalidateOrder(ctx context.Context, orderID uuid.UUID) {
	if h.redisClient == nil {
		return
	}
	cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, orderID.String())
	if err := h.redisClient.Delete(ctx, cacheKey); err != nil {
		h.log.WithError(err).Error("Failed to invalidate order cache")
	}
}

// invalidateStats сбрасывает кеш аналитики, который зависит от статусов заказов.
func (h *OrderHandler) invalidateStats(ctx context.Context) {
	if h.redisClient == nil {
		return
	}
	if err := h.redisClient.DeleteByPrefix(ctx, redis.KeyPrefixStats+":"); err != nil {
		h.log.WithError(err).Warn("Failed to invalidate stats cache")
	}
}

func ownsOrder(principal *auth.Principal, order *models.Order) bool {
	return principal != nil && order.UserID != nil && *order.UserID == principal.UserID
}
