package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"household-planet/internal/auth"
	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/redis"
	"household-planet/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxPromoCodeLength = 64

// PromoHandler обрабатывает промокоды.
type PromoHandler struct {
	promoService PromoService
	redisClient  RedisClient
	log          *logger.Logger
}

// NewPromoHandler создаёт новый обработчик промокодов.
func NewPromoHandler(promoService PromoService, redisClient RedisClient, log *logger.Logger) *PromoHandler {
	return &PromoHandler{
		promoService: promoService,
		redisClient:  redisClient,
		log:          log,
	}
}

// ValidatePromoCode проверяет применимость кода к корзине. Ничего не меняет;
// для авторизованного клиента учитывается лимит на пользователя.
func (h *PromoHandler) ValidatePromoCode(w http.ResponseWriter, r *http.Request) {
	// order_amount обязателен: без него сумма читалась бы как 0
	var body struct {
		models.ValidatePromoRequest
		OrderAmount *decimal.Decimal `json:"order_amount"`
	}
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validatePromoCodeParam(body.Code); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.OrderAmount == nil {
		writeErrorResponse(w, http.StatusBadRequest, "order_amount is required")
		return
	}
	req := body.ValidatePromoRequest
	req.OrderAmount = *body.OrderAmount

	req.UserID = nil
	if principal := auth.FromContext(r.Context()); principal != nil {
		userID := principal.UserID
		req.UserID = &userID
	}

	result, err := h.promoService.Validate(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate promo code")
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// CreatePromoCode создаёт промокод.
func (h *PromoHandler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validatePromoCodeParam(req.Code); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	promo, err := h.promoService.CreatePromoCode(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create promo code")
		return
	}

	h.log.WithField("code", promo.Code).Info("Promo code created")
	writeJSONResponse(w, http.StatusCreated, promo)
}

// ListPromoCodes возвращает список промокодов.
func (h *PromoHandler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)

	promos, err := h.promoService.ListPromoCodes(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list promo codes")
		return
	}

	writeJSONResponse(w, http.StatusOK, promos)
}

// GetPromoCode возвращает промокод по коду.
func (h *PromoHandler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	code, err := promoCodeFromPath(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := redis.GenerateKey(redis.KeyPrefixPromo, code)
	if h.redisClient != nil {
		var cached models.PromoCode
		if err := h.redisClient.Get(r.Context(), cacheKey, &cached); err == nil {
			writeJSONResponse(w, http.StatusOK, &cached)
			return
		}
	}

	promo, err := h.promoService.GetPromoCode(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get promo code")
		return
	}

	if h.redisClient != nil {
		if err := h.redisClient.Set(r.Context(), cacheKey, promo, defaultCacheTTL); err != nil {
			h.log.WithError(err).Warn("Failed to cache promo code")
		}
	}

	writeJSONResponse(w, http.StatusOK, promo)
}

// UpdatePromoCode обновляет промокод.
func (h *PromoHandler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	code, err := promoCodeFromPath(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.UpdatePromoCodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	promo, err := h.promoService.UpdatePromoCode(r.Context(), code, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update promo code")
		return
	}

	h.invalidate(r, code)
	writeJSONResponse(w, http.StatusOK, promo)
}

// DeletePromoCode удаляет промокод.
func (h *PromoHandler) DeletePromoCode(w http.ResponseWriter, r *http.Request) {
	code, err := promoCodeFromPath(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.promoService.DeletePromoCode(r.Context(), code); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete promo code")
		return
	}

	h.invalidate(r, code)
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Promo code deleted"})
}

// ListPromoCodeUsages возвращает историю погашений кода.
func (h *PromoHandler) ListPromoCodeUsages(w http.ResponseWriter, r *http.Request) {
	code, err := promoCodeFromPath(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset := parsePagination(r, 50, 200)

	usages, err := h.promoService.ListUsages(r.Context(), code, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list promo code usages")
		return
	}

	writeJSONResponse(w, http.StatusOK, usages)
}

// HandlePromoRedeemed сбрасывает кеш кода после погашения: used_count изменился.
func (h *PromoHandler) HandlePromoRedeemed(ctx context.Context, event *models.Event) error {
	var data models.PromoRedeemedData
	if err := event.Decode(&data); err != nil {
		return err
	}
	h.invalidateCode(ctx, services.NormalizePromoCode(data.PromoCode))
	return nil
}

func (h *PromoHandler) invalidate(r *http.Request, code string) {
	h.invalidateCode(r.Context(), code)
}

func (h *PromoHandler) invalidateCode(ctx context.Context, code string) {
	if h.redisClient == nil {
		return
	}
	if err := h.redisClient.Delete(ctx, redis.GenerateKey(redis.KeyPrefixPromo, code)); err != nil {
		h.log.WithError(err).Error("Failed to invalidate promo code cache")
	}
}

func validatePromoCodeParam(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("promo code is required")
	}
	if len(code) > maxPromoCodeLength {
		return fmt.Errorf("promo code is too long")
	}
	return nil
}

// promoCodeFromPath возвращает код из пути в каноническом виде (верхний регистр).
func promoCodeFromPath(r *http.Request) (string, error) {
	code := chi.URLParam(r, "code")
	if err := validatePromoCodeParam(code); err != nil {
		return "", err
	}
	return services.NormalizePromoCode(code), nil
}
