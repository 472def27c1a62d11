package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"household-planet/internal/logger"
)

// DeliveryHandler отдаёт тарифы доставки.
type DeliveryHandler struct {
	pricing DeliveryPricing
	log     *logger.Logger
}

// NewDeliveryHandler создает обработчик тарифов доставки.
func NewDeliveryHandler(pricing DeliveryPricing, log *logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{pricing: pricing, log: log}
}

// GetPrice возвращает стоимость доставки: ?location=Nairobi CBD&express=true.
func (h *DeliveryHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location := strings.TrimSpace(query.Get("location"))
	if location == "" {
		writeErrorResponse(w, http.StatusBadRequest, "location is required")
		return
	}

	express := false
	if raw := query.Get("express"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "express must be a boolean")
			return
		}
		express = v
	}

	quote, err := h.pricing.PriceFor(location, express)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to price delivery")
		return
	}

	writeJSONResponse(w, http.StatusOK, quote)
}

// ListLocations возвращает все зоны доставки по тарифным зонам.
func (h *DeliveryHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.pricing.List())
}
