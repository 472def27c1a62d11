package handlers

import (
	"io"
	"net/http"

	"household-planet/internal/apperror"
	"household-planet/internal/logger"
	"household-planet/internal/models"
)

// PaymentHandler принимает вебхуки платёжных провайдеров.
type PaymentHandler struct {
	payments PaymentService
	log      *logger.Logger
}

// NewPaymentHandler создает обработчик вебхуков.
func NewPaymentHandler(payments PaymentService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// MpesaCallback принимает результат STK push от Daraja. Daraja ждёт ответ
// с ResultCode 0, иначе повторяет доставку.
func (h *PaymentHandler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read callback body")
		return
	}

	if err := h.payments.HandleMpesaCallback(r.Context(), payload); err != nil {
		switch {
		case apperror.Is(err, apperror.KindValidation):
			h.log.WithError(err).Warn("Rejected malformed M-Pesa callback")
			writeJSONResponse(w, http.StatusBadRequest, models.MpesaCallbackAck{ResultCode: 1, ResultDesc: "Rejected"})
		case apperror.Is(err, apperror.KindNotFound):
			// повтор не поможет, подтверждаем приём
			h.log.WithError(err).Warn("M-Pesa callback for unknown checkout")
			writeJSONResponse(w, http.StatusOK, models.MpesaCallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		default:
			h.log.WithError(err).Error("Failed to process M-Pesa callback")
			writeJSONResponse(w, http.StatusInternalServerError, models.MpesaCallbackAck{ResultCode: 1, ResultDesc: "Temporary failure"})
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, models.MpesaCallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// CardCallback принимает вебхук карточного провайдера с подписью в заголовке verif-hash.
func (h *PaymentHandler) CardCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read callback body")
		return
	}

	err = h.payments.HandleCardCallback(r.Context(), r.Header.Get("verif-hash"), payload)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
	case apperror.Is(err, apperror.KindUnauthorized):
		h.log.Warn("Card callback with invalid signature")
		writeErrorResponse(w, http.StatusUnauthorized, "Invalid signature")
	case apperror.Is(err, apperror.KindNotFound):
		h.log.WithError(err).Warn("Card callback for unknown order")
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		writeServiceError(w, h.log, err, "Failed to process card callback")
	}
}
