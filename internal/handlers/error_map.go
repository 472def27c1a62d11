package handlers

import (
	"errors"
	"net/http"

	"household-planet/internal/apperror"
	"household-planet/internal/logger"
)

var kindStatus = map[apperror.Kind]int{
	apperror.KindNotFound:     http.StatusNotFound,
	apperror.KindValidation:   http.StatusBadRequest,
	apperror.KindBusinessRule: http.StatusBadRequest,
	apperror.KindUnauthorized: http.StatusUnauthorized,
	apperror.KindForbidden:    http.StatusForbidden,
	apperror.KindConflict:     http.StatusConflict,
}

func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		if status, ok := kindStatus[appErr.Kind]; ok {
			writeJSONResponse(w, status, ErrorResponse{
				Error:   http.StatusText(status),
				Message: appErr.Error(),
				Reason:  string(appErr.Reason),
				Details: appErr.Details,
			})
			return
		}
	}

	if log != nil {
		log.WithError(err).Error(internalMessage)
	}
	writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
}
