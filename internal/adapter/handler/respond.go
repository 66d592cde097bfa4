package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/core/service"
	"github.com/rl1809/cafe-order/internal/port"
)

const maxRequestBodySize = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondServiceError maps service, domain and port errors onto HTTP.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, service.ErrNotAuthenticated), errors.Is(err, port.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, port.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, port.ErrProductNotFound):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, service.ErrEmptyCart):
		status, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, service.ErrTableRequired):
		status, code = http.StatusBadRequest, "table_required"
	case errors.Is(err, service.ErrInvalidProduct),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidItemKey),
		errors.Is(err, domain.ErrUnknownOption),
		errors.Is(err, domain.ErrInvalidSelection):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrDuplicateRequest):
		status, code = http.StatusConflict, "duplicate_request"
	case errors.Is(err, service.ErrStatusConflict), errors.Is(err, service.ErrInvalidTransition):
		status, code = http.StatusConflict, "status_conflict"
	case errors.Is(err, service.ErrInsufficientBeans):
		status, code = http.StatusUnprocessableEntity, "insufficient_beans"
	case errors.Is(err, port.ErrRejected):
		status, code = http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, port.ErrUnavailable), errors.Is(err, port.ErrMalformedResponse):
		status, code = http.StatusBadGateway, "order_service_unavailable"
	default:
		logger.Error("unhandled error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
