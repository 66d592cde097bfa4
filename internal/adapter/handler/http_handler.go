package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/core/service"
)

type principalKey struct{}

// HTTPHandler serves the order service API.
type HTTPHandler struct {
	orderService *service.OrderService
	tokens       map[string]domain.Principal
	logger       *zap.Logger
}

type UpdateStatusHTTPRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type SetBeansHTTPRequest struct {
	Beans int `json:"beans"`
}

func NewHTTPHandler(orderService *service.OrderService, tokens map[string]domain.Principal, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orderService: orderService, tokens: tokens, logger: logger}
}

func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Get("/beans", h.BeanBalance)
			r.Get("/admin/orders", h.ListActiveOrders)
			r.Patch("/admin/orders/{id}/status", h.UpdateStatus)
			r.Put("/admin/beans/{userId}", h.SetBeans)
		})
	})
}

// Authenticate resolves the bearer token to a principal.
func (h *HTTPHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.tokens[bearerToken(r)]
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "missing or unknown bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.orderService.ListProducts(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_argument", "invalid product id")
		return
	}

	product, err := h.orderService.GetProduct(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, created, err := h.orderService.PlaceOrder(r.Context(), principalFrom(r.Context()), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, rec)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context(), principalFrom(r.Context()))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orderService.GetOrder(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) BeanBalance(w http.ResponseWriter, r *http.Request) {
	beans, err := h.orderService.BeanBalance(r.Context(), principalFrom(r.Context()))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"beans": beans})
}

func (h *HTTPHandler) ListActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListActive(r.Context(), principalFrom(r.Context()))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).Admin {
		respondServiceError(w, h.logger, service.ErrForbidden)
		return
	}

	var req UpdateStatusHTTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_argument", "unknown status")
		return
	}

	rec, err := h.orderService.AdvanceStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) SetBeans(w http.ResponseWriter, r *http.Request) {
	var req SetBeansHTTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "userId")
	if err := h.orderService.SetBeans(r.Context(), principalFrom(r.Context()), userID, req.Beans); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "beans": req.Beans})
}
