package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/core/service"
	"github.com/rl1809/cafe-order/internal/port"
)

const sessionHeader = "X-Session-ID"

type sessionKey struct{}

// ShellHandler is the shopper-facing API: one session per X-Session-ID,
// holding the cart and the trackers started for it.
type ShellHandler struct {
	sessions *service.SessionManager
	carts    *service.CartService
	checkout *service.CheckoutService
	tracking *service.TrackingService
	client   port.OrderClient
	logger   *zap.Logger
}

type CreateSessionRequest struct {
	OrderType domain.OrderType `json:"orderType"`
	TableID   *int64           `json:"tableId"`
}

type AddItemRequest struct {
	ProductID         string  `json:"productId"`
	Quantity          int     `json:"quantity"`
	SelectedOptionIDs []int64 `json:"selectedOptionIds"`
	Notes             string  `json:"notes"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutRequest struct {
	OrderType     domain.OrderType `json:"orderType"`
	TableID       *int64           `json:"tableId"`
	BeansToRedeem int              `json:"beansToRedeem"`
}

type TrackingResponse struct {
	OrderID  string              `json:"orderId"`
	Status   domain.OrderStatus  `json:"status,omitempty"`
	Progress int                 `json:"progress"`
	Final    bool                `json:"final"`
	Polling  bool                `json:"polling"`
	Stopped  bool                `json:"stopped"`
	Fetches  int                 `json:"fetches"`
	Error    string              `json:"error,omitempty"`
	Order    *domain.OrderRecord `json:"order,omitempty"`
}

type CheckoutResponse struct {
	Order    *domain.OrderRecord `json:"order"`
	Tracking *TrackingResponse   `json:"tracking,omitempty"`
}

func NewShellHandler(sessions *service.SessionManager, carts *service.CartService, checkout *service.CheckoutService,
	tracking *service.TrackingService, client port.OrderClient, logger *zap.Logger) *ShellHandler {
	return &ShellHandler{
		sessions: sessions,
		carts:    carts,
		checkout: checkout,
		tracking: tracking,
		client:   client,
		logger:   logger,
	}
}

func (h *ShellHandler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/products", h.ListProducts)

		r.Group(func(r chi.Router) {
			r.Use(h.WithSession)
			r.Post("/session/logout", h.Logout)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddItem)
			r.Put("/cart/items/{lineId}", h.SetQuantity)
			r.Delete("/cart/items/{lineId}", h.RemoveItem)
			r.Delete("/cart", h.ClearCart)

			r.Post("/checkout", h.Checkout)
			r.Get("/orders", h.ListOrders)
			r.Post("/orders/{id}/track", h.Track)
			r.Get("/orders/{id}/status", h.TrackingStatus)
			r.Delete("/orders/{id}/track", h.StopTracking)
		})
	})
}

// WithSession loads the session named by X-Session-ID. A bearer token on the
// request becomes the session's token.
func (h *ShellHandler) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Get(r.Context(), r.Header.Get(sessionHeader))
		if err != nil {
			respondServiceError(w, h.logger, err)
			return
		}
		if token := bearerToken(r); token != "" {
			sess.SetToken(token)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(ctx context.Context) *service.Session {
	sess, _ := ctx.Value(sessionKey{}).(*service.Session)
	return sess
}

func (h *ShellHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderType != "" && !req.OrderType.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_argument", "orderType must be pickup or dine_in")
		return
	}

	sess := h.sessions.Create()
	sess.SetDining(req.OrderType, req.TableID)
	if token := bearerToken(r); token != "" {
		sess.SetToken(token)
	}
	w.Header().Set(sessionHeader, sess.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sess.ID})
}

func (h *ShellHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sess.Logout()
	h.sessions.Persist(r.Context(), sess)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShellHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.carts.ListProducts(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *ShellHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.carts.Summary(sessionFrom(r.Context())))
}

func (h *ShellHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	_, err := h.carts.AddItem(r.Context(), sess, req.ProductID, req.Quantity, domain.Customization{
		SelectedOptionIDs: req.SelectedOptionIDs,
		Notes:             req.Notes,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.carts.Summary(sess))
}

// SetQuantity and RemoveItem answer with the cart either way; an unknown
// line id leaves the cart unchanged.
func (h *ShellHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	lineID := chi.URLParam(r, "lineId")
	matched, err := h.carts.SetQuantity(r.Context(), sess, lineID, req.Quantity)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if !matched {
		h.logger.Debug("quantity change for unknown line", zap.String("session_id", sess.ID), zap.String("line_id", lineID))
	}
	writeJSON(w, http.StatusOK, h.carts.Summary(sess))
}

func (h *ShellHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	lineID := chi.URLParam(r, "lineId")
	matched, err := h.carts.Remove(r.Context(), sess, lineID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if !matched {
		h.logger.Debug("remove of unknown line", zap.String("session_id", sess.ID), zap.String("line_id", lineID))
	}
	writeJSON(w, http.StatusOK, h.carts.Summary(sess))
}

func (h *ShellHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	h.carts.Clear(r.Context(), sess)
	writeJSON(w, http.StatusOK, h.carts.Summary(sess))
}

// Checkout submits the cart and starts tracking the new order.
func (h *ShellHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	rec, err := h.checkout.Submit(r.Context(), sess, service.CheckoutOptions{
		OrderType:     req.OrderType,
		TableID:       req.TableID,
		BeansToRedeem: req.BeansToRedeem,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.sessions.Persist(r.Context(), sess)

	resp := CheckoutResponse{Order: rec}
	tracker, err := h.tracking.Track(sess, string(rec.ID))
	if err != nil {
		h.logger.Warn("could not start tracking", zap.String("order_id", string(rec.ID)), zap.Error(err))
	} else {
		resp.Tracking = trackingResponse(tracker.State())
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *ShellHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	token := sessionFrom(r.Context()).Token()
	if token == "" {
		respondServiceError(w, h.logger, service.ErrNotAuthenticated)
		return
	}

	orders, err := h.client.ListOrders(r.Context(), token)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *ShellHandler) Track(w http.ResponseWriter, r *http.Request) {
	tracker, err := h.tracking.Track(sessionFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, trackingResponse(tracker.State()))
}

func (h *ShellHandler) TrackingStatus(w http.ResponseWriter, r *http.Request) {
	tracker := sessionFrom(r.Context()).Tracker(chi.URLParam(r, "id"))
	if tracker == nil {
		respondError(w, http.StatusNotFound, "not_tracking", "order is not being tracked")
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse(tracker.State()))
}

func (h *ShellHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	if !sessionFrom(r.Context()).StopTracker(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "not_tracking", "order is not being tracked")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func trackingResponse(st service.TrackerState) *TrackingResponse {
	resp := &TrackingResponse{
		OrderID:  st.OrderID,
		Status:   st.Status,
		Progress: st.Progress,
		Final:    st.Final,
		Polling:  st.Polling,
		Stopped:  st.Stopped,
		Fetches:  st.Fetches,
		Order:    st.Record,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}
