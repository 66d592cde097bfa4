package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

const maxResponseSize = 1 << 20

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// HTTPOrderClient is the shell's port.OrderClient over the order service's
// JSON API. Transport failures and 5xx responses feed a circuit breaker;
// identical concurrent GETs are collapsed into one request.
type HTTPOrderClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	group   singleflight.Group
	logger  *zap.Logger
}

func NewHTTPOrderClient(cfg Config, logger *zap.Logger) *HTTPOrderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	c := &HTTPOrderClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "order-service",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, port.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func (c *HTTPOrderClient) CreateOrder(ctx context.Context, token, idempotencyKey string, req domain.CreateOrderRequest) (*domain.OrderRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/orders", token, idempotencyKey, body, port.ErrRejected)
	if err != nil {
		return nil, err
	}
	return decodeOrder(data)
}

func (c *HTTPOrderClient) GetOrder(ctx context.Context, token, orderID string) (*domain.OrderRecord, error) {
	data, err := c.get(ctx, "/api/orders/"+url.PathEscape(orderID), token, port.ErrOrderNotFound)
	if err != nil {
		return nil, err
	}
	return decodeOrder(data)
}

func (c *HTTPOrderClient) ListOrders(ctx context.Context, token string) ([]domain.OrderRecord, error) {
	data, err := c.get(ctx, "/api/orders", token, port.ErrRejected)
	if err != nil {
		return nil, err
	}

	var orders []domain.OrderRecord
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
	}
	for i := range orders {
		if err := orders[i].Check(); err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
		}
	}
	return orders, nil
}

func (c *HTTPOrderClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	data, err := c.get(ctx, "/api/products/"+url.PathEscape(productID), "", port.ErrProductNotFound)
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
	}
	return &p, nil
}

func (c *HTTPOrderClient) ListProducts(ctx context.Context) ([]domain.Product, error) {
	data, err := c.get(ctx, "/api/products", "", port.ErrRejected)
	if err != nil {
		return nil, err
	}

	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
	}
	return products, nil
}

// get collapses concurrent identical reads made with the same token. The
// shared request is detached from any one caller's cancellation and bounded
// by the client timeout; each caller stops waiting when its own ctx is done.
func (c *HTTPOrderClient) get(ctx context.Context, path, token string, notFound error) ([]byte, error) {
	ch := c.group.DoChan(token+" "+path, func() (interface{}, error) {
		return c.do(context.WithoutCancel(ctx), http.MethodGet, path, token, "", nil, notFound)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *HTTPOrderClient) do(ctx context.Context, method, path, token, idempotencyKey string, body []byte, notFound error) ([]byte, error) {
	data, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", port.ErrUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", port.ErrUnavailable, err)
		}
		if err := classify(resp.StatusCode, data, notFound); err != nil {
			return nil, err
		}
		return data, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", port.ErrUnavailable, err)
	}
	if err != nil {
		c.logger.Debug("order service call failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return data, err
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func classify(status int, data []byte, notFound error) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", notFound, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", port.ErrUnauthenticated, msg)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", port.ErrUnavailable, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", port.ErrRejected, status, msg)
	}
}

func decodeOrder(data []byte) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
	}
	if err := rec.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedResponse, err)
	}
	return &rec, nil
}
