package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

type StatusAdvancer interface {
	AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.OrderRecord, error)
}

// Kitchen walks queued orders through preparation, one status per step.
type Kitchen struct {
	orders   <-chan domain.OrderRecord
	advancer StatusAdvancer
	workers  int
	step     time.Duration
	logger   *zap.Logger
}

func NewKitchen(orders <-chan domain.OrderRecord, advancer StatusAdvancer, workers int, step time.Duration, logger *zap.Logger) *Kitchen {
	if workers <= 0 {
		workers = 1
	}
	return &Kitchen{orders: orders, advancer: advancer, workers: workers, step: step, logger: logger}
}

// Run blocks until the order queue is closed or ctx is done and every
// worker has returned.
func (k *Kitchen) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < k.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			k.workerLoop(ctx, id)
		}(i)
	}
	k.logger.Info("kitchen started", zap.Int("workers", k.workers), zap.Duration("step", k.step))
	wg.Wait()
}

func (k *Kitchen) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-k.orders:
			if !ok {
				return
			}
			k.prepare(ctx, id, order)
		}
	}
}

func (k *Kitchen) prepare(ctx context.Context, id int, order domain.OrderRecord) {
	for _, next := range preparationSteps(order.OrderType) {
		timer := time.NewTimer(k.step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := k.advancer.AdvanceStatus(stepCtx, string(order.ID), next)
		cancel()
		if err != nil {
			// cancelled or changed by staff in the meantime
			k.logger.Warn("kitchen dropped order",
				zap.Int("worker", id), zap.String("order_id", string(order.ID)),
				zap.String("next", string(next)), zap.Error(err))
			return
		}
	}
	k.logger.Info("kitchen finished order", zap.Int("worker", id), zap.String("order_id", string(order.ID)))
}

func preparationSteps(t domain.OrderType) []domain.OrderStatus {
	last := domain.OrderStatusCompleted
	if t == domain.OrderTypeDineIn {
		last = domain.OrderStatusServed
	}
	return []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReady, last}
}
