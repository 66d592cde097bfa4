package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/metrics"
	"github.com/rl1809/cafe-order/internal/port"
)

type TrackerConfig struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
	MaxDuration  time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval: 2 * time.Second,
		MaxBackoff:   30 * time.Second,
		MaxDuration:  2 * time.Hour,
	}
}

func (c TrackerConfig) normalized() TrackerConfig {
	def := DefaultTrackerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = c.PollInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	return c
}

// TrackerState is a snapshot of what a tracker knows about one order.
type TrackerState struct {
	OrderID  string
	Record   *domain.OrderRecord
	Status   domain.OrderStatus
	Progress int
	// Err is the latest fetch error; it is cleared by the next successful fetch.
	Err error
	// Final is set once the order is terminal or tracking failed for good.
	Final   bool
	Polling bool
	Stopped bool
	Fetches int
}

// Tracker polls the order service for one order until the order reaches a
// terminal status, a definitive error occurs, tracking expires, or Stop is
// called.
type Tracker struct {
	client  port.OrderClient
	token   string
	cfg     TrackerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    TrackerState
	onUpdate func(TrackerState)
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTracker(client port.OrderClient, token string, cfg TrackerConfig, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		client:  client,
		token:   token,
		cfg:     cfg.normalized(),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// OnUpdate registers fn to be called with the new state after every fetch.
// fn runs on the polling goroutine and may call Stop.
func (t *Tracker) OnUpdate(fn func(TrackerState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// Start begins polling orderID. The first fetch happens immediately. The
// tracker lives until ctx is cancelled or Stop is called, whichever comes
// first.
func (t *Tracker) Start(ctx context.Context, orderID string) error {
	if t.token == "" {
		return ErrNotAuthenticated
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrTrackerStarted
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.state = TrackerState{OrderID: orderID, Polling: true}
	t.mu.Unlock()

	go t.run(ctx, orderID)
	return nil
}

// Stop cancels any pending or in-flight fetch. It never blocks on the
// polling goroutine and can be called any number of times.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.started = true
		t.state.Stopped = true
		close(t.done)
		return
	}
	t.cancel()
}

// Done is closed once the polling goroutine has exited.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) run(ctx context.Context, orderID string) {
	defer close(t.done)
	defer t.cancel()

	deadline := time.Now().Add(t.cfg.MaxDuration)
	failures := 0

	for {
		rec, err := t.client.GetOrder(ctx, t.token, orderID)
		if ctx.Err() != nil {
			t.markStopped()
			return
		}

		delay, final := t.apply(orderID, rec, err, &failures)
		if final {
			return
		}
		if ctx.Err() != nil {
			t.markStopped()
			return
		}
		if time.Now().Add(delay).After(deadline) {
			t.expire(orderID)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.markStopped()
			return
		case <-timer.C:
		}
	}
}

// apply folds one fetch result into the state and returns the delay before
// the next fetch, or final=true when polling is over.
func (t *Tracker) apply(orderID string, rec *domain.OrderRecord, err error, failures *int) (time.Duration, bool) {
	var outcome string
	final := false

	t.mu.Lock()
	t.state.Fetches++
	switch {
	case err == nil:
		*failures = 0
		t.state.Record = rec
		t.state.Status = rec.Status
		t.state.Progress = domain.Progress(rec.Status)
		t.state.Err = nil
		final = rec.Status.IsTerminal()
		outcome = "ok"
	case IsDefinitive(err):
		t.state.Err = err
		final = true
		outcome = "definitive_error"
	default:
		*failures++
		t.state.Err = err
		outcome = "transient_error"
	}
	if final {
		t.state.Final = true
		t.state.Polling = false
	}
	snapshot := t.state
	fn := t.onUpdate
	t.mu.Unlock()

	t.metrics.ObservePoll(outcome)
	switch {
	case err == nil && final:
		t.logger.Info("order reached final status",
			zap.String("order_id", orderID), zap.String("status", string(rec.Status)))
	case err == nil:
		t.logger.Debug("order status polled",
			zap.String("order_id", orderID), zap.String("status", string(rec.Status)))
	case final:
		t.logger.Warn("order tracking stopped", zap.String("order_id", orderID), zap.Error(err))
	default:
		t.logger.Warn("order status fetch failed, retrying",
			zap.String("order_id", orderID), zap.Int("failures", *failures), zap.Error(err))
	}

	if fn != nil {
		fn(snapshot)
	}
	return t.backoff(*failures), final
}

func (t *Tracker) backoff(failures int) time.Duration {
	d := t.cfg.PollInterval
	for i := 0; i < failures && d < t.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, t.cfg.MaxBackoff)
}

func (t *Tracker) markStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Polling = false
	t.state.Stopped = true
}

func (t *Tracker) expire(orderID string) {
	t.mu.Lock()
	t.state.Err = ErrTrackingExpired
	t.state.Final = true
	t.state.Polling = false
	snapshot := t.state
	fn := t.onUpdate
	t.mu.Unlock()

	t.logger.Warn("order tracking expired", zap.String("order_id", orderID))
	if fn != nil {
		fn(snapshot)
	}
}

// TrackingService starts trackers on behalf of sessions.
type TrackingService struct {
	client  port.OrderClient
	cfg     TrackerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewTrackingService(client port.OrderClient, cfg TrackerConfig, logger *zap.Logger, m *metrics.Metrics) *TrackingService {
	return &TrackingService{client: client, cfg: cfg, logger: logger, metrics: m}
}

// Track returns the session's live tracker for orderID, starting a new one
// if there is none or the previous one has finished.
func (s *TrackingService) Track(sess *Session, orderID string) (*Tracker, error) {
	token := sess.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	if existing := sess.Tracker(orderID); existing != nil {
		st := existing.State()
		if !st.Final && !st.Stopped {
			return existing, nil
		}
	}

	tracker := NewTracker(s.client, token, s.cfg, s.logger, s.metrics)
	if err := tracker.Start(sess.Context(), orderID); err != nil {
		return nil, err
	}
	sess.attachTracker(orderID, tracker)
	return tracker, nil
}
