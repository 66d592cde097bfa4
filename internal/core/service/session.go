package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

// Session is the per-shopper state owned by the shell: bearer token, cart
// ledger, dining choice and the trackers started on the shopper's behalf.
// Trackers are bound to the session context, so closing the session tears
// them down.
type Session struct {
	ID     string
	Ledger *domain.CartLedger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	token       string
	orderType   domain.OrderType
	tableID     *int64
	checkoutKey string
	trackers    map[string]*Tracker
	lastSeen    time.Time
}

func NewSession(id string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:       id,
		Ledger:   domain.NewCartLedger(),
		ctx:      ctx,
		cancel:   cancel,
		trackers: make(map[string]*Tracker),
		lastSeen: time.Now(),
	}
}

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Session) SetDining(orderType domain.OrderType, tableID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderType = orderType
	s.tableID = tableID
}

func (s *Session) Dining() (domain.OrderType, *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderType, s.tableID
}

// CheckoutKey is the idempotency key for the next submission. It stays the
// same across retries until a submission succeeds.
func (s *Session) CheckoutKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkoutKey == "" {
		s.checkoutKey = uuid.NewString()
	}
	return s.checkoutKey
}

func (s *Session) rotateCheckoutKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkoutKey = ""
}

func (s *Session) Tracker(orderID string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackers[orderID]
}

func (s *Session) attachTracker(orderID string, t *Tracker) {
	s.mu.Lock()
	prev := s.trackers[orderID]
	s.trackers[orderID] = t
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
}

// StopTracker stops and forgets the tracker for orderID.
func (s *Session) StopTracker(orderID string) bool {
	s.mu.Lock()
	t, ok := s.trackers[orderID]
	delete(s.trackers, orderID)
	s.mu.Unlock()

	if ok {
		t.Stop()
	}
	return ok
}

// Logout drops the token, empties the cart and stops all tracking.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.checkoutKey = ""
	s.orderType = ""
	s.tableID = nil
	trackers := s.trackers
	s.trackers = make(map[string]*Tracker)
	s.mu.Unlock()

	s.Ledger.Clear()
	for _, t := range trackers {
		t.Stop()
	}
}

func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	trackers := s.trackers
	s.trackers = make(map[string]*Tracker)
	s.mu.Unlock()

	for _, t := range trackers {
		t.Stop()
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionManager owns every live session of the shell.
type SessionManager struct {
	store  port.SessionStore
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager returns a manager; store may be nil, in which case carts
// live only in memory.
func NewSessionManager(store port.SessionStore, ttl time.Duration, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *SessionManager) Create() *Session {
	sess := NewSession(uuid.NewString())
	sess.touch(m.now())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Debug("session created", zap.String("session_id", sess.ID))
	return sess
}

// Get returns a live session, reviving it from its cart snapshot when the
// shell no longer holds it in memory.
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		sess.touch(m.now())
		return sess, nil
	}
	if m.store == nil || id == "" {
		return nil, ErrSessionNotFound
	}

	items, err := m.store.LoadCart(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	restored := NewSession(id)
	restored.Ledger.Restore(items)
	restored.touch(m.now())

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		restored.Close()
		return existing, nil
	}
	m.sessions[id] = restored
	m.mu.Unlock()

	m.logger.Info("session restored from snapshot",
		zap.String("session_id", id), zap.Int("lines", restored.Ledger.Len()))
	return restored, nil
}

// Persist snapshots the session's cart. Failures are logged, not returned,
// because the in-memory cart stays authoritative.
func (m *SessionManager) Persist(ctx context.Context, sess *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCart(ctx, sess.ID, sess.Ledger.Items(), m.ttl); err != nil {
		m.logger.Warn("cart snapshot failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (m *SessionManager) Delete(ctx context.Context, id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		sess.Close()
	}
	if m.store != nil {
		if err := m.store.DeleteCart(ctx, id); err != nil {
			m.logger.Warn("cart snapshot delete failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were closed. Their snapshots expire on their own.
func (m *SessionManager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		sess.Close()
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("idle sessions closed", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
