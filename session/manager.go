package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrOrderActive indicates the order already has a live session. The
	// outcome subscription and checkout view are exclusively owned by one
	// coordinator at a time.
	ErrOrderActive = errors.New("order already has an active session")
)

// CreateRequest registers a new payment session. Order creation itself
// happens upstream before this call.
type CreateRequest struct {
	OrderID     string            `json:"order_id"`
	CheckoutURL string            `json:"checkout_url"`
	Amount      string            `json:"amount"`
	UserDetails map[string]string `json:"user_details,omitempty"`
}

// ManagerConfig tunes the session registry.
type ManagerConfig struct {
	Session       Config
	SweepInterval time.Duration
	Retention     time.Duration
	LinkBuffer    int
}

type record struct {
	orderID     string
	coord       *Coordinator
	link        *Link
	disposition *models.Disposition
	terminalAt  time.Time
}

// Manager owns all live coordinators, enforcing one active session per order
// and sweeping terminal sessions after a retention window.
type Manager struct {
	cfg      ManagerConfig
	outcomes OutcomeSource

	mu      sync.Mutex
	byID    map[string]*record
	byOrder map[string]string
}

// NewManager creates an empty session registry.
func NewManager(outcomes OutcomeSource, cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		outcomes: outcomes,
		byID:     make(map[string]*record),
		byOrder:  make(map[string]string),
	}
}

// Create registers and starts a session for an order. Fails when the order
// already has a live (non-terminal, non-disposed) session.
func (m *Manager) Create(req CreateRequest) (models.PaymentSession, error) {
	if req.OrderID == "" {
		return models.PaymentSession{}, fmt.Errorf("order_id is required")
	}
	if req.CheckoutURL == "" {
		return models.PaymentSession{}, fmt.Errorf("checkout_url is required")
	}

	sess := models.PaymentSession{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		CheckoutURL: req.CheckoutURL,
		Amount:      req.Amount,
		UserDetails: req.UserDetails,
		CreatedAt:   time.Now().UTC(),
	}

	link := NewLink(m.cfg.LinkBuffer)
	coord := New(sess, link, link, m.outcomes, func(d models.Disposition) {
		m.onDisposition(sess.ID, d)
	}, m.cfg.Session)
	rec := &record{orderID: req.OrderID, coord: coord, link: link}

	m.mu.Lock()
	if prevID, ok := m.byOrder[req.OrderID]; ok {
		if prev, ok := m.byID[prevID]; ok && !prev.coord.Status().Terminal() && prev.terminalAt.IsZero() {
			m.mu.Unlock()
			return models.PaymentSession{}, fmt.Errorf("order %q: %w", req.OrderID, ErrOrderActive)
		}
	}
	m.byID[sess.ID] = rec
	m.byOrder[req.OrderID] = sess.ID
	m.mu.Unlock()

	if err := coord.Start(); err != nil {
		m.remove(sess.ID)
		link.Close()
		return models.PaymentSession{}, fmt.Errorf("start session: %w", err)
	}
	return coord.Session(), nil
}

// Coordinator returns the live coordinator for a session id.
func (m *Manager) Coordinator(id string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec.coord, nil
}

// Link returns the device stream for a session id.
func (m *Manager) Link(id string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec.link, nil
}

// Get returns a session snapshot and its disposition, if delivered.
func (m *Manager) Get(id string) (models.PaymentSession, *models.Disposition, error) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return models.PaymentSession{}, nil, ErrSessionNotFound
	}
	disp := rec.disposition
	m.mu.Unlock()
	return rec.coord.Session(), disp, nil
}

// Cancel cancels a session. Returns whether cancellation won the race
// against any in-flight terminal outcome.
func (m *Manager) Cancel(id string) (bool, error) {
	coord, err := m.Coordinator(id)
	if err != nil {
		return false, err
	}
	return coord.Cancel(), nil
}

// Dispose tears a session down without a disposition and drops it from the
// registry. Idempotent via the coordinator.
func (m *Manager) Dispose(id string) error {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.removeLocked(id, rec)
	m.mu.Unlock()

	rec.coord.Dispose()
	rec.link.Close()
	return nil
}

// OnConnectivityChanged fans a server-observed connectivity edge out to all
// live sessions. Client-reported edges go straight to their own session.
func (m *Manager) OnConnectivityChanged(online bool) {
	m.mu.Lock()
	coords := make([]*Coordinator, 0, len(m.byID))
	for _, rec := range m.byID {
		coords = append(coords, rec.coord)
	}
	m.mu.Unlock()

	for _, c := range coords {
		c.OnConnectivityChanged(online)
	}
}

// Run sweeps terminal sessions past the retention window until ctx ends,
// then disposes everything still registered.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.disposeAll()
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) onDisposition(id string, d models.Disposition) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if ok {
		disp := d
		rec.disposition = &disp
		rec.terminalAt = time.Now()
	}
	m.mu.Unlock()
	if ok {
		rec.link.PushDisposition(d)
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.Retention)

	m.mu.Lock()
	var expired []*record
	for id, rec := range m.byID {
		if !rec.terminalAt.IsZero() && rec.terminalAt.Before(cutoff) {
			m.removeLocked(id, rec)
			expired = append(expired, rec)
		}
	}
	m.mu.Unlock()

	for _, rec := range expired {
		rec.coord.Dispose()
		rec.link.Close()
	}
	if len(expired) > 0 {
		logging.Info("Swept terminal sessions", zap.Int("count", len(expired)))
	}
}

func (m *Manager) disposeAll() {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.byID))
	for id, rec := range m.byID {
		m.removeLocked(id, rec)
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	for _, rec := range recs {
		rec.coord.Dispose()
		rec.link.Close()
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		m.removeLocked(id, rec)
	}
}

func (m *Manager) removeLocked(id string, rec *record) {
	delete(m.byID, id)
	if m.byOrder[rec.orderID] == id {
		delete(m.byOrder, rec.orderID)
	}
}
