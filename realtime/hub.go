// Package realtime is the in-process outcome channel between the gateway
// webhook and payment session coordinators. Each order id carries at most one
// terminal outcome.
package realtime

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
)

var (
	// ErrAlreadySubscribed indicates a second subscription for an order id
	// that already has an active one. Subscriptions are exclusive.
	ErrAlreadySubscribed = errors.New("order already has an active subscription")
	// ErrNoSubscriber indicates a published outcome had no waiting session.
	ErrNoSubscriber = errors.New("no subscriber for order")
)

// subscriber event buffer; outcomes are rare (normally one per order) so a
// small buffer is plenty.
const subscriberBuffer = 16

// Hub routes gateway outcome events to per-order subscribers.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]chan models.OutcomeEvent
	delivered map[string]bool // orders that already received a terminal outcome
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[string]chan models.OutcomeEvent),
		delivered: make(map[string]bool),
	}
}

// Subscribe opens the outcome stream for an order. The returned channel is
// closed by Unsubscribe.
func (h *Hub) Subscribe(orderID string) (<-chan models.OutcomeEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[orderID]; ok {
		return nil, fmt.Errorf("subscribe %q: %w", orderID, ErrAlreadySubscribed)
	}
	ch := make(chan models.OutcomeEvent, subscriberBuffer)
	h.subs[orderID] = ch
	delete(h.delivered, orderID)
	return ch, nil
}

// Unsubscribe closes the order's stream and releases its resources. Safe to
// call multiple times.
func (h *Hub) Unsubscribe(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[orderID]
	if !ok {
		return
	}
	delete(h.subs, orderID)
	close(ch)
}

// Publish delivers an outcome event to the order's subscriber. Terminal
// outcomes (success/failure/expired) are delivered at most once per order;
// later terminal events for the same order are dropped. Error events may
// repeat.
func (h *Hub) Publish(ev models.OutcomeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := ev.Type != models.OutcomeError
	if terminal && h.delivered[ev.OrderID] {
		logging.Warn("Dropping duplicate terminal outcome",
			zap.String("order_id", ev.OrderID),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}

	ch, ok := h.subs[ev.OrderID]
	if !ok {
		return fmt.Errorf("publish %q: %w", ev.OrderID, ErrNoSubscriber)
	}

	select {
	case ch <- ev:
		if terminal {
			h.delivered[ev.OrderID] = true
		}
		return nil
	default:
		// Subscriber buffer full; only plausible under an event storm, and
		// error events are advisory anyway.
		logging.Warn("Subscriber buffer full, dropping outcome event",
			zap.String("order_id", ev.OrderID),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}
}
