package realtime

import (
	"errors"
	"testing"

	"payment-sessions-service/models"
)

func successEvent(orderID string) models.OutcomeEvent {
	return models.OutcomeEvent{
		Type:    models.OutcomeSuccess,
		OrderID: orderID,
		PaymentResponse: &models.PaymentResponse{
			TxnID:   "T1",
			OrderID: orderID,
			Amount:  "500",
		},
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub()

	ch, err := h.Subscribe("ORD-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := h.Publish(successEvent("ORD-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ev := <-ch
	if ev.Type != models.OutcomeSuccess || ev.PaymentResponse.TxnID != "T1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHubSubscriptionsAreExclusive(t *testing.T) {
	h := NewHub()

	if _, err := h.Subscribe("ORD-1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := h.Subscribe("ORD-1"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe err = %v, want ErrAlreadySubscribed", err)
	}

	// After unsubscribing, the order can be re-subscribed.
	h.Unsubscribe("ORD-1")
	if _, err := h.Subscribe("ORD-1"); err != nil {
		t.Fatalf("Subscribe after Unsubscribe: %v", err)
	}
}

func TestHubTerminalOutcomeDeliveredAtMostOnce(t *testing.T) {
	h := NewHub()

	ch, err := h.Subscribe("ORD-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := h.Publish(successEvent("ORD-1")); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	// A duplicate terminal outcome is dropped without error.
	if err := h.Publish(successEvent("ORD-1")); err != nil {
		t.Fatalf("second Publish: %v", err)
	}

	<-ch
	select {
	case ev := <-ch:
		t.Errorf("got second terminal event %+v", ev)
	default:
	}
}

func TestHubErrorEventsMayRepeat(t *testing.T) {
	h := NewHub()

	ch, err := h.Subscribe("ORD-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	errEvent := models.OutcomeEvent{Type: models.OutcomeError, OrderID: "ORD-1", Error: "Disconnected"}
	if err := h.Publish(errEvent); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := h.Publish(errEvent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := len(ch); got != 2 {
		t.Errorf("buffered error events = %d, want 2", got)
	}
}

func TestHubPublishWithoutSubscriber(t *testing.T) {
	h := NewHub()
	if err := h.Publish(successEvent("ORD-404")); !errors.Is(err, ErrNoSubscriber) {
		t.Fatalf("Publish err = %v, want ErrNoSubscriber", err)
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()

	ch, err := h.Subscribe("ORD-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	h.Unsubscribe("ORD-1")
	h.Unsubscribe("ORD-1")

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}
