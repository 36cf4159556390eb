package session

import (
	"sync"

	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
)

// Event names pushed over a device link.
const (
	EventViewLoad     = "view.load"
	EventViewReload   = "view.reload"
	EventViewUnload   = "view.unload"
	EventOpenExternal = "view.open-external"
	EventBannerShow   = "banner.show"
	EventBannerClear  = "banner.clear"
	EventAdvisory     = "advisory"
	EventDisposition  = "disposition"
)

// Event is one message pushed to the device over the session stream.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Link is the server-side end of a device's session stream. It implements
// CheckoutView and Presenter by translating commands into stream events.
// When the buffer fills (device not draining), the oldest event is dropped
// so commands keep flowing.
type Link struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewLink creates a link with the given event buffer size.
func NewLink(buffer int) *Link {
	if buffer <= 0 {
		buffer = 64
	}
	return &Link{ch: make(chan Event, buffer)}
}

// Events is the stream consumed by the transport layer. Closed by Close.
func (l *Link) Events() <-chan Event {
	return l.ch
}

// Close ends the stream. Safe to call multiple times; pushes after Close are
// dropped.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

func (l *Link) push(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for {
		select {
		case l.ch <- ev:
			return
		default:
			select {
			case dropped := <-l.ch:
				logging.Warn("Device link buffer full, dropping oldest event",
					zap.String("event", dropped.Name),
				)
			default:
			}
		}
	}
}

// Load implements CheckoutView.
func (l *Link) Load(url string) {
	l.push(Event{Name: EventViewLoad, Data: map[string]string{"url": url}})
}

// Reload implements CheckoutView.
func (l *Link) Reload() {
	l.push(Event{Name: EventViewReload})
}

// Unload implements CheckoutView.
func (l *Link) Unload() {
	l.push(Event{Name: EventViewUnload})
}

// OpenExternal implements CheckoutView. The device opens the URL through the
// OS (UPI apps register these schemes) instead of the embedded view.
func (l *Link) OpenExternal(url string) {
	l.push(Event{Name: EventOpenExternal, Data: map[string]string{"url": url}})
}

// ShowBanner implements Presenter.
func (l *Link) ShowBanner(kind BannerKind) {
	l.push(Event{Name: EventBannerShow, Data: map[string]string{"kind": string(kind)}})
}

// ClearBanner implements Presenter.
func (l *Link) ClearBanner() {
	l.push(Event{Name: EventBannerClear})
}

// ShowDismissible implements Presenter.
func (l *Link) ShowDismissible(message string) {
	l.push(Event{Name: EventAdvisory, Data: map[string]string{"message": message}})
}

// PushDisposition delivers the terminal disposition over the stream.
func (l *Link) PushDisposition(d models.Disposition) {
	l.push(Event{Name: EventDisposition, Data: d})
}
