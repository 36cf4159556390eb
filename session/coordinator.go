// Package session coordinates the outcome of a single payment attempt: an
// embedded checkout view, a realtime outcome channel, device connectivity,
// and user cancellation, reconciled into exactly one terminal disposition.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
	"payment-sessions-service/monitoring"
)

var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionClosed indicates the session is terminal or disposed.
	ErrSessionClosed = errors.New("session is closed")
)

// CheckoutView is the embedded browser capability, treated as a black box:
// it can load a URL, reload the current one, unload, and hand a non-web URL
// (a UPI deep link) to the OS to open externally.
type CheckoutView interface {
	Load(url string)
	Reload()
	Unload()
	OpenExternal(url string)
}

// BannerKind distinguishes the non-dismissing connectivity banners.
type BannerKind string

const (
	BannerOffline      BannerKind = "offline"
	BannerReconnecting BannerKind = "reconnecting"
)

// Presenter surfaces non-terminal, user-visible signals: connectivity
// banners and dismissible error messages. Nothing shown through a Presenter
// terminates the session.
type Presenter interface {
	ShowBanner(kind BannerKind)
	ClearBanner()
	ShowDismissible(message string)
}

// OutcomeSource is the realtime outcome channel keyed by order id.
// Unsubscribe must release server-side resources and is called exactly once
// per session on teardown.
type OutcomeSource interface {
	Subscribe(orderID string) (<-chan models.OutcomeEvent, error)
	Unsubscribe(orderID string)
}

// DispositionFunc receives the session's single terminal disposition. It is
// invoked at most once.
type DispositionFunc func(models.Disposition)

// Config holds the coordinator's tunable delays. The mobile client used
// fixed sleeps for these.
type Config struct {
	// ReloadDelay debounces flaky reconnects before the view is reloaded.
	ReloadDelay time.Duration
	// BannerClearDelay is how long the reconnecting banner lingers.
	BannerClearDelay time.Duration
	// MaxPending expires a session that never hears from the gateway.
	// Zero disables expiry.
	MaxPending time.Duration
}

// timerFunc schedules fn after d and returns a stop function. Injected so
// tests can fire timers deterministically.
type timerFunc func(d time.Duration, fn func()) (stop func() bool)

func stdTimer(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Coordinator owns one payment session. All event handlers check the
// terminal/disposed guard before acting, so whichever qualifying signal is
// processed first wins and every later one is a no-op.
type Coordinator struct {
	cfg      Config
	view     CheckoutView
	present  Presenter
	outcomes OutcomeSource
	notify   DispositionFunc
	after    timerFunc

	mu           sync.Mutex
	sess         models.PaymentSession
	connectivity models.Connectivity
	started      bool
	subscribed   bool
	startedAt    time.Time
	disposed     bool
	torn         bool
	blankSeen    bool
	stopExpiry   func() bool
	stopReload   func() bool
	stopBanner   func() bool
}

// New creates a coordinator for a pending session. notify may be nil.
func New(sess models.PaymentSession, view CheckoutView, present Presenter, outcomes OutcomeSource, notify DispositionFunc, cfg Config) *Coordinator {
	sess.Status = models.StatusPending
	sess.Connectivity = models.ConnectivityOnline
	return &Coordinator{
		cfg:          cfg,
		view:         view,
		present:      present,
		outcomes:     outcomes,
		notify:       notify,
		after:        stdTimer,
		sess:         sess,
		connectivity: models.ConnectivityOnline,
	}
}

// Start opens the outcome subscription and commands the view to load the
// checkout URL. The disposition is delivered asynchronously.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.started = true
	c.startedAt = time.Now()
	orderID := c.sess.OrderID
	c.mu.Unlock()

	ch, err := c.outcomes.Subscribe(orderID)
	if err != nil {
		return fmt.Errorf("subscribe outcomes: %w", err)
	}

	c.mu.Lock()
	if c.closedLocked() {
		// Disposed while subscribing; release the subscription we just took.
		c.mu.Unlock()
		c.outcomes.Unsubscribe(orderID)
		return ErrSessionClosed
	}
	c.subscribed = true
	if c.cfg.MaxPending > 0 {
		c.stopExpiry = c.after(c.cfg.MaxPending, c.expire)
	}
	url := c.sess.CheckoutURL
	c.mu.Unlock()

	go c.pump(ch)
	c.view.Load(url)

	monitoring.RecordSessionStarted(context.Background())
	logging.Info("Payment session started",
		zap.String("session_id", c.sess.ID),
		zap.String("order_id", orderID),
	)
	return nil
}

func (c *Coordinator) pump(ch <-chan models.OutcomeEvent) {
	for ev := range ch {
		c.OnChannelEvent(ev)
	}
}

// OnChannelEvent handles one realtime outcome event. Terminal outcomes win
// the session; connectivity-flavored errors are swallowed; everything else
// surfaces as a dismissible advisory.
func (c *Coordinator) OnChannelEvent(ev models.OutcomeEvent) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}

	var fx []func()
	switch ev.Type {
	case models.OutcomeSuccess:
		fx = c.finishLocked(models.StatusSucceeded, dispositionFrom(ev))
	case models.OutcomeFailure:
		fx = c.finishLocked(models.StatusFailed, dispositionFrom(ev))
	case models.OutcomeExpired:
		fx = c.finishLocked(models.StatusExpired, dispositionFrom(ev))
	case models.OutcomeError:
		if ConnectivityChannelError(ev.Error) {
			// The reload-on-restore policy owns connectivity recovery.
			logging.Info("Ignoring connectivity error on outcome channel",
				zap.String("order_id", c.sess.OrderID),
				zap.String("error", ev.Error),
			)
			break
		}
		msg := ev.Error
		if msg == "" {
			msg = "Something went wrong with the payment channel"
		}
		fx = append(fx, func() { c.present.ShowDismissible(msg) })
	}
	c.mu.Unlock()
	run(fx)
}

// OnNavigationChanged classifies a checkout navigation URL. Non-web schemes
// (UPI deep links) are handed to the OS without affecting the session.
// Failure-pattern URLs end the session as FAILED; a settled about:blank page
// ends it as BLOCKED, once.
func (c *Coordinator) OnNavigationChanged(ev models.NavigationEvent) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}

	var fx []func()
	switch {
	case ExternalNavigation(ev.URL):
		target := ev.URL
		fx = append(fx, func() {
			c.view.OpenExternal(target)
			logging.Info("Handing non-web navigation to the OS",
				zap.String("order_id", c.sess.OrderID),
				zap.String("url", target),
			)
		})
	case FailedNavigation(ev.URL):
		fx = c.finishLocked(models.StatusFailed, models.Disposition{
			Message: "Payment failed",
		})
	case BlockedNavigation(ev) && !c.blankSeen:
		c.blankSeen = true
		fx = c.finishLocked(models.StatusBlocked, models.Disposition{
			Message: "Payment could not be completed. Please contact support.",
		})
	}
	c.mu.Unlock()
	run(fx)
}

// OnLoadError handles a view load failure. Network-flavored errors are
// swallowed; anything else surfaces as a dismissible advisory. Load errors
// never terminate the session.
func (c *Coordinator) OnLoadError(e models.LoadError) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}

	var fx []func()
	if NetworkLoadError(e) {
		logging.Info("Ignoring network-flavored load error",
			zap.String("order_id", c.sess.OrderID),
			zap.Int("code", e.Code),
			zap.String("description", e.Description),
		)
	} else {
		msg := e.Description
		if msg == "" {
			msg = "Could not load the checkout page"
		}
		fx = append(fx, func() { c.present.ShowDismissible(msg) })
	}
	c.mu.Unlock()
	run(fx)
}

// OnHTTPError handles a view HTTP status error. Status 0 and 5xx are
// network-flavored and swallowed; 4xx surfaces as a dismissible advisory.
// Only channel events and URL patterns drive terminal transitions, so
// transient redirects during checkout cannot fail the session.
func (c *Coordinator) OnHTTPError(e models.HTTPError) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}

	var fx []func()
	if NetworkHTTPStatus(e.StatusCode) {
		logging.Info("Ignoring network-flavored HTTP error",
			zap.String("order_id", c.sess.OrderID),
			zap.Int("status_code", e.StatusCode),
		)
	} else {
		fx = append(fx, func() {
			c.present.ShowDismissible(fmt.Sprintf("Checkout returned an error (%d). You can retry or cancel.", e.StatusCode))
		})
	}
	c.mu.Unlock()
	run(fx)
}

// OnConnectivityChanged reacts to device online/offline edges. Going offline
// shows a banner; coming back online after an offline period schedules a
// debounced view reload, then clears the banner. Connectivity never
// terminates the session.
func (c *Coordinator) OnConnectivityChanged(online bool) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}

	var fx []func()
	if !online {
		if c.connectivity != models.ConnectivityOffline {
			c.connectivity = models.ConnectivityOffline
			c.sess.Connectivity = c.connectivity
			// A reload or banner clear scheduled for an earlier blip is
			// stale now; a stale clear would dismiss the offline banner.
			if c.stopReload != nil {
				c.stopReload()
				c.stopReload = nil
			}
			if c.stopBanner != nil {
				c.stopBanner()
				c.stopBanner = nil
			}
			fx = append(fx, func() { c.present.ShowBanner(BannerOffline) })
		}
	} else {
		switch c.connectivity {
		case models.ConnectivityOffline:
			c.connectivity = models.ConnectivityRecovering
			c.sess.Connectivity = c.connectivity
			c.stopReload = c.after(c.cfg.ReloadDelay, c.reloadAfterRestore)
			fx = append(fx, func() { c.present.ShowBanner(BannerReconnecting) })
		case models.ConnectivityRecovering:
			// Reload already scheduled for this offline period.
		default:
			// ONLINE -> ONLINE repeat: no reload, just clear any transient
			// banner shortly.
			if c.stopBanner == nil {
				c.stopBanner = c.after(c.cfg.BannerClearDelay, c.clearBanner)
			}
		}
	}
	c.mu.Unlock()
	run(fx)
}

// Cancel ends the session as CANCELLED. The caller is responsible for user
// confirmation before invoking. Returns false when a terminal outcome got
// there first.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return false
	}
	fx := c.finishLocked(models.StatusCancelled, models.Disposition{
		TxnID:   "",
		Message: "Payment cancelled",
	})
	c.mu.Unlock()
	run(fx)
	return true
}

// Dispose tears the session down (channel unsubscribe, view unload) without
// delivering a disposition. Idempotent; used on client unmount.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	fx := c.teardownLocked()
	c.mu.Unlock()
	run(fx)
}

// Session returns a snapshot of the session.
func (c *Coordinator) Session() models.PaymentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Status returns the current session status.
func (c *Coordinator) Status() models.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Status
}

func (c *Coordinator) expire() {
	c.mu.Lock()
	c.stopExpiry = nil
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}
	fx := c.finishLocked(models.StatusExpired, models.Disposition{
		Message: "Payment session timed out",
	})
	c.mu.Unlock()
	run(fx)
}

func (c *Coordinator) reloadAfterRestore() {
	c.mu.Lock()
	c.stopReload = nil
	if c.closedLocked() || c.connectivity != models.ConnectivityRecovering {
		c.mu.Unlock()
		return
	}
	c.stopBanner = c.after(c.cfg.BannerClearDelay, c.clearBanner)
	orderID := c.sess.OrderID
	c.mu.Unlock()

	c.view.Reload()
	monitoring.RecordViewReload(context.Background())
	logging.Info("Checkout view reloaded after connectivity restore",
		zap.String("order_id", orderID),
	)
}

func (c *Coordinator) clearBanner() {
	c.mu.Lock()
	c.stopBanner = nil
	// The offline banner stays up until connectivity is restored; a clear
	// that raced the next offline edge must not dismiss it.
	if c.closedLocked() || c.connectivity == models.ConnectivityOffline {
		c.mu.Unlock()
		return
	}
	if c.connectivity == models.ConnectivityRecovering {
		c.connectivity = models.ConnectivityOnline
		c.sess.Connectivity = c.connectivity
	}
	c.mu.Unlock()
	c.present.ClearBanner()
}

// closedLocked reports whether the session can no longer accept events.
func (c *Coordinator) closedLocked() bool {
	return c.disposed || c.sess.Status.Terminal()
}

// finishLocked records the terminal status and returns the teardown and
// notification effects. Callers must hold the guard check; this is the only
// path that delivers a disposition.
func (c *Coordinator) finishLocked(status models.SessionStatus, disp models.Disposition) []func() {
	c.sess.Status = status
	disp.Status = status
	disp.OrderID = c.sess.OrderID
	if disp.Amount == "" {
		disp.Amount = c.sess.Amount
	}

	fx := c.teardownLocked()
	startedAt := c.startedAt
	fx = append(fx, func() {
		seconds := 0.0
		if !startedAt.IsZero() {
			seconds = time.Since(startedAt).Seconds()
		}
		monitoring.RecordDisposition(context.Background(), string(status), seconds)
		logging.Info("Payment session reached terminal status",
			zap.String("session_id", c.sess.ID),
			zap.String("order_id", disp.OrderID),
			zap.String("status", string(status)),
			zap.String("txn_id", disp.TxnID),
		)
		if c.notify != nil {
			c.notify(disp)
		}
	})
	return fx
}

// teardownLocked stops timers, releases the channel subscription, and
// unloads the view, exactly once across finish and Dispose.
func (c *Coordinator) teardownLocked() []func() {
	if c.torn {
		return nil
	}
	c.torn = true

	for _, stop := range []func() bool{c.stopExpiry, c.stopReload, c.stopBanner} {
		if stop != nil {
			stop()
		}
	}
	c.stopExpiry, c.stopReload, c.stopBanner = nil, nil, nil

	orderID := c.sess.OrderID
	subscribed := c.subscribed
	c.subscribed = false
	return []func(){func() {
		if subscribed {
			c.outcomes.Unsubscribe(orderID)
		}
		c.view.Unload()
	}}
}

func run(fx []func()) {
	for _, f := range fx {
		f()
	}
}

func dispositionFrom(ev models.OutcomeEvent) models.Disposition {
	var d models.Disposition
	if r := ev.PaymentResponse; r != nil {
		d.TxnID = r.TxnID
		d.Amount = r.Amount
		if r.TxnDetail.ErrorMessage != "" {
			d.Message = r.TxnDetail.ErrorMessage
		} else {
			d.Message = r.TxnDetail.ResponseMessage
		}
	}
	return d
}
