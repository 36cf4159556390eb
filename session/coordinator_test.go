package session

import (
	"sync"
	"testing"
	"time"

	"payment-sessions-service/models"
)

type fakeView struct {
	mu        sync.Mutex
	loads     []string
	reloads   int
	unloads   int
	externals []string
}

func (v *fakeView) Load(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loads = append(v.loads, url)
}

func (v *fakeView) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reloads++
}

func (v *fakeView) Unload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unloads++
}

func (v *fakeView) OpenExternal(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.externals = append(v.externals, url)
}

type fakePresenter struct {
	mu          sync.Mutex
	banners     []BannerKind
	cleared     int
	dismissible []string
}

func (p *fakePresenter) ShowBanner(kind BannerKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banners = append(p.banners, kind)
}

func (p *fakePresenter) ClearBanner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

func (p *fakePresenter) ShowDismissible(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissible = append(p.dismissible, message)
}

type fakeOutcomes struct {
	mu           sync.Mutex
	subscribes   int
	unsubscribes int
	ch           chan models.OutcomeEvent
}

func newFakeOutcomes() *fakeOutcomes {
	return &fakeOutcomes{ch: make(chan models.OutcomeEvent, 16)}
}

func (f *fakeOutcomes) Subscribe(orderID string) (<-chan models.OutcomeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	return f.ch, nil
}

func (f *fakeOutcomes) Unsubscribe(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes++
}

// manualTimers replaces time.AfterFunc so tests fire timers deterministically.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualTimers) after(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, fn: fn}
	m.timers = append(m.timers, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// fireAll runs every pending timer callback once, in scheduling order.
func (m *manualTimers) fireAll() {
	for {
		m.mu.Lock()
		var next *manualTimer
		for _, t := range m.timers {
			if !t.fired && !t.stopped {
				next = t
				break
			}
		}
		if next == nil {
			m.mu.Unlock()
			return
		}
		next.fired = true
		fn := next.fn
		m.mu.Unlock()
		fn()
	}
}

// fireNext runs only the oldest pending timer callback.
func (m *manualTimers) fireNext() {
	m.mu.Lock()
	var next *manualTimer
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next == nil {
		m.mu.Unlock()
		return
	}
	next.fired = true
	fn := next.fn
	m.mu.Unlock()
	fn()
}

func (m *manualTimers) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type harness struct {
	coord        *Coordinator
	view         *fakeView
	present      *fakePresenter
	outcomes     *fakeOutcomes
	timers       *manualTimers
	mu           sync.Mutex
	dispositions []models.Disposition
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		view:     &fakeView{},
		present:  &fakePresenter{},
		outcomes: newFakeOutcomes(),
		timers:   &manualTimers{},
	}
	sess := models.PaymentSession{
		ID:          "sess-1",
		OrderID:     "ORD-100",
		CheckoutURL: "https://pay.example.com/checkout/ORD-100",
		Amount:      "500",
	}
	h.coord = New(sess, h.view, h.present, h.outcomes, func(d models.Disposition) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dispositions = append(h.dispositions, d)
	}, cfg)
	h.coord.after = h.timers.after
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.coord.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) dispositionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dispositions)
}

func successEvent(orderID, txnID, amount string) models.OutcomeEvent {
	return models.OutcomeEvent{
		Type:    models.OutcomeSuccess,
		OrderID: orderID,
		PaymentResponse: &models.PaymentResponse{
			TxnID:   txnID,
			OrderID: orderID,
			Amount:  amount,
			TxnDetail: models.TxnDetail{
				Status:          "SUCCESS",
				ResponseMessage: "Payment received",
			},
		},
	}
}

func TestSuccessOutcomeDeliversDispositionOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))

	h.mu.Lock()
	if len(h.dispositions) != 1 {
		t.Fatalf("dispositions = %d, want 1", len(h.dispositions))
	}
	d := h.dispositions[0]
	h.mu.Unlock()

	if d.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", d.Status)
	}
	if d.TxnID != "T1" || d.OrderID != "ORD-100" || d.Amount != "500" {
		t.Errorf("payload = %+v", d)
	}
	if h.outcomes.unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1", h.outcomes.unsubscribes)
	}
	if h.view.unloads != 1 {
		t.Errorf("unloads = %d, want 1", h.view.unloads)
	}

	// Later qualifying events are no-ops.
	h.coord.OnChannelEvent(successEvent("ORD-100", "T2", "500"))
	h.coord.OnNavigationChanged(models.NavigationEvent{URL: "https://pay.example.com/failed"})
	if got := h.dispositionCount(); got != 1 {
		t.Errorf("dispositions after extra events = %d, want 1", got)
	}
	if h.outcomes.unsubscribes != 1 {
		t.Errorf("unsubscribes after extra events = %d, want 1", h.outcomes.unsubscribes)
	}
}

func TestCancelWinsOverLateSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	if won := h.coord.Cancel(); !won {
		t.Fatal("Cancel returned false on a pending session")
	}
	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dispositions) != 1 {
		t.Fatalf("dispositions = %d, want 1", len(h.dispositions))
	}
	if h.dispositions[0].Status != models.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", h.dispositions[0].Status)
	}
	if h.dispositions[0].TxnID != "" {
		t.Errorf("txn_id = %q, want empty", h.dispositions[0].TxnID)
	}
}

func TestSuccessWinsOverLateCancel(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))
	if won := h.coord.Cancel(); won {
		t.Error("Cancel reported a win after a terminal outcome")
	}
	if got := h.dispositionCount(); got != 1 {
		t.Errorf("dispositions = %d, want 1", got)
	}
}

func TestConnectivityChannelErrorIsSwallowed(t *testing.T) {
	for _, msg := range []string{"Disconnected", "Connection Error"} {
		h := newHarness(t, Config{})
		h.start(t)

		h.coord.OnChannelEvent(models.OutcomeEvent{Type: models.OutcomeError, OrderID: "ORD-100", Error: msg})

		if got := h.dispositionCount(); got != 0 {
			t.Errorf("%q: dispositions = %d, want 0", msg, got)
		}
		if st := h.coord.Status(); st != models.StatusPending {
			t.Errorf("%q: status = %s, want PENDING", msg, st)
		}
		if len(h.present.dismissible) != 0 {
			t.Errorf("%q: dismissible = %v, want none", msg, h.present.dismissible)
		}
	}
}

func TestOtherChannelErrorSurfacesWithoutTerminating(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnChannelEvent(models.OutcomeEvent{Type: models.OutcomeError, OrderID: "ORD-100", Error: "Gateway fault"})

	if len(h.present.dismissible) != 1 || h.present.dismissible[0] != "Gateway fault" {
		t.Errorf("dismissible = %v", h.present.dismissible)
	}
	if st := h.coord.Status(); st != models.StatusPending {
		t.Errorf("status = %s, want PENDING", st)
	}
	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions = %d, want 0", got)
	}
}

func TestFailureNavigationEndsSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnNavigationChanged(models.NavigationEvent{URL: "https://pay.example.com/order/FAILED", Loading: true})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dispositions) != 1 || h.dispositions[0].Status != models.StatusFailed {
		t.Fatalf("dispositions = %+v, want one FAILED", h.dispositions)
	}
}

func TestBlockedDetectionIsEdgeTriggered(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	blank := models.NavigationEvent{URL: "about:blank", Title: "", Loading: false}
	h.coord.OnNavigationChanged(blank)
	h.coord.OnNavigationChanged(blank)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dispositions) != 1 {
		t.Fatalf("dispositions = %d, want 1", len(h.dispositions))
	}
	if h.dispositions[0].Status != models.StatusBlocked {
		t.Errorf("status = %s, want BLOCKED", h.dispositions[0].Status)
	}
}

func TestTransientBlankNavigationIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	// Still loading: a transient about:blank during a redirect.
	h.coord.OnNavigationChanged(models.NavigationEvent{URL: "about:blank", Title: "", Loading: true})
	// Titled blank page is not a block either.
	h.coord.OnNavigationChanged(models.NavigationEvent{URL: "about:blank", Title: "Checkout", Loading: false})

	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions = %d, want 0", got)
	}
}

func TestReloadOncePerOfflineOnlineEdge(t *testing.T) {
	h := newHarness(t, Config{ReloadDelay: time.Second, BannerClearDelay: time.Second})
	h.start(t)

	for cycle := 1; cycle <= 2; cycle++ {
		h.coord.OnConnectivityChanged(false)
		h.coord.OnConnectivityChanged(true)
		h.timers.fireAll()

		h.view.mu.Lock()
		reloads := h.view.reloads
		h.view.mu.Unlock()
		if reloads != cycle {
			t.Fatalf("cycle %d: reloads = %d, want %d", cycle, reloads, cycle)
		}
	}

	// ONLINE -> ONLINE repeats never reload.
	h.coord.OnConnectivityChanged(true)
	h.coord.OnConnectivityChanged(true)
	h.timers.fireAll()

	h.view.mu.Lock()
	defer h.view.mu.Unlock()
	if h.view.reloads != 2 {
		t.Errorf("reloads after online repeats = %d, want 2", h.view.reloads)
	}
}

func TestOfflineNeverTerminates(t *testing.T) {
	h := newHarness(t, Config{ReloadDelay: time.Second, BannerClearDelay: time.Second})
	h.start(t)

	h.coord.OnConnectivityChanged(false)
	h.coord.OnConnectivityChanged(false)

	if st := h.coord.Status(); st != models.StatusPending {
		t.Errorf("status = %s, want PENDING", st)
	}
	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions = %d, want 0", got)
	}
	h.present.mu.Lock()
	defer h.present.mu.Unlock()
	if len(h.present.banners) != 1 || h.present.banners[0] != BannerOffline {
		t.Errorf("banners = %v, want one offline banner", h.present.banners)
	}
}

func TestBannerClearsAfterRestore(t *testing.T) {
	h := newHarness(t, Config{ReloadDelay: time.Second, BannerClearDelay: time.Second})
	h.start(t)

	h.coord.OnConnectivityChanged(false)
	h.coord.OnConnectivityChanged(true)
	h.timers.fireAll()

	h.present.mu.Lock()
	defer h.present.mu.Unlock()
	if h.present.cleared != 1 {
		t.Errorf("cleared = %d, want 1", h.present.cleared)
	}
	if got := h.coord.Session().Connectivity; got != models.ConnectivityOnline {
		t.Errorf("connectivity = %s, want ONLINE", got)
	}
}

func TestOfflineEdgeCancelsPendingBannerClear(t *testing.T) {
	h := newHarness(t, Config{ReloadDelay: time.Second, BannerClearDelay: time.Second})
	h.start(t)

	h.coord.OnConnectivityChanged(false)
	h.coord.OnConnectivityChanged(true)
	// The reload fires and schedules the banner clear, then the device drops
	// offline again before the clear is due.
	h.timers.fireNext()
	h.coord.OnConnectivityChanged(false)
	h.timers.fireAll()

	h.present.mu.Lock()
	defer h.present.mu.Unlock()
	if h.present.cleared != 0 {
		t.Errorf("cleared = %d, want 0 while offline", h.present.cleared)
	}
	if n := len(h.present.banners); n == 0 || h.present.banners[n-1] != BannerOffline {
		t.Errorf("banners = %v, want offline banner last", h.present.banners)
	}
	if got := h.coord.Session().Connectivity; got != models.ConnectivityOffline {
		t.Errorf("connectivity = %s, want OFFLINE", got)
	}
}

func TestExternalNavigationOpensViaOS(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnNavigationChanged(models.NavigationEvent{URL: "upi://pay?pa=merchant@bank&am=500", Loading: true})

	h.view.mu.Lock()
	externals := append([]string(nil), h.view.externals...)
	h.view.mu.Unlock()
	if len(externals) != 1 || externals[0] != "upi://pay?pa=merchant@bank&am=500" {
		t.Fatalf("externals = %v, want the deep link", externals)
	}
	if st := h.coord.Status(); st != models.StatusPending {
		t.Errorf("status = %s, want PENDING", st)
	}
	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions = %d, want 0", got)
	}
}

func TestMaxPendingExpiresSession(t *testing.T) {
	h := newHarness(t, Config{MaxPending: 10 * time.Minute})
	h.start(t)

	if h.timers.pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.timers.pending())
	}
	h.timers.fireAll()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dispositions) != 1 || h.dispositions[0].Status != models.StatusExpired {
		t.Fatalf("dispositions = %+v, want one EXPIRED", h.dispositions)
	}
}

func TestTerminalOutcomeStopsExpiryTimer(t *testing.T) {
	h := newHarness(t, Config{MaxPending: 10 * time.Minute})
	h.start(t)

	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))
	h.timers.fireAll()

	if got := h.dispositionCount(); got != 1 {
		t.Errorf("dispositions = %d, want 1", got)
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		status      int
		dismissible int
	}{
		{0, 0},
		{502, 0},
		{500, 0},
		{404, 1},
		{403, 1},
	}
	for _, tt := range tests {
		h := newHarness(t, Config{})
		h.start(t)

		h.coord.OnHTTPError(models.HTTPError{StatusCode: tt.status})

		if st := h.coord.Status(); st != models.StatusPending {
			t.Errorf("status %d: session status = %s, want PENDING", tt.status, st)
		}
		if len(h.present.dismissible) != tt.dismissible {
			t.Errorf("status %d: dismissible = %v, want %d", tt.status, h.present.dismissible, tt.dismissible)
		}
	}
}

func TestNetworkLoadErrorIsSwallowed(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnLoadError(models.LoadError{Code: -1009, Description: "The Internet connection appears to be offline."})
	h.coord.OnLoadError(models.LoadError{Code: -999, Description: "Request timed out"})

	if len(h.present.dismissible) != 0 {
		t.Errorf("dismissible = %v, want none", h.present.dismissible)
	}

	h.coord.OnLoadError(models.LoadError{Code: -999, Description: "Frame load interrupted"})
	if len(h.present.dismissible) != 1 {
		t.Errorf("dismissible = %v, want one advisory", h.present.dismissible)
	}
	if st := h.coord.Status(); st != models.StatusPending {
		t.Errorf("status = %s, want PENDING", st)
	}
}

func TestDisposeIsIdempotentAndSilent(t *testing.T) {
	h := newHarness(t, Config{MaxPending: time.Minute})
	h.start(t)

	h.coord.Dispose()
	h.coord.Dispose()

	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions = %d, want 0", got)
	}
	if h.outcomes.unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1", h.outcomes.unsubscribes)
	}
	if h.view.unloads != 1 {
		t.Errorf("unloads = %d, want 1", h.view.unloads)
	}

	// Everything after dispose is a no-op.
	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))
	if won := h.coord.Cancel(); won {
		t.Error("Cancel reported a win after dispose")
	}
	if got := h.dispositionCount(); got != 0 {
		t.Errorf("dispositions after dispose = %d, want 0", got)
	}
}

func TestDisposeAfterTerminalDoesNotTearDownTwice(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.coord.OnChannelEvent(successEvent("ORD-100", "T1", "500"))
	h.coord.Dispose()

	if h.outcomes.unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1", h.outcomes.unsubscribes)
	}
	if h.view.unloads != 1 {
		t.Errorf("unloads = %d, want 1", h.view.unloads)
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	if err := h.coord.Start(); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
}

func TestEventsArriveViaSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.outcomes.ch <- successEvent("ORD-100", "T1", "500")

	deadline := time.After(2 * time.Second)
	for h.dispositionCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("disposition never delivered from pumped event")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
