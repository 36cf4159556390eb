package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
)

// Probe periodically checks gateway reachability and feeds the monitor.
// A 5xx answer counts as unreachable; any other response means the path to
// the gateway is up.
type Probe struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbe creates a probe against url. Pass a nil client to use an
// instrumented default.
func NewProbe(monitor *Monitor, url string, interval time.Duration, client *http.Client) *Probe {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Second,
		}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Probe{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   client,
	}
}

// Run probes until ctx ends.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		logging.Error("Invalid connectivity probe URL", zap.String("url", p.url), zap.Error(err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.monitor.Current() {
			logging.Warn("Connectivity probe failed", zap.String("url", p.url), zap.Error(err))
		}
		p.monitor.SetOnline(false)
		return
	}
	resp.Body.Close()

	online := resp.StatusCode < 500
	if online && !p.monitor.Current() {
		logging.Info("Connectivity restored", zap.String("url", p.url))
	}
	p.monitor.SetOnline(online)
}
