package mpin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/monitoring"
)

// HTTPVerifier calls the remote MPIN verify API.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVerifier creates a verifier against the given base URL.
func NewHTTPVerifier(baseURL string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		baseURL: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

type verifyRequest struct {
	MobileNumber string `json:"mobile_number"`
	Mpin         string `json:"mpin"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    string `json:"user"`
	Message string `json:"message"`
}

// Verify implements Verifier. Transport failures and 5xx answers map to
// ErrVerifyUnavailable; HTTP 400 and explicit rejections map to ErrRejected.
func (v *HTTPVerifier) Verify(ctx context.Context, mobileNumber, mpin string) (VerifyResult, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("external.service", "mpin-verify"),
	)

	body, err := json.Marshal(verifyRequest{MobileNumber: mobileNumber, Mpin: mpin})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/auth/verify-mpin", v.baseURL), bytes.NewReader(body))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		monitoring.RecordVerifyCall(ctx, duration, "error")
		span.SetAttributes(attribute.String("external.status", "error"))
		return VerifyResult{}, fmt.Errorf("call verify api: %w: %v", ErrVerifyUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		monitoring.RecordVerifyCall(ctx, duration, "unavailable")
		span.SetAttributes(attribute.Int("external.status_code", resp.StatusCode))
		return VerifyResult{}, fmt.Errorf("verify api returned status %d: %w", resp.StatusCode, ErrVerifyUnavailable)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		monitoring.RecordVerifyCall(ctx, duration, "rejected")
		span.SetAttributes(attribute.Int("external.status_code", resp.StatusCode))
		return VerifyResult{}, fmt.Errorf("verify api rejected mpin: %w", ErrRejected)
	case resp.StatusCode != http.StatusOK:
		monitoring.RecordVerifyCall(ctx, duration, "unavailable")
		span.SetAttributes(attribute.Int("external.status_code", resp.StatusCode))
		return VerifyResult{}, fmt.Errorf("verify api returned status %d: %w", resp.StatusCode, ErrVerifyUnavailable)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		monitoring.RecordVerifyCall(ctx, duration, "malformed")
		return VerifyResult{}, fmt.Errorf("decode verify response: %w: %v", ErrVerifyUnavailable, err)
	}

	if !out.Success {
		monitoring.RecordVerifyCall(ctx, duration, "rejected")
		return VerifyResult{}, fmt.Errorf("verify api rejected mpin: %w", ErrRejected)
	}

	monitoring.RecordVerifyCall(ctx, duration, "success")
	span.SetAttributes(attribute.String("external.status", "success"))

	res := VerifyResult{
		Token:   out.Token,
		User:    out.User,
		Message: out.Message,
	}
	if exp, ok := tokenExpiry(out.Token); ok {
		res.TokenExpiresAt = exp
	}
	return res, nil
}

// tokenExpiry extracts the exp claim from the issued token so the client can
// schedule re-auth. The signature is the upstream's concern; only the claim
// is read here.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		logging.Warn("Issued token is not a parseable JWT", zap.Error(err))
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
