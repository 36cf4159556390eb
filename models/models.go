package models

import "time"

// SessionStatus is the lifecycle state of a payment session. PENDING is the
// only non-terminal status; every other value is absorbing.
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusSucceeded SessionStatus = "SUCCEEDED"
	StatusFailed    SessionStatus = "FAILED"
	StatusExpired   SessionStatus = "EXPIRED"
	StatusCancelled SessionStatus = "CANCELLED"
	StatusBlocked   SessionStatus = "BLOCKED"
)

// Terminal reports whether s is an absorbing status.
func (s SessionStatus) Terminal() bool {
	return s != StatusPending && s != ""
}

// Connectivity is the session's view of the device network state. It never
// terminates a session on its own.
type Connectivity string

const (
	ConnectivityOnline     Connectivity = "ONLINE"
	ConnectivityOffline    Connectivity = "OFFLINE"
	ConnectivityRecovering Connectivity = "RECOVERING"
)

// PaymentSession represents one payment attempt, from checkout-view load to
// terminal disposition. Amount and UserDetails are carried through to the
// result surface only; the coordinator does not interpret them.
type PaymentSession struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	CheckoutURL  string            `json:"checkout_url"`
	Amount       string            `json:"amount"`
	UserDetails  map[string]string `json:"user_details,omitempty"`
	Status       SessionStatus     `json:"status"`
	Connectivity Connectivity      `json:"connectivity"`
	CreatedAt    time.Time         `json:"created_at"`
}

// OutcomeType classifies a realtime gateway event.
type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "success"
	OutcomeFailure OutcomeType = "failure"
	OutcomeExpired OutcomeType = "expired"
	OutcomeError   OutcomeType = "error"
)

// TxnDetail carries gateway-side detail for a transaction.
type TxnDetail struct {
	Status          string `json:"status"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ResponseMessage string `json:"response_message,omitempty"`
}

// PaymentResponse is the gateway payload attached to a terminal outcome event.
type PaymentResponse struct {
	TxnID     string    `json:"txn_id"`
	OrderID   string    `json:"order_id"`
	Amount    string    `json:"amount"`
	TxnDetail TxnDetail `json:"txn_detail"`
}

// OutcomeEvent is one message on the realtime outcome channel, keyed by order
// id. Error is set only for type "error".
type OutcomeEvent struct {
	Type            OutcomeType      `json:"type"`
	OrderID         string           `json:"order_id"`
	Error           string           `json:"error,omitempty"`
	PaymentResponse *PaymentResponse `json:"payment_response,omitempty"`
}

// Disposition is the single terminal outcome reported to the caller, at most
// once per session.
type Disposition struct {
	Status  SessionStatus `json:"status"`
	TxnID   string        `json:"txn_id"`
	OrderID string        `json:"order_id"`
	Amount  string        `json:"amount,omitempty"`
	Message string        `json:"message,omitempty"`
}

// NavigationEvent is a checkout-view navigation state change reported by the
// client.
type NavigationEvent struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Loading   bool   `json:"loading"`
	CanGoBack bool   `json:"can_go_back"`
}

// LoadError is a checkout-view load failure reported by the client.
type LoadError struct {
	Code        int    `json:"code"`
	Domain      string `json:"domain,omitempty"`
	Description string `json:"description"`
}

// HTTPError is a checkout-view HTTP status error reported by the client.
type HTTPError struct {
	StatusCode  int    `json:"status_code"`
	Description string `json:"description,omitempty"`
}

// MpinVerifyRequest is a client MPIN submission.
type MpinVerifyRequest struct {
	MobileNumber string `json:"mobile_number"`
	Mpin         string `json:"mpin"`
}

// MpinVerifyResponse reports the outcome of an MPIN submission.
type MpinVerifyResponse struct {
	Success          bool      `json:"success"`
	Token            string    `json:"token,omitempty"`
	TokenExpiresAt   time.Time `json:"token_expires_at,omitempty"`
	User             string    `json:"user,omitempty"`
	Message          string    `json:"message,omitempty"`
	AttemptsLeft     int       `json:"attempts_left"`
	Locked           bool      `json:"locked"`
	RemainingSeconds int       `json:"lockout_remaining_seconds,omitempty"`
}

// MpinStatus is the current attempt-guard state for one mobile number.
type MpinStatus struct {
	Attempts         int  `json:"attempts"`
	AttemptsLeft     int  `json:"attempts_left"`
	Locked           bool `json:"locked"`
	RemainingSeconds int  `json:"lockout_remaining_seconds"`
}
