package mpin

import "sync"

// Registry hands out one guard per mobile number. Guards live for the span
// of an authentication attempt series: they are created on first use and
// dropped on successful verification, so a returning user starts unlocked
// with zero attempts.
type Registry struct {
	cfg      Config
	verifier Verifier

	mu     sync.Mutex
	guards map[string]*Guard
}

// NewRegistry creates an empty guard registry.
func NewRegistry(cfg Config, verifier Verifier) *Registry {
	return &Registry{
		cfg:      cfg,
		verifier: verifier,
		guards:   make(map[string]*Guard),
	}
}

// Get returns the guard for a mobile number, creating it if needed.
func (r *Registry) Get(mobileNumber string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[mobileNumber]
	if !ok {
		g = NewGuard(r.cfg, r.verifier)
		r.guards[mobileNumber] = g
	}
	return g
}

// Drop forgets the guard for a mobile number.
func (r *Registry) Drop(mobileNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guards, mobileNumber)
}
