package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whoson/whoson/pkg/faults"
)

// ConfirmOutcome is the single resolution of a confirmation request.
type ConfirmOutcome string

const (
	OutcomeConfirmed ConfirmOutcome = "confirmed"
	OutcomeCancelled ConfirmOutcome = "cancelled"
	OutcomeExpired   ConfirmOutcome = "expired"
)

// DefaultConfirmTTL bounds how long a destructive action waits for its
// confirmation before expiring.
const DefaultConfirmTTL = 60 * time.Second

// ConfirmAction is the idempotent cleanup to run once a request resolves
// confirmed. It runs at most once per request.
type ConfirmAction func(ctx context.Context) error

type confirmRequest struct {
	scopeID  string
	action   ConfirmAction
	deadline time.Time
	resolved bool
}

// Confirmer issues single-use confirmation tokens for destructive
// operations. Each token resolves exactly once: confirmed, cancelled, or
// expired. Resolving an already-resolved or unknown token is a NotFound
// fault, which makes double-clicked confirmation buttons harmless.
type Confirmer struct {
	ttl time.Duration

	mu       sync.Mutex
	requests map[string]*confirmRequest
}

// NewConfirmer creates a confirmer with the given token lifetime.
func NewConfirmer(ttl time.Duration) *Confirmer {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	return &Confirmer{
		ttl:      ttl,
		requests: make(map[string]*confirmRequest),
	}
}

// Begin registers a pending action and returns its token.
func (c *Confirmer) Begin(scopeID string, action ConfirmAction) string {
	token := uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[token] = &confirmRequest{
		scopeID:  scopeID,
		action:   action,
		deadline: time.Now().Add(c.ttl),
	}
	return token
}

// Resolve settles a token. Confirmed runs the action; cancelled drops it; a
// token past its deadline resolves expired regardless of the caller's
// intent. The outcome is returned alongside any action error.
func (c *Confirmer) Resolve(ctx context.Context, token string, confirmed bool) (ConfirmOutcome, error) {
	c.mu.Lock()
	req, ok := c.requests[token]
	if !ok || req.resolved {
		c.mu.Unlock()
		return "", faults.NotFound("confirmation request not found or already resolved", nil).
			WithOperation("confirm")
	}
	req.resolved = true
	delete(c.requests, token)
	expired := time.Now().After(req.deadline)
	c.mu.Unlock()

	if expired {
		return OutcomeExpired, nil
	}
	if !confirmed {
		return OutcomeCancelled, nil
	}
	return OutcomeConfirmed, req.action(ctx)
}

// Sweep drops expired pending requests. Callers may run it periodically;
// Resolve handles expiry on its own, so sweeping only bounds memory.
func (c *Confirmer) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	swept := 0
	for token, req := range c.requests {
		if now.After(req.deadline) {
			delete(c.requests, token)
			swept++
		}
	}
	return swept
}
