package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider abstracts a hosted-checkout payment gateway. Implementations
// create checkout links, verify payment state against the gateway's API
// (the authoritative source, webhook bodies are never trusted alone) and
// authenticate incoming webhook deliveries.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)

	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	// VerifyWebhookSignature reports whether a webhook delivery is authentic.
	VerifyWebhookSignature(signature string, body []byte) bool
	// ParseWebhookEvent extracts the payment reference and outcome from a
	// webhook body.
	ParseWebhookEvent(body []byte) (*WebhookEvent, error)
}

// CheckoutRequest describes one payment to collect
type CheckoutRequest struct {
	UserID     int64
	PlanID     string
	PlanName   string
	AmountKobo int64
	Reference  string
}

// Checkout is a hosted payment page the user is sent to
type Checkout struct {
	Reference   string
	CheckoutURL string
}

// VerifyResult is the gateway's view of a payment. Terminal is false while
// the gateway still considers the payment in flight; once Terminal is true
// the Succeeded flag never changes on later verifies.
type VerifyResult struct {
	Terminal   bool
	Succeeded  bool
	AmountKobo int64
	Currency   string
	GatewayID  string
	Plan       string
}

// WebhookEvent is the minimal content of a webhook delivery
type WebhookEvent struct {
	Reference string
	Succeeded bool
}

// GatewayError wraps a failed gateway call with the provider name and what
// was being attempted.
type GatewayError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Provider + ": " + e.Reason + ": " + e.Err.Error()
	}
	return e.Provider + ": " + e.Reason
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewReference builds a checkout reference that stays unique across
// restarts: a random component plus the creation timestamp.
func NewReference(userID int64, now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("premium_bot_%d_%s_%d", userID, hex.EncodeToString(id[:4]), now.Unix())
}

// customerEmail synthesizes a gateway-acceptable email for a Telegram user,
// who has no real one.
func customerEmail(userID int64) string {
	return fmt.Sprintf("user%d@telegram.bot", userID)
}
