package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider defines the minimal interface to the external billing provider.
// The engine only needs hosted checkout/portal sessions, subscription
// retrieval, and verified webhook parsing; everything payment-shaped stays
// on the provider's side.
//
// Implementations must verify webhook signatures in ParseWebhook and return
// ErrInvalidSignature (wrapped) on failure: it is the only webhook error the
// caller reports back to the provider as retryable.
type Provider interface {
	// CreateCheckoutSession creates a hosted checkout session in
	// subscription mode and returns its redirect URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// GetCheckoutSession re-fetches a checkout session by ID. Used by the
	// checkout-success callback to accelerate reconciliation; the webhook
	// remains authoritative.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// CreatePortalSession returns a self-service portal URL for the given
	// provider customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// GetSubscription fetches the current subscription snapshot from the
	// provider.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ParseWebhook verifies the signed event envelope and normalizes it.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// ProviderSubscription is one external subscription snapshot, normalized
// from the provider's representation. It is the sole input the
// reconciliation engine accepts.
type ProviderSubscription struct {
	ID         string
	CustomerID string
	Status     string

	// PlanCode is the explicit plan metadata attached at checkout, when
	// present. Self-service portal changes usually omit it.
	PlanCode string

	// PriceIDs are the line-item price identifiers, used for plan
	// inference when PlanCode is absent.
	PriceIDs []string

	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CanceledAt        *time.Time
}

// CheckoutParams describes a new hosted checkout session.
type CheckoutParams struct {
	PriceID    string
	AccountID  uuid.UUID
	PlanCode   string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a provider checkout session, either freshly created or
// re-fetched after completion.
type CheckoutSession struct {
	ID  string
	URL string

	// SubscriptionMode reports whether the session was created in
	// subscription mode; one-off payment sessions are ignored.
	SubscriptionMode bool

	// AccountID and PlanCode echo the metadata attached at creation.
	AccountID string
	PlanCode  string

	SubscriptionID string
	CustomerID     string
}

// Event is a verified, normalized webhook event envelope.
type Event struct {
	Kind EventKind

	// ProviderType is the provider's native event name, kept for logging.
	ProviderType string

	// Checkout is set for EventCheckoutCompleted.
	Checkout *CheckoutSession

	// Subscription is set for subscription and payment events. For
	// EventPaymentFailed only the ID is populated; the engine re-fetches
	// the full snapshot.
	Subscription *ProviderSubscription
}
