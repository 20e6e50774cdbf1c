package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/client"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeConfig holds the credentials of one Stripe account. Field tags are
// unprefixed so configs for several accounts can be composed with envPrefix.
type StripeConfig struct {
	APIKey        string `env:"API_KEY,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
}

// StripeProvider implements Provider for one Stripe account. Each configured
// billing account gets its own instance bound to that account's secret key
// and webhook signing secret.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe-backed billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	return &StripeProvider{
		api:           client.New(cfg.APIKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout session.
// The owning account and plan code travel as session metadata so the
// checkout_completed event can be linked without guessing.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, errors.New("price ID is required")
	}

	req := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(params.AccountID.String()),
	}
	req.Context = ctx
	req.AddMetadata("account_id", params.AccountID.String())
	req.AddMetadata("plan_code", params.PlanCode)
	if params.Email != "" {
		req.CustomerEmail = stripe.String(params.Email)
	}
	if params.SuccessURL != "" {
		req.SuccessURL = stripe.String(params.SuccessURL)
	}
	if params.CancelURL != "" {
		req.CancelURL = stripe.String(params.CancelURL)
	}

	sess, err := p.api.CheckoutSessions.New(req)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return newCheckoutSession(sess), nil
}

// GetCheckoutSession re-fetches a checkout session after completion.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if sessionID == "" {
		return nil, errors.New("checkout session ID is required")
	}

	req := &stripe.CheckoutSessionParams{}
	req.Context = ctx
	sess, err := p.api.CheckoutSessions.Get(sessionID, req)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe checkout session: %w", err)
	}
	return newCheckoutSession(sess), nil
}

// CreatePortalSession returns a billing-portal URL for the customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if customerID == "" {
		return "", errors.New("stripe customer ID is required")
	}

	req := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	req.Context = ctx
	if returnURL != "" {
		req.ReturnURL = stripe.String(returnURL)
	}

	sess, err := p.api.BillingPortalSessions.New(req)
	if err != nil {
		return "", fmt.Errorf("create stripe billing portal session: %w", err)
	}
	if sess.URL == "" {
		return "", ErrNoPortalURL
	}
	return sess.URL, nil
}

// GetSubscription fetches the current subscription state from Stripe.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}

	req := &stripe.SubscriptionParams{}
	req.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, req)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription: %w", err)
	}
	return newProviderSubscription(sub), nil
}

// ParseWebhook verifies the Stripe-Signature header against this account's
// signing secret and normalizes the event envelope. Verification and
// envelope decoding errors are the only ones the webhook endpoint reports
// back as client errors.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	// The CLI and dashboard can deliver events pinned to a different API
	// version than the SDK's; the signature check is unaffected.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	event := &Event{
		Kind:         mapStripeEventType(string(stripeEvent.Type)),
		ProviderType: string(stripeEvent.Type),
	}

	switch event.Kind {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Checkout = newCheckoutSession(&sess)

	case EventSubscriptionUpserted, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Subscription = newProviderSubscription(&sub)

	case EventPaymentFailed:
		subID, err := invoiceSubscriptionID(stripeEvent.Data.Raw)
		if err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Subscription = &ProviderSubscription{ID: subID}
	}

	return event, nil
}

func mapStripeEventType(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return EventCheckoutCompleted
	case "customer.subscription.created", "customer.subscription.updated":
		return EventSubscriptionUpserted
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_failed":
		return EventPaymentFailed
	default:
		return EventIgnored
	}
}

func newCheckoutSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:               sess.ID,
		URL:              sess.URL,
		SubscriptionMode: sess.Mode == stripe.CheckoutSessionModeSubscription,
		PlanCode:         sess.Metadata["plan_code"],
		AccountID:        sess.Metadata["account_id"],
	}
	if out.AccountID == "" {
		out.AccountID = sess.ClientReferenceID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	return out
}

func newProviderSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		PlanCode:          sub.Metadata["plan_code"],
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          unixTime(sub.CancelAt),
		CanceledAt:        unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// The period end lives on the items; a multi-item subscription reports
	// the latest one.
	if sub.Items != nil {
		var periodEnd int64
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil && item.Price.ID != "" {
				out.PriceIDs = append(out.PriceIDs, item.Price.ID)
			}
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
		out.CurrentPeriodEnd = unixTime(periodEnd)
	}

	return out
}

// invoiceSubscriptionID digs the subscription reference out of an invoice
// payload, accepting both the legacy top-level field and the parent shape
// used by newer API versions.
func invoiceSubscriptionID(raw json.RawMessage) (string, error) {
	var inv struct {
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", err
	}
	if inv.Subscription != "" {
		return inv.Subscription, nil
	}
	return inv.Parent.SubscriptionDetails.Subscription, nil
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
