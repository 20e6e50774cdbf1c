package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("billing plan not found")
	ErrPriceNotConfigured   = errors.New("no price configured for plan and billing cycle")
	ErrInvalidCatalog       = errors.New("invalid billing plan catalog")

	ErrPlanUnresolved    = errors.New("unable to resolve plan for provider subscription")
	ErrAccountUnresolved = errors.New("unable to resolve owning account for provider subscription")
	ErrAccountUnknown    = errors.New("owning account does not exist locally")

	ErrTrialAlreadyUsed  = errors.New("free trial has already been used")
	ErrNoBillingIdentity = errors.New("no billing identity exists for account yet")

	ErrUnknownBillingAccount = errors.New("unknown billing provider account")
	ErrInvalidSignature      = errors.New("webhook signature verification failed")
	ErrMalformedEvent        = errors.New("malformed webhook event payload")

	ErrMissingSubscriptionID = errors.New("provider subscription ID is required")
	ErrCheckoutSessionOwner  = errors.New("checkout session does not belong to this account")
	ErrNoCheckoutURL         = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL           = errors.New("no portal URL returned from provider")
)
