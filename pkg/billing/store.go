package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store defines subscription persistence. Linked records are looked up by
// provider subscription ID, which is the reconciliation key; per-account
// listing supports the trial rules and the duplicate-purchase guard.
type Store interface {
	// GetByProviderSubID retrieves the record linked to a provider
	// subscription. Returns ErrSubscriptionNotFound if none exists.
	GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)

	// ListByAccount returns all records for an account, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error)

	// Save creates or updates a record, keyed by its ID.
	Save(ctx context.Context, sub *Subscription) error
}
