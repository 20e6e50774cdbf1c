package billing

import (
	"context"

	"github.com/google/uuid"
)

// BillingAccount bundles the configuration of one billing provider account:
// a stable label used in webhook paths and logs, the provider client bound
// to that account's API key and webhook secret, and the price catalog scoped
// to that account. More than one account can drive the same engine; the two
// configured in production are the primary account and the partner
// integration account.
type BillingAccount struct {
	Label    string
	Provider Provider
	Catalog  *Catalog
}

// AccountDirectory exposes the account entities owned by the accounts
// module. The engine only needs existence checks when linking a first-seen
// provider subscription, and an email address for notices.
type AccountDirectory interface {
	Exists(ctx context.Context, accountID uuid.UUID) (bool, error)
	Email(ctx context.Context, accountID uuid.UUID) (string, error)
}
