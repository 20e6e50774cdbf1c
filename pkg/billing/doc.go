// Package billing keeps local subscription state consistent with an
// external billing provider.
//
// The provider delivers webhook events at least once and in no guaranteed
// order, so the package is built around one idempotent operation: Reconcile
// upserts the local record keyed by the provider subscription ID from a
// snapshot, serialized per key, and reports the prior status and cancel
// flags so the caller can derive which at-most-one user notification fired.
// The local write is the durability boundary; notification delivery happens
// detached afterwards and its failure is logged, never retried.
//
// # Components
//
//   - Catalog: plan code to per-cycle price IDs, tier order, feature limits
//   - MapStatus: provider status vocabulary to the local Status set
//   - ResolvePlan: plan inference for snapshots without explicit metadata
//   - Service.Reconcile: the keyed idempotent upsert
//   - Service.StartTrial: once-per-account local trial issuance
//   - Service.StartCheckout / StartPortal: hosted session initiation with a
//     duplicate-purchase guard
//   - Service.HandleWebhook: verified event dispatch per billing account
//   - NoticeFor: transition to notification mapping
//
// Several independently configured provider accounts (separate secrets,
// price catalogs and webhook paths) drive the same engine; each is described
// by a BillingAccount value.
//
// # Known gap
//
// Provider events carry no usable revision token, so an older snapshot
// processed after a newer one can overwrite newer state. When the provider
// exposes a monotonic revision, implementations should reject
// older-than-stored updates.
package billing
