package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultTrialDays is the length of the locally issued free trial.
const DefaultTrialDays = 14

// Transition captures the prior state of a record, read under the reconcile
// lock before the write, so callers can detect status changes without a
// second query.
type Transition struct {
	// PriorStatus is empty for newly created records; "none" is not a
	// status, so a fresh record entering trialing does not look like a
	// confirmed activation.
	PriorStatus        Status
	PriorCancelPending bool
	Created            bool

	// Deleted marks transitions driven by a provider deletion notice.
	Deleted bool
}

// CheckoutOptions carries the redirect targets and optional billing email
// for a new checkout session.
type CheckoutOptions struct {
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutRedirect is the outcome of StartCheckout: either a hosted checkout
// URL, or the self-service portal URL when the duplicate-purchase guard
// found an existing live provider subscription.
type CheckoutRedirect struct {
	URL    string
	Portal bool
}

// Service is the subscription state synchronization engine. It owns the
// idempotent upsert of local records from provider snapshots, local trial
// issuance, checkout/portal initiation, and webhook dispatch for any number
// of configured billing provider accounts.
type Service struct {
	accounts map[string]*BillingAccount
	primary  string
	store    Store
	dir      AccountDirectory

	notifier      Notifier
	notifyTimeout time.Duration

	log   *slog.Logger
	locks *keyedMutex

	trialDays int
	now       func() time.Time
}

// NewService creates the engine for the given billing accounts. Panics on
// nil required dependencies to fail fast during initialization. The first
// account is the primary one; its catalog defines the trial plan.
func NewService(store Store, directory AccountDirectory, accounts []*BillingAccount, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		panic("billing: Store is required")
	}
	if directory == nil {
		panic("billing: AccountDirectory is required")
	}
	if len(accounts) == 0 {
		return nil, errors.New("billing: at least one billing account is required")
	}

	s := &Service{
		accounts:      make(map[string]*BillingAccount, len(accounts)),
		store:         store,
		dir:           directory,
		notifyTimeout: 15 * time.Second,
		log:           slog.Default(),
		locks:         newKeyedMutex(),
		trialDays:     DefaultTrialDays,
		now:           func() time.Time { return time.Now().UTC() },
	}

	for i, acct := range accounts {
		if acct == nil || acct.Label == "" || acct.Provider == nil || acct.Catalog == nil {
			return nil, errors.New("billing: billing account needs a label, a provider and a catalog")
		}
		if _, exists := s.accounts[acct.Label]; exists {
			return nil, fmt.Errorf("billing: duplicate billing account label %q", acct.Label)
		}
		s.accounts[acct.Label] = acct
		if i == 0 {
			s.primary = acct.Label
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Account returns the configured billing account for a label.
func (s *Service) Account(label string) (*BillingAccount, bool) {
	acct, ok := s.accounts[label]
	return acct, ok
}

// PrimaryAccount returns the first configured billing account.
func (s *Service) PrimaryAccount() *BillingAccount {
	return s.accounts[s.primary]
}

// Subscriptions returns all records for an account, newest first.
func (s *Service) Subscriptions(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error) {
	return s.store.ListByAccount(ctx, accountID)
}

// Reconcile applies one provider subscription snapshot to the local record
// keyed by snap.ID, creating it on first sighting. The sequence is
// serialized per subscription ID, and calling it repeatedly with the same
// snapshot stores the same values and reports a no-op transition.
//
// accountID names the owning account for first sightings (from checkout
// metadata); pass uuid.Nil for bare subscription events, where the owner
// comes from the existing record.
func (s *Service) Reconcile(ctx context.Context, acct *BillingAccount, snap *ProviderSubscription, accountID uuid.UUID, deleted bool) (*Subscription, Transition, error) {
	if snap == nil || snap.ID == "" {
		return nil, Transition{}, ErrMissingSubscriptionID
	}

	unlock := s.locks.lock(snap.ID)
	defer unlock()

	existing, err := s.store.GetByProviderSubID(ctx, snap.ID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, Transition{}, fmt.Errorf("load subscription %s: %w", snap.ID, err)
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		existing = nil
	}

	plan, err := ResolvePlan(acct.Catalog, snap, existing)
	if err != nil {
		return nil, Transition{}, err
	}

	now := s.now()
	tr := Transition{Created: existing == nil, Deleted: deleted}

	rec := existing
	if rec == nil {
		if accountID == uuid.Nil {
			return nil, Transition{}, ErrAccountUnresolved
		}
		ok, err := s.dir.Exists(ctx, accountID)
		if err != nil {
			return nil, Transition{}, fmt.Errorf("check account %s: %w", accountID, err)
		}
		if !ok {
			return nil, Transition{}, ErrAccountUnknown
		}
		rec = &Subscription{
			ID:        uuid.New(),
			AccountID: accountID,
			CreatedAt: now,
		}
	} else {
		tr.PriorStatus = rec.Status
		tr.PriorCancelPending = rec.CancelPending()
	}

	status := MapStatus(snap.Status)
	if deleted {
		status = StatusCanceled
	}

	rec.PlanCode = plan.Code
	rec.Status = status
	rec.SubscriptionID = snap.ID
	if snap.CustomerID != "" {
		rec.CustomerID = snap.CustomerID
	}
	rec.CurrentPeriodEnd = snap.CurrentPeriodEnd
	rec.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	rec.CancelAt = snap.CancelAt

	// Keep an already-known cancellation timestamp when the snapshot omits
	// it, so re-delivered terminal events store the same values.
	rec.CanceledAt = snap.CanceledAt
	if rec.CanceledAt == nil && existing != nil {
		rec.CanceledAt = existing.CanceledAt
	}
	if status == StatusCanceled && rec.CanceledAt == nil {
		rec.CanceledAt = &now
	}

	if (status == StatusActive || status == StatusTrialing) && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	rec.UpdatedAt = now

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, Transition{}, fmt.Errorf("save subscription %s: %w", snap.ID, err)
	}

	// A paid subscription and a local trial must not both look live for one
	// account. The primary write is already durable, so trial closure is
	// best-effort: a failure is logged and the reconcile still succeeds.
	if plan.IsPaid() {
		if err := s.closeLocalTrials(ctx, rec.AccountID, now); err != nil {
			s.log.ErrorContext(ctx, "failed to close local trial after paid reconcile",
				slog.String("account_id", rec.AccountID.String()),
				slog.Any("error", err))
		}
	}

	return rec, tr, nil
}

// closeLocalTrials cancels any trialing record without provider linkage for
// the account.
func (s *Service) closeLocalTrials(ctx context.Context, accountID uuid.UUID, now time.Time) error {
	subs, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !sub.IsLocalTrial() {
			continue
		}
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		sub.CancelAtPeriodEnd = false
		sub.CancelAt = nil
		sub.UpdatedAt = now
		if err := s.store.Save(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// StartTrial creates a local-only trial record for the account. Any
// existing record, trial or paid, live or canceled, means the trial has
// been used. No provider calls are made; this is invoked explicitly by the
// account flows rather than through an ambient lifecycle hook.
func (s *Service) StartTrial(ctx context.Context, accountID uuid.UUID) (*Subscription, error) {
	if accountID == uuid.Nil {
		return nil, ErrAccountUnresolved
	}

	existing, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", accountID, err)
	}
	if len(existing) > 0 {
		return nil, ErrTrialAlreadyUsed
	}

	if _, ok := s.PrimaryAccount().Catalog.Plan(TrialPlanCode); !ok {
		return nil, errors.Join(ErrPlanNotFound, fmt.Errorf("catalog has no %q plan", TrialPlanCode))
	}

	now := s.now()
	periodEnd := now.AddDate(0, 0, s.trialDays)
	rec := &Subscription{
		ID:               uuid.New(),
		AccountID:        accountID,
		PlanCode:         TrialPlanCode,
		Status:           StatusTrialing,
		CurrentPeriodEnd: &periodEnd,
		StartedAt:        &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save trial subscription: %w", err)
	}
	return rec, nil
}

// StartCheckout begins a hosted checkout for the plan and cycle on the given
// billing account. When a non-canceled provider-linked record already exists
// for the account, no new checkout is created; the caller is redirected to
// the self-service portal instead.
func (s *Service) StartCheckout(ctx context.Context, label string, accountID uuid.UUID, planCode string, cycle Cycle, opts CheckoutOptions) (*CheckoutRedirect, error) {
	acct, ok := s.Account(label)
	if !ok {
		return nil, ErrUnknownBillingAccount
	}

	paid, err := s.activePaidSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		url, err := acct.Provider.CreatePortalSession(ctx, paid.CustomerID, opts.SuccessURL)
		if err != nil {
			return nil, fmt.Errorf("create portal session: %w", err)
		}
		return &CheckoutRedirect{URL: url, Portal: true}, nil
	}

	plan, ok := acct.Catalog.Plan(planCode)
	if !ok || !plan.Active || plan.IsTrial() {
		return nil, ErrPlanNotFound
	}

	priceID, err := acct.Catalog.PriceID(planCode, cycle)
	if err != nil {
		return nil, err
	}

	sess, err := acct.Provider.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:    priceID,
		AccountID:  accountID,
		PlanCode:   plan.Code,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutRedirect{URL: sess.URL}, nil
}

// StartPortal returns a self-service portal URL for the account. It
// requires a known provider customer ID on some existing record.
func (s *Service) StartPortal(ctx context.Context, label string, accountID uuid.UUID, returnURL string) (string, error) {
	acct, ok := s.Account(label)
	if !ok {
		return "", ErrUnknownBillingAccount
	}

	subs, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions for %s: %w", accountID, err)
	}

	var customerID string
	for _, sub := range subs {
		if sub.CustomerID != "" {
			customerID = sub.CustomerID
			break
		}
	}
	if customerID == "" {
		return "", ErrNoBillingIdentity
	}

	url, err := acct.Provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if url == "" {
		return "", ErrNoPortalURL
	}
	return url, nil
}

// CompleteCheckout re-fetches a finished checkout session and reconciles the
// linked subscription immediately, so the caller's dashboard reflects the
// purchase without waiting for the webhook. The webhook remains
// authoritative: any failure here degrades to "will sync shortly".
func (s *Service) CompleteCheckout(ctx context.Context, label string, accountID uuid.UUID, sessionID string) error {
	acct, ok := s.Account(label)
	if !ok {
		return ErrUnknownBillingAccount
	}

	sess, err := acct.Provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch checkout session: %w", err)
	}

	// Ownership check: the session must have been created for this account.
	if sess.AccountID == "" || sess.AccountID != accountID.String() {
		return ErrCheckoutSessionOwner
	}
	if sess.SubscriptionID == "" {
		return nil // nothing linked yet; the webhook will catch up
	}

	snap, err := acct.Provider.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sess.SubscriptionID, err)
	}
	if snap.PlanCode == "" {
		snap.PlanCode = sess.PlanCode
	}
	if snap.CustomerID == "" {
		snap.CustomerID = sess.CustomerID
	}

	rec, tr, err := s.Reconcile(ctx, acct, snap, accountID, false)
	if err != nil {
		return err
	}
	s.dispatchNotice(ctx, rec, tr)
	return nil
}

// HandleWebhook verifies and processes one webhook delivery for the billing
// account named by label. Only verification failures are returned: a
// recognized event that fails during processing is logged and still
// acknowledged, so a systematically failing handler does not cause a retry
// storm that masks the bug and blocks future events.
func (s *Service) HandleWebhook(ctx context.Context, label string, payload []byte, signature string) error {
	acct, ok := s.Account(label)
	if !ok {
		return ErrUnknownBillingAccount
	}

	event, err := acct.Provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	if err := s.handleEvent(ctx, acct, event); err != nil {
		s.log.ErrorContext(ctx, "webhook event processing failed",
			slog.String("billing_account", acct.Label),
			slog.String("event", event.ProviderType),
			slog.Any("error", err))
	}
	return nil
}

func (s *Service) handleEvent(ctx context.Context, acct *BillingAccount, event *Event) error {
	switch event.Kind {
	case EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, acct, event)

	case EventSubscriptionUpserted:
		return s.reconcileAndNotify(ctx, acct, event, event.Subscription, uuid.Nil, false)

	case EventSubscriptionDeleted:
		return s.reconcileAndNotify(ctx, acct, event, event.Subscription, uuid.Nil, true)

	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, acct, event)

	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, acct *BillingAccount, event *Event) error {
	sess := event.Checkout
	if sess == nil || !sess.SubscriptionMode || sess.SubscriptionID == "" {
		return nil
	}

	accountID, err := uuid.Parse(sess.AccountID)
	if err != nil {
		s.warnSkipped(ctx, acct, event, "checkout session carries no usable account reference")
		return nil
	}

	snap, err := acct.Provider.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sess.SubscriptionID, err)
	}
	if snap.PlanCode == "" {
		snap.PlanCode = sess.PlanCode
	}
	if snap.CustomerID == "" {
		snap.CustomerID = sess.CustomerID
	}

	return s.reconcileAndNotify(ctx, acct, event, snap, accountID, false)
}

// handlePaymentFailed re-fetches the subscription behind a failed payment
// and reconciles the fresh snapshot, rather than guessing a local status
// from the invoice alone.
func (s *Service) handlePaymentFailed(ctx context.Context, acct *BillingAccount, event *Event) error {
	if event.Subscription == nil || event.Subscription.ID == "" {
		return nil
	}

	if _, err := s.store.GetByProviderSubID(ctx, event.Subscription.ID); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.warnSkipped(ctx, acct, event, "payment failure for a subscription never seen locally")
			return nil
		}
		return err
	}

	snap, err := acct.Provider.GetSubscription(ctx, event.Subscription.ID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", event.Subscription.ID, err)
	}

	return s.reconcileAndNotify(ctx, acct, event, snap, uuid.Nil, false)
}

func (s *Service) reconcileAndNotify(ctx context.Context, acct *BillingAccount, event *Event, snap *ProviderSubscription, accountID uuid.UUID, deleted bool) error {
	if snap == nil || snap.ID == "" {
		return nil
	}

	rec, tr, err := s.Reconcile(ctx, acct, snap, accountID, deleted)
	switch {
	case errors.Is(err, ErrPlanUnresolved),
		errors.Is(err, ErrAccountUnresolved),
		errors.Is(err, ErrAccountUnknown):
		// Data that will never resolve must not cause a retry storm: the
		// event is acknowledged without a state change.
		s.warnSkipped(ctx, acct, event, err.Error())
		return nil
	case err != nil:
		return err
	}

	s.dispatchNotice(ctx, rec, tr)
	return nil
}

// dispatchNotice requests the at-most-one notification for a transition.
// The send runs detached from the webhook request: local state is the
// durability boundary, and a slow or failing email must not delay the
// acknowledgment to the provider.
func (s *Service) dispatchNotice(ctx context.Context, rec *Subscription, tr Transition) {
	notice, ok := NoticeFor(rec, tr)
	if !ok || s.notifier == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, notice, rec); err != nil {
			s.log.ErrorContext(ctx, "subscription notice delivery failed",
				slog.String("notice", string(notice)),
				slog.String("account_id", rec.AccountID.String()),
				slog.Any("error", err))
		}
	}()
}

func (s *Service) warnSkipped(ctx context.Context, acct *BillingAccount, event *Event, reason string) {
	s.log.WarnContext(ctx, "webhook event skipped",
		slog.String("billing_account", acct.Label),
		slog.String("event", event.ProviderType),
		slog.String("reason", reason))
}

// activePaidSubscription returns the newest provider-linked, non-canceled
// record for the account, if any. This is the duplicate-purchase guard's
// source of truth.
func (s *Service) activePaidSubscription(ctx context.Context, accountID uuid.UUID) (*Subscription, error) {
	subs, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", accountID, err)
	}
	for _, sub := range subs {
		if sub.IsLinked() && !sub.IsCanceled() {
			return sub, nil
		}
	}
	return nil, nil
}
