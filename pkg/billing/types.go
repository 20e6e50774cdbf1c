package billing

// Status represents the local subscription state.
//
// The local vocabulary is deliberately smaller than the provider's: webhook
// payloads are mapped onto this set by MapStatus and everything downstream
// (access checks, notifications) reasons only about these five values.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Cycle represents the billing frequency of a paid plan.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleAnnual  Cycle = "annual"
)

// EventKind is the normalized webhook event type. Provider adapters map
// their native event names onto this set; unrecognized events become
// EventIgnored and are acknowledged without side effects.
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventSubscriptionUpserted EventKind = "subscription_upserted"
	EventSubscriptionDeleted  EventKind = "subscription_deleted"
	EventPaymentFailed        EventKind = "payment_failed"
	EventIgnored              EventKind = "ignored"
)

// Notice identifies a user-facing notification derived from a reconcile
// transition. At most one notice is requested per reconciliation.
type Notice string

const (
	NoticeSubscriptionConfirmed Notice = "subscription_confirmed"
	NoticeCancellationScheduled Notice = "cancellation_scheduled"
	NoticeSubscriptionEnded     Notice = "subscription_ended"
)
