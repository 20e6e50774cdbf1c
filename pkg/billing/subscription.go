package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is one billing relationship instance for one account.
//
// A record is either linked to the provider (non-empty SubscriptionID, kept
// in sync by the reconciliation engine) or a local-only trial (empty provider
// IDs, created by StartTrial). Records are never physically deleted; the
// terminal state is canceled.
type Subscription struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	PlanCode  string
	Status    Status

	// Provider linkage, empty for trial-only records. SubscriptionID is the
	// reconciliation key: one local record per provider subscription.
	CustomerID     string
	SubscriptionID string

	CurrentPeriodEnd *time.Time

	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CanceledAt        *time.Time

	// StartedAt is set exactly once, the first time the record transitions
	// into active or trialing.
	StartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsLinked reports whether the record is tied to a provider subscription.
func (s *Subscription) IsLinked() bool {
	return s.SubscriptionID != ""
}

// IsLocalTrial reports whether this is a local-only trial record.
func (s *Subscription) IsLocalTrial() bool {
	return !s.IsLinked() && s.Status == StatusTrialing
}

// CancelPending reports whether a cancellation has been scheduled but has
// not taken effect yet.
func (s *Subscription) CancelPending() bool {
	return s.CancelAtPeriodEnd || s.CancelAt != nil
}

// HasAccess reports whether the record grants access at the given time.
// Active always grants access. Trialing requires the period end to be on or
// after now; an absent period end is treated as still active, a permissive
// default for records created manually by an administrator.
func (s *Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return true
	case StatusTrialing:
		if s.CurrentPeriodEnd == nil {
			return true
		}
		return !s.CurrentPeriodEnd.Before(now)
	default:
		return false
	}
}
