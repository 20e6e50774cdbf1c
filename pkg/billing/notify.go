package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mintkit/hub/pkg/email"
)

// Notifier delivers user-facing subscription notices. Delivery is
// best-effort with respect to reconciliation: the state write is already
// durable by the time Notify is called, and a failure is logged, never
// retried and never rolled back.
type Notifier interface {
	Notify(ctx context.Context, notice Notice, sub *Subscription) error
}

// NoticeFor derives the at-most-one notice that fired from a reconcile
// transition.
//
// A deletion event always yields "ended": deletion is the provider's
// authoritative terminal signal, regardless of the locally stored prior
// status. Otherwise "ended" fires on a transition into canceled,
// "confirmed" on a transition into active, and "cancellation scheduled"
// when the cancel flags appear on a still-running subscription.
func NoticeFor(sub *Subscription, tr Transition) (Notice, bool) {
	if tr.Deleted {
		return NoticeSubscriptionEnded, true
	}
	if tr.PriorStatus != StatusCanceled && sub.Status == StatusCanceled {
		return NoticeSubscriptionEnded, true
	}
	if tr.PriorStatus != StatusActive && sub.Status == StatusActive {
		return NoticeSubscriptionConfirmed, true
	}
	if !tr.PriorCancelPending && sub.CancelPending() &&
		(sub.Status == StatusActive || sub.Status == StatusTrialing) {
		return NoticeCancellationScheduled, true
	}
	return "", false
}

// EmailNotifier sends notices as transactional emails, looking the
// recipient address up through the account directory.
type EmailNotifier struct {
	sender    email.EmailSender
	directory AccountDirectory
}

func NewEmailNotifier(sender email.EmailSender, directory AccountDirectory) *EmailNotifier {
	if sender == nil {
		panic("billing: email sender is required")
	}
	if directory == nil {
		panic("billing: account directory is required")
	}
	return &EmailNotifier{sender: sender, directory: directory}
}

func (n *EmailNotifier) Notify(ctx context.Context, notice Notice, sub *Subscription) error {
	addr, err := n.directory.Email(ctx, sub.AccountID)
	if err != nil {
		return fmt.Errorf("resolve notice recipient: %w", err)
	}
	if addr == "" {
		return errors.New("account has no email address")
	}

	subject, body := noticeEmail(notice, sub)
	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   addr,
		Subject:  subject,
		BodyHTML: body,
		Tag:      string(notice),
	})
}

func noticeEmail(notice Notice, sub *Subscription) (subject, body string) {
	switch notice {
	case NoticeSubscriptionConfirmed:
		return "MintKit subscription confirmed", fmt.Sprintf(
			"<p>Subscription active: %s</p><p>Thanks for subscribing to MintKit. Access has been unlocked on your dashboard.</p>",
			sub.PlanCode)
	case NoticeCancellationScheduled:
		body := "<p>Your MintKit subscription is scheduled to cancel at the end of the current billing period.</p>"
		if sub.CurrentPeriodEnd != nil {
			body = fmt.Sprintf(
				"<p>Your MintKit subscription is scheduled to cancel on %s. Access remains until then.</p>",
				sub.CurrentPeriodEnd.Format("2 January 2006"))
		}
		return "MintKit subscription cancellation scheduled", body
	case NoticeSubscriptionEnded:
		return "MintKit subscription ended", fmt.Sprintf(
			"<p>Your %s subscription has ended. You can resubscribe from the pricing page at any time.</p>",
			sub.PlanCode)
	default:
		return "MintKit subscription update", "<p>Your subscription was updated.</p>"
	}
}
