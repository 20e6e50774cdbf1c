package billing

import "strings"

// MapStatus maps the provider's subscription status vocabulary onto the
// local set, case-insensitively. Anything unrecognized maps to canceled:
// a future provider status must never silently grant access.
func MapStatus(external string) Status {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusCanceled
	}
}
