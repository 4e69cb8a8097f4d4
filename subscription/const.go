package subscription

// Status is the local lifecycle state of a subscription
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusPastDue    Status = "PAST_DUE"
	StatusCanceled   Status = "CANCELED"
)

// MapProviderStatus converts a Stripe subscription status to the local status
func MapProviderStatus(status string) Status {
	switch status {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusIncomplete
	}
}
