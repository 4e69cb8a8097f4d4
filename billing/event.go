package billing

import "time"

// Event is the audit row written when Stripe reports a paid invoice
type Event struct {
	ID                    uint      `json:"id" gorm:"primaryKey"`
	CustomerID            uint      `json:"customerId" gorm:"index;not null"`
	SubscriptionID        uint      `json:"subscriptionId" gorm:"index;not null"`
	StripeEventID         string    `json:"stripeEventId" gorm:"uniqueIndex;not null"`
	EventType             string    `json:"eventType"`
	StripeInvoiceID       *string   `json:"stripeInvoiceId"`
	StripePaymentIntentID *string   `json:"stripePaymentIntentId"`
	AmountPaid            int64     `json:"amountPaid"`
	Currency              string    `json:"currency"`
	CreatedAt             time.Time `json:"createdAt"`
}

func (Event) TableName() string {
	return "billing_events"
}
