package subscription

import "time"

// Subscription is the local record of a customer's subscription to a plan.
// Stripe reference columns only ever go from NULL to a value.
type Subscription struct {
	ID                      uint       `json:"id" gorm:"primaryKey"`
	CustomerID              uint       `json:"customerId" gorm:"index;not null"`
	PlanID                  uint       `json:"planId" gorm:"index"`
	Status                  Status     `json:"status" gorm:"not null;default:INCOMPLETE"`
	StripeSubscriptionID    *string    `json:"stripeSubscriptionId" gorm:"uniqueIndex"`
	StripeInvoiceID         *string    `json:"stripeInvoiceId"`
	StripePaymentIntentID   *string    `json:"stripePaymentIntentId"`
	StripeChargeID          *string    `json:"stripeChargeId"`
	StripeCheckoutSessionID *string    `json:"stripeCheckoutSessionId"`
	CurrentPeriodEnd        *time.Time `json:"currentPeriodEnd"`
	CreatedAt               time.Time  `json:"createdAt" gorm:"index"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// State is what Stripe reports about a subscription
type State struct {
	ProviderStatus   string
	CurrentPeriodEnd *time.Time
}

// References are the Stripe objects last seen for a subscription. Nil fields are left untouched.
type References struct {
	InvoiceID       *string
	PaymentIntentID *string
	ChargeID        *string
}

func (r References) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if r.InvoiceID != nil {
		cols["stripe_invoice_id"] = *r.InvoiceID
	}
	if r.PaymentIntentID != nil {
		cols["stripe_payment_intent_id"] = *r.PaymentIntentID
	}
	if r.ChargeID != nil {
		cols["stripe_charge_id"] = *r.ChargeID
	}
	return cols
}
