package resolver

import "time"

// SubscriptionObject is a Stripe subscription retrieved with its latest invoice expanded
type SubscriptionObject struct {
	ID               string
	Status           string
	CurrentPeriodEnd *time.Time
	CustomerID       *string
	LatestInvoice    *InvoiceObject
}

// InvoiceObject is a Stripe invoice. Depending on API version the parent
// subscription is either SubscriptionID or ParentSubscriptionID.
type InvoiceObject struct {
	ID                          string
	SubscriptionID              *string
	ParentSubscriptionID        *string
	PaymentIntentID             *string
	ChargeID                    *string
	PaymentIntentLatestChargeID *string
	CustomerID                  *string
	AmountPaid                  int64
	Currency                    string
}

// Subscription returns the direct subscription reference, else the one under parent
func (i *InvoiceObject) Subscription() *string {
	if i == nil {
		return nil
	}
	if i.SubscriptionID != nil {
		return i.SubscriptionID
	}
	return i.ParentSubscriptionID
}

// Charge returns the invoice charge, else the latest charge of its expanded payment intent
func (i *InvoiceObject) Charge() *string {
	if i == nil {
		return nil
	}
	if i.ChargeID != nil {
		return i.ChargeID
	}
	return i.PaymentIntentLatestChargeID
}

func (i *InvoiceObject) refs() Refs {
	if i == nil {
		return Refs{}
	}
	id := i.ID
	return Refs{
		Subscription:  i.Subscription(),
		Invoice:       &id,
		PaymentIntent: i.PaymentIntentID,
		Charge:        i.Charge(),
		Customer:      i.CustomerID,
	}
}

// PaymentIntentObject is a Stripe payment intent retrieved with its invoice expanded
type PaymentIntentObject struct {
	ID             string
	LatestChargeID *string
	CustomerID     *string
	Invoice        *InvoiceObject
}

// ChargeObject is the charge carried inline by a charge event
type ChargeObject struct {
	ID              string
	InvoiceID       *string
	PaymentIntentID *string
	CustomerID      *string
}

// Refs is a chain of Stripe object ids. Any field may be unknown.
type Refs struct {
	Subscription  *string
	Invoice       *string
	PaymentIntent *string
	Charge        *string
	Customer      *string
}

// Overlay returns r with every known field of o replacing the field in r
func (r Refs) Overlay(o Refs) Refs {
	if o.Subscription != nil {
		r.Subscription = o.Subscription
	}
	if o.Invoice != nil {
		r.Invoice = o.Invoice
	}
	if o.PaymentIntent != nil {
		r.PaymentIntent = o.PaymentIntent
	}
	if o.Charge != nil {
		r.Charge = o.Charge
	}
	if o.Customer != nil {
		r.Customer = o.Customer
	}
	return r
}

// Fill returns r with its unknown fields taken from o
func (r Refs) Fill(o Refs) Refs {
	return o.Overlay(r)
}

// State is the status and period of a retrieved subscription
type State struct {
	Status           string
	CurrentPeriodEnd *time.Time
}

// Amount is what an invoice collected
type Amount struct {
	Paid     int64
	Currency string
}

// Resolution is the best-effort chain recovered for an event
type Resolution struct {
	Refs
	// State is set when the subscription was retrieved from Stripe
	State *State
	// Amount is set when an invoice was retrieved
	Amount *Amount
	// LocalSubscriptionID is set when the chain was matched to a linked local
	// subscription by customer instead of by Stripe subscription
	LocalSubscriptionID uint
}
