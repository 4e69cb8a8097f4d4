package reconcile

import (
	"encoding/json"
	"strconv"

	"github.com/zllovesuki/billsync/resolver"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v79"
	"github.com/tidwall/gjson"
)

// Stripe event types without a constant in stripe-go v79
const (
	EventTypeInvoicePaymentPaid      stripe.EventType = "invoice_payment.paid"
	EventTypeInvoicePaymentSucceeded stripe.EventType = "invoice_payment.succeeded"
)

// checkoutSubscriptionKey is the checkout session metadata key holding the local subscription id
const checkoutSubscriptionKey = "subscriptionId"

// Event is one of the Stripe events the Dispatcher knows, or Unknown
type Event interface {
	envelope() Envelope
}

// Envelope identifies the delivery an Event was parsed from
type Envelope struct {
	ID   string
	Type stripe.EventType
}

func (e Envelope) envelope() Envelope {
	return e
}

// CheckoutSessionCompleted links a checkout session to the local subscription named in its metadata
type CheckoutSessionCompleted struct {
	Envelope
	SessionID            string
	StripeSubscriptionID *string
	StripeCustomerID     *string
	LocalSubscriptionID  uint
}

// SubscriptionChanged is customer.subscription.created or customer.subscription.updated
type SubscriptionChanged struct {
	Envelope
	StripeSubscriptionID string
}

// SubscriptionDeleted is customer.subscription.deleted
type SubscriptionDeleted struct {
	Envelope
	StripeSubscriptionID string
}

// InvoicePaid is invoice.paid or invoice.payment_succeeded
type InvoicePaid struct {
	Envelope
	InvoiceID string
}

// ChargeSucceeded is charge.succeeded
type ChargeSucceeded struct {
	Envelope
	Charge resolver.ChargeObject
}

// PaymentIntentSucceeded is payment_intent.succeeded
type PaymentIntentSucceeded struct {
	Envelope
	PaymentIntentID string
}

// InvoicePaymentPaid is invoice_payment.paid or invoice_payment.succeeded
type InvoicePaymentPaid struct {
	Envelope
	InvoiceID string
}

// Unknown is any event type the Dispatcher does not act on
type Unknown struct {
	Envelope
}

// ParseEvent decodes the object of a verified Stripe event into its variant
func ParseEvent(ev stripe.Event) (Event, error) {
	env := Envelope{
		ID:   ev.ID,
		Type: ev.Type,
	}
	if ev.Data == nil {
		return nil, extErrors.Errorf("Event %s has no data", ev.ID)
	}
	raw := ev.Data.Raw

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode checkout session")
		}
		parsed := &CheckoutSessionCompleted{
			Envelope:  env,
			SessionID: session.ID,
		}
		if session.Subscription != nil {
			parsed.StripeSubscriptionID = optional(session.Subscription.ID)
		}
		if session.Customer != nil {
			parsed.StripeCustomerID = optional(session.Customer.ID)
		}
		if id, err := strconv.ParseUint(session.Metadata[checkoutSubscriptionKey], 10, 64); err == nil {
			parsed.LocalSubscriptionID = uint(id)
		}
		return parsed, nil

	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode subscription")
		}
		if len(sub.ID) == 0 {
			return nil, extErrors.Errorf("Event %s carries a subscription without id", ev.ID)
		}
		if ev.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			return &SubscriptionDeleted{Envelope: env, StripeSubscriptionID: sub.ID}, nil
		}
		return &SubscriptionChanged{Envelope: env, StripeSubscriptionID: sub.ID}, nil

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode invoice")
		}
		if len(inv.ID) == 0 {
			return nil, extErrors.Errorf("Event %s carries an invoice without id", ev.ID)
		}
		return &InvoicePaid{Envelope: env, InvoiceID: inv.ID}, nil

	case stripe.EventTypeChargeSucceeded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode charge")
		}
		parsed := &ChargeSucceeded{
			Envelope: env,
			Charge: resolver.ChargeObject{
				ID: ch.ID,
			},
		}
		if ch.Invoice != nil {
			parsed.Charge.InvoiceID = optional(ch.Invoice.ID)
		}
		if ch.PaymentIntent != nil {
			parsed.Charge.PaymentIntentID = optional(ch.PaymentIntent.ID)
		}
		if ch.Customer != nil {
			parsed.Charge.CustomerID = optional(ch.Customer.ID)
		}
		return parsed, nil

	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode payment intent")
		}
		if len(pi.ID) == 0 {
			return nil, extErrors.Errorf("Event %s carries a payment intent without id", ev.ID)
		}
		return &PaymentIntentSucceeded{Envelope: env, PaymentIntentID: pi.ID}, nil

	case EventTypeInvoicePaymentPaid, EventTypeInvoicePaymentSucceeded:
		obj := gjson.ParseBytes(raw)
		invoiceID := expandableID(obj.Get("invoice"))
		if invoiceID == nil {
			invoiceID = optional(obj.Get("id").String())
		}
		if invoiceID == nil {
			return nil, extErrors.Errorf("Event %s carries an invoice payment without invoice", ev.ID)
		}
		return &InvoicePaymentPaid{Envelope: env, InvoiceID: *invoiceID}, nil

	default:
		return &Unknown{Envelope: env}, nil
	}
}

func optional(id string) *string {
	if len(id) == 0 {
		return nil
	}
	return &id
}

func expandableID(r gjson.Result) *string {
	switch {
	case r.Type == gjson.String:
		return optional(r.String())
	case r.IsObject():
		return optional(r.Get("id").String())
	default:
		return nil
	}
}
