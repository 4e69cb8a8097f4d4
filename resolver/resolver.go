package resolver

import (
	"context"
	"fmt"

	"github.com/zllovesuki/billsync/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Provider retrieves Stripe objects with the expansions the resolver relies on.
// Implementations must be read-only.
type Provider interface {
	// Subscription expands latest_invoice.payment_intent.latest_charge
	Subscription(ctx context.Context, id string) (*SubscriptionObject, error)
	// Invoice expands payment_intent.latest_charge
	Invoice(ctx context.Context, id string) (*InvoiceObject, error)
	// PaymentIntent expands invoice and latest_charge
	PaymentIntent(ctx context.Context, id string) (*PaymentIntentObject, error)
	// LatestInvoice lists the most recent invoice of a subscription, nil if it has none
	LatestInvoice(ctx context.Context, subscriptionID string) (*InvoiceObject, error)
}

// SubscriptionFinder matches a Stripe customer to a local subscription
type SubscriptionFinder interface {
	LatestByStripeCustomer(ctx context.Context, stripeCustomerID string) (*subscription.Subscription, error)
}

type Options struct {
	Provider      Provider
	Subscriptions SubscriptionFinder
	Logger        *zap.Logger
}

// Resolver walks Stripe cross references to recover the chain
// subscription, invoice, payment intent, charge, customer from whichever
// object an event arrived for. Direct references always win over listing or
// customer matching.
type Resolver struct {
	Options
}

func New(option Options) (*Resolver, error) {
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Resolver{
		Options: option,
	}, nil
}

// FromSubscription resolves the chain through the subscription's latest invoice.
// If the charge is missing there, the most recent listed invoice is used instead.
func (r *Resolver) FromSubscription(ctx context.Context, id string) (*Resolution, error) {
	sub, err := r.Provider.Subscription(ctx, id)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot retrieve subscription")
	}
	if sub == nil {
		return nil, extErrors.Errorf("Subscription %s not found", id)
	}

	subID := sub.ID
	res := &Resolution{
		Refs: Refs{
			Subscription: &subID,
			Customer:     sub.CustomerID,
		},
		State: &State{
			Status:           sub.Status,
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
		},
	}

	inv := sub.LatestInvoice
	if inv.Charge() == nil {
		listed, err := r.Provider.LatestInvoice(ctx, sub.ID)
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot list invoices of subscription")
		}
		if listed != nil {
			r.Logger.Debug("Using listed invoice for subscription",
				zap.String("StripeSubscriptionID", sub.ID),
				zap.String("StripeInvoiceID", listed.ID),
			)
			inv = listed
		}
	}
	if inv == nil {
		return res, nil
	}

	invRefs, err := r.invoiceRefs(ctx, inv)
	if err != nil {
		return nil, err
	}
	res.Refs = res.Refs.Fill(invRefs)
	res.Amount = &Amount{
		Paid:     inv.AmountPaid,
		Currency: inv.Currency,
	}
	return res, nil
}

// FromInvoice resolves the invoice, then the full subscription chain if the
// invoice belongs to one. References read off the invoice take precedence.
func (r *Resolver) FromInvoice(ctx context.Context, id string) (*Resolution, error) {
	inv, err := r.Provider.Invoice(ctx, id)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot retrieve invoice")
	}
	if inv == nil {
		return nil, extErrors.Errorf("Invoice %s not found", id)
	}

	invRefs, err := r.invoiceRefs(ctx, inv)
	if err != nil {
		return nil, err
	}
	res := &Resolution{
		Refs: invRefs,
		Amount: &Amount{
			Paid:     inv.AmountPaid,
			Currency: inv.Currency,
		},
	}
	if invRefs.Subscription == nil {
		return res, nil
	}

	subRes, err := r.FromSubscription(ctx, *invRefs.Subscription)
	if err != nil {
		return nil, err
	}
	res.Refs = subRes.Refs.Overlay(invRefs)
	res.State = subRes.State
	return res, nil
}

// FromPaymentIntent bridges through the payment intent's invoice. Without an
// invoice linked to a subscription, the customer's most recent local subscription is used.
func (r *Resolver) FromPaymentIntent(ctx context.Context, id string) (*Resolution, error) {
	pi, err := r.Provider.PaymentIntent(ctx, id)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot retrieve payment intent")
	}
	if pi == nil {
		return nil, extErrors.Errorf("PaymentIntent %s not found", id)
	}

	piID := pi.ID
	refs := Refs{
		PaymentIntent: &piID,
		Charge:        pi.LatestChargeID,
		Customer:      pi.CustomerID,
	}

	if pi.Invoice != nil {
		refs = pi.Invoice.refs().Overlay(refs)
		amount := &Amount{
			Paid:     pi.Invoice.AmountPaid,
			Currency: pi.Invoice.Currency,
		}
		if refs.Subscription != nil {
			subRes, err := r.FromSubscription(ctx, *refs.Subscription)
			if err != nil {
				return nil, err
			}
			return &Resolution{
				Refs:   subRes.Refs.Overlay(refs),
				State:  subRes.State,
				Amount: amount,
			}, nil
		}
	}

	return r.matchCustomer(ctx, refs)
}

// FromCharge follows the charge upward via its invoice, else its payment
// intent, else its customer. The charge's own references are kept on top.
func (r *Resolver) FromCharge(ctx context.Context, ch ChargeObject) (*Resolution, error) {
	chargeID := ch.ID
	direct := Refs{
		Invoice:       ch.InvoiceID,
		PaymentIntent: ch.PaymentIntentID,
		Charge:        &chargeID,
		Customer:      ch.CustomerID,
	}

	var res *Resolution
	var err error
	switch {
	case ch.InvoiceID != nil:
		res, err = r.FromInvoice(ctx, *ch.InvoiceID)
	case ch.PaymentIntentID != nil:
		res, err = r.FromPaymentIntent(ctx, *ch.PaymentIntentID)
	case ch.CustomerID != nil:
		res, err = r.FromCustomer(ctx, *ch.CustomerID)
	default:
		return &Resolution{Refs: direct}, nil
	}
	if err != nil {
		return nil, err
	}
	res.Refs = res.Refs.Overlay(direct)
	return res, nil
}

// FromCustomer matches the Stripe customer to its most recently created local subscription
func (r *Resolver) FromCustomer(ctx context.Context, stripeCustomerID string) (*Resolution, error) {
	return r.matchCustomer(ctx, Refs{Customer: &stripeCustomerID})
}

func (r *Resolver) matchCustomer(ctx context.Context, refs Refs) (*Resolution, error) {
	res := &Resolution{Refs: refs}
	if refs.Customer == nil {
		return res, nil
	}
	local, err := r.Subscriptions.LatestByStripeCustomer(ctx, *refs.Customer)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot match customer to subscription")
	}
	if local == nil {
		return res, nil
	}
	if local.StripeSubscriptionID == nil {
		r.Logger.Info("Customer's latest subscription is not linked to Stripe",
			zap.String("StripeCustomerID", *refs.Customer),
			zap.Uint("SubscriptionID", local.ID),
		)
		return res, nil
	}

	// the matched subscription's status is fetched fresh, its latest invoice
	// may belong to a different payment so only the subscription id is kept
	sub, err := r.FromSubscription(ctx, *local.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	res.Refs = res.Refs.Fill(Refs{Subscription: sub.Refs.Subscription})
	res.State = sub.State
	res.LocalSubscriptionID = local.ID
	return res, nil
}

// invoiceRefs reads the chain off an invoice, retrieving its payment intent
// when the charge is not present.
func (r *Resolver) invoiceRefs(ctx context.Context, inv *InvoiceObject) (Refs, error) {
	refs := inv.refs()
	if refs.Charge != nil || refs.PaymentIntent == nil {
		return refs, nil
	}
	pi, err := r.Provider.PaymentIntent(ctx, *refs.PaymentIntent)
	if err != nil {
		return Refs{}, extErrors.Wrap(err, "Cannot retrieve payment intent of invoice")
	}
	if pi == nil {
		return refs, nil
	}
	return refs.Fill(Refs{
		Charge:   pi.LatestChargeID,
		Customer: pi.CustomerID,
	}), nil
}
