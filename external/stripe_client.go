package external

import (
	"context"
	"fmt"

	"github.com/zllovesuki/billsync/resolver"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

var _ resolver.Provider = &StripeProvider{}

// StripeProvider retrieves objects from the Stripe API for the resolver
type StripeProvider struct {
	client *client.API
	logger *zap.Logger
}

func NewStripeProvider(sc *client.API, logger *zap.Logger) (*StripeProvider, error) {
	if sc == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &StripeProvider{
		client: sc,
		logger: logger,
	}, nil
}

func (p *StripeProvider) Subscription(ctx context.Context, id string) (*resolver.SubscriptionObject, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("latest_invoice.payment_intent.latest_charge")

	s, err := p.client.Subscriptions.Get(id, params)
	if err != nil {
		p.logger.Error("Stripe returned error",
			zap.String("StripeSubscriptionID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot get subscription from Stripe")
	}

	raw := rawObject(s.LastResponse)
	obj := &resolver.SubscriptionObject{
		ID:            s.ID,
		Status:        string(s.Status),
		LatestInvoice: invoiceObject(s.LatestInvoice, raw.Get("latest_invoice")),
	}
	if s.CurrentPeriodEnd > 0 {
		obj.CurrentPeriodEnd = unixTime(s.CurrentPeriodEnd)
	}
	if s.Customer != nil {
		obj.CustomerID = optional(s.Customer.ID)
	}
	return obj, nil
}

func (p *StripeProvider) Invoice(ctx context.Context, id string) (*resolver.InvoiceObject, error) {
	params := &stripe.InvoiceParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("payment_intent.latest_charge")

	inv, err := p.client.Invoices.Get(id, params)
	if err != nil {
		p.logger.Error("Stripe returned error",
			zap.String("StripeInvoiceID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot get invoice from Stripe")
	}
	return invoiceObject(inv, rawObject(inv.LastResponse)), nil
}

func (p *StripeProvider) PaymentIntent(ctx context.Context, id string) (*resolver.PaymentIntentObject, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("invoice")
	params.AddExpand("latest_charge")

	pi, err := p.client.PaymentIntents.Get(id, params)
	if err != nil {
		p.logger.Error("Stripe returned error",
			zap.String("StripePaymentIntentID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot get payment intent from Stripe")
	}

	raw := rawObject(pi.LastResponse)
	obj := &resolver.PaymentIntentObject{
		ID:      pi.ID,
		Invoice: invoiceObject(pi.Invoice, raw.Get("invoice")),
	}
	if pi.LatestCharge != nil {
		obj.LatestChargeID = optional(pi.LatestCharge.ID)
	}
	if pi.Customer != nil {
		obj.CustomerID = optional(pi.Customer.ID)
	}
	return obj, nil
}

func (p *StripeProvider) LatestInvoice(ctx context.Context, subscriptionID string) (*resolver.InvoiceObject, error) {
	params := &stripe.InvoiceListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Limit:   stripe.Int64(1),
			Single:  true,
		},
		Subscription: stripe.String(subscriptionID),
	}
	params.AddExpand("data.payment_intent.latest_charge")

	iter := p.client.Invoices.List(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			p.logger.Error("Stripe returned error",
				zap.String("StripeSubscriptionID", subscriptionID),
				zap.Error(err),
			)
			return nil, extErrors.Wrap(err, "Cannot list invoices from Stripe")
		}
		return nil, nil
	}

	obj := invoiceObject(iter.Invoice(), gjson.Result{})
	if obj != nil && obj.Subscription() == nil {
		obj.SubscriptionID = optional(subscriptionID)
	}
	return obj, nil
}
