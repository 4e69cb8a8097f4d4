package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/zllovesuki/billsync/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func str(s string) *string {
	return &s
}

type fakeProvider struct {
	subscriptions  map[string]*SubscriptionObject
	invoices       map[string]*InvoiceObject
	paymentIntents map[string]*PaymentIntentObject
	listed         map[string]*InvoiceObject
	calls          []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions:  make(map[string]*SubscriptionObject),
		invoices:       make(map[string]*InvoiceObject),
		paymentIntents: make(map[string]*PaymentIntentObject),
		listed:         make(map[string]*InvoiceObject),
	}
}

func (f *fakeProvider) Subscription(ctx context.Context, id string) (*SubscriptionObject, error) {
	f.calls = append(f.calls, "subscription:"+id)
	if s, ok := f.subscriptions[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", id)
}

func (f *fakeProvider) Invoice(ctx context.Context, id string) (*InvoiceObject, error) {
	f.calls = append(f.calls, "invoice:"+id)
	if i, ok := f.invoices[id]; ok {
		return i, nil
	}
	return nil, fmt.Errorf("no such invoice: %s", id)
}

func (f *fakeProvider) PaymentIntent(ctx context.Context, id string) (*PaymentIntentObject, error) {
	f.calls = append(f.calls, "payment_intent:"+id)
	if p, ok := f.paymentIntents[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no such payment_intent: %s", id)
}

func (f *fakeProvider) LatestInvoice(ctx context.Context, subscriptionID string) (*InvoiceObject, error) {
	f.calls = append(f.calls, "list_invoices:"+subscriptionID)
	return f.listed[subscriptionID], nil
}

type fakeFinder map[string]*subscription.Subscription

func (f fakeFinder) LatestByStripeCustomer(ctx context.Context, stripeCustomerID string) (*subscription.Subscription, error) {
	return f[stripeCustomerID], nil
}

func newResolver(t *testing.T, p *fakeProvider, finder fakeFinder) *Resolver {
	if finder == nil {
		finder = fakeFinder{}
	}
	r, err := New(Options{
		Provider:      p,
		Subscriptions: finder,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)
	return r
}

func TestFromSubscriptionExpanded(t *testing.T) {
	periodEnd := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	p.subscriptions["sub_1"] = &SubscriptionObject{
		ID:               "sub_1",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		CustomerID:       str("cus_1"),
		LatestInvoice: &InvoiceObject{
			ID:                          "in_1",
			SubscriptionID:              str("sub_1"),
			PaymentIntentID:             str("pi_1"),
			PaymentIntentLatestChargeID: str("ch_1"),
			AmountPaid:                  1999,
			Currency:                    "usd",
		},
	}

	res, err := newResolver(t, p, nil).FromSubscription(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", *res.Subscription)
	assert.Equal(t, "in_1", *res.Invoice)
	assert.Equal(t, "pi_1", *res.PaymentIntent)
	assert.Equal(t, "ch_1", *res.Charge)
	assert.Equal(t, "cus_1", *res.Customer)
	assert.Equal(t, "active", res.State.Status)
	assert.Equal(t, &periodEnd, res.State.CurrentPeriodEnd)
	assert.Equal(t, int64(1999), res.Amount.Paid)
	assert.Equal(t, []string{"subscription:sub_1"}, p.calls)
}

func TestFromSubscriptionFallsBackToListing(t *testing.T) {
	p := newFakeProvider()
	p.subscriptions["sub_1"] = &SubscriptionObject{
		ID:     "sub_1",
		Status: "past_due",
		LatestInvoice: &InvoiceObject{
			ID: "in_draft",
		},
	}
	p.listed["sub_1"] = &InvoiceObject{
		ID:       "in_2",
		ChargeID: str("ch_2"),
	}

	res, err := newResolver(t, p, nil).FromSubscription(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, "in_2", *res.Invoice)
	assert.Equal(t, "ch_2", *res.Charge)
	assert.Nil(t, res.PaymentIntent)
	assert.Equal(t, []string{"subscription:sub_1", "list_invoices:sub_1"}, p.calls)
}

func TestFromSubscriptionWithoutInvoices(t *testing.T) {
	p := newFakeProvider()
	p.subscriptions["sub_1"] = &SubscriptionObject{ID: "sub_1", Status: "incomplete"}

	res, err := newResolver(t, p, nil).FromSubscription(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", *res.Subscription)
	assert.Nil(t, res.Invoice)
	assert.Nil(t, res.Amount)
	assert.Nil(t, res.State.CurrentPeriodEnd)
}

func TestFromInvoiceParentSubscription(t *testing.T) {
	p := newFakeProvider()
	p.invoices["in_1"] = &InvoiceObject{
		ID:                   "in_1",
		ParentSubscriptionID: str("sub_1"),
		PaymentIntentID:      str("pi_1"),
		AmountPaid:           500,
		Currency:             "eur",
	}
	p.paymentIntents["pi_1"] = &PaymentIntentObject{
		ID:             "pi_1",
		LatestChargeID: str("ch_1"),
		CustomerID:     str("cus_1"),
	}
	p.subscriptions["sub_1"] = &SubscriptionObject{
		ID:     "sub_1",
		Status: "active",
		LatestInvoice: &InvoiceObject{
			ID:       "in_0",
			ChargeID: str("ch_0"),
		},
	}

	res, err := newResolver(t, p, nil).FromInvoice(context.Background(), "in_1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", *res.Subscription)
	// the invoice of the event wins over the subscription's latest invoice
	assert.Equal(t, "in_1", *res.Invoice)
	assert.Equal(t, "pi_1", *res.PaymentIntent)
	assert.Equal(t, "ch_1", *res.Charge)
	assert.Equal(t, "cus_1", *res.Customer)
	assert.Equal(t, "active", res.State.Status)
	assert.Equal(t, int64(500), res.Amount.Paid)
	assert.Equal(t, "eur", res.Amount.Currency)
}

func TestFromInvoicePrefersDirectSubscription(t *testing.T) {
	inv := &InvoiceObject{
		ID:                   "in_1",
		SubscriptionID:       str("sub_direct"),
		ParentSubscriptionID: str("sub_parent"),
	}
	assert.Equal(t, "sub_direct", *inv.Subscription())

	var none *InvoiceObject
	assert.Nil(t, none.Subscription())
	assert.Nil(t, none.Charge())
}

func TestFromInvoiceWithoutSubscription(t *testing.T) {
	p := newFakeProvider()
	p.invoices["in_1"] = &InvoiceObject{ID: "in_1", ChargeID: str("ch_1")}

	res, err := newResolver(t, p, nil).FromInvoice(context.Background(), "in_1")
	require.NoError(t, err)

	assert.Nil(t, res.Subscription)
	assert.Nil(t, res.State)
	assert.Equal(t, "ch_1", *res.Charge)
	assert.Equal(t, []string{"invoice:in_1"}, p.calls)
}

func TestFromInvoiceProviderError(t *testing.T) {
	p := newFakeProvider()

	_, err := newResolver(t, p, nil).FromInvoice(context.Background(), "in_missing")
	assert.Error(t, err)
}

func TestFromPaymentIntentBridgesInvoice(t *testing.T) {
	p := newFakeProvider()
	p.paymentIntents["pi_1"] = &PaymentIntentObject{
		ID:             "pi_1",
		LatestChargeID: str("ch_1"),
		Invoice: &InvoiceObject{
			ID:             "in_1",
			SubscriptionID: str("sub_1"),
		},
	}
	p.subscriptions["sub_1"] = &SubscriptionObject{ID: "sub_1", Status: "trialing"}

	res, err := newResolver(t, p, nil).FromPaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", *res.Subscription)
	assert.Equal(t, "in_1", *res.Invoice)
	assert.Equal(t, "pi_1", *res.PaymentIntent)
	assert.Equal(t, "ch_1", *res.Charge)
	assert.Equal(t, "trialing", res.State.Status)
	assert.Zero(t, res.LocalSubscriptionID)
}

func TestFromPaymentIntentCustomerFallback(t *testing.T) {
	p := newFakeProvider()
	p.paymentIntents["pi_1"] = &PaymentIntentObject{
		ID:             "pi_1",
		LatestChargeID: str("ch_1"),
		CustomerID:     str("cus_1"),
	}
	periodEnd := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	p.subscriptions["sub_1"] = &SubscriptionObject{
		ID:               "sub_1",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		CustomerID:       str("cus_1"),
		LatestInvoice: &InvoiceObject{
			ID:                          "in_old",
			SubscriptionID:              str("sub_1"),
			PaymentIntentID:             str("pi_old"),
			PaymentIntentLatestChargeID: str("ch_old"),
		},
	}
	finder := fakeFinder{
		"cus_1": &subscription.Subscription{ID: 42, StripeSubscriptionID: str("sub_1")},
	}

	res, err := newResolver(t, p, finder).FromPaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)

	assert.Equal(t, uint(42), res.LocalSubscriptionID)
	assert.Equal(t, "sub_1", *res.Subscription)
	assert.Equal(t, "pi_1", *res.PaymentIntent)
	assert.Equal(t, "ch_1", *res.Charge)
	// the subscription's latest invoice belongs to another payment
	assert.Nil(t, res.Invoice)
	require.NotNil(t, res.State)
	assert.Equal(t, "active", res.State.Status)
	assert.Equal(t, &periodEnd, res.State.CurrentPeriodEnd)
	assert.Equal(t, []string{"payment_intent:pi_1", "subscription:sub_1"}, p.calls)
}

func TestFromPaymentIntentCustomerUnlinked(t *testing.T) {
	p := newFakeProvider()
	p.paymentIntents["pi_1"] = &PaymentIntentObject{
		ID:             "pi_1",
		LatestChargeID: str("ch_1"),
		CustomerID:     str("cus_1"),
	}
	finder := fakeFinder{
		"cus_1": &subscription.Subscription{ID: 42},
	}

	res, err := newResolver(t, p, finder).FromPaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)

	assert.Zero(t, res.LocalSubscriptionID)
	assert.Nil(t, res.Subscription)
	assert.Nil(t, res.State)
	assert.Equal(t, []string{"payment_intent:pi_1"}, p.calls)
}

func TestFromPaymentIntentUnmatched(t *testing.T) {
	p := newFakeProvider()
	p.paymentIntents["pi_1"] = &PaymentIntentObject{ID: "pi_1", CustomerID: str("cus_unknown")}

	res, err := newResolver(t, p, nil).FromPaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)

	assert.Zero(t, res.LocalSubscriptionID)
	assert.Nil(t, res.Subscription)
}

func TestFromChargeOrder(t *testing.T) {
	p := newFakeProvider()
	p.paymentIntents["pi_1"] = &PaymentIntentObject{
		ID: "pi_1",
		Invoice: &InvoiceObject{
			ID:             "in_1",
			SubscriptionID: str("sub_1"),
		},
	}
	p.subscriptions["sub_1"] = &SubscriptionObject{ID: "sub_1", Status: "active"}
	p.subscriptions["sub_2"] = &SubscriptionObject{ID: "sub_2", Status: "past_due"}

	r := newResolver(t, p, fakeFinder{
		"cus_1": &subscription.Subscription{ID: 7},
		"cus_2": &subscription.Subscription{ID: 8, StripeSubscriptionID: str("sub_2")},
	})

	// no invoice on the charge: payment intent bridges to the subscription
	res, err := r.FromCharge(context.Background(), ChargeObject{
		ID:              "ch_9",
		PaymentIntentID: str("pi_1"),
		CustomerID:      str("cus_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", *res.Subscription)
	assert.Equal(t, "in_1", *res.Invoice)
	assert.Equal(t, "ch_9", *res.Charge)
	assert.Zero(t, res.LocalSubscriptionID)

	// only a customer, whose subscription was never linked to Stripe
	res, err = r.FromCharge(context.Background(), ChargeObject{
		ID:         "ch_10",
		CustomerID: str("cus_1"),
	})
	require.NoError(t, err)
	assert.Zero(t, res.LocalSubscriptionID)
	assert.Equal(t, "ch_10", *res.Charge)
	assert.Nil(t, res.Subscription)
	assert.Nil(t, res.State)

	// only a customer with a linked subscription
	res, err = r.FromCharge(context.Background(), ChargeObject{
		ID:         "ch_12",
		CustomerID: str("cus_2"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(8), res.LocalSubscriptionID)
	assert.Equal(t, "sub_2", *res.Subscription)
	assert.Equal(t, "ch_12", *res.Charge)
	assert.Equal(t, "past_due", res.State.Status)

	// nothing to follow
	res, err = r.FromCharge(context.Background(), ChargeObject{ID: "ch_11"})
	require.NoError(t, err)
	assert.Nil(t, res.Subscription)
	assert.Zero(t, res.LocalSubscriptionID)
	assert.Equal(t, "ch_11", *res.Charge)
}

func TestRefsOverlayAndFill(t *testing.T) {
	base := Refs{Invoice: str("in_1"), Charge: str("ch_1")}
	top := Refs{Invoice: str("in_2"), PaymentIntent: str("pi_2")}

	over := base.Overlay(top)
	assert.Equal(t, "in_2", *over.Invoice)
	assert.Equal(t, "pi_2", *over.PaymentIntent)
	assert.Equal(t, "ch_1", *over.Charge)

	fill := base.Fill(top)
	assert.Equal(t, "in_1", *fill.Invoice)
	assert.Equal(t, "pi_2", *fill.PaymentIntent)
	assert.Equal(t, "ch_1", *fill.Charge)
}
