package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/zllovesuki/billsync/billing"
	"github.com/zllovesuki/billsync/ledger"
	"github.com/zllovesuki/billsync/outbox"
	"github.com/zllovesuki/billsync/resolver"
	"github.com/zllovesuki/billsync/subscription"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidSignature is returned when a payload fails Stripe signature verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Resolver recovers Stripe reference chains
type Resolver interface {
	FromSubscription(ctx context.Context, id string) (*resolver.Resolution, error)
	FromInvoice(ctx context.Context, id string) (*resolver.Resolution, error)
	FromPaymentIntent(ctx context.Context, id string) (*resolver.Resolution, error)
	FromCharge(ctx context.Context, ch resolver.ChargeObject) (*resolver.Resolution, error)
}

// CustomerLinker records the Stripe customer of a local customer
type CustomerLinker interface {
	LinkStripeCustomer(ctx context.Context, id uint, stripeID string) error
}

type Options struct {
	DB            *gorm.DB
	WebhookSecret string
	Resolver      Resolver
	Subscriptions *subscription.Manager
	Customers     CustomerLinker
	Ledger        *ledger.Manager
	Billing       *billing.Manager
	Outbox        *outbox.Manager
	// SeenCache is optional
	SeenCache ledger.SeenCache
	Logger    *zap.Logger
}

// Ack is the acknowledgment returned to Stripe
type Ack struct {
	Received bool `json:"received"`
	Deduped  bool `json:"deduped,omitempty"`
}

// Dispatcher verifies, deduplicates and routes Stripe webhook events
type Dispatcher struct {
	Options
}

var _ subscription.Syncer = &Dispatcher{}

func NewDispatcher(option Options) (*Dispatcher, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	if option.Resolver == nil {
		return nil, fmt.Errorf("nil Resolver is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.Outbox == nil {
		return nil, fmt.Errorf("nil Outbox is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Dispatcher{
		Options: option,
	}, nil
}

// Verify checks the Stripe-Signature header against the payload
func (d *Dispatcher) Verify(payload []byte, signature string) (stripe.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, d.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, extErrors.Wrap(ErrInvalidSignature, err.Error())
	}
	return ev, nil
}

// Dispatch handles one webhook delivery. Nothing is written before the signature
// is verified. An event already processed is acknowledged as deduplicated. A
// handler failure is recorded on the ledger and returned, so Stripe redelivers.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, signature string) (*Ack, error) {
	ev, err := d.Verify(payload, signature)
	if err != nil {
		return nil, err
	}

	logger := d.Logger.With(
		zap.String("EventID", ev.ID),
		zap.String("EventType", string(ev.Type)),
	)

	if d.SeenCache != nil {
		seen, err := d.SeenCache.Seen(ctx, ev.ID)
		if err != nil {
			logger.Warn("Seen cache unavailable",
				zap.Error(err),
			)
		}
		if seen {
			return &Ack{Received: true, Deduped: true}, nil
		}
	}

	processed, err := d.Ledger.Begin(ctx, ev.ID, string(ev.Type))
	if err != nil {
		return nil, err
	}
	if processed {
		logger.Debug("Event already processed")
		d.remember(ctx, logger, ev.ID)
		return &Ack{Received: true, Deduped: true}, nil
	}

	if err := d.route(ctx, logger, ev); err != nil {
		if errors.Is(err, subscription.ErrNotLinked) {
			// checkout has not linked the subscription yet, Stripe's retry normally succeeds
			logger.Warn("Webhook event arrived before its subscription was linked",
				zap.Error(err),
			)
		} else {
			logger.Error("Cannot handle webhook event",
				zap.Error(err),
			)
		}
		if markErr := d.Ledger.MarkFailed(ctx, ev.ID, err); markErr != nil {
			logger.Error("Cannot record webhook failure",
				zap.Error(markErr),
			)
		}
		return nil, extErrors.Wrap(err, "Cannot handle webhook event")
	}

	if err := d.Ledger.MarkProcessed(ctx, ev.ID); err != nil {
		return nil, err
	}
	d.remember(ctx, logger, ev.ID)
	return &Ack{Received: true}, nil
}

func (d *Dispatcher) remember(ctx context.Context, logger *zap.Logger, eventID string) {
	if d.SeenCache == nil {
		return
	}
	if err := d.SeenCache.Remember(ctx, eventID); err != nil {
		logger.Warn("Cannot update seen cache",
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) route(ctx context.Context, logger *zap.Logger, ev stripe.Event) error {
	parsed, err := ParseEvent(ev)
	if err != nil {
		return err
	}

	switch e := parsed.(type) {
	case *CheckoutSessionCompleted:
		return d.handleCheckout(ctx, logger, e)
	case *SubscriptionChanged:
		return d.syncSubscription(ctx, logger, e.StripeSubscriptionID)
	case *SubscriptionDeleted:
		return d.handleDeleted(ctx, logger, e)
	case *InvoicePaid:
		return d.handleInvoice(ctx, logger, e.Envelope, e.InvoiceID, true)
	case *InvoicePaymentPaid:
		return d.handleInvoice(ctx, logger, e.Envelope, e.InvoiceID, false)
	case *ChargeSucceeded:
		res, err := d.Resolver.FromCharge(ctx, e.Charge)
		if err != nil {
			return err
		}
		return d.apply(ctx, logger, res)
	case *PaymentIntentSucceeded:
		res, err := d.Resolver.FromPaymentIntent(ctx, e.PaymentIntentID)
		if err != nil {
			return err
		}
		return d.apply(ctx, logger, res)
	case *Unknown:
		logger.Debug("Ignoring unhandled event type")
		return nil
	default:
		return extErrors.Errorf("Unexpected event variant %T", parsed)
	}
}

func (d *Dispatcher) handleCheckout(ctx context.Context, logger *zap.Logger, e *CheckoutSessionCompleted) error {
	if e.LocalSubscriptionID == 0 || e.StripeSubscriptionID == nil {
		logger.Warn("Checkout session is missing subscription metadata",
			zap.String("SessionID", e.SessionID),
		)
		return nil
	}

	logger = logger.With(
		zap.Uint("SubscriptionID", e.LocalSubscriptionID),
		zap.String("StripeSubscriptionID", *e.StripeSubscriptionID),
	)

	linked, err := d.Subscriptions.LinkCheckout(ctx, e.LocalSubscriptionID, *e.StripeSubscriptionID, e.SessionID)
	if err != nil {
		return err
	}
	if !linked {
		logger.Warn("Checkout session names an unknown subscription")
		return nil
	}

	if e.StripeCustomerID != nil {
		sub, err := d.Subscriptions.GetByID(ctx, e.LocalSubscriptionID)
		if err != nil {
			return err
		}
		if sub != nil {
			if err := d.Customers.LinkStripeCustomer(ctx, sub.CustomerID, *e.StripeCustomerID); err != nil {
				return err
			}
		}
	}

	logger.Info("Checkout session linked")

	return d.syncSubscription(ctx, logger, *e.StripeSubscriptionID)
}

func (d *Dispatcher) syncSubscription(ctx context.Context, logger *zap.Logger, stripeSubscriptionID string) error {
	res, err := d.Resolver.FromSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return err
	}
	return d.apply(ctx, logger, res)
}

func (d *Dispatcher) handleDeleted(ctx context.Context, logger *zap.Logger, e *SubscriptionDeleted) error {
	canceled, err := d.Subscriptions.MarkCanceled(ctx, e.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if !canceled {
		logger.Info("Deleted subscription is not linked locally",
			zap.String("StripeSubscriptionID", e.StripeSubscriptionID),
		)
	}
	return nil
}

// handleInvoice synchronizes the subscription an invoice belongs to. When paid is
// set, the billing audit row and the receipt and fulfillment jobs are written in
// the same transaction as the synchronization.
func (d *Dispatcher) handleInvoice(ctx context.Context, logger *zap.Logger, env Envelope, invoiceID string, paid bool) error {
	res, err := d.Resolver.FromInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	logger = logger.With(zap.String("InvoiceID", invoiceID))

	if res.Subscription == nil {
		logger.Info("Invoice does not belong to a subscription")
		return nil
	}

	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := d.Subscriptions.WithTx(tx).Synchronize(ctx, *res.Subscription, toState(res.State), toReferences(res.Refs))
		if err != nil {
			return err
		}
		if sub == nil {
			if paid {
				return extErrors.Wrapf(subscription.ErrNotLinked, "Stripe subscription %s", *res.Subscription)
			}
			logger.Info("Invoice subscription is not linked locally")
			return nil
		}
		if !paid {
			return nil
		}

		event := &billing.Event{
			CustomerID:            sub.CustomerID,
			SubscriptionID:        sub.ID,
			StripeEventID:         env.ID,
			EventType:             string(env.Type),
			StripeInvoiceID:       &invoiceID,
			StripePaymentIntentID: res.PaymentIntent,
		}
		if res.Amount != nil {
			event.AmountPaid = res.Amount.Paid
			event.Currency = res.Amount.Currency
		}
		if _, err := d.Billing.WithTx(tx).Record(ctx, event); err != nil {
			return err
		}

		jobs := d.Outbox.WithTx(tx)
		if _, err := jobs.Enqueue(ctx, outbox.TypeEmailReceipt, outbox.ReceiptPayload{
			CustomerID: sub.CustomerID,
			EmailType:  outbox.EmailSubscriptionReceipt,
			InvoiceID:  invoiceID,
			AmountPaid: event.AmountPaid,
			Currency:   event.Currency,
		}, outbox.DedupeKey(outbox.TypeEmailReceipt, invoiceID)); err != nil {
			return err
		}
		if _, err := jobs.Enqueue(ctx, outbox.TypeFulfillSubscription, outbox.FulfillmentPayload{
			CustomerID:           sub.CustomerID,
			SubscriptionID:       sub.ID,
			StripeSubscriptionID: *res.Subscription,
			InvoiceID:            invoiceID,
		}, outbox.DedupeKey(outbox.TypeFulfillSubscription, invoiceID)); err != nil {
			return err
		}

		logger.Info("Invoice paid",
			zap.Uint("SubscriptionID", sub.ID),
			zap.Int64("AmountPaid", event.AmountPaid),
		)
		return nil
	})
}

// apply writes a resolution to the local subscription it identifies. References
// that cannot be tied to any local subscription are logged and dropped.
func (d *Dispatcher) apply(ctx context.Context, logger *zap.Logger, res *resolver.Resolution) error {
	refs := toReferences(res.Refs)

	if res.Subscription != nil {
		sub, err := d.Subscriptions.Synchronize(ctx, *res.Subscription, toState(res.State), refs)
		if err != nil {
			return err
		}
		if sub != nil {
			logger.Debug("Subscription synchronized",
				zap.Uint("SubscriptionID", sub.ID),
				zap.String("Status", string(sub.Status)),
			)
			return nil
		}
	}

	logger.Info("Event cannot be tied to a local subscription",
		zap.Uint("MatchedSubscriptionID", res.LocalSubscriptionID),
	)
	return nil
}

// SyncLocal pulls the current Stripe state of a local subscription
func (d *Dispatcher) SyncLocal(ctx context.Context, id uint) (*subscription.SyncResult, error) {
	sub, err := d.Subscriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscription.ErrNotFound
	}
	if sub.StripeSubscriptionID == nil {
		return nil, subscription.ErrNotLinked
	}

	res, err := d.Resolver.FromSubscription(ctx, *sub.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	synced, err := d.Subscriptions.Synchronize(ctx, *sub.StripeSubscriptionID, toState(res.State), toReferences(res.Refs))
	if err != nil {
		return nil, err
	}
	if synced == nil {
		return nil, subscription.ErrNotFound
	}

	result := &subscription.SyncResult{
		Subscription: synced,
	}
	if res.State != nil {
		result.ProviderStatus = res.State.Status
	}
	return result, nil
}

func toState(s *resolver.State) *subscription.State {
	if s == nil {
		return nil
	}
	return &subscription.State{
		ProviderStatus:   s.Status,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
	}
}

func toReferences(r resolver.Refs) subscription.References {
	return subscription.References{
		InvoiceID:       r.Invoice,
		PaymentIntentID: r.PaymentIntent,
		ChargeID:        r.Charge,
	}
}
