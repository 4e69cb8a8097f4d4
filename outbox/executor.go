package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zllovesuki/billsync/broker"
	"github.com/zllovesuki/billsync/customer"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// FulfillmentScope is the idempotency scope of fulfillment claims
const FulfillmentScope = "FULFILLMENT"

type CustomerLookup interface {
	GetByID(ctx context.Context, id uint) (*customer.Customer, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Claimer interface {
	Claim(ctx context.Context, key, scope string) (bool, error)
}

type ReceiptOptions struct {
	Customers CustomerLookup
	Mailer    Mailer
	Logger    *zap.Logger
}

// ReceiptExecutor emails a payment receipt to the owner of the subscription
type ReceiptExecutor struct {
	ReceiptOptions
}

func NewReceiptExecutor(option ReceiptOptions) (*ReceiptExecutor, error) {
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if option.Mailer == nil {
		return nil, fmt.Errorf("nil Mailer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &ReceiptExecutor{
		ReceiptOptions: option,
	}, nil
}

func (e *ReceiptExecutor) Execute(ctx context.Context, job *Job) error {
	var payload ReceiptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return extErrors.Wrap(err, "Cannot decode receipt payload")
	}

	cust, err := e.Customers.GetByID(ctx, payload.CustomerID)
	if err != nil {
		return err
	}
	if cust == nil || len(cust.Email) == 0 {
		e.Logger.Warn("No email address for receipt",
			zap.Uint("CustomerID", payload.CustomerID),
			zap.String("StripeInvoiceID", payload.InvoiceID),
		)
		return nil
	}

	body := fmt.Sprintf("Thanks! Invoice: %s\nPaid: %d %s", payload.InvoiceID, payload.AmountPaid, payload.Currency)
	if err := e.Mailer.Send(ctx, cust.Email, "Payment receipt", body); err != nil {
		return extErrors.Wrap(err, "Cannot send receipt email")
	}
	return nil
}

type FulfillmentOptions struct {
	Keys      Claimer
	Publisher broker.Publisher
	Logger    *zap.Logger
}

// FulfillmentExecutor requests fulfillment of a paid invoice at most once
type FulfillmentExecutor struct {
	FulfillmentOptions
}

func NewFulfillmentExecutor(option FulfillmentOptions) (*FulfillmentExecutor, error) {
	if option.Keys == nil {
		return nil, fmt.Errorf("nil Keys is invalid")
	}
	if option.Publisher == nil {
		return nil, fmt.Errorf("nil Publisher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &FulfillmentExecutor{
		FulfillmentOptions: option,
	}, nil
}

// Execute claims FULFILLMENT:<invoice> before publishing. A lost claim means
// another job already fulfilled the invoice and completes without acting.
// The key is only claimed once the publisher reports ready, so a broker outage
// retries the job instead of consuming the invoice's single attempt.
func (e *FulfillmentExecutor) Execute(ctx context.Context, job *Job) error {
	var payload FulfillmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return extErrors.Wrap(err, "Cannot decode fulfillment payload")
	}
	if len(payload.InvoiceID) == 0 {
		return extErrors.New("Fulfillment payload has no invoice")
	}

	logger := e.Logger.With(
		zap.String("StripeInvoiceID", payload.InvoiceID),
		zap.Uint("SubscriptionID", payload.SubscriptionID),
	)

	if err := e.Publisher.Ready(ctx); err != nil {
		return extErrors.Wrap(err, "Fulfillment publisher is not ready")
	}

	won, err := e.Keys.Claim(ctx, broker.FulfillmentKey(payload.InvoiceID), FulfillmentScope)
	if err != nil {
		return err
	}
	if !won {
		logger.Info("Fulfillment already done for invoice")
		return nil
	}

	if err := e.Publisher.PublishFulfillment(ctx, &broker.Fulfillment{
		CustomerID:           payload.CustomerID,
		SubscriptionID:       payload.SubscriptionID,
		StripeSubscriptionID: payload.StripeSubscriptionID,
		InvoiceID:            payload.InvoiceID,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot publish fulfillment request")
	}
	logger.Info("Fulfilled subscription for invoice")
	return nil
}
