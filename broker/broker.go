package broker

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fulfillment asks downstream provisioning to grant what a paid invoice bought
type Fulfillment struct {
	CustomerID           uint
	SubscriptionID       uint
	StripeSubscriptionID string
	InvoiceID            string
}

// FulfillmentKey is the stable identity of the fulfillment of one invoice
func FulfillmentKey(invoiceID string) string {
	return "FULFILLMENT:" + invoiceID
}

// Publisher defines the interface for sending fulfillment requests
type Publisher interface {
	// Ready reports whether a publish can be attempted right now
	Ready(ctx context.Context) error
	PublishFulfillment(ctx context.Context, f *Fulfillment) error
}

// EncodeFulfillment serializes f as a protobuf Struct
func EncodeFulfillment(f *Fulfillment) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"customerId":           f.CustomerID,
		"subscriptionId":       f.SubscriptionID,
		"stripeSubscriptionId": f.StripeSubscriptionID,
		"invoiceId":            f.InvoiceID,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot build fulfillment message")
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	return b, nil
}

// DecodeFulfillment is the inverse of EncodeFulfillment
func DecodeFulfillment(b []byte) (*Fulfillment, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode fulfillment message")
	}
	fields := s.GetFields()
	return &Fulfillment{
		CustomerID:           uint(fields["customerId"].GetNumberValue()),
		SubscriptionID:       uint(fields["subscriptionId"].GetNumberValue()),
		StripeSubscriptionID: fields["stripeSubscriptionId"].GetStringValue(),
		InvoiceID:            fields["invoiceId"].GetStringValue(),
	}, nil
}

var _ Publisher = &LogPublisher{}

// LogPublisher records fulfillment requests in the log. Used when no message broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) (*LogPublisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &LogPublisher{
		logger: logger,
	}, nil
}

func (l *LogPublisher) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (l *LogPublisher) PublishFulfillment(ctx context.Context, f *Fulfillment) error {
	l.logger.Info("Fulfillment requested",
		zap.Uint("CustomerID", f.CustomerID),
		zap.Uint("SubscriptionID", f.SubscriptionID),
		zap.String("StripeSubscriptionID", f.StripeSubscriptionID),
		zap.String("StripeInvoiceID", f.InvoiceID),
	)
	return nil
}
