package broker

import (
	"context"
	"sync"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Publisher = &AMQPBroker{}

const (
	fulfillmentExchange   string = "subscription_fulfillment"
	fulfillmentRoutingKey        = "fulfill"
	fulfillmentType              = "fulfillment"
	protobufContentType          = "application/x-protobuf"
)

// AMQPBroker publishes fulfillment requests to RabbitMQ. A closed channel or
// connection is reopened on the next Ready or PublishFulfillment.
type AMQPBroker struct {
	uri string

	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	closed     chan *amqp.Error
}

// NewAMQPBroker dials amqpURI and declares the fulfillment exchange
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	a := &AMQPBroker{
		uri: amqpURI,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

// open (re)establishes the channel, redialing when the connection is gone. Callers hold mu.
func (a *AMQPBroker) open() error {
	if a.connection == nil || a.connection.IsClosed() {
		conn, err := amqp.Dial(a.uri)
		if err != nil {
			return extErrors.Wrap(err, "Cannot connect to Message Broker")
		}
		a.connection = conn
	}
	ch, err := a.connection.Channel()
	if err != nil {
		a.connection.Close()
		a.connection = nil
		return extErrors.Wrap(err, "Cannot create broker channel")
	}
	// durable direct exchange, downstream provisioning binds its own queue
	if err := ch.ExchangeDeclare(fulfillmentExchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		return extErrors.Wrap(err, "Cannot declare exchange for fulfillment requests")
	}
	a.channel = ch
	a.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

// ensure reopens the channel if the broker reported it closed. Callers hold mu.
func (a *AMQPBroker) ensure() error {
	if a.channel != nil && !channelClosed(a.closed) {
		return nil
	}
	a.channel = nil
	return a.open()
}

// channelClosed reports whether a NotifyClose channel has fired
func channelClosed(closed <-chan *amqp.Error) bool {
	if closed == nil {
		return true
	}
	select {
	case <-closed:
		return true
	default:
		return false
	}
}

// Ready reopens the channel if needed and reports whether a publish can be attempted
func (a *AMQPBroker) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensure()
}

// Close releases the channel and the connection
func (a *AMQPBroker) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		a.channel.Close()
	}
	if a.connection != nil {
		a.connection.Close()
	}
}

// PublishFulfillment sends a persistent protobuf message. The message id is the
// invoice's fulfillment key so consumers can drop redeliveries.
func (a *AMQPBroker) PublishFulfillment(ctx context.Context, f *Fulfillment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := fulfillmentMessage(f, time.Now())
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensure(); err != nil {
		return err
	}
	if err := a.channel.Publish(fulfillmentExchange, fulfillmentRoutingKey, false, false, msg); err != nil {
		// the next attempt starts from a fresh channel
		a.channel = nil
		return extErrors.Wrap(err, "Cannot publish fulfillment request")
	}
	return nil
}

func fulfillmentMessage(f *Fulfillment, now time.Time) (amqp.Publishing, error) {
	body, err := EncodeFulfillment(f)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  protobufContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    FulfillmentKey(f.InvoiceID),
		Type:         fulfillmentType,
		Timestamp:    now.UTC(),
		Body:         body,
	}, nil
}
