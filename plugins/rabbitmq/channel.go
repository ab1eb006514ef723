package rabbitmq

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmation is the broker's answer to one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channel is the subset of *amqp.Channel the bus uses.
type channel interface {
	Confirm(noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// connection is the subset of *amqp.Connection the bus uses.
type connection interface {
	Channel() (channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (connection, error)

func dialAMQP(url string, cfg amqp.Config) (connection, error) {
	c, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{c}, nil
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return amqpChannel{ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

var errNoConfirmMode = errors.New("channel is not in confirm mode")

func (c amqpChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errNoConfirmMode
	}
	return dc, nil
}
