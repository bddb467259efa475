package fanout

import (
	"context"
	"sync"

	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher forwards events to a direct exchange keyed by business
// account, for consumers outside the api process.
type AMQPPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, exchange string) *AMQPPublisher {
	return &AMQPPublisher{url: url, exchange: exchange}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) ensure() error {
	if p.url == "" {
		return errors.New("amqp url not configured")
	}
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "declare exchange")
	}
	p.conn = conn
	p.ch = ch
	logger.Info("fanout: amqp publisher connected", "exchange", p.exchange)
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, accountID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		accountID,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}
