package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is the queue payload handed to the transform cluster.
type Message struct {
	JobID      string          `json:"jobId"`
	JobPayload json.RawMessage `json:"jobPayload"`
}

// Publisher delivers messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Ready() error
	Close() error
}

// Header keys carrying the ordering group and deduplication id.
const (
	HeaderGroupID         = "x-group-id"
	HeaderDeduplicationID = "x-deduplication-id"
)

// AMQPPublisher publishes on a RabbitMQ direct exchange. Each queue is bound
// with its own name as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials url and declares the exchange plus one durable queue
// per name.
func NewAMQPPublisher(url, exchange string, queues ...string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
	}
	for _, queue := range queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %q: %w", queue, err)
		}
		if exchange == "" {
			continue
		}
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("bind queue %q: %w", queue, err)
		}
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends msg as a persistent JSON message. The job id doubles as the
// message id so brokers and consumers can drop redelivered duplicates.
func (p *AMQPPublisher) Publish(ctx context.Context, queue string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.channel.IsClosed() {
		return errors.New("amqp channel closed")
	}
	return p.channel.PublishWithContext(ctx, p.exchange, queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.JobID,
		Headers: amqp.Table{
			HeaderGroupID:         msg.JobID,
			HeaderDeduplicationID: msg.JobID,
		},
		Body: body,
	})
}

// Ready reports whether the broker connection is still open.
func (p *AMQPPublisher) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	ch, conn := p.channel, p.conn
	p.channel, p.conn = nil, nil
	if err := ch.Close(); err != nil {
		_ = conn.Close()
		return err
	}
	return conn.Close()
}
