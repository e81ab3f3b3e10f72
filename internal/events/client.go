// Package events carries analyze requests and week-analyzed events over RabbitMQ.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// ErrDeliveriesClosed is returned when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// channel is the subset of *amqp091.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Close() error
}

// AnalyzeHandler processes one analyze request.
type AnalyzeHandler func(ctx context.Context, req *AnalyzeRequest) error

// Client publishes and consumes on a topic exchange.
type Client struct {
	conn         *amqp091.Connection
	channel      channel
	exchangeName string
	queueName    string
}

// NewClient dials url and declares the exchange and the analyze queue.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      ch,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,           // queue name
		RoutingAnalyzeRequest, // routing key
		c.exchangeName,        // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (c *Client) publish(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishWeekAnalyzed announces a finished run.
func (c *Client) PublishWeekAnalyzed(ctx context.Context, result *domain.AnalysisResult) error {
	body, err := NewWeekAnalyzedEvent(result).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.publish(ctx, RoutingWeekAnalyzed, body); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("calendar_week", result.Week.String()).
		Str("exchange", c.exchangeName).
		Msg("Published week analyzed event")
	return nil
}

// PublishAnalyzeRequest queues an analysis of week for a worker.
func (c *Client) PublishAnalyzeRequest(ctx context.Context, week domain.WeekID, force bool) error {
	body, err := NewAnalyzeRequest(week, force).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := c.publish(ctx, RoutingAnalyzeRequest, body); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("calendar_week", week.String()).
		Bool("force", force).
		Msg("Published analyze request")
	return nil
}

// ConsumeAnalyzeRequests handles requests one at a time until ctx is done.
func (c *Client) ConsumeAnalyzeRequests(ctx context.Context, handler AnalyzeHandler) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("queue", c.queueName).Msg("Started consuming analyze requests")

	for {
		select {
		case <-ctx.Done():
			log.Info().Err(ctx.Err()).Msg("Stopping message consumption")
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, delivery, handler)
		}
	}
}

// handle acks on success, drops malformed messages, and requeues a failed request once.
func (c *Client) handle(ctx context.Context, delivery amqp091.Delivery, handler AnalyzeHandler) {
	log := logger.FromContext(ctx)

	req, err := AnalyzeRequestFromJSON(delivery.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode analyze request")
		_ = delivery.Nack(false, false)
		return
	}

	log = log.With().Str("calendar_week", req.CalendarWeek).Logger()
	log.Info().Bool("force", req.Force).Msg("Processing analyze request")

	if err := handler(logger.WithContext(ctx, log), req); err != nil {
		requeue := !delivery.Redelivered
		log.Error().Err(err).Bool("requeue", requeue).Msg("Failed to handle analyze request")
		_ = delivery.Nack(false, requeue)
		return
	}

	_ = delivery.Ack(false)
	log.Info().Msg("Successfully processed analyze request")
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
