/*
Package events announces newly opened budget cycles on RabbitMQ.

PURPOSE:
  Implements budget.EventPublisher. The engine calls PublishCycleOpened
  after a budget is committed; downstream consumers (notifications, the
  mobile sync worker) read from the bound queue.

TOPOLOGY:
  exchange:    durable direct exchange (default "budgets")
  routing key: default "budget.cycle_opened"
  queue:       durable, named after the routing key, bound on setup

FAILURE HANDLING:
  Messages are persistent. A publish that fails on a dead connection
  redials once and retries. After a failed redial, publishes fail fast
  with ErrBrokerUnavailable until a backoff window (1s, 2s, 4s... capped
  at 30s) has passed. Nothing sleeps while holding the publisher lock.
  Errors are returned to the engine, which logs them and keeps going:
  the budget row is already committed.

SEE ALSO:
  - budget/store.go: EventPublisher, CycleOpenedEvent
  - message.go: Wire format
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

const (
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrBrokerUnavailable is returned while redials are backing off.
var ErrBrokerUnavailable = errors.New("amqp broker unavailable")

// Config selects the broker and topology.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher is a budget.EventPublisher backed by an AMQP channel.
type Publisher struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	dial        func() error
	now         func() time.Time
	failedDials int
	nextDial    time.Time
}

// NewPublisher dials the broker and declares the topology.
func NewPublisher(cfg Config, log *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	if log == nil {
		log = logging.Nop()
	}

	p := &Publisher{
		cfg: cfg,
		log: log.WithComponent(logging.ComponentAMQP),
		now: time.Now,
	}
	p.dial = p.connect
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp091.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	p.conn = conn
	p.channel = channel
	if err := p.setup(); err != nil {
		p.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (p *Publisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.cfg.Exchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = p.channel.QueueDeclare(
		p.cfg.RoutingKey, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = p.channel.QueueBind(
		p.cfg.RoutingKey, // queue name
		p.cfg.RoutingKey, // routing key
		p.cfg.Exchange,   // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishCycleOpened publishes one persistent message per created budget.
func (p *Publisher) PublishCycleOpened(ctx context.Context, e budget.CycleOpenedEvent) error {
	body, err := NewCycleOpenedMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, body)
	if err != nil && isConnectionError(err) {
		p.log.Warn("publish failed on closed connection, reconnecting",
			logging.FieldBudgetID, e.BudgetID,
			logging.FieldError, err,
		)
		p.closeLocked()
		if cerr := p.reconnectLocked(); cerr != nil {
			return fmt.Errorf("publish message: %w", errors.Join(err, cerr))
		}
		err = p.publishLocked(ctx, body)
	}
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.log.DebugContext(ctx, "published cycle opened",
		logging.FieldBudgetID, e.BudgetID,
		logging.FieldCycle, e.Cycle,
		"exchange", p.cfg.Exchange,
	)
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return amqp091.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(
		ctx,
		p.cfg.Exchange,   // exchange
		p.cfg.RoutingKey, // routing key
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Type:         TypeCycleOpened,
			Body:         body,
		},
	)
}

// reconnectLocked dials at most once. A failed dial pushes the next
// attempt out by exponentialBackoff; calls inside that window fail fast.
func (p *Publisher) reconnectLocked() error {
	now := p.now()
	if now.Before(p.nextDial) {
		return fmt.Errorf("%w: next redial in %s", ErrBrokerUnavailable, p.nextDial.Sub(now).Round(time.Millisecond))
	}
	if err := p.dial(); err != nil {
		p.nextDial = now.Add(exponentialBackoff(p.failedDials))
		p.failedDials++
		return err
	}
	p.log.Info("reconnected to broker", logging.FieldAttempt, p.failedDials+1)
	p.failedDials = 0
	p.nextDial = time.Time{}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishCycleOpened(context.Context, budget.CycleOpenedEvent) error { return nil }

var (
	_ budget.EventPublisher = (*Publisher)(nil)
	_ budget.EventPublisher = Nop{}
)
