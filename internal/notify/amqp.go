package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regenmark/internal/resilience"
)

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the queue declared.
type dialFunc func() (publisher, func() error, error)

// AMQPConfig configures an AMQPNotifier.
type AMQPConfig struct {
	URL              string
	Queue            string
	RetryAttempts    int
	BreakerThreshold int
	BreakerReset     time.Duration
}

// AMQPNotifier publishes notifications as persistent JSON messages to a
// durable RabbitMQ queue. The connection is opened lazily and reopened after
// the broker closes it.
type AMQPNotifier struct {
	queue   string
	dial    dialFunc
	policy  resilience.Policy
	breaker *resilience.Breaker

	mu        sync.Mutex
	ch        publisher
	closeConn func() error
}

// NewAMQP creates a notifier for cfg. No connection is made until the first
// notification.
func NewAMQP(cfg AMQPConfig) *AMQPNotifier {
	return newAMQP(cfg, func() (publisher, func() error, error) {
		return dialQueue(cfg.URL, cfg.Queue)
	})
}

func newAMQP(cfg AMQPConfig, dial dialFunc) *AMQPNotifier {
	policy := resilience.PolicyWithAttempts(cfg.RetryAttempts)
	policy.OnRetry = resilience.LogRetry("notify", "amqp_publish")
	return &AMQPNotifier{
		queue:  cfg.Queue,
		dial:   dial,
		policy: policy,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Threshold: cfg.BreakerThreshold,
			Reset:     cfg.BreakerReset,
			OnStateChange: func(from, to resilience.BreakerState) {
				zap.L().Warn("notify: amqp breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func dialQueue(url, queue string) (publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, resilience.Transient(eris.Wrap(err, "notify: amqp dial"))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, nil, eris.Wrap(err, "notify: amqp channel")
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, nil, eris.Wrapf(err, "notify: declare queue %s", queue)
	}
	return ch, conn.Close, nil
}

// Notify publishes n, retrying transient failures. While the breaker is open
// it fails fast with resilience.ErrBreakerOpen.
func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "notify: marshal notification")
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(n.Kind),
		Timestamp:    n.OccurredAt,
		Body:         body,
	}

	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, a.policy, func(ctx context.Context) error {
			return a.publish(ctx, msg)
		})
	})
}

func (a *AMQPNotifier) publish(ctx context.Context, msg amqp.Publishing) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(pubCtx, "", a.queue, false, false, msg)
	if err != nil && resilience.IsTransient(err) {
		// Drop the channel so the next attempt reconnects.
		a.reset()
	}
	return eris.Wrapf(err, "notify: publish to %s", a.queue)
}

func (a *AMQPNotifier) channel() (publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		return a.ch, nil
	}
	ch, closeConn, err := a.dial()
	if err != nil {
		return nil, err
	}
	a.ch, a.closeConn = ch, closeConn
	return ch, nil
}

func (a *AMQPNotifier) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
}

func (a *AMQPNotifier) closeLocked() error {
	var err error
	if a.ch != nil {
		err = a.ch.Close()
	}
	if a.closeConn != nil {
		if cerr := a.closeConn(); err == nil {
			err = cerr
		}
	}
	a.ch, a.closeConn = nil, nil
	return err
}

// Close releases the broker connection.
func (a *AMQPNotifier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return eris.Wrap(a.closeLocked(), "notify: close amqp")
}
