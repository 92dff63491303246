// Package bus consumes the upstream event stream from Redis Pub/Sub.
//
// One goroutine drains the subscription so events enter the router in arrival
// order. Malformed messages are dropped with a logged reason; the consumer
// never acknowledges or negotiates delivery with the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/platform/retry"
)

const reconnectPause = time.Second

// Publisher is the facade surface the consumer drives.
type Publisher interface {
	Publish(event domain.Event) (int, error)
}

// wireEvent is the upstream message shape.
type wireEvent struct {
	Symbol     string          `json:"symbol"`
	Category   string          `json:"category"`
	Tier       string          `json:"tier"`
	Confidence float64         `json:"confidence"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Consumer subscribes to the event channel and feeds the facade.
type Consumer struct {
	rdb       *goredis.Client
	channel   string
	publisher Publisher

	// breaker gates reconnection attempts so a flapping broker cannot turn
	// the consume loop into a hot spin.
	breaker circuitbreaker.CircuitBreaker[any]

	seq atomic.Uint64
}

// NewConsumer creates a consumer for the given Pub/Sub channel.
func NewConsumer(rdb *goredis.Client, channel string, publisher Publisher) *Consumer {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(3).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "bus",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("bus", e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("bus").Set(stateToFloat(e.NewState))
		}).
		Build()

	return &Consumer{
		rdb:       rdb,
		channel:   channel,
		publisher: publisher,
		breaker:   cb,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts:      5,
		InitialBackoff:   500 * time.Millisecond,
		RateLimitBackoff: 5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Bus connection attempt failed", "attempt", attempt, "error", err, "backoff", backoff)
		},
	}
	classify := func(error) retry.Action { return retry.Retry }

	if err := retry.DoVoid(ctx, policy, classify, func() error {
		return c.rdb.Ping(ctx).Err()
	}); err != nil {
		return fmt.Errorf("bus: initial connect: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !c.breaker.TryAcquirePermit() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectPause):
			}
			continue
		}

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.breaker.RecordFailure()
			slog.Error("Bus subscription lost, reconnecting", "error", err)
		}
		metrics.BusReconnectionsTotal.Inc()
	}
}

// consume holds one subscription open and processes messages until it fails
// or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer func() { _ = sub.Close() }()

	// Confirm the subscription before reporting active.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %q: %w", c.channel, err)
	}
	// The subscription is confirmed live, so the breaker can close again.
	c.breaker.RecordSuccess()
	metrics.BusSubscriptionActive.Set(1)
	defer metrics.BusSubscriptionActive.Set(0)

	slog.Info("Bus subscription active", "channel", c.channel)

	msgCh := sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			c.handle([]byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(payload []byte) {
	start := time.Now()

	event, err := c.Parse(payload)
	if err != nil {
		metrics.BusEventsTotal.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed bus message", "error", err)
		return
	}

	count, err := c.publisher.Publish(event)
	if err != nil {
		metrics.BusEventsTotal.WithLabelValues("dropped").Inc()
		slog.Error("Publish failed", "sequence", event.Sequence, "error", err)
		return
	}

	metrics.BusEventsTotal.WithLabelValues("published").Inc()
	metrics.BusPublishLatency.Observe(time.Since(start).Seconds())
	slog.Debug("Event published", "sequence", event.Sequence, "symbol", event.Symbol, "deliveries", count)
}

// Parse decodes and validates a wire message, normalizing its matchable
// fields the same way criteria are normalized and assigning the next
// sequence number.
func (c *Consumer) Parse(payload []byte) (domain.Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}

	symbol := strings.ToUpper(strings.TrimSpace(wire.Symbol))
	if symbol == "" {
		return domain.Event{}, fmt.Errorf("event missing symbol")
	}
	category := strings.ToLower(strings.TrimSpace(wire.Category))
	if category == "" {
		return domain.Event{}, fmt.Errorf("event missing category")
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return domain.Event{}, fmt.Errorf("confidence %v outside [0,1]", wire.Confidence)
	}

	return domain.Event{
		Symbol:     symbol,
		Category:   category,
		Tier:       strings.ToLower(strings.TrimSpace(wire.Tier)),
		Confidence: wire.Confidence,
		Body:       wire.Body,
		Sequence:   c.seq.Add(1),
	}, nil
}
