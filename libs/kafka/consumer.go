package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
	retryWindow  time.Duration
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: 3,
		retryWindow: 10 * time.Minute,
	}, nil
}

// WithDLQ routes messages whose handler returns a DLQError to the dead-letter
// topic once retry attempts are exhausted.
func (c *Consumer) WithDLQ(publisher Publisher, topic string, maxAttempts int, window time.Duration) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if window > 0 {
		c.retryWindow = window
	}
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, c.retryWindow),
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handler.HandleMessage(session.Context(), msg)
		if err == nil {
			h.retryTracker.clear(msg)
			session.MarkMessage(msg, "")
			continue
		}

		var dlqErr *DLQError
		if errors.As(err, &dlqErr) && h.dlqPublisher != nil && h.dlqTopic != "" {
			attempts := h.retryTracker.record(msg)
			if attempts >= h.retryTracker.maxAttempts {
				payload := BuildDLQPayload(msg, dlqErr, attempts)
				if _, _, pubErr := h.dlqPublisher.PublishJSON(session.Context(), h.dlqTopic, string(msg.Key), payload); pubErr != nil {
					h.logger.Error("dlq publish failed", "topic", h.dlqTopic, "error", pubErr)
					continue
				}
				h.retryTracker.clear(msg)
				session.MarkMessage(msg, "")
				continue
			}
			h.logger.Warn("kafka message handler error, will retry", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempts", attempts, "error", err)
			continue
		}

		h.logger.Error("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
	return nil
}

type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	attempts    map[string]retryState
}

type retryState struct {
	count int
	first time.Time
}

func newRetryTracker(maxAttempts int, window time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &retryTracker{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string]retryState),
	}
}

func retryKey(msg *sarama.ConsumerMessage) string {
	if msg == nil {
		return ""
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func (t *retryTracker) record(msg *sarama.ConsumerMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := retryKey(msg)
	now := time.Now()
	state, ok := t.attempts[key]
	if !ok || now.Sub(state.first) > t.window {
		state = retryState{first: now}
	}
	state.count++
	t.attempts[key] = state
	return state.count
}

func (t *retryTracker) clear(msg *sarama.ConsumerMessage) {
	t.mu.Lock()
	delete(t.attempts, retryKey(msg))
	t.mu.Unlock()
}
