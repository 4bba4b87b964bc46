package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TriggerHandler processes raw trigger payloads read off the stream.
type TriggerHandler interface {
	Handle(ctx context.Context, data []byte) error
}

// Consumer reads the digest trigger stream through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	stream   string
	handler  TriggerHandler
	log      zerolog.Logger

	// Pending 메시지 재처리 설정
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration // 이 시간 이상 pending이면 재처리
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Stream   string
	Handler  TriggerHandler
	Logger   zerolog.Logger

	// Optional: Pending 설정 (기본값 사용 가능)
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	pendingCheckInterval := cfg.PendingCheckInterval
	if pendingCheckInterval == 0 {
		pendingCheckInterval = 30 * time.Second
	}

	pendingIdleTime := cfg.PendingIdleTime
	if pendingIdleTime == 0 {
		pendingIdleTime = 2 * time.Minute
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	stream := cfg.Stream
	if stream == "" {
		stream = StreamTriggers
	}

	return &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		stream:               stream,
		handler:              cfg.Handler,
		log:                  cfg.Logger,
		pendingCheckInterval: pendingCheckInterval,
		pendingIdleTime:      pendingIdleTime,
		maxRetries:           maxRetries,
	}
}

// Run starts consuming trigger messages. It blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Str("stream", c.stream).
		Msg("starting trigger consumer")

	c.createConsumerGroup(ctx)

	// Pending 메시지 재처리 고루틴 시작
	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if err == redis.Nil {
				continue // No messages
			}
			c.log.Error().Err(err).Msg("error reading trigger stream")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				if err := c.processMessage(ctx, msg); err != nil {
					c.log.Error().
						Err(err).
						Str("id", msg.ID).
						Msg("error processing trigger")
					continue
				}

				if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					c.log.Error().
						Err(err).
						Str("id", msg.ID).
						Msg("error acknowledging trigger")
				}
			}
		}
	}
}

// Pending reports how many triggers are delivered but not yet acknowledged.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return info.Count, nil
}

// processPendingMessages periodically reclaims triggers stuck on a dead consumer.
func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

// claimAndProcessPending claims stuck pending triggers and reprocesses them.
func (c *Consumer) claimAndProcessPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Error().Err(err).Msg("error getting pending triggers")
		}
		return
	}

	for _, p := range pending {
		if p.Idle < c.pendingIdleTime {
			continue
		}

		if int(p.RetryCount) >= c.maxRetries {
			c.log.Warn().
				Str("id", p.ID).
				Int64("retries", p.RetryCount).
				Msg("trigger exceeded max retries, moving to DLQ")

			if err := c.moveToDeadLetterQueue(ctx, p.ID); err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error moving trigger to DLQ")
			}

			// Acknowledge to remove from pending
			c.client.XAck(ctx, c.stream, c.group, p.ID)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming trigger")
			continue
		}

		for _, msg := range claimed {
			if err := c.processMessage(ctx, msg); err != nil {
				c.log.Error().
					Err(err).
					Str("id", msg.ID).
					Msg("error reprocessing pending trigger")
				continue
			}

			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.log.Error().Err(err).Str("id", msg.ID).Msg("error acknowledging reprocessed trigger")
			}
		}
	}
}

// createConsumerGroup creates the consumer group if it doesn't exist.
func (c *Consumer) createConsumerGroup(ctx context.Context) {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.log.Warn().Err(err).Msg("error creating consumer group")
	}
}

// readMessages reads new triggers using XREADGROUP.
func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// processMessage processes a single trigger message.
func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	data, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("invalid message format: missing data field")
	}

	dataStr, ok := data.(string)
	if !ok {
		return fmt.Errorf("invalid message format: data is not a string")
	}

	return c.handler.Handle(ctx, []byte(dataStr))
}

// moveToDeadLetterQueue copies a poisoned trigger to dlq:<stream> so it can be
// inspected and replayed by hand.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, msgID string) error {
	messages, err := c.client.XRange(ctx, c.stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to read trigger for DLQ: %w", err)
	}

	if len(messages) == 0 {
		return fmt.Errorf("trigger %s not found in stream %s", msgID, c.stream)
	}

	msg := messages[0]
	dlqStream := "dlq:" + c.stream

	dlqData := map[string]interface{}{
		"original_stream": c.stream,
		"original_id":     msgID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}

	for k, v := range msg.Values {
		dlqData["original_"+k] = v
	}

	_, err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: dlqData,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add trigger to DLQ: %w", err)
	}

	c.log.Info().
		Str("dlq_stream", dlqStream).
		Str("original_id", msgID).
		Msg("trigger moved to DLQ")

	return nil
}
