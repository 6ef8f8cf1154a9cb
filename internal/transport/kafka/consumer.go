// Package kafka adapts inbound fulfillment messages from external
// collaborators (payment, shipping, support tooling) to engine lifecycle
// events. Delivery is at-least-once, so every message is deduplicated by
// its event id before the engine sees it.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/service"
	"github.com/plt-repo/order-inventory-platform/pkg/config"
	"github.com/plt-repo/order-inventory-platform/pkg/kafka"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	outboxUtils "github.com/plt-repo/order-inventory-platform/pkg/outbox/utils"
	"go.uber.org/zap"
)

type Consumer struct {
	engine service.Engine
	pool   *pgxpool.Pool
	cfg    config.Kafka
	logger *zap.Logger
}

func NewConsumer(engine service.Engine, pool *pgxpool.Pool, cfg config.Kafka, logger *zap.Logger) *Consumer {
	return &Consumer{
		engine: engine,
		pool:   pool,
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	consumerGroup := kafka.NewConsumerGroup(
		c.cfg.Brokers,
		c.cfg.ConsumerGroup,
		[]string{c.cfg.InboundTopic},
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

type fulfillmentMessage struct {
	EventID string `json:"event_id"`
	Event   string `json:"event"`
	Payload struct {
		OrderID string `json:"order_id"`
	} `json:"payload"`
}

var inboundEvents = map[string]domain.OrderEvent{
	"payment.succeeded":            domain.EventPaymentConfirmed,
	"payment.failed":               domain.EventPaymentFailed,
	"shipment.confirmed":           domain.EventShipmentConfirmed,
	"order.cancellation_requested": domain.EventCancellationRequested,
	"order.admin_cancel":           domain.EventAdminOverrideCancel,
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var wrapper fulfillmentMessage
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling message", zap.Error(err))
		// Unparseable payloads never become parseable; do not redeliver.
		return nil
	}

	orderEvent, ok := inboundEvents[wrapper.Event]
	if !ok {
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
		return nil
	}

	if wrapper.EventID == "" || wrapper.Payload.OrderID == "" {
		mylogger.Warn(
			ctx,
			c.logger,
			"Dropping fulfillment message with missing ids",
			zap.String("event_type", wrapper.Event),
		)
		return nil
	}

	return outboxUtils.ProcessWithDeduplication(ctx, c.pool, c.logger, wrapper.EventID, func(ctx context.Context) error {
		_, err := c.engine.AdvanceOrder(ctx, wrapper.Payload.OrderID, orderEvent, "")
		if err == nil {
			return nil
		}

		// The order already moved on (a retry raced the original, or the
		// reaper got there first). The dedup record still commits so the
		// message is not redelivered forever.
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrVersionConflict) {
			mylogger.Warn(
				ctx,
				c.logger,
				"Fulfillment event no longer applicable",
				zap.String("order_id", wrapper.Payload.OrderID),
				zap.String("event", string(orderEvent)),
				zap.Error(err),
			)
			return nil
		}

		if errors.Is(err, domain.ErrOrderNotFound) {
			mylogger.Warn(
				ctx,
				c.logger,
				"Fulfillment event for unknown order",
				zap.String("order_id", wrapper.Payload.OrderID),
			)
			return nil
		}

		return fmt.Errorf("failed to advance order %s: %w", wrapper.Payload.OrderID, err)
	})
}
