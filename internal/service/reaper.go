package service

import (
	"context"
	"errors"
	"time"

	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/repository"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const reaperBatchSize = 100

// Reaper cancels orders that sat in reserved past the hold TTL. It fires
// the ordinary payment_timeout transition for each one; there is no
// stock-return path outside the state machine.
type Reaper struct {
	engine   Engine
	orders   repository.OrderRepository
	logger   *zap.Logger
	tracer   trace.Tracer
	holdTTL  time.Duration
	interval time.Duration
}

func NewReaper(
	engine Engine,
	orders repository.OrderRepository,
	logger *zap.Logger,
	holdTTL, interval time.Duration,
) *Reaper {
	return &Reaper{
		engine:   engine,
		orders:   orders,
		logger:   logger,
		tracer:   otel.Tracer("hold_reaper"),
		holdTTL:  holdTTL,
		interval: interval,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	mylogger.Info(ctx, r.logger, "Starting hold reaper", zap.Duration("hold_ttl", r.holdTTL))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, r.logger, "Hold reaper stopping")
			return
		case <-ticker.C:
			if err := r.reapOnce(ctx); err != nil {
				mylogger.Error(ctx, r.logger, "Error reaping expired holds", zap.Error(err))
			}
		}
	}
}

func (r *Reaper) reapOnce(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "Reaper.reapOnce")
	defer span.End()

	cutoff := time.Now().Add(-r.holdTTL)

	ids, err := r.orders.ListStaleReserved(ctx, cutoff, reaperBatchSize)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("stale_count", len(ids)))

	for _, orderID := range ids {
		_, err := r.engine.AdvanceOrder(ctx, orderID, domain.EventPaymentTimeout, domain.OrderStatusReserved)
		if err != nil {
			// A concurrent payment or cancel beat us to the order; the
			// state machine already settled it.
			if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to time out reserved order",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
			continue
		}

		mylogger.Info(
			ctx,
			r.logger,
			"Timed out reserved order",
			zap.String("order_id", orderID),
		)
	}

	return nil
}
