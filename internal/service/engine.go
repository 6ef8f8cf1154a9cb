package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/idempotency"
	"github.com/plt-repo/order-inventory-platform/internal/lifecycle"
	"github.com/plt-repo/order-inventory-platform/internal/repository"
	"github.com/plt-repo/order-inventory-platform/internal/reservation"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	outboxDomain "github.com/plt-repo/order-inventory-platform/pkg/outbox/domain"
	"github.com/plt-repo/order-inventory-platform/pkg/outbox/worker"
	"github.com/plt-repo/order-inventory-platform/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const opPlaceOrder = "place_order"

type PlaceOrderRequest struct {
	IdempotencyKey string             `validate:"required"`
	Lines          []domain.OrderLine `validate:"required,min=1,dive"`
}

type PlaceOrderResult struct {
	OrderID   string
	Status    domain.OrderStatus
	Duplicate bool
}

type OrderStatusResult struct {
	OrderID string
	Status  domain.OrderStatus
	Lines   []domain.OrderLine
}

// Engine is the order-inventory core. Each operation runs inside a single
// transaction: idempotency claim, lifecycle transition, ledger movement
// and outbox record all commit or roll back together.
type Engine interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error)
	AdvanceOrder(ctx context.Context, orderID string, event domain.OrderEvent, expectedStatus domain.OrderStatus) (*OrderStatusResult, error)
	AddStock(ctx context.Context, sku string, quantity int64) (*domain.InventoryItem, error)
	GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error)
}

type engine struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	validate     *validator.Validate
	guard        *idempotency.Guard
	orders       repository.OrderRepository
	ledger       repository.LedgerStore
	reservations *reservation.Manager
	outboxRepo   worker.OutboxRepository
	eventsTopic  string
	tracer       trace.Tracer
}

func NewEngine(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	guard *idempotency.Guard,
	orders repository.OrderRepository,
	ledger repository.LedgerStore,
	reservations *reservation.Manager,
	outboxRepo worker.OutboxRepository,
	eventsTopic string,
) Engine {
	return &engine{
		pool:         pool,
		logger:       logger,
		validate:     validator.New(),
		guard:        guard,
		orders:       orders,
		ledger:       ledger,
		reservations: reservations,
		outboxRepo:   outboxRepo,
		eventsTopic:  eventsTopic,
		tracer:       otel.Tracer("inventory_engine"),
	}
}

func (e *engine) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceOrder")
	defer span.End()

	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid place order request: %v", utils.FormatValidationError(err))
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("invalid order line: sku %q quantity %d", line.SKU, line.Quantity)
		}
	}

	span.SetAttributes(
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.Int("lines_count", len(req.Lines)),
	)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer e.rollback(ctx, tx)

	result, err := e.guard.ExecuteOnce(ctx, tx, req.IdempotencyKey, opPlaceOrder, func(ctx context.Context) (*idempotency.Result, error) {
		return e.placeOrderLocked(ctx, tx, req)
	})
	if errors.Is(err, domain.ErrDuplicateRequest) {
		return &PlaceOrderResult{
			OrderID:   result.OrderID,
			Status:    result.Status,
			Duplicate: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, e.logger, "Failed to commit transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	placed := &PlaceOrderResult{OrderID: result.OrderID, Status: result.Status}

	// The cancelled order is durable at this point; insufficient stock is
	// still a failure the caller must surface, not retry.
	if result.Status == domain.OrderStatusCancelled {
		return placed, domain.ErrInsufficientStock
	}

	return placed, nil
}

func (e *engine) placeOrderLocked(ctx context.Context, tx pgx.Tx, req *PlaceOrderRequest) (*idempotency.Result, error) {
	order := &domain.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.OrderStatusPlaced,
		Lines:          domain.NormalizeLines(req.Lines),
	}

	if err := e.orders.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	res, err := e.reservations.Reserve(ctx, tx, order.ID, order.Lines)
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) {
			return nil, err
		}

		// reserve_failed: the order lands in cancelled with no stock held.
		transition, terr := lifecycle.Next(order.Status, domain.EventReserveFailed)
		if terr != nil {
			return nil, terr
		}

		if err := e.orders.ChangeStatusGuarded(ctx, tx, order.ID, order.Status, transition.To); err != nil {
			return nil, err
		}

		if err := e.recordOrderEvent(ctx, tx, order.ID, domain.EventTypeOrderPlaced, &domain.OrderPlacedEvent{
			OrderID:  order.ID,
			Status:   transition.To,
			Lines:    order.Lines,
			PlacedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}

		return &idempotency.Result{OrderID: order.ID, Status: transition.To}, nil
	}

	if err := e.orders.SetReservation(ctx, tx, order.ID, res.ID); err != nil {
		return nil, err
	}

	transition, err := lifecycle.Next(order.Status, domain.EventReserveRequested)
	if err != nil {
		return nil, err
	}

	if err := e.orders.ChangeStatusGuarded(ctx, tx, order.ID, order.Status, transition.To); err != nil {
		return nil, err
	}

	if err := e.recordOrderEvent(ctx, tx, order.ID, domain.EventTypeOrderPlaced, &domain.OrderPlacedEvent{
		OrderID:       order.ID,
		ReservationID: res.ID,
		Status:        transition.To,
		Lines:         order.Lines,
		PlacedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := e.recordStockEvent(ctx, tx, domain.EventTypeStockReserved, res); err != nil {
		return nil, err
	}

	return &idempotency.Result{OrderID: order.ID, Status: transition.To}, nil
}

func (e *engine) AdvanceOrder(
	ctx context.Context,
	orderID string,
	event domain.OrderEvent,
	expectedStatus domain.OrderStatus,
) (*OrderStatusResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AdvanceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("event", string(event)),
		attribute.String("expected_status", string(expectedStatus)),
	)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer e.rollback(ctx, tx)

	order, err := e.orders.GetOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if expectedStatus != "" && order.Status != expectedStatus {
		return nil, fmt.Errorf("order %s is %s, expected %s: %w",
			orderID, order.Status, expectedStatus, domain.ErrVersionConflict)
	}

	transition, err := lifecycle.Next(order.Status, event)
	if err != nil {
		mylogger.Warn(
			ctx,
			e.logger,
			"Rejected order transition",
			zap.String("order_id", orderID),
			zap.String("status", string(order.Status)),
			zap.String("event", string(event)),
		)

		return nil, fmt.Errorf("event %s from status %s: %w", event, order.Status, err)
	}

	if err := e.orders.ChangeStatusGuarded(ctx, tx, orderID, order.Status, transition.To); err != nil {
		return nil, err
	}

	if err := e.applyEffect(ctx, tx, order, transition.Effect); err != nil {
		return nil, err
	}

	if err := e.recordOrderEvent(ctx, tx, orderID, domain.EventTypeOrderAdvanced, &domain.OrderAdvancedEvent{
		OrderID:    orderID,
		Event:      event,
		FromStatus: order.Status,
		ToStatus:   transition.To,
		AdvancedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, e.logger, "Failed to commit transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		e.logger,
		"Order advanced",
		zap.String("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(transition.To)),
		zap.String("event", string(event)),
	)

	return &OrderStatusResult{OrderID: orderID, Status: transition.To, Lines: order.Lines}, nil
}

func (e *engine) applyEffect(ctx context.Context, tx pgx.Tx, order *domain.Order, effect lifecycle.SideEffect) error {
	if effect == lifecycle.EffectNone {
		return nil
	}

	if effect == lifecycle.EffectReserve {
		res, err := e.reservations.Reserve(ctx, tx, order.ID, order.Lines)
		if err != nil {
			return err
		}

		if err := e.orders.SetReservation(ctx, tx, order.ID, res.ID); err != nil {
			return err
		}

		return e.recordStockEvent(ctx, tx, domain.EventTypeStockReserved, res)
	}

	if order.ReservationID == nil {
		if effect == lifecycle.EffectReleaseIfOpen {
			// Admin cancel of an order that never held stock.
			return nil
		}
		return fmt.Errorf("order %s holds no reservation: %w", order.ID, domain.ErrReservationNotFound)
	}
	reservationID := *order.ReservationID

	switch effect {
	case lifecycle.EffectCommit:
		res, err := e.reservations.Commit(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		return e.recordStockEvent(ctx, tx, domain.EventTypeStockCommitted, res)

	case lifecycle.EffectRelease:
		res, err := e.reservations.Release(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		return e.recordStockEvent(ctx, tx, domain.EventTypeStockReleased, res)

	case lifecycle.EffectConsume:
		res, err := e.reservations.Consume(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		return e.recordStockEvent(ctx, tx, domain.EventTypeStockConsumed, res)

	case lifecycle.EffectCompensate:
		res, err := e.reservations.Compensate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		return e.recordStockEvent(ctx, tx, domain.EventTypeStockReturned, res)

	case lifecycle.EffectReleaseIfOpen:
		return e.releaseIfOpen(ctx, tx, reservationID)
	}

	return fmt.Errorf("unknown side effect %d", effect)
}

func (e *engine) releaseIfOpen(ctx context.Context, tx pgx.Tx, reservationID string) error {
	res, err := e.reservations.Release(ctx, tx, reservationID)
	if err == nil {
		if res.Status == domain.ReservationStatusReleased {
			return e.recordStockEvent(ctx, tx, domain.EventTypeStockReleased, res)
		}
		return nil
	}

	if !errors.Is(err, domain.ErrAlreadyResolved) {
		return err
	}

	// Already committed: the admin cancel becomes a compensating return.
	res, err = e.reservations.Compensate(ctx, tx, reservationID)
	if err != nil {
		return err
	}

	return e.recordStockEvent(ctx, tx, domain.EventTypeStockReturned, res)
}

func (e *engine) AddStock(ctx context.Context, sku string, quantity int64) (*domain.InventoryItem, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AddStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("sku", sku),
		attribute.Int64("quantity", quantity),
	)

	if sku == "" || quantity <= 0 {
		return nil, fmt.Errorf("invalid stock intake: sku %q quantity %d", sku, quantity)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer e.rollback(ctx, tx)

	item, err := e.ledger.AddStock(ctx, tx, sku, quantity)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(&domain.StockIntakeEvent{
		SKU:       sku,
		Quantity:  quantity,
		Available: item.Available,
		AddedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intake event: %w", err)
	}

	if err := e.outboxRepo.SaveOutboxEvent(ctx, tx, &outboxDomain.OutboxEvent{
		AggregateType: "InventoryItem",
		AggregateID:   sku,
		EventType:     domain.EventTypeStockIntake,
		Payload:       payload,
		Topic:         e.eventsTopic,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, e.logger, "Failed to commit transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return item, nil
}

func (e *engine) GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	return e.ledger.Get(ctx, sku)
}

func (e *engine) recordOrderEvent(ctx context.Context, tx pgx.Tx, orderID, eventType string, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	return e.outboxRepo.SaveOutboxEvent(ctx, tx, &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payloadBytes,
		Topic:         e.eventsTopic,
	})
}

func (e *engine) recordStockEvent(ctx context.Context, tx pgx.Tx, eventType string, res *domain.Reservation) error {
	payloadBytes, err := json.Marshal(&domain.StockMovedEvent{
		ReservationID: res.ID,
		OrderID:       res.OrderID,
		Lines:         res.Lines,
		MovedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	return e.outboxRepo.SaveOutboxEvent(ctx, tx, &outboxDomain.OutboxEvent{
		AggregateType: "Reservation",
		AggregateID:   res.ID,
		EventType:     eventType,
		Payload:       payloadBytes,
		Topic:         e.eventsTopic,
	})
}

func (e *engine) rollback(ctx context.Context, tx pgx.Tx) {
	shutdownCtx := context.WithoutCancel(ctx)

	if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			shutdownCtx,
			e.logger,
			"Error rolling back transaction",
			zap.Error(err),
		)
	}
}
