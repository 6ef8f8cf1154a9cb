package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Order, error)
	ChangeStatusGuarded(ctx context.Context, tx pgx.Tx, orderID string, from, to domain.OrderStatus) error
	SetReservation(ctx context.Context, tx pgx.Tx, orderID, reservationID string) error
	ListStaleReserved(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/order_repo"),
	}
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int("lines_count", len(order.Lines)),
	)

	queryOrder := `
		INSERT INTO orders (id, idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.ID,
		order.IdempotencyKey,
		string(order.Status),
	).Scan(
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryLine := `
		INSERT INTO order_lines (order_id, sku, quantity)
		VALUES ($1, $2, $3)
	`

	for _, line := range order.Lines {
		if _, err := tx.Exec(ctx, queryLine, order.ID, line.SKU, line.Quantity); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert order line",
				zap.String("order_id", order.ID),
				zap.String("sku", line.SKU),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}

	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	queryOrder := `
		SELECT id, idempotency_key, status, reservation_id, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	var status string
	err := tx.QueryRow(ctx, queryOrder, orderID).Scan(
		&order.ID,
		&order.IdempotencyKey,
		&status,
		&order.ReservationID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	queryLines := `
		SELECT sku, quantity
		FROM order_lines
		WHERE order_id = $1
		ORDER BY sku ASC
	`

	rows, err := tx.Query(ctx, queryLines, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.SKU, &line.Quantity); err != nil {
			span.RecordError(err)
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &order, nil
}

// ChangeStatusGuarded flips the status only if the row still carries the
// expected one, mirroring the ledger's version check. Zero rows affected
// means either a concurrent lifecycle event won or the order is gone.
func (r *orderRepo) ChangeStatusGuarded(ctx context.Context, tx pgx.Tx, orderID string, from, to domain.OrderStatus) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ChangeStatusGuarded")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	commandTag, err := tx.Exec(ctx, query, string(to), orderID, string(from))
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update order status",
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to update order status: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			span.RecordError(err)
			return err
		}

		if !exists {
			return domain.ErrOrderNotFound
		}

		return domain.ErrVersionConflict
	}

	return nil
}

func (r *orderRepo) SetReservation(ctx context.Context, tx pgx.Tx, orderID, reservationID string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SetReservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("reservation_id", reservationID),
	)

	query := `
		UPDATE orders
		SET reservation_id = $1, updated_at = NOW()
		WHERE id = $2
	`

	commandTag, err := tx.Exec(ctx, query, reservationID, orderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set reservation: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// ListStaleReserved returns ids of orders sitting in reserved since before
// olderThan. Used by the hold reaper; the reaper then drives each order
// through the normal payment_timeout transition.
func (r *orderRepo) ListStaleReserved(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListStaleReserved")
	defer span.End()

	query := `
		SELECT id
		FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(domain.OrderStatusReserved), olderThan, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query stale reserved orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(ids)))

	return ids, nil
}
