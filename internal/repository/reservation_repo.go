package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ReservationRepository interface {
	CreateReservation(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error
	GetReservation(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error)
	GetOpenByOrder(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Reservation, error)
	ResolveGuarded(ctx context.Context, tx pgx.Tx, reservationID string, to domain.ReservationStatus) error
}

type reservationRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewReservationRepository(pool *pgxpool.Pool, logger *zap.Logger) ReservationRepository {
	return &reservationRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/reservation_repo"),
	}
}

func (r *reservationRepo) CreateReservation(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.CreateReservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservation.ID),
		attribute.String("order_id", reservation.OrderID),
		attribute.Int("lines_count", len(reservation.Lines)),
	)

	query := `
		INSERT INTO reservations (id, order_id, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`

	if err := tx.QueryRow(
		ctx,
		query,
		reservation.ID,
		reservation.OrderID,
		string(reservation.Status),
	).Scan(&reservation.CreatedAt); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert reservation",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	queryLine := `
		INSERT INTO reservation_lines (reservation_id, sku, quantity)
		VALUES ($1, $2, $3)
	`

	for _, line := range reservation.Lines {
		if _, err := tx.Exec(ctx, queryLine, reservation.ID, line.SKU, line.Quantity); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert reservation line: %w", err)
		}
	}

	return nil
}

func (r *reservationRepo) GetReservation(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.GetReservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		SELECT id, order_id, status, created_at, resolved_at
		FROM reservations
		WHERE id = $1
	`

	reservation, err := r.scanReservation(ctx, tx, tx.QueryRow(ctx, query, reservationID))
	if err != nil {
		if !errors.Is(err, domain.ErrReservationNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return reservation, nil
}

// GetOpenByOrder finds the order's reservation still in held state, if any.
// An order owns at most one open reservation at a time.
func (r *reservationRepo) GetOpenByOrder(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.GetOpenByOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	query := `
		SELECT id, order_id, status, created_at, resolved_at
		FROM reservations
		WHERE order_id = $1 AND status = $2
	`

	reservation, err := r.scanReservation(ctx, tx, tx.QueryRow(ctx, query, orderID, string(domain.ReservationStatusHeld)))
	if err != nil {
		if !errors.Is(err, domain.ErrReservationNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return reservation, nil
}

func (r *reservationRepo) scanReservation(ctx context.Context, tx pgx.Tx, row pgx.Row) (*domain.Reservation, error) {
	var reservation domain.Reservation
	var status string
	err := row.Scan(
		&reservation.ID,
		&reservation.OrderID,
		&status,
		&reservation.CreatedAt,
		&reservation.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	reservation.Status = domain.ReservationStatus(status)

	queryLines := `
		SELECT sku, quantity
		FROM reservation_lines
		WHERE reservation_id = $1
		ORDER BY sku ASC
	`

	rows, err := tx.Query(ctx, queryLines, reservation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservation lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.SKU, &line.Quantity); err != nil {
			return nil, err
		}
		reservation.Lines = append(reservation.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &reservation, nil
}

// ResolveGuarded moves a reservation out of held exactly once. Committed
// and released are terminal; a second resolve attempt affects zero rows.
func (r *reservationRepo) ResolveGuarded(ctx context.Context, tx pgx.Tx, reservationID string, to domain.ReservationStatus) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.ResolveGuarded")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("to", string(to)),
	)

	query := `
		UPDATE reservations
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = $3
	`

	commandTag, err := tx.Exec(ctx, query, string(to), reservationID, string(domain.ReservationStatusHeld))
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to resolve reservation",
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to resolve reservation: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return domain.ErrAlreadyResolved
	}

	return nil
}
