// Package reservation enforces the at-most-available-stock invariant.
// Every stock movement runs inside the caller's transaction; a failure on
// any line rolls back the whole request, never a partial reservation.
package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/repository"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Manager struct {
	ledger       repository.LedgerStore
	reservations repository.ReservationRepository
	logger       *zap.Logger
	tracer       trace.Tracer
	casRetries   int
}

func NewManager(
	ledger repository.LedgerStore,
	reservations repository.ReservationRepository,
	logger *zap.Logger,
	casRetries int,
) *Manager {
	if casRetries < 1 {
		casRetries = 1
	}

	return &Manager{
		ledger:       ledger,
		reservations: reservations,
		logger:       logger,
		tracer:       otel.Tracer("reservation_manager"),
		casRetries:   casRetries,
	}
}

// Reserve claims stock for every line or none at all. Lines are walked in
// ascending sku order; each claim moves quantity from available into
// reserved through a bounded compare-and-adjust loop.
func (m *Manager) Reserve(ctx context.Context, tx pgx.Tx, orderID string, lines []domain.OrderLine) (*domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "ReservationManager.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.Int("lines_count", len(lines)),
	)

	existing, err := m.reservations.GetOpenByOrder(ctx, tx, orderID)
	if err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateReservation
	}

	normalized := domain.NormalizeLines(lines)

	for _, line := range normalized {
		if err := m.adjustWithRetry(ctx, tx, line.SKU, -line.Quantity, line.Quantity); err != nil {
			mylogger.Warn(
				ctx,
				m.logger,
				"Failed to claim stock for line",
				zap.String("order_id", orderID),
				zap.String("sku", line.SKU),
				zap.Int64("quantity", line.Quantity),
				zap.Error(err),
			)

			return nil, err
		}
	}

	reservation := &domain.Reservation{
		ID:      uuid.NewString(),
		OrderID: orderID,
		Lines:   normalized,
		Status:  domain.ReservationStatusHeld,
	}

	if err := m.reservations.CreateReservation(ctx, tx, reservation); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("reservation_id", reservation.ID))

	return reservation, nil
}

// Commit finalizes a held reservation. No stock moves: the quantities
// already left available at reserve time and stay in reserved until the
// shipment is confirmed. Committing twice returns the prior state.
func (m *Manager) Commit(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "ReservationManager.Commit")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	reservation, err := m.reservations.GetReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.IsResolved() {
		if reservation.Status == domain.ReservationStatusCommitted {
			return reservation, nil
		}
		return nil, domain.ErrAlreadyResolved
	}

	if err := m.reservations.ResolveGuarded(ctx, tx, reservationID, domain.ReservationStatusCommitted); err != nil {
		return nil, err
	}

	reservation.Status = domain.ReservationStatusCommitted
	return reservation, nil
}

// Release returns every held quantity from reserved back to available and
// resolves the reservation. Releasing twice returns the prior state.
func (m *Manager) Release(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "ReservationManager.Release")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	reservation, err := m.reservations.GetReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.IsResolved() {
		if reservation.Status == domain.ReservationStatusReleased {
			return reservation, nil
		}
		return nil, domain.ErrAlreadyResolved
	}

	for _, line := range reservation.Lines {
		if err := m.adjustWithRetry(ctx, tx, line.SKU, line.Quantity, -line.Quantity); err != nil {
			return nil, err
		}
	}

	if err := m.reservations.ResolveGuarded(ctx, tx, reservationID, domain.ReservationStatusReleased); err != nil {
		return nil, err
	}

	reservation.Status = domain.ReservationStatusReleased
	return reservation, nil
}

// Consume removes a committed reservation's quantities from reserved:
// the physical stock shipped and leaves the ledger entirely.
func (m *Manager) Consume(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "ReservationManager.Consume")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	return m.drainCommitted(ctx, tx, reservationID, false)
}

// Compensate returns a committed reservation's quantities to available:
// the order was refunded before the stock shipped.
func (m *Manager) Compensate(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "ReservationManager.Compensate")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	return m.drainCommitted(ctx, tx, reservationID, true)
}

func (m *Manager) drainCommitted(ctx context.Context, tx pgx.Tx, reservationID string, backToAvailable bool) (*domain.Reservation, error) {
	reservation, err := m.reservations.GetReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.Status != domain.ReservationStatusCommitted {
		return nil, fmt.Errorf("reservation %s is %s: %w", reservationID, reservation.Status, domain.ErrAlreadyResolved)
	}

	for _, line := range reservation.Lines {
		availableDelta := int64(0)
		if backToAvailable {
			availableDelta = line.Quantity
		}

		if err := m.adjustWithRetry(ctx, tx, line.SKU, availableDelta, -line.Quantity); err != nil {
			return nil, err
		}
	}

	return reservation, nil
}

// adjustWithRetry re-reads the item and retries the compare-and-adjust on
// version conflicts, up to the configured ceiling. Insufficient stock is
// final: retrying cannot change physical scarcity.
func (m *Manager) adjustWithRetry(ctx context.Context, tx pgx.Tx, sku string, availableDelta, reservedDelta int64) error {
	var lastErr error

	for attempt := 0; attempt < m.casRetries; attempt++ {
		item, err := m.ledger.GetForUpdate(ctx, tx, sku)
		if err != nil {
			return err
		}

		if item.Available+availableDelta < 0 {
			return domain.ErrInsufficientStock
		}

		err = m.ledger.CompareAndAdjust(ctx, tx, sku, item.Version, availableDelta, reservedDelta)
		if err == nil {
			return nil
		}

		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}

		lastErr = err
	}

	mylogger.Warn(
		ctx,
		m.logger,
		"Retry ceiling exhausted adjusting ledger",
		zap.String("sku", sku),
		zap.Int("attempts", m.casRetries),
		zap.Error(lastErr),
	)

	return fmt.Errorf("sku %s: %w", sku, domain.ErrContention)
}
