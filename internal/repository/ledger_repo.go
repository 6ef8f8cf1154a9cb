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

// LedgerStore is the only writer of inventory counters. All mutation goes
// through CompareAndAdjust or AddStock; nothing else touches the row.
type LedgerStore interface {
	Get(ctx context.Context, sku string) (*domain.InventoryItem, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, sku string) (*domain.InventoryItem, error)
	CompareAndAdjust(ctx context.Context, tx pgx.Tx, sku string, expectedVersion, availableDelta, reservedDelta int64) error
	AddStock(ctx context.Context, tx pgx.Tx, sku string, quantity int64) (*domain.InventoryItem, error)
}

type ledgerStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewLedgerStore(pool *pgxpool.Pool, logger *zap.Logger) LedgerStore {
	return &ledgerStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/ledger_store"),
	}
}

const itemColumns = `sku, available, reserved, version, created_at, updated_at`

func scanItem(row pgx.Row) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.SKU,
		&item.Available,
		&item.Reserved,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *ledgerStore) Get(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerStore.Get")
	defer span.End()

	span.SetAttributes(attribute.String("sku", sku))

	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE sku = $1`, itemColumns)

	item, err := scanItem(s.pool.QueryRow(ctx, query, sku))
	if err != nil && !errors.Is(err, domain.ErrItemNotFound) {
		span.RecordError(err)
	}

	return item, err
}

func (s *ledgerStore) GetForUpdate(ctx context.Context, tx pgx.Tx, sku string) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerStore.GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("sku", sku))

	// Plain read: the version column is the concurrency token, no row lock
	// is taken so unrelated orders on the same sku stay parallel.
	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE sku = $1`, itemColumns)

	item, err := scanItem(tx.QueryRow(ctx, query, sku))
	if err != nil && !errors.Is(err, domain.ErrItemNotFound) {
		span.RecordError(err)
	}

	return item, err
}

// CompareAndAdjust applies both deltas in one conditional UPDATE. The row
// changes only if the version still matches and neither counter would go
// negative; the version then increments by exactly 1. Zero rows affected
// is disambiguated with a re-read.
func (s *ledgerStore) CompareAndAdjust(
	ctx context.Context,
	tx pgx.Tx,
	sku string,
	expectedVersion, availableDelta, reservedDelta int64,
) error {
	ctx, span := s.tracer.Start(ctx, "LedgerStore.CompareAndAdjust")
	defer span.End()

	span.SetAttributes(
		attribute.String("sku", sku),
		attribute.Int64("expected_version", expectedVersion),
		attribute.Int64("available_delta", availableDelta),
		attribute.Int64("reserved_delta", reservedDelta),
	)

	query := `
		UPDATE inventory_items
		SET available = available + $3,
			reserved = reserved + $4,
			version = version + 1,
			updated_at = NOW()
		WHERE sku = $1
			AND version = $2
			AND available + $3 >= 0
			AND reserved + $4 >= 0
	`

	commandTag, err := tx.Exec(ctx, query, sku, expectedVersion, availableDelta, reservedDelta)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to adjust ledger",
			zap.String("sku", sku),
			zap.Error(err),
		)

		return fmt.Errorf("error adjusting ledger for sku %s: %w", sku, err)
	}

	if commandTag.RowsAffected() > 0 {
		return nil
	}

	return s.classifyRejection(ctx, tx, sku, expectedVersion, availableDelta, reservedDelta)
}

func (s *ledgerStore) classifyRejection(
	ctx context.Context,
	tx pgx.Tx,
	sku string,
	expectedVersion, availableDelta, reservedDelta int64,
) error {
	item, err := s.GetForUpdate(ctx, tx, sku)
	if err != nil {
		return err
	}

	if item.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	if item.Available+availableDelta < 0 || item.Reserved+reservedDelta < 0 {
		return domain.ErrInsufficientStock
	}

	// Version matched and the invariant held on re-read: the row moved
	// between our UPDATE and the re-read.
	return domain.ErrVersionConflict
}

func (s *ledgerStore) AddStock(ctx context.Context, tx pgx.Tx, sku string, quantity int64) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerStore.AddStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("sku", sku),
		attribute.Int64("quantity", quantity),
	)

	// Intake touches available only, never reserved.
	query := fmt.Sprintf(`
		INSERT INTO inventory_items (sku, available, reserved, version)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (sku) DO UPDATE
		SET available = inventory_items.available + $2,
			version = inventory_items.version + 1,
			updated_at = NOW()
		RETURNING %s
	`, itemColumns)

	item, err := scanItem(tx.QueryRow(ctx, query, sku, quantity))
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to add stock",
			zap.String("sku", sku),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error adding stock for sku %s: %w", sku, err)
	}

	return item, nil
}
