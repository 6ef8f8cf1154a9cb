// Package idempotency makes keyed operations safe against client retries.
// The key is claimed with a unique insert inside the caller's transaction,
// so the stored result is durable exactly when the state change is, and a
// concurrent retry blocks on the unique index until the first attempt
// resolves instead of running the operation twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

// Result is the snapshot stored for a keyed operation and replayed to
// every retry of the same request.
type Result struct {
	OrderID string
	Status  domain.OrderStatus
}

type Guard struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewGuard(pool *pgxpool.Pool, logger *zap.Logger) *Guard {
	return &Guard{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("idempotency_guard"),
	}
}

// ExecuteOnce runs fn at most once per (key, operationKind). The first
// caller claims the key in tx, runs fn, and stores its result on the
// claim before the transaction commits. A retry gets the stored result
// wrapped in domain.ErrDuplicateRequest and fn never runs again.
//
// The unique-violation path reads through the pool, not tx: the failed
// insert has already aborted the caller's transaction, which the caller
// rolls back as usual.
func (g *Guard) ExecuteOnce(
	ctx context.Context,
	tx pgx.Tx,
	key, operationKind string,
	fn func(ctx context.Context) (*Result, error),
) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "IdempotencyGuard.ExecuteOnce")
	defer span.End()

	span.SetAttributes(
		attribute.String("idempotency_key", key),
		attribute.String("operation_kind", operationKind),
	)

	insertQuery := `
		INSERT INTO idempotency_records (idempotency_key, operation_kind)
		VALUES ($1, $2)
	`

	if _, err := tx.Exec(ctx, insertQuery, key, operationKind); err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == pgUniqueViolation {
			mylogger.Info(
				ctx,
				g.logger,
				"Duplicate request, replaying stored result",
				zap.String("idempotency_key", key),
				zap.String("operation_kind", operationKind),
			)

			return g.storedResult(ctx, key, operationKind)
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	result, err := fn(ctx)
	if err != nil {
		// The claim rolls back with the rest of the transaction, so a
		// failed first attempt may be retried with the same key.
		return nil, err
	}

	updateQuery := `
		UPDATE idempotency_records
		SET order_id = $1, order_status = $2
		WHERE idempotency_key = $3 AND operation_kind = $4
	`

	if _, err := tx.Exec(ctx, updateQuery, result.OrderID, string(result.Status), key, operationKind); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to store idempotency result: %w", err)
	}

	return result, nil
}

func (g *Guard) storedResult(ctx context.Context, key, operationKind string) (*Result, error) {
	query := `
		SELECT order_id, order_status
		FROM idempotency_records
		WHERE idempotency_key = $1 AND operation_kind = $2
	`

	var result Result
	var status string
	err := g.pool.QueryRow(ctx, query, key, operationKind).Scan(&result.OrderID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The first attempt aborted after we lost the insert race;
			// its claim is gone and the caller may retry the request.
			return nil, domain.ErrContention
		}
		return nil, fmt.Errorf("failed to load stored result: %w", err)
	}
	result.Status = domain.OrderStatus(status)

	return &result, domain.ErrDuplicateRequest
}
