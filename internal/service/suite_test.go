package service_test

import (
	"context"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/idempotency"
	"github.com/plt-repo/order-inventory-platform/internal/repository"
	"github.com/plt-repo/order-inventory-platform/internal/reservation"
	"github.com/plt-repo/order-inventory-platform/internal/service"
	pkgKafka "github.com/plt-repo/order-inventory-platform/pkg/kafka"
	outboxRepository "github.com/plt-repo/order-inventory-platform/pkg/outbox/repository"
	"github.com/plt-repo/order-inventory-platform/pkg/outbox/worker"
	"github.com/plt-repo/order-inventory-platform/pkg/testsuite"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const testEventsTopic = "inventory_events"

type EngineSuite struct {
	testsuite.BaseSuite

	Engine          service.Engine
	Orders          repository.OrderRepository
	TestProducer    pkgKafka.Producer
	OutboxProcessor *worker.OutboxProcessor
	workerCancel    context.CancelFunc
}

func (s *EngineSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure("../../migrations", true)
}

func (s *EngineSuite) TearDownSuite() {
	s.BaseSuite.TearDownInfrastructure()
}

func (s *EngineSuite) SetupTest() {
	s.BaseSuite.TruncateTable("orders")
	s.BaseSuite.TruncateTable("order_lines")
	s.BaseSuite.TruncateTable("reservations")
	s.BaseSuite.TruncateTable("reservation_lines")
	s.BaseSuite.TruncateTable("inventory_items")
	s.BaseSuite.TruncateTable("idempotency_records")
	s.BaseSuite.TruncateTable("outbox")
	s.BaseSuite.TruncateTable("processed_events")

	logger := zap.NewNop()

	ledger := repository.NewLedgerStore(s.DbPool, logger)
	s.Orders = repository.NewOrderRepository(s.DbPool, logger)
	reservations := repository.NewReservationRepository(s.DbPool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(s.DbPool, logger)

	manager := reservation.NewManager(ledger, reservations, logger, 10)
	guard := idempotency.NewGuard(s.DbPool, logger)

	s.Engine = service.NewEngine(s.DbPool, logger, guard, s.Orders, ledger, manager, outboxRepo, testEventsTopic)

	var err error
	s.TestProducer, err = pkgKafka.NewProducer(s.KafkaBrokers)
	s.Require().NoError(err, "failed to create kafka producer")

	s.OutboxProcessor = worker.NewOutboxProcessor(s.DbPool, outboxRepo, s.TestProducer, logger, 50, 100*time.Millisecond)

	workerCtx, cancel := context.WithCancel(s.Ctx)
	s.workerCancel = cancel

	go s.OutboxProcessor.Start(workerCtx)
}

func (s *EngineSuite) TearDownTest() {
	if s.workerCancel != nil {
		s.workerCancel()
	}
	if s.TestProducer != nil {
		_ = s.TestProducer.Close()
	}
}

func (s *EngineSuite) addStock(sku string, quantity int64) {
	_, err := s.Engine.AddStock(s.Ctx, sku, quantity)
	s.Require().NoError(err)
}

func (s *EngineSuite) ledgerCounters(sku string) (available, reserved int64) {
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT available, reserved FROM inventory_items WHERE sku = $1`,
		sku,
	).Scan(&available, &reserved)
	s.Require().NoError(err)
	return available, reserved
}

func (s *EngineSuite) placeOrder(key string, lines ...domain.OrderLine) *service.PlaceOrderResult {
	result, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: key,
		Lines:          lines,
	})
	s.Require().NoError(err)
	s.Require().NotNil(result)
	return result
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
