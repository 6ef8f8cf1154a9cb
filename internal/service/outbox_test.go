package service_test

import (
	"time"

	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/service"
)

func (s *EngineSuite) outboxCount(eventType string) int {
	var count int
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = $1`,
		eventType,
	).Scan(&count)
	s.Require().NoError(err)
	return count
}

func (s *EngineSuite) TestOutbox_RecordsEveryMovement() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	_, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentConfirmed, domain.OrderStatusReserved)
	s.Require().NoError(err)

	_, err = s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventShipmentConfirmed, domain.OrderStatusPaid)
	s.Require().NoError(err)

	s.Equal(1, s.outboxCount(domain.EventTypeStockIntake))
	s.Equal(1, s.outboxCount(domain.EventTypeOrderPlaced))
	s.Equal(1, s.outboxCount(domain.EventTypeStockReserved))
	s.Equal(1, s.outboxCount(domain.EventTypeStockCommitted))
	s.Equal(1, s.outboxCount(domain.EventTypeStockConsumed))
	s.Equal(2, s.outboxCount(domain.EventTypeOrderAdvanced))
}

func (s *EngineSuite) TestOutbox_EventsGetPublished() {
	s.addStock("WIDGET", 5)
	s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	// The background processor drains the outbox to kafka and stamps
	// published_at on success.
	s.Require().Eventually(func() bool {
		var unpublished int
		if err := s.DbPool.QueryRow(
			s.Ctx,
			`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`,
		).Scan(&unpublished); err != nil {
			return false
		}
		return unpublished == 0
	}, 15*time.Second, 200*time.Millisecond, "outbox events were not published")
}

func (s *EngineSuite) TestOutbox_FailedPlacementStillEmitsEvent() {
	s.addStock("WIDGET", 2)

	_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "order-a",
		Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: 3}},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	s.Equal(1, s.outboxCount(domain.EventTypeOrderPlaced))
	s.Equal(0, s.outboxCount(domain.EventTypeStockReserved))
}
