package service_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/service"
	"go.uber.org/zap"
)

func (s *EngineSuite) reservationStatus(reservationID string) string {
	var status string
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT status FROM reservations WHERE id = $1`,
		reservationID,
	).Scan(&status)
	s.Require().NoError(err)
	return status
}

func (s *EngineSuite) orderReservationID(orderID string) string {
	var reservationID *string
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT reservation_id FROM orders WHERE id = $1`,
		orderID,
	).Scan(&reservationID)
	s.Require().NoError(err)
	s.Require().NotNil(reservationID)
	return *reservationID
}

func (s *EngineSuite) TestFullLifecycle_WidgetScenario() {
	s.addStock("WIDGET", 5)

	// Order A reserves 3 of 5.
	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})
	s.Equal(domain.OrderStatusReserved, a.Status)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)

	// Order B wants 3 more and loses.
	_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "order-b",
		Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: 3}},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	available, reserved = s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)

	// Payment confirms: the reservation commits, the ledger stays put.
	paid, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentConfirmed, domain.OrderStatusReserved)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, paid.Status)

	available, reserved = s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)

	s.Equal("committed", s.reservationStatus(s.orderReservationID(a.OrderID)))

	// Shipment deducts the committed quantities from reserved.
	shipped, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventShipmentConfirmed, domain.OrderStatusPaid)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusShipped, shipped.Status)

	available, reserved = s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(0, reserved)
}

func (s *EngineSuite) TestReserveRelease_RoundTrip() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	cancelled, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentFailed, domain.OrderStatusReserved)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)

	// Release restores available exactly.
	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)

	s.Equal("released", s.reservationStatus(s.orderReservationID(a.OrderID)))
}

func (s *EngineSuite) TestRefund_ReturnsCommittedStock() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	_, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentConfirmed, domain.OrderStatusReserved)
	s.Require().NoError(err)

	refunded, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventCancellationRequested, domain.OrderStatusPaid)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusRefunded, refunded.Status)

	// Refund before shipment compensates the committed hold.
	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)
}

func (s *EngineSuite) TestAdminOverride_ReleasesOpenHold() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	cancelled, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventAdminOverrideCancel, "")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)
}

func (s *EngineSuite) TestAdminOverride_ReturnsCommittedStock() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	_, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentConfirmed, domain.OrderStatusReserved)
	s.Require().NoError(err)

	// The reservation is already committed, so the override compensates
	// instead of releasing.
	cancelled, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventAdminOverrideCancel, "")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)

	s.Equal(1, s.outboxCount(domain.EventTypeStockReturned))
}

func (s *EngineSuite) TestAdvanceOrder_InvalidTransition() {
	s.addStock("WIDGET", 5)

	// An order parked in placed, as if the process died mid-placement.
	orderID := uuid.NewString()
	_, err := s.DbPool.Exec(
		s.Ctx,
		`INSERT INTO orders (id, idempotency_key, status) VALUES ($1, $2, $3)`,
		orderID, "stuck-order", string(domain.OrderStatusPlaced),
	)
	s.Require().NoError(err)

	_, err = s.Engine.AdvanceOrder(s.Ctx, orderID, domain.EventPaymentConfirmed, "")
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	// Counters untouched by the rejected transition.
	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)
}

func (s *EngineSuite) TestAdvanceOrder_ExpectedStatusMismatch() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	_, err := s.Engine.AdvanceOrder(s.Ctx, a.OrderID, domain.EventPaymentConfirmed, domain.OrderStatusPaid)
	s.Require().ErrorIs(err, domain.ErrVersionConflict)
}

func (s *EngineSuite) TestAdvanceOrder_NotFound() {
	_, err := s.Engine.AdvanceOrder(s.Ctx, uuid.NewString(), domain.EventPaymentConfirmed, "")
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *EngineSuite) TestReaper_TimesOutStaleHolds() {
	s.addStock("WIDGET", 5)

	a := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	// Age the hold past the TTL.
	_, err := s.DbPool.Exec(
		s.Ctx,
		`UPDATE orders SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`,
		a.OrderID,
	)
	s.Require().NoError(err)

	reaper := service.NewReaper(s.Engine, s.Orders, zap.NewNop(), 15*time.Minute, 50*time.Millisecond)

	reaperCtx, cancel := context.WithTimeout(s.Ctx, 5*time.Second)
	defer cancel()
	go reaper.Start(reaperCtx)

	s.Require().Eventually(func() bool {
		var status string
		if err := s.DbPool.QueryRow(s.Ctx, `SELECT status FROM orders WHERE id = $1`, a.OrderID).Scan(&status); err != nil {
			return false
		}
		return status == string(domain.OrderStatusCancelled)
	}, 5*time.Second, 100*time.Millisecond)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)
}
