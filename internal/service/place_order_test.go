package service_test

import (
	"sync"

	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/plt-repo/order-inventory-platform/internal/service"
)

func (s *EngineSuite) TestPlaceOrder_ReservesStock() {
	s.addStock("WIDGET", 5)

	result := s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})
	s.Equal(domain.OrderStatusReserved, result.Status)
	s.False(result.Duplicate)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)
}

func (s *EngineSuite) TestPlaceOrder_InsufficientStock() {
	s.addStock("WIDGET", 5)

	s.placeOrder("order-a", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	result, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "order-b",
		Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: 3}},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Require().NotNil(result)
	s.Equal(domain.OrderStatusCancelled, result.Status)

	// B left the ledger untouched.
	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)
}

func (s *EngineSuite) TestPlaceOrder_MultiLineAllOrNothing() {
	s.addStock("WIDGET", 5)
	s.addStock("ANVIL", 1)

	// The anvil claim lands first (ascending sku), then the widget line
	// fails; the already-applied anvil claim must roll back with it.
	_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "order-a",
		Lines: []domain.OrderLine{
			{SKU: "WIDGET", Quantity: 6},
			{SKU: "ANVIL", Quantity: 1},
		},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	available, reserved := s.ledgerCounters("ANVIL")
	s.EqualValues(1, available)
	s.EqualValues(0, reserved)

	available, reserved = s.ledgerCounters("WIDGET")
	s.EqualValues(5, available)
	s.EqualValues(0, reserved)
}

func (s *EngineSuite) TestPlaceOrder_Idempotent() {
	s.addStock("WIDGET", 5)

	first := s.placeOrder("same-key", domain.OrderLine{SKU: "WIDGET", Quantity: 3})
	second := s.placeOrder("same-key", domain.OrderLine{SKU: "WIDGET", Quantity: 3})

	s.Equal(first.OrderID, second.OrderID)
	s.Equal(first.Status, second.Status)
	s.False(first.Duplicate)
	s.True(second.Duplicate)

	// Exactly one reservation against the ledger.
	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(2, available)
	s.EqualValues(3, reserved)

	var reservationCount int
	err := s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM reservations`).Scan(&reservationCount)
	s.Require().NoError(err)
	s.Equal(1, reservationCount)
}

func (s *EngineSuite) TestPlaceOrder_ConcurrentNoOversell() {
	s.addStock("WIDGET", 10)

	const workers = 10
	const perOrder = 3

	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
				IdempotencyKey: string(rune('a'+n)) + "-concurrent",
				Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: perOrder}},
			})
			results[n] = err
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case s.ErrorIs(err, domain.ErrInsufficientStock):
			insufficient++
		}
	}

	// floor(10/3) orders win, the rest surface insufficient stock.
	s.Equal(3, succeeded)
	s.Equal(workers-3, insufficient)

	available, reserved := s.ledgerCounters("WIDGET")
	s.EqualValues(1, available)
	s.EqualValues(9, reserved)
}

func (s *EngineSuite) TestPlaceOrder_RejectsBadRequests() {
	_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "",
		Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: 1}},
	})
	s.Error(err)

	_, err = s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "no-lines",
	})
	s.Error(err)

	_, err = s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "zero-quantity",
		Lines:          []domain.OrderLine{{SKU: "WIDGET", Quantity: 0}},
	})
	s.Error(err)
}

func (s *EngineSuite) TestPlaceOrder_UnknownSKU() {
	_, err := s.Engine.PlaceOrder(s.Ctx, &service.PlaceOrderRequest{
		IdempotencyKey: "ghost-sku",
		Lines:          []domain.OrderLine{{SKU: "GHOST", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrItemNotFound)
}
