package lifecycle

import (
	"testing"

	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_LegalTransitions(t *testing.T) {
	cases := []struct {
		name       string
		from       domain.OrderStatus
		event      domain.OrderEvent
		wantTo     domain.OrderStatus
		wantEffect SideEffect
	}{
		{"placed reserves", domain.OrderStatusPlaced, domain.EventReserveRequested, domain.OrderStatusReserved, EffectReserve},
		{"placed reserve fails", domain.OrderStatusPlaced, domain.EventReserveFailed, domain.OrderStatusCancelled, EffectNone},
		{"reserved paid", domain.OrderStatusReserved, domain.EventPaymentConfirmed, domain.OrderStatusPaid, EffectCommit},
		{"reserved payment fails", domain.OrderStatusReserved, domain.EventPaymentFailed, domain.OrderStatusCancelled, EffectRelease},
		{"reserved payment times out", domain.OrderStatusReserved, domain.EventPaymentTimeout, domain.OrderStatusCancelled, EffectRelease},
		{"paid ships", domain.OrderStatusPaid, domain.EventShipmentConfirmed, domain.OrderStatusShipped, EffectConsume},
		{"paid refunds", domain.OrderStatusPaid, domain.EventCancellationRequested, domain.OrderStatusRefunded, EffectCompensate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(tc.from, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTo, got.To)
			assert.Equal(t, tc.wantEffect, got.Effect)
		})
	}
}

func TestNext_AdminOverride(t *testing.T) {
	for _, from := range []domain.OrderStatus{
		domain.OrderStatusPlaced,
		domain.OrderStatusReserved,
		domain.OrderStatusPaid,
	} {
		got, err := Next(from, domain.EventAdminOverrideCancel)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, domain.OrderStatusCancelled, got.To)
		assert.Equal(t, EffectReleaseIfOpen, got.Effect)
	}

	for _, from := range []domain.OrderStatus{
		domain.OrderStatusShipped,
		domain.OrderStatusCancelled,
		domain.OrderStatusRefunded,
	} {
		_, err := Next(from, domain.EventAdminOverrideCancel)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "from %s", from)
	}
}

func TestNext_RejectsMissingRows(t *testing.T) {
	cases := []struct {
		name  string
		from  domain.OrderStatus
		event domain.OrderEvent
	}{
		{"pay before reserve", domain.OrderStatusPlaced, domain.EventPaymentConfirmed},
		{"ship before pay", domain.OrderStatusReserved, domain.EventShipmentConfirmed},
		{"reserve twice", domain.OrderStatusReserved, domain.EventReserveRequested},
		{"pay a shipped order", domain.OrderStatusShipped, domain.EventPaymentConfirmed},
		{"cancel a cancelled order", domain.OrderStatusCancelled, domain.EventPaymentFailed},
		{"refund a refunded order", domain.OrderStatusRefunded, domain.EventCancellationRequested},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Next(tc.from, tc.event)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, domain.OrderStatusShipped.IsTerminal())
	assert.True(t, domain.OrderStatusCancelled.IsTerminal())
	assert.True(t, domain.OrderStatusRefunded.IsTerminal())
	assert.False(t, domain.OrderStatusPlaced.IsTerminal())
	assert.False(t, domain.OrderStatusReserved.IsTerminal())
	assert.False(t, domain.OrderStatusPaid.IsTerminal())
}
