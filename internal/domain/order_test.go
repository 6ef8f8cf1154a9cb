package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLines(t *testing.T) {
	lines := []OrderLine{
		{SKU: "WIDGET", Quantity: 2},
		{SKU: "ANVIL", Quantity: 1},
		{SKU: "WIDGET", Quantity: 3},
	}

	got := NormalizeLines(lines)

	assert.Equal(t, []OrderLine{
		{SKU: "ANVIL", Quantity: 1},
		{SKU: "WIDGET", Quantity: 5},
	}, got)
}

func TestNormalizeLines_Empty(t *testing.T) {
	assert.Empty(t, NormalizeLines(nil))
}
