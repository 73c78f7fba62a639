package utils

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGenUuidFromStrings(t *testing.T) {
	a := GenUuidFromStrings("protocol", "asset")
	b := GenUuidFromStrings("asset", "protocol")
	assert.Equal(t, a, b, "order of inputs must not matter")

	c := GenUuidFromStrings("protocol", "other")
	assert.NotEqual(t, a, c)

	id, err := uuid.FromString(a)
	assert.NoError(t, err)
	assert.Equal(t, byte(3), id.Version())
}

func TestSequenceUuid(t *testing.T) {
	ns := MustUuidFromStrings("ns")
	assert.Equal(t, SequenceUuid(ns, "position", 1), SequenceUuid(ns, "position", 1))
	assert.NotEqual(t, SequenceUuid(ns, "position", 1), SequenceUuid(ns, "position", 2))
	assert.NotEqual(t, SequenceUuid(ns, "position", 1), SequenceUuid(ns, "event", 1))
}

func TestRounding(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		divisibility int32
		floor        string
		ceil         string
	}{
		{"positive", "1.23456789", 4, "1.2345", "1.2346"},
		{"exact", "1.5", 4, "1.5", "1.5"},
		{"negative", "-1.23456", 2, "-1.24", "-1.23"},
		{"integer", "10.1", 0, "10", "11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := decimal.RequireFromString(tt.value)
			floor := Floor(v, tt.divisibility)
			ceil := Ceil(v, tt.divisibility)
			assert.True(t, floor.Equal(decimal.RequireFromString(tt.floor)), "expected %s, got %s", tt.floor, floor)
			assert.True(t, ceil.Equal(decimal.RequireFromString(tt.ceil)), "expected %s, got %s", tt.ceil, ceil)
		})
	}
}

func TestDivRounding(t *testing.T) {
	tests := []struct {
		name         string
		a, b         string
		divisibility int32
		floor        string
		ceil         string
	}{
		{"thirds", "1", "3", 4, "0.3333", "0.3334"},
		{"exact", "10", "4", 2, "2.5", "2.5"},
		{"negative dividend", "-1", "3", 2, "-0.34", "-0.33"},
		{"beyond default precision", "1", "3", 20, "0.33333333333333333333", "0.33333333333333333334"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := decimal.RequireFromString(tt.a), decimal.RequireFromString(tt.b)
			floor := DivFloor(a, b, tt.divisibility)
			ceil := DivCeil(a, b, tt.divisibility)
			assert.True(t, floor.Equal(decimal.RequireFromString(tt.floor)), "expected %s, got %s", tt.floor, floor)
			assert.True(t, ceil.Equal(decimal.RequireFromString(tt.ceil)), "expected %s, got %s", tt.ceil, ceil)
		})
	}
}
