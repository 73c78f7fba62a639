package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefaultCurve(t *testing.T) {
	tests := []struct {
		name        string
		utilization string
		expected    string
	}{
		{"empty", "0", "0"},
		{"half", "0.5", "0.225"},
		{"eighty", "0.8", "0.48"},
		{"full", "1", "0.7"},
		{"over", "1.3", "0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DefaultCurve(decimal.RequireFromString(tt.utilization))
			assert.True(t, result.Equal(decimal.RequireFromString(tt.expected)), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestStableCurve(t *testing.T) {
	tests := []struct {
		name        string
		utilization string
		expected    string
	}{
		{"empty", "0", "0"},
		// x = 0.25, 0.55*0.0625 + 0.45*0.00390625
		{"half", "0.5", "0.0361328125"},
		{"full", "1", "1"},
		{"over", "2", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StableCurve(decimal.RequireFromString(tt.utilization))
			assert.True(t, result.Equal(decimal.RequireFromString(tt.expected)), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestInterestModelRate(t *testing.T) {
	half := decimal.NewFromFloat(0.5)

	fixed := DefaultInterestModel()
	variable, stable := fixed.Rate(half, decimal.Zero)
	assert.True(t, variable.Equal(decimal.NewFromFloat(0.225)), "got %s", variable)
	assert.True(t, stable.Equal(DEFAULT_STABLE_BASE_RATE), "got %s", stable)

	curved := InterestModel{
		Curve:              CurveStable,
		StableStrategy:     StableRateUtilization,
		StableBaseRate:     decimal.NewFromFloat(0.05),
		OptimalStableRatio: decimal.NewFromFloat(0.2),
		StableRatioPremium: decimal.NewFromFloat(0.1),
	}
	variable, stable = curved.Rate(half, decimal.NewFromFloat(0.7))
	assert.True(t, variable.Equal(decimal.RequireFromString("0.0361328125")), "got %s", variable)
	// 0.05 + 0.0361328125 + 0.1*(0.7-0.2)
	assert.True(t, stable.Equal(decimal.RequireFromString("0.1361328125")), "got %s", stable)

	_, stable = curved.Rate(half, decimal.NewFromFloat(0.1))
	assert.True(t, stable.Equal(decimal.RequireFromString("0.0861328125")), "got %s", stable)
}

func TestInterestModelValidate(t *testing.T) {
	assert.NoError(t, DefaultInterestModel().Validate())

	bad := DefaultInterestModel()
	bad.StableBaseRate = decimal.NewFromInt(-1)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInterestRate)

	bad = DefaultInterestModel()
	bad.Curve = CurveKind(9)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInterestRate)

	bad = DefaultInterestModel()
	bad.StableStrategy = StableRateUtilization
	bad.OptimalStableRatio = decimal.NewFromInt(2)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInterestRate)
}

func TestParseKinds(t *testing.T) {
	ck, ok := ParseCurveKind("stable")
	assert.True(t, ok)
	assert.Equal(t, CurveStable, ck)
	assert.Equal(t, "Stable", ck.String())

	_, ok = ParseCurveKind("jump")
	assert.False(t, ok)

	sk, ok := ParseStableRateKind("utilization")
	assert.True(t, ok)
	assert.Equal(t, "Utilization", sk.String())
}
