package core

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() Log {
	l := zerolog.Nop()
	return &l
}

// yearlyConfig accrues once per epoch so one epoch is one year.
func yearlyConfig() PoolConfig {
	config := DefaultPoolConfig()
	config.EpochsPerYear = 1
	config.FlashloanFeeRatio = decimal.NewFromFloat(0.001)
	return config
}

func newTestPool(t *testing.T, symbol string, config PoolConfig) *Pool {
	t.Helper()
	require.NoError(t, config.Validate())
	asset := NewAsset(uuid.Must(uuid.NewV4()).String(), symbol, 8)
	return NewPool(uuid.Must(uuid.NewV4()), asset, config, testTime(), 0)
}

func testTime() time.Time {
	return time.Unix(0, 0)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, actual.Equal(d(expected)), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

func TestPoolAddLiquidityEmptyPool(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())

	shares, err := pool.AddLiquidity(testLog(), 0, d("1000"))
	require.NoError(t, err)
	assertDecimal(t, "1000", shares)
	assertDecimal(t, "1000", pool.DepositShareQuantity)
	assertDecimal(t, "1000", pool.Vault)
	assertDecimal(t, "1", pool.DepositIndex)
}

func TestPoolVariableDebtCompounds(t *testing.T) {
	pool := newTestPool(t, "USD", yearlyConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	shares, err := pool.BorrowVariable(log, 0, d("500"))
	require.NoError(t, err)
	assertDecimal(t, "500", shares)

	pool.VariableRate = d("0.1")
	_, loanIndex := pool.CurrentIndex(1)
	assertDecimal(t, "1.1", loanIndex)
	assertDecimal(t, "550", pool.VariableDebtValue(1, shares))

	// projecting does not touch state
	assertDecimal(t, "1", pool.LoanIndex)
	assert.Equal(t, int64(0), pool.LastUpdate)
}

func TestPoolUpdateIndexCreditsSpread(t *testing.T) {
	pool := newTestPool(t, "USD", yearlyConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	_, err = pool.BorrowVariable(log, 0, d("500"))
	require.NoError(t, err)

	// u = 0.5 on the default curve
	assertDecimal(t, "0.225", pool.VariableRate)
	assertDecimal(t, "0.10125", pool.DepositRate)

	pool.UpdateIndex(log, 1)
	assertDecimal(t, "1.225", pool.LoanIndex)
	assertDecimal(t, "1.10125", pool.DepositIndex)
	// 500*0.225 - 1000*0.10125
	assertDecimal(t, "11.25", pool.InsuranceBalance)
	assert.Equal(t, int64(1), pool.LastUpdate)
}

func TestPoolUpdateIndexIdempotent(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	_, err = pool.BorrowVariable(log, 0, d("700"))
	require.NoError(t, err)

	pool.UpdateIndex(log, 120)
	before := pool.Clone()
	pool.UpdateIndex(log, 120)
	assert.Equal(t, before, pool)

	// time going backwards is a no-op too
	pool.UpdateIndex(log, 100)
	assert.Equal(t, before, pool)
}

func TestPoolNegativeSpreadClamped(t *testing.T) {
	pool := newTestPool(t, "USD", yearlyConfig())
	pool.DepositShareQuantity = d("1000")
	pool.DepositRate = d("0.5")

	pool.UpdateIndex(testLog(), 1)
	assertDecimal(t, "1.5", pool.DepositIndex)
	assertDecimal(t, "0", pool.InsuranceBalance)
}

func TestPoolIndicesMonotonic(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())
	log := testLog()

	depositIndex, loanIndex := pool.DepositIndex, pool.LoanIndex
	check := func() {
		assert.True(t, pool.DepositIndex.GreaterThanOrEqual(depositIndex), "deposit index %s < %s", pool.DepositIndex, depositIndex)
		assert.True(t, pool.LoanIndex.GreaterThanOrEqual(loanIndex), "loan index %s < %s", pool.LoanIndex, loanIndex)
		assert.True(t, pool.DepositIndex.GreaterThanOrEqual(ONE))
		assert.True(t, pool.LoanIndex.GreaterThanOrEqual(ONE))
		depositIndex, loanIndex = pool.DepositIndex, pool.LoanIndex
	}

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	check()
	shares, err := pool.BorrowVariable(log, 10, d("600"))
	require.NoError(t, err)
	check()
	require.NoError(t, pool.BorrowStable(log, 500, d("100"), d("0.05")))
	check()
	_, _, err = pool.RepayVariable(log, 5000, d("300"), shares, nil)
	require.NoError(t, err)
	check()
	_, err = pool.AddLiquidity(log, 20000, d("12.34567891"))
	require.NoError(t, err)
	check()
	pool.UpdateIndex(log, 20000+EPOCHS_PER_YEAR)
	check()
}

func TestPoolLiquidityRoundTrip(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	_, err = pool.BorrowVariable(log, 0, d("500"))
	require.NoError(t, err)

	now := int64(EPOCHS_PER_YEAR / 3)
	amount := d("123.45678901")
	shares, err := pool.AddLiquidity(log, now, amount)
	require.NoError(t, err)
	assert.True(t, pool.DepositIndex.GreaterThan(ONE))

	redeemed, err := pool.RemoveLiquidity(log, now, shares)
	require.NoError(t, err)
	assert.True(t, redeemed.LessThanOrEqual(amount), "redeemed %s > deposited %s", redeemed, amount)
	assert.True(t, redeemed.GreaterThan(amount.Sub(d("0.00000002"))), "redeemed %s", redeemed)
}

func TestPoolLiquidityErrors(t *testing.T) {
	log := testLog()

	t.Run("zero deposit", func(t *testing.T) {
		pool := newTestPool(t, "USD", DefaultPoolConfig())
		_, err := pool.AddLiquidity(log, 0, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("dust deposit", func(t *testing.T) {
		pool := newTestPool(t, "USD", DefaultPoolConfig())
		pool.ShareDivisibility = 2
		_, err := pool.AddLiquidity(log, 0, d("0.001"))
		assert.ErrorIs(t, err, ErrDustAmount)
	})

	t.Run("redeem more shares than minted", func(t *testing.T) {
		pool := newTestPool(t, "USD", DefaultPoolConfig())
		_, err := pool.AddLiquidity(log, 0, d("10"))
		require.NoError(t, err)
		_, err = pool.RemoveLiquidity(log, 0, d("11"))
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("withdraw lent out liquidity", func(t *testing.T) {
		pool := newTestPool(t, "USD", DefaultPoolConfig())
		shares, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		_, err = pool.BorrowVariable(log, 0, d("900"))
		require.NoError(t, err)
		_, err = pool.RemoveLiquidity(log, 0, shares)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("borrow more than vault", func(t *testing.T) {
		pool := newTestPool(t, "USD", DefaultPoolConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		_, err = pool.BorrowVariable(log, 0, d("1000.00000001"))
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
		assert.ErrorIs(t, pool.BorrowStable(log, 0, d("2000"), d("0.05")), ErrInsufficientLiquidity)
	})
}

func TestPoolStableWeightedRate(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	require.NoError(t, pool.BorrowStable(log, 0, d("100"), d("0.05")))
	require.NoError(t, pool.BorrowStable(log, 0, d("50"), d("0.08")))

	assertDecimal(t, "150", pool.StableAmount)
	assertDecimal(t, "0.06", pool.StableRate)
	assertDecimal(t, "850", pool.Vault)
}

func TestPoolRepayVariable(t *testing.T) {
	log := testLog()
	setup := func(t *testing.T) (*Pool, decimal.Decimal) {
		pool := newTestPool(t, "USD", yearlyConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		shares, err := pool.BorrowVariable(log, 0, d("500"))
		require.NoError(t, err)
		return pool, shares
	}

	t.Run("partial", func(t *testing.T) {
		pool, shares := setup(t)
		consumed, retired, err := pool.RepayVariable(log, 1, d("100"), shares, nil)
		require.NoError(t, err)
		assertDecimal(t, "100", consumed)
		assert.True(t, retired.Mul(pool.LoanIndex).LessThanOrEqual(d("100")), "retired %s overvalued", retired)
		assert.True(t, pool.VariableShareQuantity.Equal(shares.Sub(retired)))
	})

	t.Run("full", func(t *testing.T) {
		pool, shares := setup(t)
		consumed, retired, err := pool.RepayVariable(log, 1, d("1000"), shares, nil)
		require.NoError(t, err)
		// ceil(500 * 1.225)
		assertDecimal(t, "612.5", consumed)
		assertDecimal(t, "500", retired)
		assertDecimal(t, "0", pool.VariableShareQuantity)
		assertDecimal(t, "1112.5", pool.Vault)
	})

	t.Run("capped", func(t *testing.T) {
		pool, shares := setup(t)
		limit := d("50")
		consumed, _, err := pool.RepayVariable(log, 1, d("1000"), shares, &limit)
		require.NoError(t, err)
		assertDecimal(t, "50", consumed)
	})
}

func TestPoolRepayStable(t *testing.T) {
	log := testLog()
	principal, rate := d("100"), d("0.05")
	setup := func(t *testing.T) *Pool {
		pool := newTestPool(t, "USD", yearlyConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		require.NoError(t, pool.BorrowStable(log, 0, principal, rate))
		return pool
	}

	t.Run("shortfall is capitalized", func(t *testing.T) {
		pool := setup(t)
		result, err := pool.RepayStable(log, 1, d("2"), principal, rate, 0, nil)
		require.NoError(t, err)
		assertDecimal(t, "2", result.Consumed)
		assertDecimal(t, "5", result.Interest)
		assertDecimal(t, "-3", result.PrincipalDelta)
		assertDecimal(t, "103", pool.StableAmount)
		assertDecimal(t, "0.05", pool.StableRate)
		assert.Equal(t, int64(1), result.Epoch)
	})

	t.Run("interest first then principal", func(t *testing.T) {
		pool := setup(t)
		result, err := pool.RepayStable(log, 1, d("55"), principal, rate, 0, nil)
		require.NoError(t, err)
		assertDecimal(t, "55", result.Consumed)
		assertDecimal(t, "50", result.PrincipalDelta)
		assertDecimal(t, "50", pool.StableAmount)
		assertDecimal(t, "0.05", pool.StableRate)
	})

	t.Run("overpayment stops at the debt", func(t *testing.T) {
		pool := setup(t)
		result, err := pool.RepayStable(log, 1, d("200"), principal, rate, 0, nil)
		require.NoError(t, err)
		assertDecimal(t, "105", result.Consumed)
		assertDecimal(t, "100", result.PrincipalDelta)
		assertDecimal(t, "0", pool.StableAmount)
		assertDecimal(t, "0", pool.StableRate)
	})
}

func TestPoolCapitalizeStableInterest(t *testing.T) {
	pool := newTestPool(t, "USD", DefaultPoolConfig())
	pool.StableAmount = d("100")
	pool.StableRate = d("0.05")

	pool.CapitalizeStableInterest(d("50"), d("0.08"))
	assertDecimal(t, "150", pool.StableAmount)
	assertDecimal(t, "0.06", pool.StableRate)

	pool.CapitalizeStableInterest(decimal.Zero, d("1"))
	assertDecimal(t, "150", pool.StableAmount)
}

func TestPoolWithdrawInsurance(t *testing.T) {
	pool := newTestPool(t, "USD", yearlyConfig())
	log := testLog()

	_, err := pool.AddLiquidity(log, 0, d("1000"))
	require.NoError(t, err)
	_, err = pool.BorrowVariable(log, 0, d("500"))
	require.NoError(t, err)
	pool.UpdateIndex(log, 1)

	taken, err := pool.WithdrawInsurance(log, d("5"))
	require.NoError(t, err)
	assertDecimal(t, "5", taken)
	assertDecimal(t, "6.25", pool.InsuranceBalance)
	assertDecimal(t, "495", pool.Vault)

	_, err = pool.WithdrawInsurance(log, d("20"))
	assert.ErrorIs(t, err, ErrInsufficientInsurance)
}

func TestPoolFlashloan(t *testing.T) {
	log := testLog()

	t.Run("fee split", func(t *testing.T) {
		pool := newTestPool(t, "USD", yearlyConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)

		loan, err := pool.BorrowFlashloan(d("100"))
		require.NoError(t, err)
		assertDecimal(t, "0.1", loan.Fee)
		assertDecimal(t, "900", pool.Vault)

		refund, err := pool.RepayFlashloan(log, 0, d("150"), loan)
		require.NoError(t, err)
		assertDecimal(t, "49.9", refund)
		assertDecimal(t, "1000.1", pool.Vault)
		assertDecimal(t, "0.01", pool.InsuranceBalance)
		// 1 + 0.09/1000
		assertDecimal(t, "1.00009", pool.DepositIndex)
	})

	t.Run("underpaid", func(t *testing.T) {
		pool := newTestPool(t, "USD", yearlyConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		loan, err := pool.BorrowFlashloan(d("100"))
		require.NoError(t, err)
		_, err = pool.RepayFlashloan(log, 0, d("100"), loan)
		assert.ErrorIs(t, err, ErrInsufficientRepayment)
	})

	t.Run("wrong pool", func(t *testing.T) {
		pool := newTestPool(t, "USD", yearlyConfig())
		other := newTestPool(t, "BTC", yearlyConfig())
		_, err := pool.AddLiquidity(log, 0, d("1000"))
		require.NoError(t, err)
		loan, err := pool.BorrowFlashloan(d("100"))
		require.NoError(t, err)
		_, err = other.RepayFlashloan(log, 0, d("200"), loan)
		assert.ErrorIs(t, err, ErrResourceMismatch)
	})

	t.Run("more than vault", func(t *testing.T) {
		pool := newTestPool(t, "USD", yearlyConfig())
		_, err := pool.BorrowFlashloan(d("1"))
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PoolConfig)
		err    error
	}{
		{"default", func(c *PoolConfig) {}, nil},
		{"ltv above threshold", func(c *PoolConfig) { c.LTV = d("0.9") }, ErrInvalidRiskParams},
		{"negative bonus", func(c *PoolConfig) { c.LiquidationBonus = d("-0.1") }, ErrInvalidRiskParams},
		{"insurance over one", func(c *PoolConfig) { c.InsuranceRatio = d("1.5") }, InvalidConfig},
		{"no epochs", func(c *PoolConfig) { c.EpochsPerYear = 0 }, InvalidConfig},
		{"bad model", func(c *PoolConfig) { c.StableBaseRate = d("-1") }, ErrInvalidInterestRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultPoolConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
