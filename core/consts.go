package core

import (
	"github.com/shopspring/decimal"
)

const (
	SECONDS_PER_YEAR = 31_536_000

	// EPOCHS_PER_YEAR is the default number of accrual epochs in a year.
	EPOCHS_PER_YEAR = 15017
	EPOCH_SECONDS   = SECONDS_PER_YEAR / EPOCHS_PER_YEAR

	// INDEX_PRECISION bounds the digits kept on projected indices.
	INDEX_PRECISION = 18

	DEFAULT_SHARE_DIVISIBILITY = 18
)

var (
	ONE               = decimal.NewFromInt(1)
	MAX_HEALTH_FACTOR = decimal.NewFromInt(1_000_000_000)

	DEFAULT_CLOSE_FACTOR     = decimal.NewFromFloat(0.5)
	DEFAULT_STABLE_BASE_RATE = decimal.NewFromFloat(0.05)
)
