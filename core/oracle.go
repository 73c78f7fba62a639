package core

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PriceFeed quotes an asset in the protocol's reference unit. Authenticity and
// freshness are the feed's concern; the engine only rejects non-positive prices.
type PriceFeed interface {
	PriceInReference(assetId string) (decimal.Decimal, error)
}

// StaticPriceFeed is a fixed price table. The reference asset is always 1.
type StaticPriceFeed struct {
	Reference string
	Prices    map[string]decimal.Decimal

	mu sync.RWMutex
}

func NewStaticPriceFeed(reference string) *StaticPriceFeed {
	return &StaticPriceFeed{
		Reference: reference,
		Prices:    map[string]decimal.Decimal{},
	}
}

func (f *StaticPriceFeed) Set(assetId string, price decimal.Decimal) *StaticPriceFeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prices[assetId] = price
	return f
}

func (f *StaticPriceFeed) PriceInReference(assetId string) (decimal.Decimal, error) {
	if assetId == f.Reference {
		return ONE, nil
	}
	f.mu.RLock()
	price, ok := f.Prices[assetId]
	f.mu.RUnlock()
	if !ok {
		return decimal.Zero, errors.Wrapf(ErrInvalidPriceInput, "no price for %s", assetId)
	}
	return price, nil
}

// PairPrices resolves both legs of a collateral/borrow pair through the
// reference unit. A failed leg yields a zero price, not an error, so callers
// can decide between zero borrowing power and ErrInvalidPriceInput.
func PairPrices(feed PriceFeed, collateralAsset, borrowAsset string) (collateralPrice, borrowPrice decimal.Decimal) {
	collateralPrice, err := feed.PriceInReference(collateralAsset)
	if err != nil {
		collateralPrice = decimal.Zero
	}
	borrowPrice, err = feed.PriceInReference(borrowAsset)
	if err != nil {
		borrowPrice = decimal.Zero
	}
	return collateralPrice, borrowPrice
}
