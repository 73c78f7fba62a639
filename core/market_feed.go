package core

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MarketAssetInfo is one coin of a market price snapshot, as served by the
// Mixin route market api. CurrentPrice is in USD and AssetIDS lists every
// custody asset that tracks the coin.
type MarketAssetInfo struct {
	CoinID       string          `json:"coin_id"`
	Name         string          `json:"name"`
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	AssetIDS     []string        `json:"asset_ids"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type marketQuote struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// MarketPriceFeed prices assets from market snapshots, relative to the
// reference asset's own USD price. Quotes older than maxAge are refused.
type MarketPriceFeed struct {
	reference string
	maxAge    time.Duration
	clk       clock.Clock

	mu     sync.RWMutex
	quotes map[string]marketQuote
}

func NewMarketPriceFeed(clk clock.Clock, reference string, maxAge time.Duration) *MarketPriceFeed {
	return &MarketPriceFeed{
		reference: reference,
		maxAge:    maxAge,
		clk:       clk,
		quotes:    map[string]marketQuote{},
	}
}

// Update records the coins' prices under every asset id they list. Entries
// without a positive price are skipped and keep their previous quote.
func (f *MarketPriceFeed) Update(infos ...*MarketAssetInfo) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := 0
	for _, info := range infos {
		if info == nil || !info.CurrentPrice.IsPositive() {
			continue
		}
		for _, assetId := range info.AssetIDS {
			if prev, ok := f.quotes[assetId]; ok && prev.updatedAt.After(info.UpdatedAt) {
				continue
			}
			f.quotes[assetId] = marketQuote{price: info.CurrentPrice, updatedAt: info.UpdatedAt}
			updated++
		}
	}
	return updated
}

func (f *MarketPriceFeed) usdPrice(assetId string) (decimal.Decimal, error) {
	f.mu.RLock()
	quote, ok := f.quotes[assetId]
	f.mu.RUnlock()

	if !ok {
		return decimal.Zero, errors.Wrapf(ErrInvalidPriceInput, "no market price for %s", assetId)
	}
	if f.maxAge > 0 && f.clk.Now().Sub(quote.updatedAt) > f.maxAge {
		return decimal.Zero, errors.Wrapf(ErrInvalidPriceInput, "market price for %s is stale since %s", assetId, quote.updatedAt)
	}
	return quote.price, nil
}

func (f *MarketPriceFeed) PriceInReference(assetId string) (decimal.Decimal, error) {
	if assetId == f.reference {
		return ONE, nil
	}
	price, err := f.usdPrice(assetId)
	if err != nil {
		return decimal.Zero, err
	}
	reference, err := f.usdPrice(f.reference)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Div(reference), nil
}
