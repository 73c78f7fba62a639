package core

import (
	"context"

	"github.com/fox-one/mixin-sdk-go/v2"
	"github.com/shopspring/decimal"
)

type (
	AssetStore interface {
		GetAsset(ctx context.Context, assetId string) (*Asset, error)
		ListAllAssets(ctx context.Context) ([]*Asset, error)
		UpsertAsset(ctx context.Context, asset *Asset) error
	}

	// Asset is the custody-side description of a fungible token. Precision is
	// the number of decimal places the custody layer can settle.
	Asset struct {
		AssetID   string          `json:"assetId"`
		ChainID   string          `json:"chainId,omitempty"`
		Symbol    string          `json:"symbol"`
		Name      string          `json:"name,omitempty"`
		Precision int32           `json:"precision"`
		Dust      decimal.Decimal `json:"dust"`
	}
)

func NewAssetFromMixin(asset *mixin.SafeAsset) *Asset {
	return &Asset{
		AssetID:   asset.AssetID,
		ChainID:   asset.ChainID,
		Symbol:    asset.Symbol,
		Name:      asset.Name,
		Precision: asset.Precision,
		Dust:      asset.Dust,
	}
}

func NewAsset(assetId, symbol string, precision int32) *Asset {
	return &Asset{
		AssetID:   assetId,
		Symbol:    symbol,
		Precision: precision,
		Dust:      decimal.Zero,
	}
}

// Bucket is an amount of one asset presented to, or released by, the engine.
type Bucket struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func NewBucket(asset string, amount decimal.Decimal) Bucket {
	return Bucket{Asset: asset, Amount: amount}
}
