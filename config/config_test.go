package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DomeLiquid/lending/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[log]
level = "debug"

[protocol]
name = "test"
reference_asset = "4d8c508b-91c5-375b-92b0-ee702ed2dac5"
close_factor = "0.4"

[[pools]]
asset_id = "4d8c508b-91c5-375b-92b0-ee702ed2dac5"
symbol = "USD"
ltv = "0.75"
liquidation_threshold = "0.85"

[[pools]]
asset_id = "43d61dcd-e413-450d-80b8-101d5e903357"
symbol = "ETH"
precision = 8
ltv = "0.6"
curve = "stable"
stable_strategy = "utilization"
stable_base_rate = "0.02"
optimal_stable_ratio = "0.2"
stable_ratio_premium = "0.1"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "test", cfg.Protocol.Name)
	assert.Equal(t, int64(core.EPOCH_SECONDS), cfg.Protocol.EpochSeconds)
	assert.Equal(t, "0.4", cfg.Protocol.CloseFactor.String())
	require.Len(t, cfg.Pools, 2)

	usd := cfg.Pools[0]
	assert.Equal(t, int32(8), usd.Precision)
	assert.Equal(t, "0.85", usd.LiquidationThreshold.String())
	assert.Equal(t, "0.1", usd.LiquidationBonus.String())
	assert.Equal(t, uint64(core.EPOCHS_PER_YEAR), usd.EpochsPerYear)

	eth, err := cfg.Pools[1].CoreConfig()
	require.NoError(t, err)
	assert.Equal(t, core.CurveStable, eth.Curve)
	assert.Equal(t, core.StableRateUtilization, eth.StableStrategy)
	assert.Equal(t, "0.02", eth.StableBaseRate.String())
	assert.Equal(t, "0.8", eth.LiquidationThreshold.String())
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lending", cfg.Protocol.Name)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unknown key", testConfig + "\n[extra]\nkey = 1\n"},
		{"bad decimal", "[protocol]\nname = \"x\"\nreference_asset = \"r\"\nclose_factor = \"half\"\n"},
		{"no reference", "[protocol]\nname = \"x\"\n"},
		{"close factor above one", "[protocol]\nname = \"x\"\nreference_asset = \"r\"\nclose_factor = \"1.5\"\n"},
		{"bad log level", "[log]\nlevel = \"loud\"\n[protocol]\nname = \"x\"\nreference_asset = \"r\"\n"},
		{"ltv above threshold", "[protocol]\nname = \"x\"\nreference_asset = \"r\"\n[[pools]]\nasset_id = \"a\"\nltv = \"0.9\"\n"},
		{"unknown curve", "[protocol]\nname = \"x\"\nreference_asset = \"r\"\n[[pools]]\nasset_id = \"a\"\ncurve = \"cubic\"\n"},
		{"duplicate pool", "[protocol]\nname = \"x\"\nreference_asset = \"r\"\n[[pools]]\nasset_id = \"a\"\n[[pools]]\nasset_id = \"a\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestBootstrap(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	p := core.NewProtocol(cfg.Protocol.Name, cfg.Protocol.ReferenceAsset, cfg.ProtocolOptions()...)
	created, err := cfg.Bootstrap(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, created, 2)

	eth, err := p.PoolByAsset("43d61dcd-e413-450d-80b8-101d5e903357")
	require.NoError(t, err)
	assert.Equal(t, "ETH", eth.Symbol)
	assert.Equal(t, core.CurveStable, eth.Curve)

	created, err = cfg.Bootstrap(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, p.Pools(), 2)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn"}, &buf)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
