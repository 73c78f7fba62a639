package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/DomeLiquid/lending/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type (
	Config struct {
		Log      LogConfig      `toml:"log"`
		Protocol ProtocolConfig `toml:"protocol"`
		Pools    []PoolConfig   `toml:"pools"`
	}

	LogConfig struct {
		Level  string `toml:"level"`
		Pretty bool   `toml:"pretty"`
	}

	ProtocolConfig struct {
		Name           string          `toml:"name"`
		ReferenceAsset string          `toml:"reference_asset"`
		EpochSeconds   int64           `toml:"epoch_seconds"`
		CloseFactor    decimal.Decimal `toml:"close_factor"`
	}

	// PoolConfig is one [[pools]] entry. Decimals are written as strings.
	PoolConfig struct {
		AssetId   string `toml:"asset_id"`
		Symbol    string `toml:"symbol"`
		Precision int32  `toml:"precision"`

		LTV                  decimal.Decimal `toml:"ltv"`
		LiquidationThreshold decimal.Decimal `toml:"liquidation_threshold"`
		LiquidationBonus     decimal.Decimal `toml:"liquidation_bonus"`
		InsuranceRatio       decimal.Decimal `toml:"insurance_ratio"`
		FlashloanFeeRatio    decimal.Decimal `toml:"flashloan_fee_ratio"`
		EpochsPerYear        uint64          `toml:"epochs_per_year"`

		Curve              string          `toml:"curve"`
		StableStrategy     string          `toml:"stable_strategy"`
		StableBaseRate     decimal.Decimal `toml:"stable_base_rate"`
		OptimalStableRatio decimal.Decimal `toml:"optimal_stable_ratio"`
		StableRatioPremium decimal.Decimal `toml:"stable_ratio_premium"`
	}
)

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Protocol: ProtocolConfig{
			Name:         "lending",
			EpochSeconds: core.EPOCH_SECONDS,
			CloseFactor:  core.DEFAULT_CLOSE_FACTOR,
		},
		Pools: []PoolConfig{},
	}
}

// Load reads the configuration at path. A missing file is created with the
// defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, errors.Wrapf(core.InvalidConfig, "unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create config")
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// fillDefaults gives zero-valued pool fields the engine defaults. A zero ltv
// is kept: such an asset can be supplied but not borrowed against.
func (c *Config) fillDefaults() {
	if c.Protocol.EpochSeconds == 0 {
		c.Protocol.EpochSeconds = core.EPOCH_SECONDS
	}
	if c.Protocol.CloseFactor.IsZero() {
		c.Protocol.CloseFactor = core.DEFAULT_CLOSE_FACTOR
	}

	def := core.DefaultPoolConfig()
	for i := range c.Pools {
		pc := &c.Pools[i]
		if pc.Precision == 0 {
			pc.Precision = 8
		}
		if pc.LiquidationThreshold.IsZero() {
			pc.LiquidationThreshold = def.LiquidationThreshold
		}
		if pc.LiquidationBonus.IsZero() {
			pc.LiquidationBonus = def.LiquidationBonus
		}
		if pc.InsuranceRatio.IsZero() {
			pc.InsuranceRatio = def.InsuranceRatio
		}
		if pc.FlashloanFeeRatio.IsZero() {
			pc.FlashloanFeeRatio = def.FlashloanFeeRatio
		}
		if pc.EpochsPerYear == 0 {
			pc.EpochsPerYear = def.EpochsPerYear
		}
		if pc.StableBaseRate.IsZero() {
			pc.StableBaseRate = def.StableBaseRate
		}
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Protocol.Name) == "" {
		return errors.Wrap(core.InvalidConfig, "protocol name is empty")
	}
	if c.Protocol.ReferenceAsset == "" {
		return errors.Wrap(core.InvalidConfig, "reference asset is empty")
	}
	if c.Protocol.EpochSeconds <= 0 {
		return errors.Wrapf(core.InvalidConfig, "epoch seconds %d", c.Protocol.EpochSeconds)
	}
	if !c.Protocol.CloseFactor.IsPositive() || c.Protocol.CloseFactor.GreaterThan(core.ONE) {
		return errors.Wrapf(core.InvalidConfig, "close factor %s", c.Protocol.CloseFactor)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(core.InvalidConfig, "log level %q", c.Log.Level)
	}

	seen := map[string]bool{}
	for _, pc := range c.Pools {
		if pc.AssetId == "" {
			return errors.Wrapf(core.InvalidConfig, "pool %s has no asset id", pc.Symbol)
		}
		if seen[pc.AssetId] {
			return errors.Wrapf(core.InvalidConfig, "duplicate pool for %s", pc.AssetId)
		}
		seen[pc.AssetId] = true

		poolConfig, err := pc.CoreConfig()
		if err != nil {
			return err
		}
		if err := poolConfig.Validate(); err != nil {
			return errors.Wrapf(err, "pool %s", pc.Symbol)
		}
	}
	return nil
}

func (pc PoolConfig) Asset() *core.Asset {
	return core.NewAsset(pc.AssetId, pc.Symbol, pc.Precision)
}

func (pc PoolConfig) CoreConfig() (core.PoolConfig, error) {
	curve, ok := core.ParseCurveKind(pc.Curve)
	if !ok {
		return core.PoolConfig{}, errors.Wrapf(core.InvalidConfig, "pool %s: unknown curve %q", pc.Symbol, pc.Curve)
	}
	strategy, ok := core.ParseStableRateKind(pc.StableStrategy)
	if !ok {
		return core.PoolConfig{}, errors.Wrapf(core.InvalidConfig, "pool %s: unknown stable strategy %q", pc.Symbol, pc.StableStrategy)
	}

	return core.PoolConfig{
		LTV:                  pc.LTV,
		LiquidationThreshold: pc.LiquidationThreshold,
		LiquidationBonus:     pc.LiquidationBonus,
		InsuranceRatio:       pc.InsuranceRatio,
		FlashloanFeeRatio:    pc.FlashloanFeeRatio,
		EpochsPerYear:        pc.EpochsPerYear,
		InterestModel: core.InterestModel{
			Curve:              curve,
			StableStrategy:     strategy,
			StableBaseRate:     pc.StableBaseRate,
			OptimalStableRatio: pc.OptimalStableRatio,
			StableRatioPremium: pc.StableRatioPremium,
		},
	}, nil
}

// ProtocolOptions are the core options the [protocol] section sets.
func (c *Config) ProtocolOptions() []core.ProtocolOption {
	return []core.ProtocolOption{
		core.WithEpochSeconds(c.Protocol.EpochSeconds),
		core.WithCloseFactor(c.Protocol.CloseFactor),
	}
}

// Bootstrap creates, in one transaction, every configured pool the protocol
// does not have yet. It returns the pools it created.
func (c *Config) Bootstrap(ctx context.Context, p *core.Protocol) ([]*core.Pool, error) {
	var missing []PoolConfig
	for _, pc := range c.Pools {
		if _, err := p.PoolByAsset(pc.AssetId); errors.Is(err, core.ErrPoolNotFound) {
			missing = append(missing, pc)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	created := make([]*core.Pool, 0, len(missing))
	_, err := p.Execute(ctx, func(tx *core.Tx) error {
		for _, pc := range missing {
			poolConfig, err := pc.CoreConfig()
			if err != nil {
				return err
			}
			pool, err := tx.NewPool(pc.Asset(), poolConfig)
			if err != nil {
				return err
			}
			created = append(created, pool)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// NewLogger builds the zerolog logger the [log] section describes.
func NewLogger(cfg LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
