package core

import (
	"context"
	"sync"

	"github.com/DomeLiquid/lending/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Protocol owns every pool and position and routes all mutations through
// transactions. Reads project accrual on copies and never mutate.
type Protocol struct {
	Id        uuid.UUID
	Name      string
	Reference string

	mu          sync.RWMutex
	version     uint64
	pools       map[uuid.UUID]*Pool
	poolByAsset map[string]uuid.UUID
	poolByShare map[string]uuid.UUID
	positions   map[uuid.UUID]*Position
	positionSeq uint64

	clk          clock.Clock
	log          Log
	store        Store
	observer     Observer
	priceFeed    PriceFeed
	epochSeconds int64
	closeFactor  decimal.Decimal
}

type ProtocolOption func(p *Protocol)

func WithClock(clk clock.Clock) ProtocolOption {
	return func(p *Protocol) {
		p.clk = clk
	}
}

func WithLogger(log Log) ProtocolOption {
	return func(p *Protocol) {
		p.log = log
	}
}

func WithStore(store Store) ProtocolOption {
	return func(p *Protocol) {
		p.store = store
	}
}

func WithMetrics(observer Observer) ProtocolOption {
	return func(p *Protocol) {
		p.observer = observer
	}
}

func WithPriceFeed(feed PriceFeed) ProtocolOption {
	return func(p *Protocol) {
		p.priceFeed = feed
	}
}

func WithEpochSeconds(seconds int64) ProtocolOption {
	return func(p *Protocol) {
		if seconds > 0 {
			p.epochSeconds = seconds
		}
	}
}

func WithCloseFactor(closeFactor decimal.Decimal) ProtocolOption {
	return func(p *Protocol) {
		p.closeFactor = closeFactor
	}
}

func NewProtocol(name, reference string, opts ...ProtocolOption) *Protocol {
	nop := zerolog.Nop()
	p := &Protocol{
		Id:           utils.MustUuidFromStrings("protocol", name),
		Name:         name,
		Reference:    reference,
		pools:        map[uuid.UUID]*Pool{},
		poolByAsset:  map[string]uuid.UUID{},
		poolByShare:  map[string]uuid.UUID{},
		positions:    map[uuid.UUID]*Position{},
		clk:          clock.New(),
		log:          &nop,
		epochSeconds: EPOCH_SECONDS,
		closeFactor:  DEFAULT_CLOSE_FACTOR,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.priceFeed == nil {
		p.priceFeed = NewStaticPriceFeed(reference)
	}
	return p
}

// Epoch is the accrual clock: wall seconds divided by the epoch length.
func (p *Protocol) Epoch() int64 {
	return p.clk.Now().Unix() / p.epochSeconds
}

func (p *Protocol) PriceFeed() PriceFeed {
	return p.priceFeed
}

// Restore loads every pool and position of this protocol from the store,
// replacing the in-memory state.
func (p *Protocol) Restore(ctx context.Context) error {
	if p.store == nil {
		return errors.Wrap(InvalidConfig, "restore without a store")
	}

	pools, err := p.store.ListPools(ctx, p.Id)
	if err != nil {
		return errors.Wrap(err, "list pools")
	}
	positions, err := p.store.ListPositions(ctx, p.Id)
	if err != nil {
		return errors.Wrap(err, "list positions")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pools = make(map[uuid.UUID]*Pool, len(pools))
	p.poolByAsset = make(map[string]uuid.UUID, len(pools))
	p.poolByShare = make(map[string]uuid.UUID, len(pools))
	for _, pool := range pools {
		p.pools[pool.Id] = pool
		p.poolByAsset[pool.Asset] = pool.Id
		p.poolByShare[pool.ShareAsset] = pool.Id
	}

	p.positions = make(map[uuid.UUID]*Position, len(positions))
	p.positionSeq = 0
	for _, position := range positions {
		p.positions[position.Id] = position
		if position.Number > p.positionSeq {
			p.positionSeq = position.Number
		}
	}
	p.version++

	p.log.Info().Msgf("protocol %s: restored %d pools, %d positions", p.Name, len(pools), len(positions))
	return nil
}

// Execute runs fn in a transaction and commits it. Any error from fn rolls
// the transaction back.
func (p *Protocol) Execute(ctx context.Context, fn func(tx *Tx) error) (*Receipt, error) {
	tx := p.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx.Commit(ctx)
}

func (p *Protocol) Pool(poolId uuid.UUID) (*Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pool, ok := p.pools[poolId]
	if !ok {
		return nil, errors.Wrapf(ErrPoolNotFound, "pool %s", poolId)
	}
	return p.project(pool), nil
}

func (p *Protocol) PoolByAsset(asset string) (*Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	poolId, ok := p.poolByAsset[asset]
	if !ok {
		return nil, errors.Wrapf(ErrPoolNotFound, "asset %s", asset)
	}
	return p.project(p.pools[poolId]), nil
}

func (p *Protocol) Pools() []*Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pools := make([]*Pool, 0, len(p.pools))
	for _, pool := range p.pools {
		pools = append(pools, p.project(pool))
	}
	return pools
}

func (p *Protocol) Position(positionId uuid.UUID) (*Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	position, ok := p.positions[positionId]
	if !ok {
		return nil, errors.Wrapf(ErrPositionNotFound, "position %s", positionId)
	}
	return position.Clone(), nil
}

// CurrentIndex projects the (deposit, loan) index of the asset's pool to now.
func (p *Protocol) CurrentIndex(asset string) (decimal.Decimal, decimal.Decimal, error) {
	pool, err := p.PoolByAsset(asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return pool.DepositIndex, pool.LoanIndex, nil
}

// InterestRate returns the (variable, stable quote, deposit) rates of the asset's pool.
func (p *Protocol) InterestRate(asset string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	pool, err := p.PoolByAsset(asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	variable, stable, deposit := pool.InterestRate(p.Epoch(), decimal.Zero)
	return variable, stable, deposit, nil
}

// BorrowingPower is how much of borrowAsset collateralShares of the
// collateral asset's pool can back. Unusable prices give zero.
func (p *Protocol) BorrowingPower(collateralAsset string, collateralShares decimal.Decimal, borrowAsset string) (decimal.Decimal, error) {
	collateralPool, err := p.PoolByAsset(collateralAsset)
	if err != nil {
		return decimal.Zero, err
	}
	borrowPool, err := p.PoolByAsset(borrowAsset)
	if err != nil {
		return decimal.Zero, err
	}
	return NewRiskEngine(p.priceFeed, nil, collateralPool, borrowPool, p.Epoch()).BorrowingPower(collateralShares), nil
}

func (p *Protocol) HealthFactor(positionId uuid.UUID) (decimal.Decimal, error) {
	position, err := p.Position(positionId)
	if err != nil {
		return decimal.Zero, err
	}
	collateralPool, err := p.Pool(position.CollateralPoolId)
	if err != nil {
		return decimal.Zero, err
	}
	borrowPool, err := p.Pool(position.BorrowPoolId)
	if err != nil {
		return decimal.Zero, err
	}
	return NewRiskEngine(p.priceFeed, position, collateralPool, borrowPool, p.Epoch()).GetHealthFactor(Maintenance)
}

// project returns a copy of pool accrued to the current epoch.
func (p *Protocol) project(pool *Pool) *Pool {
	clone := pool.Clone()
	clone.UpdateIndex(p.log, p.Epoch())
	return clone
}
