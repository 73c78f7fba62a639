package store

import (
	"context"
	"encoding/json"

	"github.com/DomeLiquid/lending/core"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type (
	// poolRow and positionRow keep the full record as JSON next to the
	// columns queries filter on.
	poolRow struct {
		Id         string `gorm:"primaryKey;size:36"`
		ProtocolId string `gorm:"index;size:36"`
		Asset      string `gorm:"index"`
		Body       string `gorm:"type:text"`
		LastUpdate int64
	}

	positionRow struct {
		Id         string `gorm:"primaryKey;size:36"`
		ProtocolId string `gorm:"index;size:36"`
		Number     uint64 `gorm:"index"`
		State      uint8
		Body       string `gorm:"type:text"`
		UpdatedAt  int64  `gorm:"autoUpdateTime:false"`
	}

	eventRow struct {
		Id         string           `gorm:"primaryKey;size:36"`
		ProtocolId string           `gorm:"index:idx_event_protocol_created;size:36"`
		PositionId string           `gorm:"index;size:36"`
		PoolId     string           `gorm:"size:36"`
		Action     uint8            `gorm:"index"`
		Detail     core.EventDetail `gorm:"type:text"`
		Epoch      int64
		CreatedAt  int64 `gorm:"index:idx_event_protocol_created;autoCreateTime:false"`
	}

	assetRow struct {
		AssetId   string `gorm:"primaryKey;size:36"`
		ChainId   string `gorm:"size:36"`
		Symbol    string
		Name      string
		Precision int32
		Dust      decimal.Decimal `gorm:"type:text"`
	}
)

func (poolRow) TableName() string     { return "pools" }
func (positionRow) TableName() string { return "positions" }
func (eventRow) TableName() string    { return "events" }
func (assetRow) TableName() string    { return "assets" }

// Store implements core.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ core.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dsn)
	}
	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) AutoMigrate() error {
	return errors.Wrap(s.db.AutoMigrate(&poolRow{}, &positionRow{}, &eventRow{}, &assetRow{}), "migrate")
}

func (s *Store) Atomic(ctx context.Context, fn func(core.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func upsert(db *gorm.DB, value any) error {
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (s *Store) UpsertPool(ctx context.Context, pool *core.Pool) error {
	body, err := json.Marshal(pool)
	if err != nil {
		return errors.Wrapf(err, "marshal pool %s", pool.Id)
	}
	return upsert(s.db.WithContext(ctx), &poolRow{
		Id:         pool.Id.String(),
		ProtocolId: pool.ProtocolId.String(),
		Asset:      pool.Asset,
		Body:       string(body),
		LastUpdate: pool.LastUpdate,
	})
}

func (r *poolRow) pool() (*core.Pool, error) {
	var pool core.Pool
	if err := json.Unmarshal([]byte(r.Body), &pool); err != nil {
		return nil, errors.Wrapf(err, "unmarshal pool %s", r.Id)
	}
	return &pool, nil
}

func (s *Store) GetPoolById(ctx context.Context, poolId uuid.UUID) (*core.Pool, error) {
	var row poolRow
	if err := s.db.WithContext(ctx).Where("id = ?", poolId.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrPoolNotFound, "pool %s", poolId)
		}
		return nil, err
	}
	return row.pool()
}

func (s *Store) ListPools(ctx context.Context, protocolId uuid.UUID) ([]*core.Pool, error) {
	var rows []*poolRow
	if err := s.db.WithContext(ctx).Where("protocol_id = ?", protocolId.String()).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	pools := make([]*core.Pool, 0, len(rows))
	for _, row := range rows {
		pool, err := row.pool()
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (s *Store) UpsertPosition(ctx context.Context, position *core.Position) error {
	body, err := json.Marshal(position)
	if err != nil {
		return errors.Wrapf(err, "marshal position %s", position.Id)
	}
	return upsert(s.db.WithContext(ctx), &positionRow{
		Id:         position.Id.String(),
		ProtocolId: position.ProtocolId.String(),
		Number:     position.Number,
		State:      uint8(position.State),
		Body:       string(body),
		UpdatedAt:  position.UpdatedAt,
	})
}

func (r *positionRow) position() (*core.Position, error) {
	var position core.Position
	if err := json.Unmarshal([]byte(r.Body), &position); err != nil {
		return nil, errors.Wrapf(err, "unmarshal position %s", r.Id)
	}
	return &position, nil
}

func (s *Store) GetPositionById(ctx context.Context, positionId uuid.UUID) (*core.Position, error) {
	var row positionRow
	if err := s.db.WithContext(ctx).Where("id = ?", positionId.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrPositionNotFound, "position %s", positionId)
		}
		return nil, err
	}
	return row.position()
}

func (s *Store) ListPositions(ctx context.Context, protocolId uuid.UUID) ([]*core.Position, error) {
	var rows []*positionRow
	if err := s.db.WithContext(ctx).Where("protocol_id = ?", protocolId.String()).Order("number").Find(&rows).Error; err != nil {
		return nil, err
	}

	positions := make([]*core.Position, 0, len(rows))
	for _, row := range rows {
		position, err := row.position()
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *core.Event) error {
	return s.db.WithContext(ctx).Create(&eventRow{
		Id:         event.Id.String(),
		ProtocolId: event.ProtocolId.String(),
		PositionId: event.PositionId.String(),
		PoolId:     event.PoolId.String(),
		Action:     uint8(event.Action),
		Detail:     event.Detail,
		Epoch:      event.Epoch,
		CreatedAt:  event.CreatedAt,
	}).Error
}

// ListEvents returns up to limit events, newest first. A zero action matches
// every action and a zero createdBeforeAt applies no upper bound.
func (s *Store) ListEvents(ctx context.Context, protocolId uuid.UUID, action core.ActionType, createdBeforeAt, limit int64) ([]*core.Event, error) {
	query := s.db.WithContext(ctx).Where("protocol_id = ?", protocolId.String())
	if action != 0 {
		query = query.Where("action = ?", uint8(action))
	}
	if createdBeforeAt > 0 {
		query = query.Where("created_at < ?", createdBeforeAt)
	}
	if limit > 0 {
		query = query.Limit(int(limit))
	}

	var rows []*eventRow
	if err := query.Order("created_at desc").Order("epoch desc").Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]*core.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, &core.Event{
			Id:         uuid.FromStringOrNil(row.Id),
			ProtocolId: uuid.FromStringOrNil(row.ProtocolId),
			PositionId: uuid.FromStringOrNil(row.PositionId),
			PoolId:     uuid.FromStringOrNil(row.PoolId),
			Action:     core.ActionType(row.Action),
			Detail:     row.Detail,
			Epoch:      row.Epoch,
			CreatedAt:  row.CreatedAt,
		})
	}
	return events, nil
}

func (s *Store) GetAsset(ctx context.Context, assetId string) (*core.Asset, error) {
	var row assetRow
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetId).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrAssetNotFound, "asset %s", assetId)
		}
		return nil, err
	}
	return row.asset(), nil
}

func (s *Store) ListAllAssets(ctx context.Context) ([]*core.Asset, error) {
	var rows []*assetRow
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]*core.Asset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, row.asset())
	}
	return assets, nil
}

func (s *Store) UpsertAsset(ctx context.Context, asset *core.Asset) error {
	return upsert(s.db.WithContext(ctx), &assetRow{
		AssetId:   asset.AssetID,
		ChainId:   asset.ChainID,
		Symbol:    asset.Symbol,
		Name:      asset.Name,
		Precision: asset.Precision,
		Dust:      asset.Dust,
	})
}

func (r *assetRow) asset() *core.Asset {
	return &core.Asset{
		AssetID:   r.AssetId,
		ChainID:   r.ChainId,
		Symbol:    r.Symbol,
		Name:      r.Name,
		Precision: r.Precision,
		Dust:      r.Dust,
	}
}
