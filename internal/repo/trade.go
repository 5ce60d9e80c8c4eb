package repo

import (
	"context"

	"github.com/KNICEX/volume-agent/internal/entity"
	"gorm.io/gorm"
)

type TradeRepo interface {
	Create(ctx context.Context, trade entity.Trade) error
	// FindRecent 按创建时间倒序
	FindRecent(ctx context.Context, sessionID string, limit int) ([]entity.Trade, error)
}

type tradeRepo struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) TradeRepo {
	return &tradeRepo{
		db: db,
	}
}

func (r *tradeRepo) Create(ctx context.Context, trade entity.Trade) error {
	return r.db.WithContext(ctx).Create(&trade).Error
}

func (r *tradeRepo) FindRecent(ctx context.Context, sessionID string, limit int) ([]entity.Trade, error) {
	var trades []entity.Trade
	query := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

type FeeRepo interface {
	Create(ctx context.Context, collection entity.FeeCollection) (int64, error)
	FindByUser(ctx context.Context, userID string) ([]entity.FeeCollection, error)
}

type feeRepo struct {
	db *gorm.DB
}

func NewFeeRepo(db *gorm.DB) FeeRepo {
	return &feeRepo{
		db: db,
	}
}

func (r *feeRepo) Create(ctx context.Context, collection entity.FeeCollection) (int64, error) {
	err := r.db.WithContext(ctx).Create(&collection).Error
	if err != nil {
		return 0, err
	}
	return collection.Id, nil
}

func (r *feeRepo) FindByUser(ctx context.Context, userID string) ([]entity.FeeCollection, error) {
	var collections []entity.FeeCollection
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&collections).Error
	if err != nil {
		return nil, err
	}
	return collections, nil
}
