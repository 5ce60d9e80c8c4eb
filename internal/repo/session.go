package repo

import (
	"context"

	"github.com/KNICEX/volume-agent/internal/entity"
	"gorm.io/gorm"
)

type SessionRepo interface {
	// Save 不存在则插入, 否则整行覆盖
	Save(ctx context.Context, session entity.Session) error
	FindByID(ctx context.Context, id string) (entity.Session, error)
	// FindByOwner owner 为空返回全部
	FindByOwner(ctx context.Context, owner string) ([]entity.Session, error)
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepo {
	return &sessionRepo{
		db: db,
	}
}

func (repo *sessionRepo) Save(ctx context.Context, session entity.Session) error {
	return repo.db.WithContext(ctx).Save(&session).Error
}

func (repo *sessionRepo) FindByID(ctx context.Context, id string) (entity.Session, error) {
	var session entity.Session
	err := repo.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return entity.Session{}, err
	}
	return session, nil
}

func (repo *sessionRepo) FindByOwner(ctx context.Context, owner string) ([]entity.Session, error) {
	var sessions []entity.Session
	query := repo.db.WithContext(ctx).Order("created_at desc")
	if owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
