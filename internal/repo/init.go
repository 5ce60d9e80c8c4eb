package repo

import (
	"errors"

	"github.com/KNICEX/volume-agent/internal/entity"
	"gorm.io/gorm"
)

var ErrRecordNotFound = gorm.ErrRecordNotFound

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Session{}, &entity.Trade{}, &entity.FeeCollection{})
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
