package entity

import (
	"time"
)

// Session 交易会话持久化快照
type Session struct {
	Id           string `gorm:"primaryKey;size:36"`
	Owner        string `gorm:"index"`
	TokenAddress string `gorm:"index"`
	TokenName    string
	TokenSymbol  string
	Strategy     string
	Status       string `gorm:"index"`
	AdminAddress string
	WalletCount  int
	Routing      string // json
	Config       string // json
	Cycles       int
	LastError    string
	StartTime    *time.Time
	EndTime      *time.Time
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}
