package entity

import (
	"time"
)

// Trade 单次交易尝试
type Trade struct {
	Id            string `gorm:"primaryKey;size:36"`
	SessionId     string `gorm:"index"`
	WalletNumber  int
	WalletAddress string
	Direction     string
	Amount        string
	TokenAmount   string
	Price         string
	Slippage      string
	Fee           string
	TxId          string
	Status        int    `gorm:"index"` // 0:pending, 1:success, 2:failed
	ErrorKind     string `gorm:"index"`
	Error         string
	LatencyMs     int64
	CreatedAt     time.Time `gorm:"index"`
	FinishedAt    time.Time
}

const (
	TradeStatusPending = 0
	TradeStatusSuccess = 1
	TradeStatusFailed  = 2
)

// FeeCollection 手续费转账记录
type FeeCollection struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	UserId    string `gorm:"index"`
	TxId      string
	Amount    string
	Status    string    `gorm:"index"` // collected / failed
	CreatedAt time.Time `gorm:"index"`
}

const (
	FeeStatusCollected = "collected"
	FeeStatusFailed    = "failed"
)
