package analytics

import (
	"encoding/json"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
)

// TradeEvent 一次交易尝试的结果
type TradeEvent struct {
	Direction chain.Direction
	// NativeVolume 以原生币计的成交量
	NativeVolume decimal.Decimal
	// FiatPrice 原生币法币价格, 未知时为 0
	FiatPrice decimal.Decimal
	Slippage  decimal.Decimal
	Fee       decimal.Decimal
	Success   bool
	Latency   time.Duration
	Time      time.Time
}

// Bucket 按分钟聚合的成交量
type Bucket struct {
	Start  time.Time       `json:"start"`
	Native decimal.Decimal `json:"native"`
	Fiat   decimal.Decimal `json:"fiat"`
	Trades int             `json:"trades"`
}

// ========== 指标快照 ==========

// Snapshot 会话指标的只读副本
type Snapshot struct {
	Session     SessionInfo             `json:"session"`
	Volume      VolumeMetrics           `json:"volume"`
	Performance PerformanceMetrics      `json:"performance"`
	Wallets     WalletMetrics           `json:"wallets"`
	Errors      map[chain.ErrorKind]int `json:"errors"`
	Timing      TimingMetrics           `json:"timing"`
	History     []Bucket                `json:"volume_history"`
}

func (s Snapshot) String() string {
	res, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(res)
}

type SessionInfo struct {
	ID        string     `json:"id"`
	Strategy  string     `json:"strategy"`
	Status    string     `json:"status"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// VolumeMetrics 成交量, 只统计成功的交易
type VolumeMetrics struct {
	TotalNative decimal.Decimal `json:"total_native"`
	TotalFiat   decimal.Decimal `json:"total_fiat"`
	BuyNative   decimal.Decimal `json:"buy_native"`
	SellNative  decimal.Decimal `json:"sell_native"`
	HourlyFiat  decimal.Decimal `json:"hourly_fiat"`
	DailyFiat   decimal.Decimal `json:"daily_fiat"`
}

// PerformanceMetrics 交易统计
type PerformanceMetrics struct {
	Transactions    int             `json:"transactions"`
	Successful      int             `json:"successful"`
	Failed          int             `json:"failed"`
	SuccessfulBuys  int             `json:"successful_buys"`
	FailedBuys      int             `json:"failed_buys"`
	SuccessfulSells int             `json:"successful_sells"`
	FailedSells     int             `json:"failed_sells"`
	SuccessRate     decimal.Decimal `json:"success_rate"` // 百分比
	AverageSlippage decimal.Decimal `json:"average_slippage"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
}

// WalletMetrics 最近一次观察到的钱包余额
type WalletMetrics struct {
	Total            int             `json:"total"`
	Active           int             `json:"active"`
	NativeBalance    decimal.Decimal `json:"native_balance"`
	TokenBalance     decimal.Decimal `json:"token_balance"`
	AveragePerWallet decimal.Decimal `json:"average_per_wallet"`
}

// WalletObservation 单个钱包的余额观察值
type WalletObservation struct {
	Native     decimal.Decimal `json:"native"`
	Token      decimal.Decimal `json:"token"`
	ObservedAt time.Time       `json:"observed_at"`
}

type TimingMetrics struct {
	AverageLatency time.Duration `json:"average_latency"`
	Uptime         time.Duration `json:"uptime"`
	LastUpdate     time.Time     `json:"last_update"`
}
