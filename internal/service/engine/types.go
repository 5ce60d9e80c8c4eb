package engine

import (
	"context"
	"time"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/service/analytics"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/fee"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/snapshot"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/shopspring/decimal"
)

type Engine interface {
	CreateSession(ctx context.Context, req CreateSessionReq) (string, error)
	StartSession(ctx context.Context, id string) error
	PauseSession(ctx context.Context, id string) error
	StopSession(ctx context.Context, id string) error
	GetSessionStatus(id string) (session.Status, error)
	GetSession(id string) (session.Session, error)
	ListSessions(owner string) []session.Session
	GetMetricsSnapshot(id string) (analytics.Snapshot, error)
	GetFeeReport() fee.Report
	GetUserFeeStats(user string) fee.UserStats
	CalculateFee(user string) decimal.Decimal
	GetRecentTrades(ctx context.Context, id string, limit int) ([]TradeRecord, error)
	GetAllRecentTrades(limit int) []TradeRecord
	GetOverallMetrics() OverallMetrics
	GetBreakerStatus(id string) (BreakerStatus, error)
	ResetBreaker(id string) error
	GetWallets(ctx context.Context, id string) ([]WalletBalance, error)
	ValidateToken(ctx context.Context, address string) (TokenValidation, error)
	ValidateSessionReq(req CreateSessionReq, walletCount int) error
	GetFeeHistory(ctx context.Context, user string) ([]entity.FeeCollection, error)
	ArchivedSessions(ctx context.Context, owner string) ([]entity.Session, error)
	ArchivedSession(ctx context.Context, id string) (entity.Session, error)
	ExportSession(id string) (snapshot.Snapshot, error)
	ImportSession(ctx context.Context, snap snapshot.Snapshot) (string, error)
	GenerateWallets(ctx context.Context, n int) (chain.Wallet, []chain.Wallet, error)
	Shutdown(ctx context.Context) error
}

// Collaborators 引擎依赖的链上协作方
type Collaborators struct {
	Wallets   chain.WalletProvider
	Swaps     chain.SwapExecutor
	Balances  chain.BalanceOracle
	Transport chain.Transport
	// Pools 可选, 创建会话未提供路由数据时使用
	Pools chain.PoolResolver
}

type CreateSessionReq struct {
	Owner    string
	Token    session.Token
	Strategy string
	Admin    chain.Wallet
	Wallets  []chain.Wallet
	Routing  chain.RoutingData
	// Config 为空时使用引擎默认配置
	Config *strategy.Config
}

type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeSuccess TradeStatus = "success"
	TradeFailed  TradeStatus = "failed"
)

// TradeRecord 单次交易尝试, pending 之后只会进入 success 或 failed
type TradeRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	WalletNumber  int             `json:"wallet_number"`
	WalletAddress string          `json:"wallet_address"`
	Direction     chain.Direction `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	Price         decimal.Decimal `json:"price"`
	Slippage      decimal.Decimal `json:"slippage"`
	Fee           decimal.Decimal `json:"fee"`
	TxID          string          `json:"tx_id,omitempty"`
	Status        TradeStatus     `json:"status"`
	ErrorKind     chain.ErrorKind `json:"error_kind,omitempty"`
	Error         string          `json:"error,omitempty"`
	Latency       time.Duration   `json:"latency"`
	CreatedAt     time.Time       `json:"created_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// NativeVolume 以原生币计的成交量
func (r TradeRecord) NativeVolume() decimal.Decimal {
	if r.Direction == chain.Buy {
		return r.Amount
	}
	return r.TokenAmount.Mul(r.Price)
}

// OverallMetrics 所有内存中会话的汇总
type OverallMetrics struct {
	Sessions     int                     `json:"sessions"`
	ByStatus     map[string]int          `json:"by_status"`
	Transactions int                     `json:"transactions"`
	Successful   int                     `json:"successful"`
	Failed       int                     `json:"failed"`
	SuccessRate  decimal.Decimal         `json:"success_rate"`
	TotalNative  decimal.Decimal         `json:"total_native"`
	TotalFiat    decimal.Decimal         `json:"total_fiat"`
	FeesPaid     decimal.Decimal         `json:"fees_paid"`
	Errors       map[chain.ErrorKind]int `json:"errors"`
}

// BreakerStatus 会话所用熔断器的状态, 全局模式下所有会话看到同一份
type BreakerStatus struct {
	SessionID     string                                `json:"session_id"`
	Scope         circuit.Scope                         `json:"scope"`
	Errors        map[chain.ErrorKind]circuit.KindStats `json:"errors"`
	Open          []chain.ErrorKind                     `json:"open"`
	CooldownUntil *time.Time                            `json:"cooldown_until,omitempty"`
}

type WalletBalance struct {
	SessionID  string          `json:"session_id"`
	Number     int             `json:"number"`
	Address    string          `json:"address"`
	Native     decimal.Decimal `json:"native"`
	Token      decimal.Decimal `json:"token"`
	ObservedAt time.Time       `json:"observed_at"`
	// Stale 实时查询失败, 返回的是最近一次观察值
	Stale bool `json:"stale,omitempty"`
}

type TokenValidation struct {
	Address string            `json:"address"`
	Valid   bool              `json:"valid"`
	Routing chain.RoutingData `json:"routing,omitempty"`
	Error   string            `json:"error,omitempty"`
}
