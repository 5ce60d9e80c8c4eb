package fee

import (
	"context"
	"errors"
	"fmt"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid fee config")

// Tier 交易量折扣档位, 付费交易数达到 Trades 后享受 Discount% 折扣
type Tier struct {
	Trades   int     `mapstructure:"trades" json:"trades"`
	Discount float64 `mapstructure:"discount" json:"discount"`
}

type Config struct {
	FreeTrades        int     `mapstructure:"free_trades"`
	FeePerTransaction float64 `mapstructure:"fee_per_transaction"`
	MinimumFee        float64 `mapstructure:"minimum_fee"`
	Discounts         []Tier  `mapstructure:"discounts"`
	// 低于该值的手续费先累积, 累积到该值后尝试归集
	ImmediateThreshold float64 `mapstructure:"immediate_threshold"`
	// 归集的最小金额
	MinCollection    float64 `mapstructure:"min_collection"`
	CollectionWallet string  `mapstructure:"collection_wallet"`
}

func DefaultConfig() Config {
	return Config{
		FreeTrades:        10,
		FeePerTransaction: 0.001,
		MinimumFee:        0.0005,
		Discounts: []Tier{
			{Trades: 100, Discount: 10},
			{Trades: 500, Discount: 20},
			{Trades: 1000, Discount: 30},
		},
		ImmediateThreshold: 0.005,
		MinCollection:      0.001,
	}
}

func (c Config) Validate() error {
	if c.FreeTrades < 0 {
		return fmt.Errorf("%w: free_trades 不能为负数", ErrInvalidConfig)
	}
	if c.FeePerTransaction < 0 || c.MinimumFee < 0 {
		return fmt.Errorf("%w: 手续费不能为负数", ErrInvalidConfig)
	}
	if c.CollectionWallet == "" {
		return fmt.Errorf("%w: collection_wallet 未设置", ErrInvalidConfig)
	}
	for i, tier := range c.Discounts {
		if tier.Discount < 0 || tier.Discount > 100 {
			return fmt.Errorf("%w: 折扣 %f 超出范围", ErrInvalidConfig, tier.Discount)
		}
		if i == 0 {
			continue
		}
		prev := c.Discounts[i-1]
		if tier.Trades <= prev.Trades || tier.Discount < prev.Discount {
			return fmt.Errorf("%w: 折扣档位必须递增, %v -> %v", ErrInvalidConfig, prev, tier)
		}
	}
	return nil
}

// Charge 单笔交易的扣费结果
type Charge struct {
	Fee     decimal.Decimal
	Free    bool
	Accrued bool
	TxID    string
}

type Report struct {
	TotalCollected decimal.Decimal `json:"total_collected"`
	Pending        decimal.Decimal `json:"pending"`
	Collections    int             `json:"collections"`
	AverageFee     decimal.Decimal `json:"average_fee"`
	Users          int             `json:"users"`
}

type UserStats struct {
	TotalTrades         int             `json:"total_trades"`
	FreeTradesRemaining int             `json:"free_trades_remaining"`
	CurrentFee          decimal.Decimal `json:"current_fee"`
	NextDiscount        string          `json:"next_discount,omitempty"`
	Accrued             decimal.Decimal `json:"accrued"`
	Paid                decimal.Decimal `json:"paid"`
}

type Service interface {
	CalculateFee(user string) decimal.Decimal
	RecordTrade(user string, wasFree bool)
	Charge(ctx context.Context, user string, payer chain.Wallet) (Charge, error)
	Collect(ctx context.Context, user string, payer chain.Wallet) (decimal.Decimal, error)
	Pending(user string) decimal.Decimal
	Report() Report
	UserStats(user string) UserStats
	History(ctx context.Context, user string) ([]entity.FeeCollection, error)
}
