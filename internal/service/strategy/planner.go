package strategy

import (
	"math"
	"math/rand"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Balances struct {
	Native decimal.Decimal
	Token  decimal.Decimal
}

type Plan struct {
	Direction chain.Direction
	Amount    decimal.Decimal
}

// Planner 决定单个钱包本轮的交易方向和数量
type Planner struct {
	cfg     Config
	float64 func() float64
}

type PlannerOption func(p *Planner)

// WithRandom 替换随机源, 返回 [0, 1)
func WithRandom(f func() float64) PlannerOption {
	return func(p *Planner) {
		p.float64 = f
	}
}

func NewPlanner(cfg Config, opts ...PlannerOption) *Planner {
	p := &Planner{
		cfg:     cfg,
		float64: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan 返回交易计划, ok 为 false 表示本轮跳过该钱包
func (p *Planner) Plan(s Strategy, b Balances) (Plan, bool) {
	dir := p.Direction(s, b)
	amount := p.Size(dir, b)
	if !amount.IsPositive() {
		return Plan{}, false
	}
	return Plan{Direction: dir, Amount: amount}, true
}

func (p *Planner) Direction(s Strategy, b Balances) chain.Direction {
	if s == MakersVolume {
		tokenValue := b.Token.Mul(decimal.NewFromFloat(p.cfg.Makers.TokenValueRatio))
		total := b.Native.Add(tokenValue)
		if !total.IsPositive() {
			return chain.Buy
		}
		if b.Native.Div(total).GreaterThan(decimal.NewFromFloat(p.cfg.Makers.NativeDominance)) {
			return chain.Buy
		}
		return chain.Sell
	}

	if p.float64() >= 0.5 {
		return chain.Buy
	}
	return chain.Sell
}

// Size 低于最小交易数量时返回 0
func (p *Planner) Size(dir chain.Direction, b Balances) decimal.Decimal {
	rnd := p.cfg.Randomization
	switch dir {
	case chain.Buy:
		available := b.Native.Sub(decimal.NewFromFloat(p.cfg.Wallets.MinNativeReserve))
		if !available.IsPositive() {
			return decimal.Zero
		}
		pct := decimalx.Between(decimal.NewFromFloat(rnd.BuyAmount.Min), decimal.NewFromFloat(rnd.BuyAmount.Max), p.float64())
		amount := decimalx.Percent(available, pct)
		if amount.LessThan(decimal.NewFromFloat(rnd.MinTradeNative)) {
			return decimal.Zero
		}
		return amount
	case chain.Sell:
		if !b.Token.IsPositive() {
			return decimal.Zero
		}
		pct := decimalx.Between(decimal.NewFromFloat(rnd.SellAmount.Min), decimal.NewFromFloat(rnd.SellAmount.Max), p.float64())
		amount := decimalx.Percent(b.Token, pct)
		if amount.LessThan(decimal.NewFromFloat(rnd.MinTradeToken)) {
			return decimal.Zero
		}
		return amount
	}
	return decimal.Zero
}

// Select 无放回均匀随机抽取 n 个钱包, 每轮重新洗牌
func Select[T any](wallets []T, n int) []T {
	if n <= 0 {
		return nil
	}
	return lo.Samples(wallets, min(n, len(wallets)))
}

// InitialSlippageBps 会话起始滑点上限
func InitialSlippageBps(risk RiskConfig) int {
	if risk.DynamicSlippage {
		return toBps(risk.MinSlippage)
	}
	return toBps(risk.MaxSlippage)
}

// Relax 滑点超限后放宽一档, 不超过 MaxSlippage
func Relax(currentBps int, risk RiskConfig) int {
	if !risk.DynamicSlippage {
		return currentBps
	}
	return min(currentBps+toBps(risk.SlippageStep), toBps(risk.MaxSlippage))
}

func toBps(pct float64) int {
	return int(math.Round(pct * 100))
}
