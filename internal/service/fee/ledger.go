package fee

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/repo"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var _ Service = (*Ledger)(nil)

type account struct {
	mu          sync.Mutex
	totalTrades int
	freeUsed    int
	accrued     decimal.Decimal
	paid        decimal.Decimal
	collecting  bool
}

// Ledger 手续费账本, 每个用户一把锁
type Ledger struct {
	cfg       Config
	transport chain.Transport
	repo      repo.FeeRepo

	feePerTx      decimal.Decimal
	minimumFee    decimal.Decimal
	immediate     decimal.Decimal
	minCollection decimal.Decimal
	tiers         []Tier

	accounts sync.Map

	mu          sync.Mutex
	collected   decimal.Decimal
	collections int
}

type Option func(l *Ledger)

func WithRepo(r repo.FeeRepo) Option {
	return func(l *Ledger) {
		l.repo = r
	}
}

func NewLedger(cfg Config, transport chain.Transport, opts ...Option) *Ledger {
	tiers := append([]Tier(nil), cfg.Discounts...)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Trades < tiers[j].Trades
	})
	l := &Ledger{
		cfg:           cfg,
		transport:     transport,
		feePerTx:      decimal.NewFromFloat(cfg.FeePerTransaction),
		minimumFee:    decimal.NewFromFloat(cfg.MinimumFee),
		immediate:     decimal.NewFromFloat(cfg.ImmediateThreshold),
		minCollection: decimal.NewFromFloat(cfg.MinCollection),
		tiers:         tiers,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) account(user string) *account {
	if acc, ok := l.accounts.Load(user); ok {
		return acc.(*account)
	}
	acc, _ := l.accounts.LoadOrStore(user, &account{})
	return acc.(*account)
}

// peek 只读路径用, 不存在的用户返回空账户且不写入账本
func (l *Ledger) peek(user string) *account {
	if acc, ok := l.accounts.Load(user); ok {
		return acc.(*account)
	}
	return &account{}
}

func (l *Ledger) CalculateFee(user string) decimal.Decimal {
	acc := l.peek(user)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return l.calculate(acc)
}

func (l *Ledger) calculate(acc *account) decimal.Decimal {
	if acc.freeUsed < l.cfg.FreeTrades {
		return decimal.Zero
	}
	fee := l.feePerTx
	if tier, ok := l.tier(acc.totalTrades); ok {
		fee = fee.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(tier.Discount).Div(decimal.NewFromInt(100))))
	}
	return decimal.Max(fee, l.minimumFee)
}

// tier 已达到的最高折扣档位
func (l *Ledger) tier(trades int) (Tier, bool) {
	reached := lo.Filter(l.tiers, func(t Tier, _ int) bool {
		return trades >= t.Trades
	})
	if len(reached) == 0 {
		return Tier{}, false
	}
	return reached[len(reached)-1], true
}

func (l *Ledger) RecordTrade(user string, wasFree bool) {
	acc := l.account(user)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	record(acc, wasFree)
}

func record(acc *account, wasFree bool) {
	if wasFree {
		acc.freeUsed++
		return
	}
	acc.totalTrades++
}

// Charge 计算并记录一笔交易的手续费, 小额累积, 大额立即转账
func (l *Ledger) Charge(ctx context.Context, user string, payer chain.Wallet) (Charge, error) {
	acc := l.account(user)

	acc.mu.Lock()
	free := acc.freeUsed < l.cfg.FreeTrades
	fee := l.calculate(acc)
	record(acc, free)
	if free || !fee.IsPositive() {
		acc.mu.Unlock()
		return Charge{Fee: decimal.Zero, Free: free}, nil
	}

	if fee.LessThan(l.immediate) {
		acc.accrued = acc.accrued.Add(fee)
		pending := acc.accrued
		acc.mu.Unlock()

		if pending.GreaterThanOrEqual(l.immediate) {
			if _, err := l.Collect(ctx, user, payer); err != nil {
				slog.Warn("accrued fee collection failed", "user", user, "pending", pending.String(), "error", err)
			}
		}
		return Charge{Fee: fee, Accrued: true}, nil
	}
	acc.mu.Unlock()

	txID, err := l.transport.Transfer(ctx, payer, l.cfg.CollectionWallet, fee)
	if err != nil {
		acc.mu.Lock()
		acc.accrued = acc.accrued.Add(fee)
		acc.mu.Unlock()
		l.persist(ctx, user, "", fee, entity.FeeStatusFailed)
		return Charge{Fee: fee, Accrued: true}, fmt.Errorf("immediate fee transfer: %w", err)
	}

	acc.mu.Lock()
	acc.paid = acc.paid.Add(fee)
	acc.mu.Unlock()
	l.collectedOne(fee)
	l.persist(ctx, user, txID, fee, entity.FeeStatusCollected)
	return Charge{Fee: fee, TxID: txID}, nil
}

// Collect 归集累积的手续费, 只有转账成功才扣减余额
func (l *Ledger) Collect(ctx context.Context, user string, payer chain.Wallet) (decimal.Decimal, error) {
	acc := l.account(user)

	acc.mu.Lock()
	amount := acc.accrued
	if acc.collecting || amount.LessThan(l.minCollection) || !amount.IsPositive() {
		acc.mu.Unlock()
		return decimal.Zero, nil
	}
	acc.collecting = true
	acc.mu.Unlock()

	txID, err := l.transport.Transfer(ctx, payer, l.cfg.CollectionWallet, amount)

	acc.mu.Lock()
	acc.collecting = false
	if err == nil {
		acc.accrued = acc.accrued.Sub(amount)
		acc.paid = acc.paid.Add(amount)
	}
	acc.mu.Unlock()

	if err != nil {
		l.persist(ctx, user, "", amount, entity.FeeStatusFailed)
		return decimal.Zero, fmt.Errorf("collect accrued fee for %s: %w", user, err)
	}

	l.collectedOne(amount)
	l.persist(ctx, user, txID, amount, entity.FeeStatusCollected)
	slog.Info("collected accrued fee", "user", user, "amount", amount.String(), "tx", txID)
	return amount, nil
}

func (l *Ledger) collectedOne(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.collected = l.collected.Add(amount)
	l.collections++
}

func (l *Ledger) persist(ctx context.Context, user, txID string, amount decimal.Decimal, status string) {
	if l.repo == nil {
		return
	}
	_, err := l.repo.Create(context.WithoutCancel(ctx), entity.FeeCollection{
		UserId: user,
		TxId:   txID,
		Amount: amount.String(),
		Status: status,
	})
	if err != nil {
		slog.Error("persist fee collection failed", "user", user, "error", err)
	}
}

func (l *Ledger) Pending(user string) decimal.Decimal {
	acc := l.peek(user)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.accrued
}

func (l *Ledger) Report() Report {
	pending := decimal.Zero
	users := 0
	l.accounts.Range(func(_, value any) bool {
		acc := value.(*account)
		acc.mu.Lock()
		pending = pending.Add(acc.accrued)
		acc.mu.Unlock()
		users++
		return true
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	report := Report{
		TotalCollected: l.collected,
		Pending:        pending,
		Collections:    l.collections,
		AverageFee:     decimal.Zero,
		Users:          users,
	}
	if l.collections > 0 {
		report.AverageFee = l.collected.Div(decimal.NewFromInt(int64(l.collections)))
	}
	return report
}

func (l *Ledger) UserStats(user string) UserStats {
	acc := l.peek(user)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	stats := UserStats{
		TotalTrades:         acc.totalTrades,
		FreeTradesRemaining: max(0, l.cfg.FreeTrades-acc.freeUsed),
		CurrentFee:          l.calculate(acc),
		Accrued:             acc.accrued,
		Paid:                acc.paid,
	}
	if next, ok := lo.Find(l.tiers, func(t Tier) bool {
		return acc.totalTrades < t.Trades
	}); ok {
		stats.NextDiscount = fmt.Sprintf("%d trades until %g%% discount", next.Trades-acc.totalTrades, next.Discount)
	}
	return stats
}

// History 用户的归集记录, 未配置存储时为空
func (l *Ledger) History(ctx context.Context, user string) ([]entity.FeeCollection, error) {
	if l.repo == nil {
		return []entity.FeeCollection{}, nil
	}
	res, err := l.repo.FindByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load fee history of %s: %w", user, err)
	}
	return res, nil
}
