package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/repo"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ValidateSessionReq 在生成钱包之前校验策略, 配置和钱包数量
func (e *VolumeEngine) ValidateSessionReq(req CreateSessionReq, walletCount int) error {
	if _, err := strategy.Parse(req.Strategy); err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalidConfiguration, err)
	}
	cfg := e.config(req.Config)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalidConfiguration, err)
	}
	if req.Token.Address == "" {
		return fmt.Errorf("%w: token 地址不能为空", session.ErrInvalidConfiguration)
	}
	if walletCount <= 0 || walletCount > cfg.Wallets.MaxWallets {
		return fmt.Errorf("%w: 钱包数量必须在 1..%d 之间", session.ErrInvalidConfiguration, cfg.Wallets.MaxWallets)
	}
	return nil
}

// ValidateToken 通过路由解析判断代币是否可交易
func (e *VolumeEngine) ValidateToken(ctx context.Context, address string) (TokenValidation, error) {
	if address == "" {
		return TokenValidation{}, fmt.Errorf("%w: token 地址不能为空", session.ErrInvalidConfiguration)
	}
	res := TokenValidation{Address: address}
	if e.collab.Pools == nil {
		res.Error = "pool resolver not configured"
		return res, nil
	}
	routing, err := e.collab.Pools.Resolve(ctx, address)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Valid = true
	res.Routing = routing
	return res, nil
}

// GetAllRecentTrades 所有会话内存中的交易记录, 从新到旧, limit <= 0 返回全部
func (e *VolumeEngine) GetAllRecentTrades(limit int) []TradeRecord {
	var res []TradeRecord
	e.runtimes.Range(func(_, value any) bool {
		res = append(res, value.(*runtime).history.Recent(limit)...)
		return true
	})
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	if res == nil {
		res = []TradeRecord{}
	}
	return res
}

// GetOverallMetrics 汇总所有会话的指标
func (e *VolumeEngine) GetOverallMetrics() OverallMetrics {
	sessions := e.sessions.List("")
	m := OverallMetrics{
		Sessions: len(sessions),
		ByStatus: lo.MapEntries(e.sessions.CountByStatus(), func(k session.Status, v int) (string, int) {
			return k.ToString(), v
		}),
		SuccessRate: decimal.Zero,
		TotalNative: decimal.Zero,
		TotalFiat:   decimal.Zero,
		FeesPaid:    decimal.Zero,
		Errors:      make(map[chain.ErrorKind]int),
	}
	for _, s := range sessions {
		rt, err := e.runtime(s.ID)
		if err != nil {
			continue
		}
		snap := rt.metrics.Snapshot()
		m.Transactions += snap.Performance.Transactions
		m.Successful += snap.Performance.Successful
		m.Failed += snap.Performance.Failed
		m.TotalNative = m.TotalNative.Add(snap.Volume.TotalNative)
		m.TotalFiat = m.TotalFiat.Add(snap.Volume.TotalFiat)
		m.FeesPaid = m.FeesPaid.Add(snap.Performance.FeesPaid)
		for kind, n := range snap.Errors {
			m.Errors[kind] += n
		}
	}
	if m.Transactions > 0 {
		m.SuccessRate = decimal.NewFromInt(int64(m.Successful)).
			Div(decimal.NewFromInt(int64(m.Transactions))).
			Mul(decimal.NewFromInt(100))
	}
	return m
}

// GetBreakerStatus 每种错误都会出现在结果中, 没发生过的计数为 0
func (e *VolumeEngine) GetBreakerStatus(id string) (BreakerStatus, error) {
	if _, err := e.runtime(id); err != nil {
		return BreakerStatus{}, err
	}
	b := e.breakers.For(id)
	stats := b.Stats()
	res := BreakerStatus{
		SessionID: id,
		Scope:     e.breakers.Scope(),
		Errors:    make(map[chain.ErrorKind]circuit.KindStats, len(chain.Kinds)),
		Open:      lo.Filter(chain.Kinds, func(k chain.ErrorKind, _ int) bool { return b.Tripped(k) }),
	}
	for _, kind := range chain.Kinds {
		res.Errors[kind] = stats[kind]
	}
	if until := b.CooldownUntil(); until.After(e.now()) {
		res.CooldownUntil = &until
	}
	return res, nil
}

// ResetBreaker 清空计数和冷却, 全局模式下影响所有会话
func (e *VolumeEngine) ResetBreaker(id string) error {
	if _, err := e.runtime(id); err != nil {
		return err
	}
	e.breakers.For(id).Reset()
	slog.Info("circuit breaker reset", "session", id, "scope", e.breakers.Scope())
	return nil
}

// GetWallets 实时查询钱包余额, 查询失败时返回最近一次观察值; id 为空返回所有会话
func (e *VolumeEngine) GetWallets(ctx context.Context, id string) ([]WalletBalance, error) {
	var sessions []session.Session
	if id == "" {
		sessions = e.sessions.List("")
	} else {
		s, err := e.sessions.Get(id)
		if err != nil {
			return nil, err
		}
		sessions = []session.Session{s}
	}

	res := make([]WalletBalance, 0)
	for _, s := range sessions {
		rt, err := e.runtime(s.ID)
		if err != nil {
			continue
		}
		for _, w := range append([]chain.Wallet{s.Admin}, s.Wallets...) {
			res = append(res, e.walletBalance(ctx, s, rt, w))
		}
	}
	return res, nil
}

func (e *VolumeEngine) walletBalance(ctx context.Context, s session.Session, rt *runtime, w chain.Wallet) WalletBalance {
	wb := WalletBalance{SessionID: s.ID, Number: w.Number, Address: w.Address, Native: decimal.Zero, Token: decimal.Zero}
	native, err := e.collab.Balances.Native(ctx, w.Address)
	if err == nil {
		var token decimal.Decimal
		token, err = e.collab.Balances.Token(ctx, w.Address, s.Token.Address)
		if err == nil {
			wb.Native, wb.Token, wb.ObservedAt = native, token, e.now()
			if w.Number > 0 {
				rt.metrics.ObserveWallet(w.Number, native, token)
			}
			return wb
		}
	}

	slog.Warn("query wallet balance failed", "session", s.ID, "wallet", w.Number, "error", err)
	wb.Stale = true
	if obs, ok := rt.metrics.WalletBalance(w.Number); ok {
		wb.Native, wb.Token, wb.ObservedAt = obs.Native, obs.Token, obs.ObservedAt
	}
	return wb
}

func (e *VolumeEngine) GetFeeHistory(ctx context.Context, user string) ([]entity.FeeCollection, error) {
	return e.fees.History(ctx, user)
}

// ArchivedSession 从存储读取单个会话, 用于进程重启前的会话
func (e *VolumeEngine) ArchivedSession(ctx context.Context, id string) (entity.Session, error) {
	if e.sessionRepo == nil {
		return entity.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	res, err := e.sessionRepo.FindByID(ctx, id)
	if repo.IsNotFound(err) {
		return entity.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	if err != nil {
		return entity.Session{}, fmt.Errorf("load archived session %s: %w", id, err)
	}
	return res, nil
}
