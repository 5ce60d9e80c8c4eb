package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/analytics"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/notification"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Executor 单个钱包的一次交易尝试
type Executor struct {
	e       *VolumeEngine
	s       session.Session
	rt      *runtime
	breaker *circuit.Breaker
}

// Execute 返回熔断器对本次失败的结论, 成功或跳过时为零值
func (x *Executor) Execute(ctx context.Context, w chain.Wallet) (v circuit.Verdict) {
	var rec *TradeRecord
	start := x.e.now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("trade attempt panic", "session", x.s.ID, "wallet", w.Number, "panic", r)
			v = x.fail(ctx, w, rec, chain.Errorf(chain.KindTransactionFailed, "attempt", "panic: %v", r), x.e.now().Sub(start))
		}
	}()

	// 1. 读取余额
	balances, err := x.balances(ctx, w)
	if err != nil {
		return x.fail(ctx, w, nil, err, x.e.now().Sub(start))
	}
	x.rt.metrics.ObserveWallet(w.Number, balances.Native, balances.Token)

	// 2. 决定方向和数量
	plan, ok := x.rt.planner.Plan(x.s.Strategy, balances)
	if !ok {
		slog.Debug("skip wallet, balance too low", "session", x.s.ID, "wallet", w.Number,
			"native", balances.Native, "token", balances.Token)
		return circuit.Verdict{}
	}

	rec = &TradeRecord{
		ID:            uuid.NewString(),
		SessionID:     x.s.ID,
		WalletNumber:  w.Number,
		WalletAddress: w.Address,
		Direction:     plan.Direction,
		Amount:        plan.Amount,
		Status:        TradePending,
		CreatedAt:     start,
	}
	x.rt.history.Add(rec)

	// 3. 提交兑换
	res, err := x.e.collab.Swaps.Submit(ctx, chain.SwapRequest{
		Wallet:      w,
		Token:       x.s.Token.Address,
		Amount:      plan.Amount,
		Direction:   plan.Direction,
		Routing:     x.s.Routing,
		SlippageBps: int(x.rt.slippageBps.Load()),
	})
	if err == nil && res.TxID == "" {
		err = chain.Errorf(chain.KindTransactionFailed, "submit", "empty transaction id")
	}
	if err != nil {
		return x.fail(ctx, w, rec, err, x.e.now().Sub(start))
	}

	// 4. 收取手续费
	charge, err := x.e.fees.Charge(ctx, x.e.feeUser(x.s), w)
	if err != nil {
		slog.Warn("charge fee failed", "session", x.s.ID, "wallet", w.Number, "error", err)
	}
	fiat := x.e.fiatPrice(ctx)

	final := x.rt.history.Finish(rec, func(r *TradeRecord) {
		r.TokenAmount = res.TokenAmount
		r.Price = res.Price
		r.Slippage = res.Slippage
		r.Fee = charge.Fee
		r.TxID = res.TxID
		r.Status = TradeSuccess
		r.FinishedAt = x.e.now()
		r.Latency = r.FinishedAt.Sub(start)
	})
	ev := analytics.TradeEvent{
		Direction:    final.Direction,
		NativeVolume: final.NativeVolume(),
		FiatPrice:    fiat,
		Slippage:     final.Slippage,
		Fee:          final.Fee,
		Success:      true,
		Latency:      final.Latency,
		Time:         final.FinishedAt,
	}
	x.rt.metrics.RecordTrade(ev)
	x.e.exporter.ObserveTrade(x.s.Strategy.ToString(), ev)
	x.e.persistTrade(ctx, final)
	x.e.notify(ctx, notification.Event{
		Type:      notification.TradeSuccess,
		SessionID: x.s.ID,
		Data:      final,
	})
	slog.Info("trade success", "session", x.s.ID, "wallet", w.Number, "direction", final.Direction,
		"amount", final.Amount, "tx", final.TxID, "fee", final.Fee)
	return circuit.Verdict{}
}

func (x *Executor) balances(ctx context.Context, w chain.Wallet) (strategy.Balances, error) {
	native, err := x.e.collab.Balances.Native(ctx, w.Address)
	if err != nil {
		return strategy.Balances{}, fmt.Errorf("native balance of wallet #%d: %w", w.Number, err)
	}
	token, err := x.e.collab.Balances.Token(ctx, w.Address, x.s.Token.Address)
	if err != nil {
		return strategy.Balances{}, fmt.Errorf("token balance of wallet #%d: %w", w.Number, err)
	}
	return strategy.Balances{Native: native, Token: token}, nil
}

// fail 分类错误并交给熔断器, rec 为空表示还没有产生交易记录
func (x *Executor) fail(ctx context.Context, w chain.Wallet, rec *TradeRecord, err error, latency time.Duration) circuit.Verdict {
	kind := circuit.Classify(err)
	v := x.breaker.Handle(kind)
	x.rt.metrics.RecordError(kind)
	x.e.exporter.ObserveError(kind)
	x.e.sessions.RecordError(x.s.ID, err.Error())
	if v.RelaxSlippage {
		x.rt.relax(x.s.Config.Risk)
	}
	slog.Warn("trade attempt failed", "session", x.s.ID, "wallet", w.Number, "kind", kind, "error", err)

	if rec == nil {
		return v
	}
	final := x.rt.history.Finish(rec, func(r *TradeRecord) {
		r.Status = TradeFailed
		r.ErrorKind = kind
		r.Error = err.Error()
		r.FinishedAt = x.e.now()
		r.Latency = latency
	})
	ev := analytics.TradeEvent{
		Direction:    final.Direction,
		NativeVolume: decimal.Zero,
		Success:      false,
		Latency:      final.Latency,
		Time:         final.FinishedAt,
	}
	x.rt.metrics.RecordTrade(ev)
	x.e.exporter.ObserveTrade(x.s.Strategy.ToString(), ev)
	x.e.persistTrade(ctx, final)
	x.e.notify(ctx, notification.Event{
		Type:      notification.TradeFailed,
		SessionID: x.s.ID,
		Reason:    string(kind),
		Data:      final,
	})
	return v
}
