package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/pkg/decimalx"
	"github.com/shopspring/decimal"
)

// 存储失败只记录日志, 不影响交易

func (e *VolumeEngine) persistSession(ctx context.Context, s session.Session) {
	if e.sessionRepo == nil {
		return
	}
	ent, err := toSessionEntity(s)
	if err != nil {
		slog.Error("encode session failed", "session", s.ID, "error", err)
		return
	}
	if err := e.sessionRepo.Save(context.WithoutCancel(ctx), ent); err != nil {
		slog.Error("persist session failed", "session", s.ID, "error", err)
	}
}

func (e *VolumeEngine) persistTrade(ctx context.Context, r TradeRecord) {
	if e.tradeRepo == nil {
		return
	}
	if err := e.tradeRepo.Create(context.WithoutCancel(ctx), toTradeEntity(r)); err != nil {
		slog.Error("persist trade failed", "session", r.SessionID, "trade", r.ID, "error", err)
	}
}

func toSessionEntity(s session.Session) (entity.Session, error) {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return entity.Session{}, err
	}
	return entity.Session{
		Id:           s.ID,
		Owner:        s.Owner,
		TokenAddress: s.Token.Address,
		TokenName:    s.Token.Name,
		TokenSymbol:  s.Token.Symbol,
		Strategy:     s.Strategy.ToString(),
		Status:       s.Status.ToString(),
		AdminAddress: s.Admin.Address,
		WalletCount:  len(s.Wallets),
		Routing:      string(s.Routing),
		Config:       string(cfg),
		Cycles:       s.Cycles,
		LastError:    s.LastError,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		CreatedAt:    s.CreatedAt,
	}, nil
}

var tradeStatus = map[TradeStatus]int{
	TradePending: entity.TradeStatusPending,
	TradeSuccess: entity.TradeStatusSuccess,
	TradeFailed:  entity.TradeStatusFailed,
}

func toTradeEntity(r TradeRecord) entity.Trade {
	return entity.Trade{
		Id:            r.ID,
		SessionId:     r.SessionID,
		WalletNumber:  r.WalletNumber,
		WalletAddress: r.WalletAddress,
		Direction:     r.Direction.ToString(),
		Amount:        r.Amount.String(),
		TokenAmount:   r.TokenAmount.String(),
		Price:         r.Price.String(),
		Slippage:      r.Slippage.String(),
		Fee:           r.Fee.String(),
		TxId:          r.TxID,
		Status:        tradeStatus[r.Status],
		ErrorKind:     string(r.ErrorKind),
		Error:         r.Error,
		LatencyMs:     r.Latency.Milliseconds(),
		CreatedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func fromTradeEntity(t entity.Trade) TradeRecord {
	status := TradePending
	for k, v := range tradeStatus {
		if v == t.Status {
			status = k
		}
	}
	return TradeRecord{
		ID:            t.Id,
		SessionID:     t.SessionId,
		WalletNumber:  t.WalletNumber,
		WalletAddress: t.WalletAddress,
		Direction:     chain.Direction(t.Direction),
		Amount:        parseDecimal(t.Amount),
		TokenAmount:   parseDecimal(t.TokenAmount),
		Price:         parseDecimal(t.Price),
		Slippage:      parseDecimal(t.Slippage),
		Fee:           parseDecimal(t.Fee),
		TxID:          t.TxId,
		Status:        status,
		ErrorKind:     chain.ErrorKind(t.ErrorKind),
		Error:         t.Error,
		Latency:       time.Duration(t.LatencyMs) * time.Millisecond,
		CreatedAt:     t.CreatedAt,
		FinishedAt:    t.FinishedAt,
	}
}

func parseDecimal(s string) decimal.Decimal {
	return decimalx.FromStringOr(s, decimal.Zero)
}
