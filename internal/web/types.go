package web

import (
	"encoding/json"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/fee"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type CreateSessionReq struct {
	Owner    string        `json:"owner"`
	Token    session.Token `json:"token"`
	Strategy string        `json:"strategy"`
	// WalletCount 由引擎生成的交易钱包数量
	WalletCount int              `json:"wallet_count"`
	Routing     json.RawMessage  `json:"routing,omitempty"`
	Config      *strategy.Config `json:"config,omitempty"`
}

type CreateSessionResp struct {
	SessionID string       `json:"session_id"`
	Admin     WalletView   `json:"admin"`
	Wallets   []WalletView `json:"wallets"`
}

type ValidateTokenReq struct {
	Address string `json:"address"`
}

type CalculateFeeReq struct {
	User string `json:"user"`
}

type CalculateFeeResp struct {
	User  string          `json:"user"`
	Fee   decimal.Decimal `json:"fee"`
	Stats fee.UserStats   `json:"stats"`
}

type WalletView struct {
	Number  int    `json:"number"`
	Address string `json:"address"`
}

type SessionView struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Token      session.Token   `json:"token"`
	Strategy   string          `json:"strategy"`
	Status     string          `json:"status"`
	Admin      WalletView      `json:"admin"`
	Wallets    []WalletView    `json:"wallets"`
	Routing    json.RawMessage `json:"routing,omitempty"`
	Cycles     int             `json:"cycles"`
	Elapsed    string          `json:"elapsed"`
	StopReason string          `json:"stop_reason,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartTime  *time.Time      `json:"start_time,omitempty"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
}

func walletView(w chain.Wallet) WalletView {
	return WalletView{Number: w.Number, Address: w.Address}
}

func walletViews(ws []chain.Wallet) []WalletView {
	return lo.Map(ws, func(w chain.Wallet, _ int) WalletView {
		return walletView(w)
	})
}

func sessionView(s session.Session, now time.Time) SessionView {
	return SessionView{
		ID:         s.ID,
		Owner:      s.Owner,
		Token:      s.Token,
		Strategy:   s.Strategy.ToString(),
		Status:     s.Status.ToString(),
		Admin:      walletView(s.Admin),
		Wallets:    walletViews(s.Wallets),
		Routing:    json.RawMessage(s.Routing),
		Cycles:     s.Cycles,
		Elapsed:    s.Elapsed(now).Truncate(time.Second).String(),
		StopReason: s.StopReason,
		LastError:  s.LastError,
		CreatedAt:  s.CreatedAt,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
	}
}

type errorResp struct {
	Error string `json:"error"`
}
