package paper

import (
	"context"
	"encoding/json"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
)

// Route 模拟链的路由数据格式
type Route struct {
	Pool  string `json:"pool"`
	Token string `json:"token"`
}

var hundred = decimal.NewFromInt(100)

func (c *Chain) Resolve(ctx context.Context, token string) (chain.RoutingData, error) {
	if _, ok := c.pools.Load(token); !ok {
		return nil, chain.Errorf(chain.KindPoolNotFound, "paper.Resolve", "no pool for %s", token)
	}
	return json.Marshal(Route{Pool: "paper:" + token, Token: token})
}

func (c *Chain) lookupPool(req chain.SwapRequest) (*pool, error) {
	var route Route
	if len(req.Routing) == 0 || json.Unmarshal(req.Routing, &route) != nil || route.Token != req.Token {
		return nil, chain.Errorf(chain.KindPoolNotFound, "paper.Submit", "invalid routing for %s", req.Token)
	}
	p, ok := c.pools.Load(req.Token)
	if !ok {
		return nil, chain.Errorf(chain.KindPoolNotFound, "paper.Submit", "no pool for %s", req.Token)
	}
	return p.(*pool), nil
}

func (c *Chain) Submit(ctx context.Context, req chain.SwapRequest) (chain.SwapResult, error) {
	if err := c.simulate(ctx, "paper.Submit"); err != nil {
		return chain.SwapResult{}, err
	}
	if !req.Amount.IsPositive() {
		return chain.SwapResult{}, chain.Errorf(chain.KindTransactionFailed, "paper.Submit", "invalid amount %s", req.Amount)
	}
	pl, err := c.lookupPool(req)
	if err != nil {
		return chain.SwapResult{}, err
	}

	acc := c.account(req.Wallet.Address)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	acc.mu.Lock()
	defer acc.mu.Unlock()

	fee := decimal.NewFromInt(int64(10000 - c.feeBps)).Div(decimal.NewFromInt(10000))
	spot := pl.nativeReserve.Div(pl.tokenReserve)
	maxSlippage := decimal.NewFromInt(int64(req.SlippageBps)).Div(hundred)

	switch req.Direction {
	case chain.Buy:
		if acc.native.LessThan(req.Amount) {
			return chain.SwapResult{}, chain.Errorf(chain.KindInsufficientBalance, "paper.Submit",
				"native balance %s < %s", acc.native, req.Amount)
		}
		in := req.Amount.Mul(fee)
		tokenOut := pl.tokenReserve.Mul(in).Div(pl.nativeReserve.Add(in))
		if !tokenOut.IsPositive() {
			return chain.SwapResult{}, chain.Errorf(chain.KindTransactionFailed, "paper.Submit", "zero output")
		}
		price := req.Amount.Div(tokenOut)
		slippage := price.Div(spot).Sub(decimal.NewFromInt(1)).Mul(hundred)
		if slippage.GreaterThan(maxSlippage) {
			return chain.SwapResult{}, chain.Errorf(chain.KindSlippageExceeded, "paper.Submit",
				"slippage %s%% > %s%%", slippage.StringFixed(4), maxSlippage)
		}
		pl.nativeReserve = pl.nativeReserve.Add(req.Amount)
		pl.tokenReserve = pl.tokenReserve.Sub(tokenOut)
		acc.native = acc.native.Sub(req.Amount)
		acc.tokens[req.Token] = acc.tokens[req.Token].Add(tokenOut)
		return chain.SwapResult{TxID: c.txID(), TokenAmount: tokenOut, Price: price, Slippage: slippage}, nil

	case chain.Sell:
		held := acc.tokens[req.Token]
		if held.LessThan(req.Amount) {
			return chain.SwapResult{}, chain.Errorf(chain.KindInsufficientBalance, "paper.Submit",
				"token balance %s < %s", held, req.Amount)
		}
		in := req.Amount.Mul(fee)
		nativeOut := pl.nativeReserve.Mul(in).Div(pl.tokenReserve.Add(in))
		if !nativeOut.IsPositive() {
			return chain.SwapResult{}, chain.Errorf(chain.KindTransactionFailed, "paper.Submit", "zero output")
		}
		price := nativeOut.Div(req.Amount)
		slippage := decimal.NewFromInt(1).Sub(price.Div(spot)).Mul(hundred)
		if slippage.GreaterThan(maxSlippage) {
			return chain.SwapResult{}, chain.Errorf(chain.KindSlippageExceeded, "paper.Submit",
				"slippage %s%% > %s%%", slippage.StringFixed(4), maxSlippage)
		}
		pl.tokenReserve = pl.tokenReserve.Add(req.Amount)
		pl.nativeReserve = pl.nativeReserve.Sub(nativeOut)
		acc.tokens[req.Token] = held.Sub(req.Amount)
		acc.native = acc.native.Add(nativeOut)
		return chain.SwapResult{TxID: c.txID(), TokenAmount: req.Amount, Price: price, Slippage: slippage}, nil
	}

	return chain.SwapResult{}, chain.Errorf(chain.KindTransactionFailed, "paper.Submit", "unsupported direction %q", req.Direction)
}
