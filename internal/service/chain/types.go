package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

func (d Direction) ToString() string {
	return string(d)
}

// KeyRef 签名能力句柄，只有钱包提供方和兑换执行方能理解其内容
type KeyRef any

// Wallet 钱包引用, 管理钱包编号为 0, 交易钱包编号 1..N
type Wallet struct {
	Number    int
	Address   string
	Key       KeyRef `json:"-"`
	CreatedAt time.Time
}

func (w Wallet) IsAdmin() bool {
	return w.Number == 0
}

// RoutingData 池子/市场路由数据, 对引擎不透明
type RoutingData = json.RawMessage

type SwapRequest struct {
	Wallet      Wallet
	Token       string
	Amount      decimal.Decimal // buy: 原生币数量, sell: 代币数量
	Direction   Direction
	Routing     RoutingData
	SlippageBps int
}

type SwapResult struct {
	TxID        string
	TokenAmount decimal.Decimal
	Price       decimal.Decimal // 以原生币计价的代币价格
	Slippage    decimal.Decimal // 实际滑点, 百分比
}

type WalletProvider interface {
	Create(ctx context.Context) (Wallet, error)
	Import(ctx context.Context, secret string) (Wallet, error)
	// Export 返回可用于 Import 的密钥引用
	Export(wallet Wallet) (string, error)
}

type SwapExecutor interface {
	Submit(ctx context.Context, req SwapRequest) (SwapResult, error)
}

type BalanceOracle interface {
	Native(ctx context.Context, address string) (decimal.Decimal, error)
	Token(ctx context.Context, address, token string) (decimal.Decimal, error)
}

type Transport interface {
	Transfer(ctx context.Context, from Wallet, to string, amount decimal.Decimal) (string, error)
}

// PoolResolver 根据代币地址查找路由数据
type PoolResolver interface {
	Resolve(ctx context.Context, token string) (RoutingData, error)
}
