package paper

import (
	"context"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// 编译时检查接口实现
var (
	_ chain.WalletProvider = (*Chain)(nil)
	_ chain.SwapExecutor   = (*Chain)(nil)
	_ chain.BalanceOracle  = (*Chain)(nil)
	_ chain.Transport      = (*Chain)(nil)
	_ chain.PoolResolver   = (*Chain)(nil)
)

// Chain 内存模拟链: 余额, 常数乘积池子, 可注入的失败和延迟
type Chain struct {
	accounts sync.Map // address -> *account
	pools    sync.Map // token -> *pool

	feeBps int

	latency     time.Duration
	failureRate float64
	failureKind chain.ErrorKind

	randMu sync.Mutex
	rand   *mrand.Rand
}

type account struct {
	mu     sync.Mutex
	native decimal.Decimal
	tokens map[string]decimal.Decimal
}

type pool struct {
	mu            sync.Mutex
	nativeReserve decimal.Decimal
	tokenReserve  decimal.Decimal
}

type Option func(c *Chain)

// WithLatency 每次兑换/转账前模拟的网络延迟
func WithLatency(d time.Duration) Option {
	return func(c *Chain) {
		c.latency = d
	}
}

// WithFailureRate 按概率注入指定类型的失败
func WithFailureRate(rate float64, kind chain.ErrorKind) Option {
	return func(c *Chain) {
		c.failureRate = rate
		c.failureKind = kind
	}
}

// WithPoolFee 池子手续费, 单位 bps
func WithPoolFee(bps int) Option {
	return func(c *Chain) {
		c.feeBps = bps
	}
}

func WithSeed(seed int64) Option {
	return func(c *Chain) {
		c.rand = mrand.New(mrand.NewSource(seed))
	}
}

func NewChain(opts ...Option) *Chain {
	c := &Chain{
		feeBps: 25,
		rand:   mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) account(address string) *account {
	acc, _ := c.accounts.LoadOrStore(address, &account{
		tokens: make(map[string]decimal.Decimal),
	})
	return acc.(*account)
}

// Fund 给地址充值原生币
func (c *Chain) Fund(address string, amount decimal.Decimal) {
	acc := c.account(address)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.native = acc.native.Add(amount)
}

// FundToken 给地址充值代币
func (c *Chain) FundToken(address, token string, amount decimal.Decimal) {
	acc := c.account(address)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.tokens[token] = acc.tokens[token].Add(amount)
}

// AddPool 创建或重置代币池子
func (c *Chain) AddPool(token string, nativeReserve, tokenReserve decimal.Decimal) {
	c.pools.Store(token, &pool{
		nativeReserve: nativeReserve,
		tokenReserve:  tokenReserve,
	})
}

func (c *Chain) Native(ctx context.Context, address string) (decimal.Decimal, error) {
	acc := c.account(address)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.native, nil
}

func (c *Chain) Token(ctx context.Context, address, token string) (decimal.Decimal, error) {
	acc := c.account(address)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.tokens[token], nil
}

func (c *Chain) Transfer(ctx context.Context, from chain.Wallet, to string, amount decimal.Decimal) (string, error) {
	if err := c.simulate(ctx, "paper.Transfer"); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", chain.Errorf(chain.KindTransactionFailed, "paper.Transfer", "invalid amount %s", amount)
	}
	if from.Address == to {
		return c.txID(), nil
	}

	src, dst := c.account(from.Address), c.account(to)
	// 按地址排序加锁, 避免互相转账时死锁
	first, second := src, dst
	if to < from.Address {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.native.LessThan(amount) {
		return "", chain.Errorf(chain.KindInsufficientBalance, "paper.Transfer",
			"balance %s < %s", src.native, amount)
	}
	src.native = src.native.Sub(amount)
	dst.native = dst.native.Add(amount)
	return c.txID(), nil
}

// simulate 注入延迟和随机失败
func (c *Chain) simulate(ctx context.Context, op string) error {
	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return chain.NewError(chain.KindNetwork, op, ctx.Err())
		case <-time.After(c.latency):
		}
	}
	if c.failureRate > 0 && c.float64() < c.failureRate {
		return chain.Errorf(c.failureKind, op, "injected failure")
	}
	return nil
}

func (c *Chain) float64() float64 {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.Float64()
}

func (c *Chain) txID() string {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("paper: read random: %w", err))
	}
	return base58.Encode(buf)
}
