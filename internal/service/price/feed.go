package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("no price available")

// Feed 原生币的美元价格
type Feed interface {
	NativeUSD(ctx context.Context) (decimal.Decimal, error)
}

var (
	_ Feed = (*BinanceFeed)(nil)
	_ Feed = Static{}
	_ Feed = (*Cached)(nil)
)

// BinanceFeed 读取币安现货最新成交价, 如 SOLUSDT
type BinanceFeed struct {
	cli    *binance.Client
	symbol string
}

func NewBinanceFeed(cli *binance.Client, symbol string) *BinanceFeed {
	return &BinanceFeed{
		cli:    cli,
		symbol: symbol,
	}
}

func (f *BinanceFeed) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	prices, err := f.cli.NewListPricesService().Symbol(f.symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list price %s: %w", f.symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: symbol %s not found", ErrNoPrice, f.symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

// Static 固定价格, 用于模拟盘
type Static struct {
	Price decimal.Decimal
}

func (s Static) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	return s.Price, nil
}

// Cached 带过期时间的缓存, 上游失败时返回最近一次成功的价格
type Cached struct {
	feed Feed
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	last      decimal.Decimal
	fetchedAt time.Time
	ok        bool
}

type CacheOption func(c *Cached)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cached) {
		c.now = now
	}
}

func NewCached(feed Feed, ttl time.Duration, opts ...CacheOption) *Cached {
	c := &Cached{
		feed: feed,
		ttl:  ttl,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.ok && now.Sub(c.fetchedAt) < c.ttl {
		return c.last, nil
	}

	p, err := c.feed.NativeUSD(ctx)
	if err != nil {
		if c.ok {
			slog.Warn("price feed failed, using last price", "price", c.last.String(), "error", err)
			return c.last, nil
		}
		return decimal.Zero, err
	}
	c.last = p
	c.fetchedAt = now
	c.ok = true
	return p, nil
}
