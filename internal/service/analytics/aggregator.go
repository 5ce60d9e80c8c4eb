package analytics

import (
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/pkg/decimalx"
	"github.com/KNICEX/volume-agent/pkg/window"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	slippageWindow = 100
	latencyWindow  = 50
	// 24 小时的分钟桶
	bucketHorizon = 24 * 60
	historyPeriod = time.Hour
)

type walletBalance struct {
	native decimal.Decimal
	token  decimal.Decimal
	at     time.Time
}

// Aggregator 单个会话的指标聚合, 只追加不修改历史
type Aggregator struct {
	id       string
	strategy string
	now      func() time.Time

	mu        sync.Mutex
	status    string
	startTime *time.Time
	endTime   *time.Time
	volume    VolumeMetrics
	perf      PerformanceMetrics
	errors    map[chain.ErrorKind]int
	slippage  *window.Window[decimal.Decimal]
	latency   *window.Window[time.Duration]
	buckets   *window.Window[Bucket]
	wallets   map[int]walletBalance
	walletCnt int
	updatedAt time.Time
}

type Option func(a *Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func NewAggregator(sessionID, strategy string, opts ...Option) *Aggregator {
	a := &Aggregator{
		id:       sessionID,
		strategy: strategy,
		now:      time.Now,
		errors:   make(map[chain.ErrorKind]int),
		slippage: window.New[decimal.Decimal](slippageWindow),
		latency:  window.New[time.Duration](latencyWindow),
		buckets:  window.New[Bucket](bucketHorizon),
		wallets:  make(map[int]walletBalance),
		perf: PerformanceMetrics{
			SuccessRate:     decimal.Zero,
			AverageSlippage: decimal.Zero,
			FeesPaid:        decimal.Zero,
		},
		volume: VolumeMetrics{
			TotalNative: decimal.Zero,
			TotalFiat:   decimal.Zero,
			BuyNative:   decimal.Zero,
			SellNative:  decimal.Zero,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) RecordTrade(ev TradeEvent) {
	if ev.Time.IsZero() {
		ev.Time = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.perf.Transactions++
	a.latency.Push(ev.Latency)
	a.perf.FeesPaid = a.perf.FeesPaid.Add(ev.Fee)

	if !ev.Success {
		a.perf.Failed++
		if ev.Direction == chain.Buy {
			a.perf.FailedBuys++
		} else {
			a.perf.FailedSells++
		}
		a.touch(ev.Time)
		return
	}

	a.perf.Successful++
	fiat := ev.NativeVolume.Mul(ev.FiatPrice)
	a.volume.TotalNative = a.volume.TotalNative.Add(ev.NativeVolume)
	a.volume.TotalFiat = a.volume.TotalFiat.Add(fiat)
	if ev.Direction == chain.Buy {
		a.perf.SuccessfulBuys++
		a.volume.BuyNative = a.volume.BuyNative.Add(ev.NativeVolume)
	} else {
		a.perf.SuccessfulSells++
		a.volume.SellNative = a.volume.SellNative.Add(ev.NativeVolume)
	}
	a.slippage.Push(ev.Slippage)
	a.addBucket(ev.Time, ev.NativeVolume, fiat)
	a.touch(ev.Time)
}

// addBucket 乱序到达的事件并入最新的桶
func (a *Aggregator) addBucket(t time.Time, native, fiat decimal.Decimal) {
	start := t.Truncate(time.Minute)
	if latest := a.buckets.Latest(1); len(latest) == 1 && !start.After(latest[0].Start) {
		a.buckets.Update(func(b *Bucket) {
			b.Native = b.Native.Add(native)
			b.Fiat = b.Fiat.Add(fiat)
			b.Trades++
		})
		return
	}
	a.buckets.Push(Bucket{Start: start, Native: native, Fiat: fiat, Trades: 1})
}

func (a *Aggregator) RecordError(kind chain.ErrorKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[kind]++
	a.touch(a.now())
}

// ObserveWallet 记录钱包最近一次读取到的余额
func (a *Aggregator) ObserveWallet(number int, native, token decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.wallets[number] = walletBalance{native: native, token: token, at: now}
	a.touch(now)
}

// WalletBalance 钱包最近一次观察到的余额, 没有观察过时 ok 为 false
func (a *Aggregator) WalletBalance(number int) (WalletObservation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.wallets[number]
	if !ok {
		return WalletObservation{}, false
	}
	return WalletObservation{Native: w.native, Token: w.token, ObservedAt: w.at}, true
}

func (a *Aggregator) SetWalletCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.walletCnt = n
}

// SetStatus 同步会话状态, 首次进入 active 记录开始时间, 进入终态记录结束时间
func (a *Aggregator) SetStatus(status string) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	switch status {
	case "active":
		if a.startTime == nil {
			a.startTime = &now
		}
	case "stopped", "error":
		if a.endTime == nil {
			a.endTime = &now
		}
	}
	a.touch(now)
}

func (a *Aggregator) touch(t time.Time) {
	if t.After(a.updatedAt) {
		a.updatedAt = t
	}
}

func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	perf := a.perf
	if perf.Transactions > 0 {
		perf.SuccessRate = decimal.NewFromInt(int64(perf.Successful)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(perf.Transactions)))
	}
	perf.AverageSlippage = decimalx.Avg(a.slippage.Values())

	buckets := a.buckets.Values()
	volume := a.volume
	volume.HourlyFiat = sumFiat(buckets, now.Add(-time.Hour))
	volume.DailyFiat = sumFiat(buckets, now.Add(-24*time.Hour))

	snap := Snapshot{
		Session: SessionInfo{
			ID:        a.id,
			Strategy:  a.strategy,
			Status:    a.status,
			StartTime: a.startTime,
			EndTime:   a.endTime,
		},
		Volume:      volume,
		Performance: perf,
		Wallets:     a.walletMetrics(),
		Errors:      make(map[chain.ErrorKind]int, len(a.errors)),
		Timing: TimingMetrics{
			AverageLatency: avgDuration(a.latency.Values()),
			LastUpdate:     a.updatedAt,
		},
		History: lo.Filter(buckets, func(b Bucket, _ int) bool {
			return !b.Start.Before(now.Add(-historyPeriod))
		}),
	}
	for k, v := range a.errors {
		snap.Errors[k] = v
	}
	if a.startTime != nil {
		end := now
		if a.endTime != nil {
			end = *a.endTime
		}
		snap.Timing.Uptime = end.Sub(*a.startTime)
	}
	return snap
}

// History 返回 since 之后的分钟桶
func (a *Aggregator) History(since time.Time) []Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo.Filter(a.buckets.Values(), func(b Bucket, _ int) bool {
		return !b.Start.Before(since)
	})
}

func (a *Aggregator) walletMetrics() WalletMetrics {
	m := WalletMetrics{
		Total:            max(a.walletCnt, len(a.wallets)),
		NativeBalance:    decimal.Zero,
		TokenBalance:     decimal.Zero,
		AveragePerWallet: decimal.Zero,
	}
	for _, w := range a.wallets {
		m.NativeBalance = m.NativeBalance.Add(w.native)
		m.TokenBalance = m.TokenBalance.Add(w.token)
		if w.native.IsPositive() || w.token.IsPositive() {
			m.Active++
		}
	}
	if m.Total > 0 {
		m.AveragePerWallet = m.NativeBalance.Div(decimal.NewFromInt(int64(m.Total)))
	}
	return m
}

func sumFiat(buckets []Bucket, since time.Time) decimal.Decimal {
	return lo.Reduce(buckets, func(acc decimal.Decimal, b Bucket, _ int) decimal.Decimal {
		if b.Start.Before(since) {
			return acc
		}
		return acc.Add(b.Fiat)
	}, decimal.Zero)
}

func avgDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	return lo.Sum(ds) / time.Duration(len(ds))
}
