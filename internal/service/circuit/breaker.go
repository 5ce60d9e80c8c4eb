package circuit

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
)

type Scope string

const (
	// ScopeGlobal 所有会话共享同一组计数器
	ScopeGlobal Scope = "global"
	// ScopeSession 每个会话独立计数
	ScopeSession Scope = "session"
)

type Config struct {
	Threshold         int           `mapstructure:"threshold"`
	Window            time.Duration `mapstructure:"window"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	Scope             Scope         `mapstructure:"scope"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:         10,
		Window:            5 * time.Minute,
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		BackoffFactor:     2,
		RateLimitCooldown: time.Minute,
		Scope:             ScopeGlobal,
	}
}

// Verdict 一次失败处理的结论
type Verdict struct {
	Kind Kind
	// Stop 为 true 时会话必须停止
	Stop   bool
	Reason string
	// Backoff 下一次尝试前需要等待的时间
	Backoff time.Duration
	// RelaxSlippage 调用方可以放宽滑点上限
	RelaxSlippage bool
}

type KindStats struct {
	Count   int       `json:"count"`
	Last    time.Time `json:"last"`
	Tripped bool      `json:"tripped"`
}

type counter struct {
	count int
	last  time.Time
}

// Breaker 按错误类型计数的熔断器
type Breaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	counters      map[Kind]*counter
	cooldownUntil time.Time
}

type Option func(b *Breaker)

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

func NewBreaker(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[Kind]*counter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Handle(kind Kind) Verdict {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.counters[kind]
	if !ok {
		c = &counter{}
		b.counters[kind] = c
	}
	// 上一次发生已超出窗口, 历史计数不再参与熔断
	if c.count > 0 && now.Sub(c.last) > b.cfg.Window {
		c.count = 0
	}
	c.count++
	c.last = now

	v := Verdict{Kind: kind}
	switch kind {
	case chain.KindInsufficientBalance:
		v.Stop = true
		v.Reason = "insufficient balance"
	case chain.KindRPC:
		v.Backoff = b.backoff(c.count - 1)
	case chain.KindRateLimit:
		v.Backoff = b.cfg.RateLimitCooldown
	case chain.KindSlippageExceeded:
		v.RelaxSlippage = true
	}

	if c.count > b.cfg.Threshold {
		v.Stop = true
		v.Reason = fmt.Sprintf("circuit breaker open for %s: %d failures within %s", kind, c.count, b.cfg.Window)
		slog.Warn("circuit breaker tripped", "kind", kind, "count", c.count)
	}

	if v.Backoff > 0 {
		if until := now.Add(v.Backoff); until.After(b.cooldownUntil) {
			b.cooldownUntil = until
		}
	}
	return v
}

func (b *Breaker) backoff(retry int) time.Duration {
	d := float64(b.cfg.BackoffBase) * math.Pow(b.cfg.BackoffFactor, float64(retry))
	if d > float64(b.cfg.BackoffCap) || math.IsInf(d, 0) {
		return b.cfg.BackoffCap
	}
	return time.Duration(d)
}

// Ready 冷却期结束后才允许下一轮
func (b *Breaker) Ready(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.cooldownUntil)
}

func (b *Breaker) CooldownUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldownUntil
}

func (b *Breaker) Tripped(kind Kind) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[kind]
	if !ok {
		return false
	}
	return b.tripped(c, now)
}

func (b *Breaker) tripped(c *counter, now time.Time) bool {
	return c.count > b.cfg.Threshold && now.Sub(c.last) <= b.cfg.Window
}

func (b *Breaker) Stats() map[Kind]KindStats {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make(map[Kind]KindStats, len(b.counters))
	for kind, c := range b.counters {
		res[kind] = KindStats{
			Count:   c.count,
			Last:    c.last,
			Tripped: b.tripped(c, now),
		}
	}
	return res
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters = make(map[Kind]*counter)
	b.cooldownUntil = time.Time{}
}

// Set 按配置的隔离范围分发熔断器
type Set struct {
	cfg    Config
	opts   []Option
	global *Breaker
	perSes sync.Map
}

func NewSet(cfg Config, opts ...Option) *Set {
	s := &Set{cfg: cfg, opts: opts}
	if cfg.Scope != ScopeSession {
		s.global = NewBreaker(cfg, opts...)
	}
	return s
}

func (s *Set) For(sessionID string) *Breaker {
	if s.global != nil {
		return s.global
	}
	if b, ok := s.perSes.Load(sessionID); ok {
		return b.(*Breaker)
	}
	b, _ := s.perSes.LoadOrStore(sessionID, NewBreaker(s.cfg, s.opts...))
	return b.(*Breaker)
}

func (s *Set) Scope() Scope {
	if s.global != nil {
		return ScopeGlobal
	}
	return ScopeSession
}

// Drop 会话结束后释放独立计数器, 全局模式下无操作
func (s *Set) Drop(sessionID string) {
	s.perSes.Delete(sessionID)
}
