package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/repo"
	"github.com/KNICEX/volume-agent/internal/service/analytics"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/fee"
	"github.com/KNICEX/volume-agent/internal/service/notification"
	"github.com/KNICEX/volume-agent/internal/service/price"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/snapshot"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var _ Engine = (*VolumeEngine)(nil)

const collectTimeout = time.Minute

// runtime 会话运行期状态, 与会话同生命周期
type runtime struct {
	metrics     *analytics.Aggregator
	history     *History
	planner     *strategy.Planner
	slippageBps atomic.Int64
}

func (rt *runtime) relax(risk strategy.RiskConfig) {
	for {
		cur := rt.slippageBps.Load()
		next := int64(strategy.Relax(int(cur), risk))
		if next == cur || rt.slippageBps.CompareAndSwap(cur, next) {
			return
		}
	}
}

type VolumeEngine struct {
	collab   Collaborators
	fees     fee.Service
	sessions *session.Manager

	breakers  *circuit.Set
	scheduler *Scheduler
	runtimes  sync.Map // session id -> *runtime

	sessionRepo repo.SessionRepo
	tradeRepo   repo.TradeRepo
	notifier    notification.Notifier
	exporter    *analytics.Exporter
	prices      price.Feed

	defaultConfig strategy.Config
	now           func() time.Time
	newTicker     TickerFactory
	random        func() float64

	// bg 停止时的手续费归集
	bg sync.WaitGroup
}

type Option func(e *VolumeEngine)

func WithSessionRepo(r repo.SessionRepo) Option {
	return func(e *VolumeEngine) {
		e.sessionRepo = r
	}
}

func WithTradeRepo(r repo.TradeRepo) Option {
	return func(e *VolumeEngine) {
		e.tradeRepo = r
	}
}

func WithNotifier(n notification.Notifier) Option {
	return func(e *VolumeEngine) {
		e.notifier = n
	}
}

func WithExporter(x *analytics.Exporter) Option {
	return func(e *VolumeEngine) {
		e.exporter = x
	}
}

func WithPriceFeed(f price.Feed) Option {
	return func(e *VolumeEngine) {
		e.prices = f
	}
}

func WithBreakers(s *circuit.Set) Option {
	return func(e *VolumeEngine) {
		e.breakers = s
	}
}

func WithDefaultConfig(cfg strategy.Config) Option {
	return func(e *VolumeEngine) {
		e.defaultConfig = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *VolumeEngine) {
		e.now = now
	}
}

func WithTicker(f TickerFactory) Option {
	return func(e *VolumeEngine) {
		e.newTicker = f
	}
}

// WithRandom 钱包方向和数量的随机源
func WithRandom(f func() float64) Option {
	return func(e *VolumeEngine) {
		e.random = f
	}
}

func NewVolumeEngine(collab Collaborators, fees fee.Service, opts ...Option) *VolumeEngine {
	e := &VolumeEngine{
		collab:        collab,
		fees:          fees,
		scheduler:     NewScheduler(),
		defaultConfig: strategy.DefaultConfig(),
		now:           time.Now,
		newTicker:     NewTimeTicker,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breakers == nil {
		e.breakers = circuit.NewSet(circuit.DefaultConfig(), circuit.WithClock(e.now))
	}
	if e.exporter == nil {
		e.exporter = analytics.NewExporter(prometheus.NewRegistry())
	}
	if e.notifier == nil {
		e.notifier = notification.NewConsoleNotifier(slog.Default())
	}
	e.sessions = session.NewManager(session.WithClock(e.now), session.WithObserver(e.onTransition))
	return e
}

// config 请求未指定配置时使用默认配置
func (e *VolumeEngine) config(c *strategy.Config) strategy.Config {
	if c != nil {
		return *c
	}
	return e.defaultConfig
}

func (e *VolumeEngine) CreateSession(ctx context.Context, req CreateSessionReq) (string, error) {
	cfg := e.config(req.Config)
	routing := req.Routing
	if len(routing) == 0 && e.collab.Pools != nil {
		r, err := e.collab.Pools.Resolve(ctx, req.Token.Address)
		if err != nil {
			return "", fmt.Errorf("%w: resolve pool for %s: %w", session.ErrInvalidConfiguration, req.Token.Address, err)
		}
		routing = r
	}

	return e.sessions.Create(ctx, session.CreateReq{
		Owner:    req.Owner,
		Token:    req.Token,
		Strategy: req.Strategy,
		Admin:    req.Admin,
		Wallets:  req.Wallets,
		Routing:  routing,
		Config:   cfg,
	})
}

func (e *VolumeEngine) StartSession(ctx context.Context, id string) error {
	return e.sessions.Start(ctx, id)
}

func (e *VolumeEngine) PauseSession(ctx context.Context, id string) error {
	return e.sessions.Pause(ctx, id)
}

func (e *VolumeEngine) StopSession(ctx context.Context, id string) error {
	return e.sessions.Stop(ctx, id, "stopped by user")
}

func (e *VolumeEngine) GetSessionStatus(id string) (session.Status, error) {
	return e.sessions.Status(id)
}

func (e *VolumeEngine) GetSession(id string) (session.Session, error) {
	return e.sessions.Get(id)
}

func (e *VolumeEngine) ListSessions(owner string) []session.Session {
	return e.sessions.List(owner)
}

// ArchivedSessions 从存储中读取历史会话, 包括进程重启前的
func (e *VolumeEngine) ArchivedSessions(ctx context.Context, owner string) ([]entity.Session, error) {
	if e.sessionRepo == nil {
		return nil, nil
	}
	return e.sessionRepo.FindByOwner(ctx, owner)
}

func (e *VolumeEngine) GetMetricsSnapshot(id string) (analytics.Snapshot, error) {
	rt, err := e.runtime(id)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	return rt.metrics.Snapshot(), nil
}

func (e *VolumeEngine) GetFeeReport() fee.Report {
	return e.fees.Report()
}

func (e *VolumeEngine) GetUserFeeStats(user string) fee.UserStats {
	return e.fees.UserStats(user)
}

func (e *VolumeEngine) CalculateFee(user string) decimal.Decimal {
	return e.fees.CalculateFee(user)
}

// GetRecentTrades 从新到旧, 超出内存窗口的部分从存储读取
func (e *VolumeEngine) GetRecentTrades(ctx context.Context, id string, limit int) ([]TradeRecord, error) {
	rt, err := e.runtime(id)
	if err != nil {
		return nil, err
	}
	if limit <= historySize || e.tradeRepo == nil {
		return rt.history.Recent(limit), nil
	}
	trades, err := e.tradeRepo.FindRecent(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load trades of session %s: %w", id, err)
	}
	return lo.Map(trades, func(t entity.Trade, _ int) TradeRecord {
		return fromTradeEntity(t)
	}), nil
}

func (e *VolumeEngine) ExportSession(id string) (snapshot.Snapshot, error) {
	s, err := e.sessions.Get(id)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.Export(s, e.collab.Wallets)
}

// ImportSession 从快照恢复钱包并创建新会话
func (e *VolumeEngine) ImportSession(ctx context.Context, snap snapshot.Snapshot) (string, error) {
	admin, wallets, err := snap.Restore(ctx, e.collab.Wallets)
	if err != nil {
		return "", fmt.Errorf("%w: %w", session.ErrInvalidConfiguration, err)
	}
	return e.CreateSession(ctx, CreateSessionReq{
		Owner:    snap.Owner,
		Token:    snap.Token,
		Strategy: snap.Strategy,
		Admin:    admin,
		Wallets:  wallets,
		Routing:  chain.RoutingData(snap.Routing),
		Config:   snap.Config,
	})
}

// GenerateWallets 生成一个管理钱包和 n 个交易钱包
func (e *VolumeEngine) GenerateWallets(ctx context.Context, n int) (chain.Wallet, []chain.Wallet, error) {
	if n <= 0 || n > e.defaultConfig.Wallets.MaxWallets {
		return chain.Wallet{}, nil, fmt.Errorf("%w: 钱包数量必须在 1..%d 之间", session.ErrInvalidConfiguration, e.defaultConfig.Wallets.MaxWallets)
	}
	admin, err := e.collab.Wallets.Create(ctx)
	if err != nil {
		return chain.Wallet{}, nil, fmt.Errorf("create admin wallet: %w", err)
	}
	admin.Number = 0
	wallets := make([]chain.Wallet, 0, n)
	for i := 1; i <= n; i++ {
		w, err := e.collab.Wallets.Create(ctx)
		if err != nil {
			return chain.Wallet{}, nil, fmt.Errorf("create wallet #%d: %w", i, err)
		}
		w.Number = i
		wallets = append(wallets, w)
	}
	return admin, wallets, nil
}

// Shutdown 等待所有 driver 和手续费归集结束, 不改变会话状态
func (e *VolumeEngine) Shutdown(ctx context.Context) error {
	return errors.Join(e.scheduler.Shutdown(ctx), waitGroup(ctx, &e.bg))
}

func (e *VolumeEngine) runtime(id string) (*runtime, error) {
	rt, ok := e.runtimes.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return rt.(*runtime), nil
}

func (e *VolumeEngine) newRuntime(s session.Session) *runtime {
	var opts []strategy.PlannerOption
	if e.random != nil {
		opts = append(opts, strategy.WithRandom(e.random))
	}
	rt := &runtime{
		metrics: analytics.NewAggregator(s.ID, s.Strategy.ToString(), analytics.WithClock(e.now)),
		history: NewHistory(historySize),
		planner: strategy.NewPlanner(s.Config, opts...),
	}
	rt.metrics.SetWalletCount(len(s.Wallets))
	rt.slippageBps.Store(int64(strategy.InitialSlippageBps(s.Config.Risk)))
	return rt
}

// onTransition 会话状态迁移后的副作用
func (e *VolumeEngine) onTransition(ctx context.Context, t session.Transition) {
	s := t.Session
	switch t.To {
	case session.Created:
		e.runtimes.Store(s.ID, e.newRuntime(s))
	case session.Active:
		rt, err := e.runtime(s.ID)
		if err != nil {
			slog.Error("session runtime missing", "session", s.ID)
			return
		}
		e.scheduler.Launch(s.ID, &driver{e: e, id: s.ID, rt: rt})
	case session.Paused:
		e.scheduler.Cancel(s.ID)
	case session.Stopped, session.Error:
		e.scheduler.Cancel(s.ID)
		e.breakers.Drop(s.ID)
		if t.To == session.Stopped {
			e.collectFees(s)
		}
	}

	if rt, err := e.runtime(s.ID); err == nil {
		rt.metrics.SetStatus(t.To.ToString())
	}
	e.exporter.SetActiveSessions(e.sessions.CountByStatus()[session.Active])
	e.persistSession(ctx, s)
	e.notify(ctx, notification.Event{
		Type:      eventTypes[t.To],
		SessionID: s.ID,
		Status:    t.To.ToString(),
		Reason:    t.Reason,
	})
}

var eventTypes = map[session.Status]notification.EventType{
	session.Created: notification.SessionCreated,
	session.Active:  notification.SessionStarted,
	session.Paused:  notification.SessionPaused,
	session.Stopped: notification.SessionStopped,
	session.Error:   notification.SessionError,
}

// collectFees 异步归集会话所有者累积的手续费
func (e *VolumeEngine) collectFees(s session.Session) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
		defer cancel()
		amount, err := e.fees.Collect(ctx, e.feeUser(s), s.Admin)
		if err != nil {
			slog.Error("collect fee on stop failed", "session", s.ID, "error", err)
			return
		}
		if amount.IsPositive() {
			slog.Info("collected fee on stop", "session", s.ID, "amount", amount.String())
		}
	}()
}

// feeUser 手续费按所有者计, 没有所有者时按管理钱包
func (e *VolumeEngine) feeUser(s session.Session) string {
	if s.Owner != "" {
		return s.Owner
	}
	return s.Admin.Address
}

func (e *VolumeEngine) fiatPrice(ctx context.Context) decimal.Decimal {
	if e.prices == nil {
		return decimal.Zero
	}
	p, err := e.prices.NativeUSD(ctx)
	if err != nil {
		slog.Debug("native price unavailable", "error", err)
		return decimal.Zero
	}
	return p
}

func (e *VolumeEngine) notify(ctx context.Context, event notification.Event) {
	if event.Time.IsZero() {
		event.Time = e.now()
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		slog.Warn("notify failed", "type", event.Type, "session", event.SessionID, "error", err)
	}
}
