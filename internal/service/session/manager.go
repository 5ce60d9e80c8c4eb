package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ Service = (*Manager)(nil)

type entry struct {
	// emitMu 保证同一会话的观察者回调按迁移顺序执行, 必须先于 mu 获取
	emitMu sync.Mutex
	mu     sync.Mutex
	s      Session
}

// Manager 会话状态机, 每个会话一把锁
type Manager struct {
	now       func() time.Time
	sessions  sync.Map
	observers []Observer
}

type Option func(m *Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(ctx context.Context, t Transition) {
	for _, o := range m.observers {
		o(ctx, t)
	}
}

func (m *Manager) Create(ctx context.Context, req CreateReq) (string, error) {
	s, err := validate(req)
	if err != nil {
		return "", err
	}
	s.ID = uuid.NewString()
	s.Status = Created
	s.CreatedAt = m.now()

	e := &entry{s: s}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	m.sessions.Store(s.ID, e)
	slog.Info("session created", "session", s.ID, "owner", s.Owner, "strategy", s.Strategy, "wallets", len(s.Wallets))
	m.emit(ctx, Transition{Session: s.clone(), To: Created})
	return s.ID, nil
}

func validate(req CreateReq) (Session, error) {
	if len(req.Wallets) == 0 {
		return Session{}, fmt.Errorf("%w: 交易钱包不能为空", ErrInvalidConfiguration)
	}
	strat, err := strategy.Parse(req.Strategy)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := req.Config.Validate(); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if req.Token.Address == "" {
		return Session{}, fmt.Errorf("%w: token 地址不能为空", ErrInvalidConfiguration)
	}
	if req.Admin.Number != 0 || req.Admin.Address == "" {
		return Session{}, fmt.Errorf("%w: 管理钱包编号必须为 0", ErrInvalidConfiguration)
	}
	if len(req.Wallets) > req.Config.Wallets.MaxWallets {
		return Session{}, fmt.Errorf("%w: 钱包数量 %d 超过上限 %d", ErrInvalidConfiguration, len(req.Wallets), req.Config.Wallets.MaxWallets)
	}

	// 保持调用方给出的顺序
	wallets := append(req.Wallets[:0:0], req.Wallets...)
	seen := make(map[int]struct{}, len(wallets))
	for _, w := range wallets {
		if w.Number < 1 || w.Address == "" {
			return Session{}, fmt.Errorf("%w: 无效的交易钱包 #%d", ErrInvalidConfiguration, w.Number)
		}
		if _, ok := seen[w.Number]; ok {
			return Session{}, fmt.Errorf("%w: 钱包编号重复 #%d", ErrInvalidConfiguration, w.Number)
		}
		seen[w.Number] = struct{}{}
	}

	return Session{
		Owner:    req.Owner,
		Token:    req.Token,
		Strategy: strat,
		Admin:    req.Admin,
		Wallets:  wallets,
		Routing:  req.Routing,
		Config:   req.Config,
	}, nil
}

func (m *Manager) load(id string) (*entry, error) {
	e, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.(*entry), nil
}

// apply 在会话锁内执行 fn, fn 返回 false 表示无需迁移
func (m *Manager) apply(ctx context.Context, id string, fn func(s *Session, now time.Time) (Transition, bool, error)) error {
	e, err := m.load(id)
	if err != nil {
		return err
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	t, changed, err := fn(&e.s, m.now())
	if changed {
		t.Session = e.s.clone()
	}
	e.mu.Unlock()

	if err != nil || !changed {
		return err
	}
	slog.Info("session transition", "session", id, "from", t.From, "to", t.To, "reason", t.Reason)
	m.emit(ctx, t)
	return nil
}

func (m *Manager) Start(ctx context.Context, id string) error {
	return m.apply(ctx, id, func(s *Session, now time.Time) (Transition, bool, error) {
		if s.Status == Active {
			return Transition{}, false, nil
		}
		if !CanTransition(s.Status, Active) {
			return Transition{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, Active)
		}
		from := s.Status
		if s.StartTime == nil {
			s.StartTime = &now
		}
		s.ResumedAt = &now
		s.Status = Active
		return Transition{From: from, To: Active}, true, nil
	})
}

func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.apply(ctx, id, func(s *Session, now time.Time) (Transition, bool, error) {
		if s.Status != Active {
			return Transition{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, Paused)
		}
		suspend(s, now)
		s.Status = Paused
		return Transition{From: Active, To: Paused}, true, nil
	})
}

// Stop 已停止时为空操作
func (m *Manager) Stop(ctx context.Context, id, reason string) error {
	return m.apply(ctx, id, func(s *Session, now time.Time) (Transition, bool, error) {
		if s.Status == Stopped {
			return Transition{}, false, nil
		}
		if !CanTransition(s.Status, Stopped) {
			return Transition{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, Stopped)
		}
		from := s.Status
		suspend(s, now)
		s.Status = Stopped
		s.EndTime = &now
		s.StopReason = reason
		return Transition{From: from, To: Stopped, Reason: reason}, true, nil
	})
}

func (m *Manager) Fail(ctx context.Context, id, reason string) error {
	return m.apply(ctx, id, func(s *Session, now time.Time) (Transition, bool, error) {
		if !CanTransition(s.Status, Error) {
			return Transition{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, Error)
		}
		from := s.Status
		suspend(s, now)
		s.Status = Error
		s.EndTime = &now
		s.LastError = reason
		return Transition{From: from, To: Error, Reason: reason}, true, nil
	})
}

func suspend(s *Session, now time.Time) {
	if s.ResumedAt != nil {
		s.ActiveTime += now.Sub(*s.ResumedAt)
		s.ResumedAt = nil
	}
}

func (m *Manager) RecordCycle(id string) (int, error) {
	e, err := m.load(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.Cycles++
	return e.s.Cycles, nil
}

// RecordError 记录最近一次错误, 不改变状态
func (m *Manager) RecordError(id, msg string) {
	e, err := m.load(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.LastError = msg
}

func (m *Manager) Get(id string) (Session, error) {
	e, err := m.load(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone(), nil
}

func (m *Manager) Status(id string) (Status, error) {
	e, err := m.load(id)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Status, nil
}

// List owner 为空返回全部, 按创建时间升序
func (m *Manager) List(owner string) []Session {
	var res []Session
	m.sessions.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if owner == "" || e.s.Owner == owner {
			res = append(res, e.s.clone())
		}
		e.mu.Unlock()
		return true
	})
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// CountByStatus 各状态的会话数
func (m *Manager) CountByStatus() map[Status]int {
	return lo.CountValuesBy(m.List(""), func(s Session) Status {
		return s.Status
	})
}
