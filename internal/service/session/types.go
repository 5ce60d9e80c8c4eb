package session

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
)

type Status string

const (
	Created Status = "created"
	Active  Status = "active"
	Paused  Status = "paused"
	Stopped Status = "stopped"
	Error   Status = "error"
)

func (s Status) ToString() string {
	return string(s)
}

// Terminal 终态不会再发生任何迁移
func (s Status) Terminal() bool {
	return s == Stopped || s == Error
}

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

var transitions = map[Status][]Status{
	Created: {Active, Stopped},
	Active:  {Paused, Stopped, Error},
	Paused:  {Active, Stopped},
}

// CanTransition 是否允许 from -> to
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Session struct {
	ID       string
	Owner    string
	Token    Token
	Strategy strategy.Strategy
	Status   Status
	Admin    chain.Wallet
	// Wallets 交易钱包, 按编号升序
	Wallets []chain.Wallet
	Routing chain.RoutingData
	Config  strategy.Config

	CreatedAt time.Time
	StartTime *time.Time
	EndTime   *time.Time
	// ResumedAt 最近一次进入 active 的时间, 非 active 时为 nil
	ResumedAt *time.Time
	// ActiveTime 累计运行时长, 不含当前这段 active
	ActiveTime time.Duration
	Cycles     int
	StopReason string
	LastError  string
}

// Elapsed 会话累计处于 active 的时长
func (s Session) Elapsed(now time.Time) time.Duration {
	if s.ResumedAt == nil {
		return s.ActiveTime
	}
	return s.ActiveTime + now.Sub(*s.ResumedAt)
}

// Schedule 会话策略对应的调度参数
func (s Session) Schedule() strategy.Schedule {
	return s.Config.Schedule(s.Strategy)
}

func (s Session) clone() Session {
	res := s
	res.Wallets = slices.Clone(s.Wallets)
	res.Routing = bytes.Clone(s.Routing)
	res.StartTime = clonePtr(s.StartTime)
	res.EndTime = clonePtr(s.EndTime)
	res.ResumedAt = clonePtr(s.ResumedAt)
	return res
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type CreateReq struct {
	Owner    string
	Token    Token
	Strategy string
	Admin    chain.Wallet
	Wallets  []chain.Wallet
	Routing  chain.RoutingData
	Config   strategy.Config
}

// Transition 一次已生效的状态迁移, From 为空表示新建
type Transition struct {
	Session Session
	From    Status
	To      Status
	Reason  string
}

// Observer 在会话锁释放后同步调用, 同一会话的回调按迁移顺序串行执行, 回调内不能再触发该会话的迁移
type Observer func(ctx context.Context, t Transition)

type Service interface {
	Create(ctx context.Context, req CreateReq) (string, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Stop(ctx context.Context, id, reason string) error
	Fail(ctx context.Context, id, reason string) error
	RecordCycle(id string) (int, error)
	Get(id string) (Session, error)
	Status(id string) (Status, error)
	List(owner string) []Session
}
