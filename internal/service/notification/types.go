package notification

import (
	"context"
	"time"
)

type EventType string

const (
	SessionCreated EventType = "session_created"
	SessionStarted EventType = "session_started"
	SessionPaused  EventType = "session_paused"
	SessionStopped EventType = "session_stopped"
	SessionError   EventType = "session_error"
	TradeSuccess   EventType = "trade_success"
	TradeFailed    EventType = "trade_failed"
)

// Event 推送给外部的引擎事件
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	// Data 交易记录或其他附加数据
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
