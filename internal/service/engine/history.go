package engine

import (
	"sync"

	"github.com/KNICEX/volume-agent/pkg/window"
)

const historySize = 100

// History 会话最近的交易记录
type History struct {
	mu sync.Mutex
	w  *window.Window[*TradeRecord]
}

func NewHistory(size int) *History {
	return &History{w: window.New[*TradeRecord](size)}
}

func (h *History) Add(rec *TradeRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.w.Push(rec)
}

// Finish 在锁内完成记录, 返回完成后的副本
func (h *History) Finish(rec *TradeRecord, fn func(r *TradeRecord)) TradeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(rec)
	return *rec
}

// Recent 从新到旧
func (h *History) Recent(limit int) []TradeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	latest := h.w.Latest(limit)
	res := make([]TradeRecord, len(latest))
	for i, r := range latest {
		res[i] = *r
	}
	return res
}
