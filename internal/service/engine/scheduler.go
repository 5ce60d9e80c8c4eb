package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/schedule"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.t.C
}

func (t timeTicker) Stop() {
	t.t.Stop()
}

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler 每个会话最多一个运行中的 driver
type Scheduler struct {
	drivers sync.Map // session id -> *handle
	wg      sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Launch 替换会话的 driver, 新 driver 等上一个退出后才开始
func (s *Scheduler) Launch(id string, task schedule.Task) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	prev, loaded := s.drivers.Swap(id, h)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()
		defer s.drivers.CompareAndDelete(id, h)

		if loaded {
			p := prev.(*handle)
			p.cancel()
			<-p.done
		}
		if ctx.Err() != nil {
			return
		}
		slog.Debug("task started", "task", task.Name())
		if err := task.Run(ctx); err != nil {
			slog.Error("task exited with error", "task", task.Name(), "error", err)
		}
	}()
}

// Cancel 协作式取消, 正在进行的一轮会跑完
func (s *Scheduler) Cancel(id string) {
	if h, ok := s.drivers.Load(id); ok {
		h.(*handle).cancel()
	}
}

func (s *Scheduler) Running(id string) bool {
	_, ok := s.drivers.Load(id)
	return ok
}

// Shutdown 取消所有 driver 并等待退出
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.drivers.Range(func(_, value any) bool {
		value.(*handle).cancel()
		return true
	})
	return waitGroup(ctx, &s.wg)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
