package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/schedule"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/samber/lo"
)

var _ schedule.Task = (*driver)(nil)

// driver 会话的交易循环, 每个 tick 跑一轮
type driver struct {
	e  *VolumeEngine
	id string
	rt *runtime
}

func (d *driver) Name() string {
	return "session-" + d.id
}

func (d *driver) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
			slog.Error("session driver panic", "session", d.id, "panic", r)
			if ferr := d.e.sessions.Fail(context.WithoutCancel(ctx), d.id, err.Error()); ferr != nil {
				slog.Error("mark session error failed", "session", d.id, "error", ferr)
			}
		}
	}()

	s, err := d.e.sessions.Get(d.id)
	if err != nil {
		return err
	}
	ticker := d.e.newTicker(s.Schedule().LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session driver exit", "session", d.id)
			return nil
		case at := <-ticker.C():
			if !d.tick(ctx, at) {
				return nil
			}
		}
	}
}

// tick 返回 false 表示 driver 应当退出, at 为本次 tick 的时间
func (d *driver) tick(ctx context.Context, at time.Time) bool {
	// 状态是唯一的取消判断点
	s, err := d.e.sessions.Get(d.id)
	if err != nil || s.Status != session.Active {
		return false
	}

	breaker := d.e.breakers.For(d.id)
	if !breaker.Ready(at) {
		slog.Debug("breaker cooling down, skip cycle", "session", d.id, "until", breaker.CooldownUntil())
		return d.checkDuration(ctx, s)
	}

	start := d.e.now()
	verdicts := d.cycle(ctx, s, breaker)
	cycles, err := d.e.sessions.RecordCycle(d.id)
	if err != nil {
		return false
	}
	d.e.exporter.ObserveCycle(d.e.now().Sub(start))

	if v, ok := lo.Find(verdicts, func(v circuit.Verdict) bool { return v.Stop }); ok {
		d.stop(ctx, v.Reason)
		return false
	}
	if cycles >= s.Schedule().MaxCycles() {
		d.stop(ctx, "max cycles reached")
		return false
	}
	s, err = d.e.sessions.Get(d.id)
	if err != nil {
		return false
	}
	return d.checkDuration(ctx, s)
}

// cycle 并发执行选中钱包的交易, 所有尝试结束后才返回
func (d *driver) cycle(ctx context.Context, s session.Session, breaker *circuit.Breaker) []circuit.Verdict {
	wallets := strategy.Select(s.Wallets, s.Schedule().WalletsPerCycle)
	verdicts := make([]circuit.Verdict, len(wallets))
	x := &Executor{e: d.e, s: s, rt: d.rt, breaker: breaker}

	// 取消只发生在 tick 之间, 进行中的交易需要跑完
	attemptCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i, w := range wallets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdicts[i] = x.Execute(attemptCtx, w)
		}()
	}
	wg.Wait()
	return verdicts
}

func (d *driver) checkDuration(ctx context.Context, s session.Session) bool {
	if s.Elapsed(d.e.now()) >= s.Schedule().Duration {
		d.stop(ctx, "duration reached")
		return false
	}
	return true
}

func (d *driver) stop(ctx context.Context, reason string) {
	if err := d.e.sessions.Stop(context.WithoutCancel(ctx), d.id, reason); err != nil {
		slog.Error("stop session failed", "session", d.id, "reason", reason, "error", err)
	}
}
