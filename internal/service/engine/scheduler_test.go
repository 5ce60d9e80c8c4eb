package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KNICEX/volume-agent/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingTask struct {
	name    string
	live    *atomic.Int32
	maxLive *atomic.Int32
	started chan struct{}
}

func (b *blockingTask) Name() string {
	return b.name
}

func (b *blockingTask) Run(ctx context.Context) error {
	n := b.live.Add(1)
	defer b.live.Add(-1)
	for {
		cur := b.maxLive.Load()
		if n <= cur || b.maxLive.CompareAndSwap(cur, n) {
			break
		}
	}
	close(b.started)
	<-ctx.Done()
	// 模拟一轮收尾
	time.Sleep(20 * time.Millisecond)
	return nil
}

func TestScheduler_OneDriverPerSession(t *testing.T) {
	s := NewScheduler()
	var live, maxLive atomic.Int32

	first := &blockingTask{name: "first", live: &live, maxLive: &maxLive, started: make(chan struct{})}
	s.Launch("s1", first)
	<-first.started

	second := &blockingTask{name: "second", live: &live, maxLive: &maxLive, started: make(chan struct{})}
	s.Launch("s1", second)
	select {
	case <-second.started:
	case <-time.After(time.Second):
		t.Fatal("second driver never started")
	}
	assert.True(t, s.Running("s1"))
	assert.Equal(t, int32(1), maxLive.Load())

	s.Cancel("s1")
	require.Eventually(t, func() bool { return !s.Running("s1") }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(0), live.Load())
}

func TestScheduler_ShutdownCancelsAll(t *testing.T) {
	s := NewScheduler()
	var live, maxLive atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		task := &blockingTask{name: id, live: &live, maxLive: &maxLive, started: make(chan struct{})}
		s.Launch(id, task)
		<-task.started
	}
	assert.Equal(t, int32(3), live.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(0), live.Load())
	assert.False(t, s.Running("a"))
}

func TestScheduler_TaskErrorReleasesSlot(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{})
	s.Launch("s1", schedule.Func("failing", func(ctx context.Context) error {
		close(ran)
		return errors.New("boom")
	}))
	<-ran
	require.Eventually(t, func() bool { return !s.Running("s1") }, time.Second, 5*time.Millisecond)

	// 释放后可以再次启动
	again := make(chan struct{})
	s.Launch("s1", schedule.Func("again", func(ctx context.Context) error {
		close(again)
		<-ctx.Done()
		return nil
	}))
	<-again
	assert.True(t, s.Running("s1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestHistory_NewestFirst(t *testing.T) {
	h := NewHistory(3)
	recs := make([]*TradeRecord, 5)
	for i := range recs {
		recs[i] = &TradeRecord{ID: string(rune('a' + i)), Status: TradePending}
		h.Add(recs[i])
	}
	done := h.Finish(recs[4], func(r *TradeRecord) { r.Status = TradeSuccess })
	assert.Equal(t, TradeSuccess, done.Status)

	got := h.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, TradeSuccess, got[0].Status)
	assert.Len(t, h.Recent(2), 2)
}
