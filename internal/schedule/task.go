package schedule

import "context"

// Task 由调度器托管的长期任务, ctx 取消后应尽快返回
type Task interface {
	Run(ctx context.Context) error
	Name() string
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcTask) Name() string {
	return f.name
}

func (f funcTask) Run(ctx context.Context) error {
	return f.fn(ctx)
}

// Func 把普通函数包装成 Task
func Func(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}
