package window

// Window 固定容量的先进先出窗口, 满了之后淘汰最旧的元素
// 非并发安全, 由调用方加锁
type Window[T any] struct {
	buf   []T
	start int
	size  int
}

func New[T any](capacity int) *Window[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

func (w *Window[T]) Push(v T) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window[T]) Len() int {
	return w.size
}

func (w *Window[T]) Cap() int {
	return len(w.buf)
}

// Values 从旧到新
func (w *Window[T]) Values() []T {
	res := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		res[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return res
}

// Latest 从新到旧, 最多 n 个, n <= 0 返回全部
func (w *Window[T]) Latest(n int) []T {
	if n <= 0 || n > w.size {
		n = w.size
	}
	res := make([]T, n)
	for i := 0; i < n; i++ {
		res[i] = w.buf[(w.start+w.size-1-i)%len(w.buf)]
	}
	return res
}

// Update 原地修改最新的元素, 窗口为空时无操作
func (w *Window[T]) Update(f func(v *T)) {
	if w.size == 0 {
		return
	}
	f(&w.buf[(w.start+w.size-1)%len(w.buf)])
}
