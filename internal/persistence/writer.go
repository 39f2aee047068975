package persistence

import (
	"sync"
	"time"
)

// DefaultDebounce 是合并写入的默认静默时间。
const DefaultDebounce = 500 * time.Millisecond

// CoalescingWriter 合并高频写入：在 delay 时间内没有新值时才落盘最后一个值。
// 写入按调度顺序串行执行，较旧的值不会覆盖较新的值。
type CoalescingWriter[T any] struct {
	delay time.Duration
	write func(T)

	mu         sync.Mutex
	timer      *time.Timer
	pending    T
	hasPending bool
	seq        uint64
	floor      uint64
	stopped    bool

	writeMu sync.Mutex
	written uint64
}

// NewCoalescingWriter 创建一个合并写入器；delay <= 0 时使用 DefaultDebounce。
func NewCoalescingWriter[T any](delay time.Duration, write func(T)) *CoalescingWriter[T] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &CoalescingWriter[T]{delay: delay, write: write}
}

// Schedule 记录最新的值并重置计时器。
func (w *CoalescingWriter[T]) Schedule(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending = v
	w.hasPending = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.fire)
}

// Flush 立即写出尚未落盘的值。
func (w *CoalescingWriter[T]) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	v, seq, ok := w.take()
	w.mu.Unlock()
	if ok {
		w.commit(v, seq)
	}
}

// Cancel 丢弃尚未落盘的值，包括已取出但尚未写入的值。
func (w *CoalescingWriter[T]) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	var zero T
	w.pending = zero
	w.hasPending = false
	w.floor = w.seq
}

// WriteNow 丢弃尚未落盘的值并同步写出 v，之前取出但未写入的值不再写入。
func (w *CoalescingWriter[T]) WriteNow(v T) {
	w.Replace(v)()
}

// Replace 丢弃尚未落盘的值，并为 v 预留写入顺序，返回的函数执行实际写入。
// 调用方可以在自己的锁内预留、在锁外写入；写入前若已有更新的值落盘，v 会被跳过。
func (w *CoalescingWriter[T]) Replace(v T) func() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	var zero T
	w.pending = zero
	w.hasPending = false
	w.seq++
	seq := w.seq
	w.floor = seq - 1
	w.mu.Unlock()

	return func() { w.commit(v, seq) }
}

// Stop 写出剩余的值，之后的 Schedule 将被忽略。
func (w *CoalescingWriter[T]) Stop() {
	w.Flush()
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// Pending 报告是否存在尚未落盘的值。
func (w *CoalescingWriter[T]) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasPending
}

func (w *CoalescingWriter[T]) fire() {
	w.mu.Lock()
	v, seq, ok := w.take()
	w.mu.Unlock()
	if ok {
		w.commit(v, seq)
	}
}

// take 需要持有 mu。
func (w *CoalescingWriter[T]) take() (T, uint64, bool) {
	var zero T
	if !w.hasPending {
		return zero, 0, false
	}
	v := w.pending
	w.pending = zero
	w.hasPending = false
	w.seq++
	return v, w.seq, true
}

func (w *CoalescingWriter[T]) commit(v T, seq uint64) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.Lock()
	floor := w.floor
	w.mu.Unlock()
	if seq <= w.written || seq <= floor {
		return
	}
	w.written = seq
	w.write(v)
}
