// Package state 包含实时状态存储 (Redis / 内存) 共用的订阅流实现。
package state

import (
	"sync"

	"groupwatch/internal/repository"
)

// Queue 是一个无界的订阅流: 生产者 Push 永不阻塞，消费者从 C() 读取。
// 生产者可能在持有存储锁时调用 Push，所以这里不能阻塞。
type Queue[T any] struct {
	out    chan T
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	buf    []T
	err    error
	closed bool

	onClose func()
}

// NewQueue 创建队列并启动投递 goroutine。onClose 在第一次关闭时调用一次 (可为 nil)。
func NewQueue[T any](onClose func()) *Queue[T] {
	q := &Queue[T]{
		out:     make(chan T),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go q.pump()
	return q
}

// Push 追加一个元素。队列关闭后调用无效果。
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// C 返回消费通道。
func (q *Queue[T]) C() <-chan T { return q.out }

// Err 返回导致流结束的错误; 正常关闭时为 nil。
func (q *Queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close 正常关闭流。
func (q *Queue[T]) Close() error {
	q.Fail(nil)
	return nil
}

// Fail 以 err 结束流 (例如底层连接断开)。重复调用只有第一次生效。
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.buf = nil
	q.mu.Unlock()
	close(q.done)
	if q.onClose != nil {
		q.onClose()
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}
		v := q.buf[0]
		var zero T
		q.buf[0] = zero
		q.buf = q.buf[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}

var _ repository.Stream[int] = (*Queue[int])(nil)
