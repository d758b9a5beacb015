package repository

// Stream 是一个订阅的消费端。
//
// C 在订阅结束时被关闭: 调用 Close 之后，或底层连接断开时。
// 后一种情况下 Err 返回非 nil，调用方应当重新订阅并重新拉取完整状态。
type Stream[T any] interface {
	C() <-chan T
	Err() error
	Close() error
}
