package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrStreamClosed 表示订阅流已被关闭
	ErrStreamClosed = errors.New("repository: stream closed")
)

// 特定资源的错误
var (
	ErrUserNotFound  = ErrNotFound
	ErrGroupNotFound = ErrNotFound
)
