package session

import "errors"

var (
	// ErrGroupNotFound 表示成员网关无法解析小组 ID 或加入码，不会重试。
	ErrGroupNotFound = errors.New("session: group not found")
	// ErrTransientIO 表示与存储之间的连接问题，可以重试。
	ErrTransientIO = errors.New("session: transient i/o error")
	// ErrSessionClosed 表示会话已经调用过 Leave。
	ErrSessionClosed = errors.New("session: closed")
	// ErrInvalidMember 表示加入时没有提供成员 ID。
	ErrInvalidMember = errors.New("session: member id is required")
)
