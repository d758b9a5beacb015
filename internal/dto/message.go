package dto

import "groupwatch/internal/domain"

// 客户端命令类型
const (
	CommandPlay   = "play"
	CommandPause  = "pause"
	CommandSeek   = "seek"
	CommandChat   = "chat"
	CommandTyping = "typing"
	CommandAway   = "away"
	CommandLeave  = "leave"
)

// 服务端消息类型
const (
	MessageView  = "view"
	MessageError = "error"
)

// ClientCommand 表示从客户端 WebSocket 消息中接收的命令。
// 不同 Type 只使用其中一部分字段。
type ClientCommand struct {
	Type     string  `json:"type"`
	VideoID  string  `json:"videoId,omitempty"`
	Position float64 `json:"position,omitempty"`
	Text     string  `json:"text,omitempty"`
	IsTyping bool    `json:"isTyping,omitempty"`
	Away     bool    `json:"away,omitempty"`
}

// ServerMessage 表示发送给客户端的消息。
type ServerMessage struct {
	Type    string            `json:"type"`
	View    *domain.ViewModel `json:"view,omitempty"`
	Message string            `json:"message,omitempty"`
}

// ViewMessage 包装一个视图模型。
func ViewMessage(vm domain.ViewModel) ServerMessage {
	return ServerMessage{Type: MessageView, View: &vm}
}

// ErrorMessage 包装一条错误信息。
func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MessageError, Message: msg}
}
