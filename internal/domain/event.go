package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind 是事件信封中的判别字段。
type EventKind string

const (
	KindPlayback EventKind = "playback"
	KindChat     EventKind = "chat"
	KindPresence EventKind = "presence"
	KindTyping   EventKind = "typing"
)

// Event 是一个封闭的变体类型: 只有本包中的四种记录实现了它。
// 调用方用 type switch 做穷尽处理。
type Event interface {
	Kind() EventKind
	Timestamp() int64
	Actor() string
	withTimestamp(ts int64) Event
}

// PlaybackAction 是播放事件的类型。
type PlaybackAction string

const (
	ActionPlay  PlaybackAction = "play"
	ActionPause PlaybackAction = "pause"
	ActionSeek  PlaybackAction = "seek"
)

// ParsePlaybackAction 解析客户端传入的操作类型。
func ParsePlaybackAction(raw string) (PlaybackAction, error) {
	a := PlaybackAction(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionPlay, ActionPause, ActionSeek:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// PlaybackEvent 是追加到小组日志中的一条不可变播放记录。
// ServerTimestamp 由日志存储在写入时分配，客户端时钟从不参与排序。
type PlaybackEvent struct {
	Type             PlaybackAction `json:"type"`
	VideoID          string         `json:"videoId"`
	PositionSeconds  float64        `json:"positionSeconds"`
	ActorID          string         `json:"actorId"`
	ActorDisplayName string         `json:"actorDisplayName,omitempty"`
	ClientActionID   string         `json:"clientActionId,omitempty"` // 用于匹配本地乐观状态
	ServerTimestamp  int64          `json:"serverTimestamp"`
}

func (e PlaybackEvent) Kind() EventKind  { return KindPlayback }
func (e PlaybackEvent) Timestamp() int64 { return e.ServerTimestamp }
func (e PlaybackEvent) Actor() string    { return e.ActorID }
func (e PlaybackEvent) withTimestamp(ts int64) Event {
	e.ServerTimestamp = ts
	return e
}

// Validate 检查事件在追加前是否合法。
func (e PlaybackEvent) Validate() error {
	if _, err := ParsePlaybackAction(string(e.Type)); err != nil {
		return err
	}
	if e.VideoID == "" {
		return fmt.Errorf("%w: video id is required", ErrInvalidAction)
	}
	if e.PositionSeconds < 0 {
		return fmt.Errorf("%w: negative position %.3f", ErrInvalidAction, e.PositionSeconds)
	}
	return nil
}

// ChatMessageKind distinguishes member messages from join/leave notices.
type ChatMessageKind string

const (
	ChatUser   ChatMessageKind = "user"
	ChatSystem ChatMessageKind = "system"
)

// ChatMessage 是一条不可变的聊天消息，按 ServerTimestamp 排序。
type ChatMessage struct {
	ID              string          `json:"id"`
	Type            ChatMessageKind `json:"type"`
	AuthorID        string          `json:"authorId"`
	AuthorName      string          `json:"authorName"`
	Text            string          `json:"text"`
	ServerTimestamp int64           `json:"serverTimestamp"`
}

func (m ChatMessage) Kind() EventKind  { return KindChat }
func (m ChatMessage) Timestamp() int64 { return m.ServerTimestamp }
func (m ChatMessage) Actor() string    { return m.AuthorID }
func (m ChatMessage) withTimestamp(ts int64) Event {
	m.ServerTimestamp = ts
	return m
}

// NormalizeMessageText trims text and rejects empty or whitespace-only input.
func NormalizeMessageText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrInvalidMessage
	}
	return trimmed, nil
}

// PresenceState 是成员的在线状态。
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceOffline PresenceState = "offline"
)

// PresenceRecord 按成员覆盖写入 (last-writer-wins)。
// LastActive 由存储在写入时填写 (毫秒)。
type PresenceRecord struct {
	MemberID    string        `json:"memberId"`
	DisplayName string        `json:"displayName,omitempty"`
	State       PresenceState `json:"state"`
	LastActive  int64         `json:"lastActive"`
}

func (r PresenceRecord) Kind() EventKind  { return KindPresence }
func (r PresenceRecord) Timestamp() int64 { return r.LastActive }
func (r PresenceRecord) Actor() string    { return r.MemberID }
func (r PresenceRecord) withTimestamp(ts int64) Event {
	r.LastActive = ts
	return r
}

// EffectiveState 返回读者视角下的状态: 超过 timeoutMs 未刷新的记录视为离线。
func (r PresenceRecord) EffectiveState(nowMs, timeoutMs int64) PresenceState {
	if r.State == PresenceOffline || nowMs-r.LastActive > timeoutMs {
		return PresenceOffline
	}
	return r.State
}

// TypingRecord 按成员覆盖写入; 超时后视为未输入。
type TypingRecord struct {
	MemberID  string `json:"memberId"`
	IsTyping  bool   `json:"isTyping"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (r TypingRecord) Kind() EventKind  { return KindTyping }
func (r TypingRecord) Timestamp() int64 { return r.UpdatedAt }
func (r TypingRecord) Actor() string    { return r.MemberID }
func (r TypingRecord) withTimestamp(ts int64) Event {
	r.UpdatedAt = ts
	return r
}

// ActiveAt reports whether the record still counts as typing at nowMs.
func (r TypingRecord) ActiveAt(nowMs, timeoutMs int64) bool {
	return r.IsTyping && nowMs-r.UpdatedAt <= timeoutMs
}

// Envelope 是事件在存储和线路上的统一格式。
// Payload 中的时间戳字段会被 Envelope.ServerTimestamp 覆盖。
type Envelope struct {
	Kind            EventKind       `json:"kind"`
	ServerTimestamp int64           `json:"serverTimestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EncodePayload 仅序列化事件本体 (不含信封)。
func EncodePayload(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode payload: %w", ErrUnknownEventKind)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Kind(), err)
	}
	return b, nil
}

// EncodeEvent 序列化带信封的事件。
func EncodeEvent(ev Event) ([]byte, error) {
	payload, err := EncodePayload(ev)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Envelope{Kind: ev.Kind(), ServerTimestamp: ev.Timestamp(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}

// DecodeEvent 解析信封并还原为具体的事件类型。
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env.Decode()
}

// Decode 根据 Kind 还原具体事件。
func (env Envelope) Decode() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Kind {
	case KindPlayback:
		var p PlaybackEvent
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case KindChat:
		var m ChatMessage
		err = json.Unmarshal(env.Payload, &m)
		ev = m
	case KindPresence:
		var r PresenceRecord
		err = json.Unmarshal(env.Payload, &r)
		ev = r
	case KindTyping:
		var r TypingRecord
		err = json.Unmarshal(env.Payload, &r)
		ev = r
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	if env.ServerTimestamp != 0 {
		ev = ev.withTimestamp(env.ServerTimestamp)
	}
	return ev, nil
}

// WithTimestamp returns a copy of ev stamped with ts. Stores use it when assigning server time.
func WithTimestamp(ev Event, ts int64) Event {
	return ev.withTimestamp(ts)
}
