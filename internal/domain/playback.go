package domain

import "time"

// PlaybackState 是从播放事件流折叠得到的权威状态 (派生数据，从不写回日志)。
// VideoID 为空表示尚未选择视频。
type PlaybackState struct {
	VideoID         string  `json:"videoId,omitempty"`
	PositionSeconds float64 `json:"positionSeconds"`
	IsPlaying       bool    `json:"isPlaying"`
	AsOf            int64   `json:"asOf"` // 最后一个被折叠事件的服务端时间戳 (毫秒)
}

// HasVideo reports whether any video has been selected.
func (s PlaybackState) HasVideo() bool { return s.VideoID != "" }

// PositionAt 返回在 now 时刻应显示的位置: 播放中则加上自 AsOf 以来经过的时间。
// 这是给消费者用的漂移补偿，折叠本身不会调用它。
func (s PlaybackState) PositionAt(now time.Time) float64 {
	if !s.IsPlaying || s.AsOf == 0 {
		return s.PositionSeconds
	}
	elapsed := now.UnixMilli() - s.AsOf
	if elapsed <= 0 {
		return s.PositionSeconds
	}
	return s.PositionSeconds + float64(elapsed)/1000
}

// Participant 是视图模型中的一位在场成员。
type Participant struct {
	MemberID    string        `json:"memberId"`
	DisplayName string        `json:"displayName"`
	State       PresenceState `json:"state"`
}

// ViewModel 是会话对外暴露的唯一契约，每次底层变化都会生成一个新的不可变实例。
type ViewModel struct {
	GroupID      string        `json:"groupId"`
	Participants []Participant `json:"participants"`
	TypingUsers  []string      `json:"typingUsers"`
	Messages     []ChatMessage `json:"messages"`
	Playback     PlaybackState `json:"playback"`
	// Optimistic 为 true 表示 Playback 是本地尚未被日志确认的乐观状态。
	Optimistic bool `json:"optimistic"`
}
