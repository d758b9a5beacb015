// Package playback 实现播放状态的确定性折叠 (Reconciler)。
//
// 排序键是 (ServerTimestamp, ActorID)，时间戳相同时按 ActorID 字典序决定先后，
// 因此无论输入数组的顺序如何，同一组事件总是折叠出同一个状态。
package playback

import (
	"sort"

	"groupwatch/internal/domain"
)

// Less 定义事件的全序。ActorID 之后再比较 ClientActionID 与类型，
// 保证即使同一成员在同一毫秒内产生两个事件，顺序仍然确定。
func Less(a, b domain.PlaybackEvent) bool {
	if a.ServerTimestamp != b.ServerTimestamp {
		return a.ServerTimestamp < b.ServerTimestamp
	}
	if a.ActorID != b.ActorID {
		return a.ActorID < b.ActorID
	}
	if a.ClientActionID != b.ClientActionID {
		return a.ClientActionID < b.ClientActionID
	}
	return a.Type < b.Type
}

// Sort 返回按全序排列的副本，不修改输入。
func Sort(events []domain.PlaybackEvent) []domain.PlaybackEvent {
	sorted := make([]domain.PlaybackEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })
	return sorted
}

// Reconcile 从空状态开始折叠全部事件。
func Reconcile(events []domain.PlaybackEvent) domain.PlaybackState {
	return Fold(domain.PlaybackState{}, Sort(events))
}

// Fold 按给定顺序把 events 依次应用到 state 上。调用方负责排序。
func Fold(state domain.PlaybackState, events []domain.PlaybackEvent) domain.PlaybackState {
	for _, ev := range events {
		state = Apply(state, ev)
	}
	return state
}

// Apply 应用单个事件。
//
//   - play:  切换到事件的视频并开始播放
//   - pause: 暂停在事件的位置
//   - seek:  只改变位置，播放状态不变
//
// 事件的视频与当前视频不同时，旧视频的状态全部丢弃: 位置取事件的位置，
// 只有 play 会让新视频处于播放中。
func Apply(state domain.PlaybackState, ev domain.PlaybackEvent) domain.PlaybackState {
	switched := ev.VideoID != "" && ev.VideoID != state.VideoID
	if switched {
		state = domain.PlaybackState{VideoID: ev.VideoID}
	}

	switch ev.Type {
	case domain.ActionPlay:
		state.IsPlaying = true
	case domain.ActionPause:
		state.IsPlaying = false
	case domain.ActionSeek:
		// 保持 IsPlaying
	default:
		// 未知类型不改变状态
		return state
	}
	state.PositionSeconds = ev.PositionSeconds
	state.AsOf = ev.ServerTimestamp
	return state
}
