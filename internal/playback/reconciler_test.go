package playback_test

import (
	"testing"
	"time"

	"groupwatch/internal/domain"
	"groupwatch/internal/playback"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(typ domain.PlaybackAction, video string, pos float64, ts int64, actor string) domain.PlaybackEvent {
	return domain.PlaybackEvent{Type: typ, VideoID: video, PositionSeconds: pos, ServerTimestamp: ts, ActorID: actor}
}

func TestReconcile_PlaySeekPause(t *testing.T) {
	events := []domain.PlaybackEvent{
		ev(domain.ActionPlay, "videoA", 0, 1, "u1"),
		ev(domain.ActionSeek, "videoA", 30, 2, "u2"),
		ev(domain.ActionPause, "videoA", 30, 3, "u1"),
	}

	state := playback.Reconcile(events)

	assert.Equal(t, domain.PlaybackState{VideoID: "videoA", PositionSeconds: 30, IsPlaying: false, AsOf: 3}, state)
}

func TestReconcile_EmptyLogHasNoVideo(t *testing.T) {
	state := playback.Reconcile(nil)
	assert.False(t, state.HasVideo())
	assert.Equal(t, domain.PlaybackState{}, state)
}

func TestReconcile_DeterministicAndIdempotent(t *testing.T) {
	events := []domain.PlaybackEvent{
		ev(domain.ActionPlay, "v1", 10, 5, "b"),
		ev(domain.ActionSeek, "v1", 42, 7, "a"),
		ev(domain.ActionPause, "v1", 43, 9, "c"),
		ev(domain.ActionPlay, "v2", 0, 12, "a"),
	}

	first := playback.Reconcile(events)
	second := playback.Reconcile(events)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.PlaybackState{VideoID: "v2", PositionSeconds: 0, IsPlaying: true, AsOf: 12}, first)
}

func TestReconcile_EqualTimestampTieBreakIgnoresInputOrder(t *testing.T) {
	fromA := ev(domain.ActionSeek, "v1", 100, 50, "a")
	fromB := ev(domain.ActionSeek, "v1", 200, 50, "b")
	base := ev(domain.ActionPlay, "v1", 0, 10, "a")

	ab := playback.Reconcile([]domain.PlaybackEvent{base, fromA, fromB})
	ba := playback.Reconcile([]domain.PlaybackEvent{fromB, base, fromA})

	assert.Equal(t, ab, ba)
	// "b" 在字典序上更大，后应用，因此胜出
	assert.Equal(t, 200.0, ab.PositionSeconds)
	assert.True(t, ab.IsPlaying, "seek must keep the playing flag")
}

func TestReconcile_UnsortedInputIsSortedByTimestamp(t *testing.T) {
	events := []domain.PlaybackEvent{
		ev(domain.ActionPause, "v1", 30, 3, "x"),
		ev(domain.ActionPlay, "v1", 0, 1, "x"),
	}
	state := playback.Reconcile(events)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, int64(3), state.AsOf)
}

func TestApply_SwitchingVideoClearsPriorState(t *testing.T) {
	state := playback.Reconcile([]domain.PlaybackEvent{
		ev(domain.ActionPlay, "old", 0, 1, "a"),
		ev(domain.ActionSeek, "old", 500, 2, "a"),
	})
	require.True(t, state.IsPlaying)

	state = playback.Apply(state, ev(domain.ActionSeek, "new", 12, 3, "b"))
	assert.Equal(t, "new", state.VideoID)
	assert.Equal(t, 12.0, state.PositionSeconds)
	assert.False(t, state.IsPlaying, "state of the old video must not leak into the new one")

	state = playback.Apply(state, ev(domain.ActionPlay, "other", 7, 4, "b"))
	assert.Equal(t, domain.PlaybackState{VideoID: "other", PositionSeconds: 7, IsPlaying: true, AsOf: 4}, state)
}

func TestLog_LateEventTriggersRefold(t *testing.T) {
	l := playback.NewLog(nil)
	l.Add(ev(domain.ActionPlay, "v1", 0, 1, "a"))
	l.Add(ev(domain.ActionPause, "v1", 20, 5, "a"))

	// 迟到的 seek 排在 pause 之前，最终状态仍由 pause 决定
	state := l.Add(ev(domain.ActionSeek, "v1", 10, 3, "b"))
	assert.Equal(t, domain.PlaybackState{VideoID: "v1", PositionSeconds: 20, IsPlaying: false, AsOf: 5}, state)
	assert.Equal(t, 3, l.Len())

	// 重复事件被忽略
	l.Add(ev(domain.ActionSeek, "v1", 10, 3, "b"))
	assert.Equal(t, 3, l.Len())
}

func TestPositionAt_ExtrapolatesOnlyWhilePlaying(t *testing.T) {
	asOf := time.UnixMilli(1_700_000_000_000)
	playing := domain.PlaybackState{VideoID: "v", PositionSeconds: 30, IsPlaying: true, AsOf: asOf.UnixMilli()}
	paused := playing
	paused.IsPlaying = false

	now := asOf.Add(4500 * time.Millisecond)
	assert.InDelta(t, 34.5, playing.PositionAt(now), 1e-9)
	assert.Equal(t, 30.0, paused.PositionAt(now))
}
