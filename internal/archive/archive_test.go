package archive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"groupwatch/internal/archive"
	"groupwatch/internal/domain"
	"groupwatch/internal/repository/mocks"
	"groupwatch/internal/tasks"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestEventLog_AppendEnqueuesStampedEvent(t *testing.T) {
	inner := new(mocks.EventLogStore)
	enq := &fakeEnqueuer{}
	log := archive.NewEventLog(inner, enq, nil)
	ctx := context.Background()
	msg := domain.ChatMessage{ID: "m1", AuthorID: "u1", Text: "hello"}

	inner.On("Append", ctx, "g1", msg).Return(int64(777), nil).Once()

	ts, err := log.Append(ctx, "g1", msg)
	require.NoError(t, err)
	assert.Equal(t, int64(777), ts)

	require.Len(t, enq.tasks, 1)
	groupID, ev, err := tasks.ParseEventArchivePayload(enq.tasks[0].Payload())
	require.NoError(t, err)
	assert.Equal(t, "g1", groupID)
	assert.Equal(t, int64(777), ev.Timestamp())
}

func TestEventLog_AppendFailureSkipsEnqueue(t *testing.T) {
	inner := new(mocks.EventLogStore)
	enq := &fakeEnqueuer{}
	log := archive.NewEventLog(inner, enq, nil)
	ctx := context.Background()
	boom := errors.New("redis down")

	inner.On("Append", ctx, "g1", mock.Anything).Return(int64(0), boom).Once()

	_, err := log.Append(ctx, "g1", domain.ChatMessage{ID: "m1", AuthorID: "u1", Text: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, enq.tasks)
}

func TestEventLog_EnqueueFailureDoesNotFailAppend(t *testing.T) {
	inner := new(mocks.EventLogStore)
	log := archive.NewEventLog(inner, &fakeEnqueuer{err: errors.New("queue full")}, nil)
	ctx := context.Background()

	inner.On("Append", ctx, "g1", mock.Anything).Return(int64(3), nil).Once()

	ts, err := log.Append(ctx, "g1", domain.ChatMessage{ID: "m1", AuthorID: "u1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ts)
}

func TestEventLog_LoadDoesNotServeStaleArchive(t *testing.T) {
	inner := new(mocks.EventLogStore)
	repo := new(mocks.EventArchiveRepository)
	log := archive.NewEventLog(inner, &fakeEnqueuer{}, repo)
	ctx := context.Background()
	boom := errors.New("redis down")

	inner.On("Load", ctx, "g1", int64(0)).Return(nil, boom).Once()

	// 热日志不可用时必须返回错误，会话据此从空状态开始并重试
	events, err := log.Load(ctx, "g1", 0)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, events)
	repo.AssertNotCalled(t, "ListSince", mock.Anything, mock.Anything, mock.Anything)
}

func TestEventLog_ChatHistorySkipsPlaybackAndBadRows(t *testing.T) {
	inner := new(mocks.EventLogStore)
	repo := new(mocks.EventArchiveRepository)
	log := archive.NewEventLog(inner, &fakeEnqueuer{}, repo)
	ctx := context.Background()

	chat, err := domain.NewArchivedEvent("g1", domain.ChatMessage{ID: "m1", Type: domain.ChatUser, AuthorID: "u1", Text: "x", ServerTimestamp: 10})
	require.NoError(t, err)
	play, err := domain.NewArchivedEvent("g1", domain.PlaybackEvent{Type: domain.ActionPlay, VideoID: "old", ActorID: "u1", ServerTimestamp: 11})
	require.NoError(t, err)
	bad := domain.ArchivedEvent{GroupID: "g1", ServerTimestamp: 12, Kind: domain.KindChat, Payload: "not json"}

	repo.On("ListSince", ctx, "g1", int64(0)).Return([]domain.ArchivedEvent{chat, play, bad}, nil).Once()

	msgs, err := log.ChatHistory(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, int64(10), msgs[0].ServerTimestamp)
}

func TestEventLog_ChatHistoryWithoutArchive(t *testing.T) {
	log := archive.NewEventLog(new(mocks.EventLogStore), &fakeEnqueuer{}, nil)

	_, err := log.ChatHistory(context.Background(), "g1", 0)
	assert.ErrorIs(t, err, archive.ErrArchiveDisabled)
}
