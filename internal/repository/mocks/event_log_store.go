package mocks

import (
	"context"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"

	"github.com/stretchr/testify/mock"
)

// EventLogStore is a mock of repository.EventLogStore.
type EventLogStore struct {
	mock.Mock
}

func (m *EventLogStore) Append(ctx context.Context, groupID string, ev domain.Event) (int64, error) {
	args := m.Called(ctx, groupID, ev)
	return args.Get(0).(int64), args.Error(1)
}

func (m *EventLogStore) Load(ctx context.Context, groupID string, since int64) ([]domain.Event, error) {
	args := m.Called(ctx, groupID, since)
	var events []domain.Event
	if v := args.Get(0); v != nil {
		events = v.([]domain.Event)
	}
	return events, args.Error(1)
}

func (m *EventLogStore) Subscribe(ctx context.Context, groupID string) (repository.Stream[domain.Event], error) {
	args := m.Called(ctx, groupID)
	var s repository.Stream[domain.Event]
	if v := args.Get(0); v != nil {
		s = v.(repository.Stream[domain.Event])
	}
	return s, args.Error(1)
}
