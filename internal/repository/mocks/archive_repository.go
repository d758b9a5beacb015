package mocks

import (
	"context"

	"groupwatch/internal/domain"

	"github.com/stretchr/testify/mock"
)

// EventArchiveRepository is a mock of repository.EventArchiveRepository.
type EventArchiveRepository struct {
	mock.Mock
}

func (m *EventArchiveRepository) SaveBatch(ctx context.Context, events []domain.ArchivedEvent) error {
	return m.Called(ctx, events).Error(0)
}

func (m *EventArchiveRepository) ListSince(ctx context.Context, groupID string, since int64) ([]domain.ArchivedEvent, error) {
	args := m.Called(ctx, groupID, since)
	var rows []domain.ArchivedEvent
	if v := args.Get(0); v != nil {
		rows = v.([]domain.ArchivedEvent)
	}
	return rows, args.Error(1)
}
