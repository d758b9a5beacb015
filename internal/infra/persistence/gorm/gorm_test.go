package gormpersistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"groupwatch/internal/domain"
	"groupwatch/internal/infra/setup"
	"groupwatch/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGroupRepository_SaveAndResolve(t *testing.T) {
	repo := NewGormGroupRepository(newTestDB(t))
	ctx := context.Background()

	group := &domain.Group{ID: uuid.NewString(), Name: "Calculus", JoinCode: "ABC123", OwnerID: "owner", Visibility: domain.VisibilityPrivate}
	require.NoError(t, repo.Save(ctx, group))

	byID, err := repo.ResolveGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Calculus", byID.Name)

	byCode, err := repo.ResolveGroupByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, group.ID, byCode.ID)

	_, err = repo.ResolveGroupByCode(ctx, "ZZZ999")
	assert.ErrorIs(t, err, repository.ErrGroupNotFound)
	_, err = repo.ResolveGroup(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrGroupNotFound)

	exists, err := repo.IsJoinCodeExists(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGroupRepository_DuplicateJoinCode(t *testing.T) {
	repo := NewGormGroupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.Group{ID: uuid.NewString(), Name: "a", JoinCode: "DUP001", OwnerID: "o"}))
	err := repo.Save(ctx, &domain.Group{ID: uuid.NewString(), Name: "b", JoinCode: "DUP001", OwnerID: "o"})
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestGroupRepository_AddMemberIsIdempotent(t *testing.T) {
	repo := NewGormGroupRepository(newTestDB(t))
	ctx := context.Background()
	groupID := uuid.NewString()

	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: groupID, MemberID: "u1", DisplayName: "Ann"}))
	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: groupID, MemberID: "u1", DisplayName: "Annie"}))
	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: groupID, MemberID: "u2", DisplayName: "Bob"}))

	members, err := repo.ListMembers(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	names := map[string]string{}
	for _, m := range members {
		names[m.MemberID] = m.DisplayName
	}
	assert.Equal(t, "Annie", names["u1"])
	assert.Equal(t, "Bob", names["u2"])
}

func TestUserRepository(t *testing.T) {
	repo := NewGormUserRepository(newTestDB(t))
	ctx := context.Background()

	user := &domain.User{ID: uuid.NewString(), Username: "ann", Password: "hash"}
	require.NoError(t, repo.Save(ctx, user))

	found, err := repo.FindByUsername(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	found, err = repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann", found.Username)

	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	err = repo.Save(ctx, &domain.User{ID: uuid.NewString(), Username: "ann", Password: "x"})
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestEventArchiveRepository_SaveBatchSkipsDuplicates(t *testing.T) {
	repo := NewGormEventArchiveRepository(newTestDB(t))
	ctx := context.Background()

	mk := func(ts int64, text string) domain.ArchivedEvent {
		row, err := domain.NewArchivedEvent("g1", domain.ChatMessage{ID: text, Type: domain.ChatUser, AuthorID: "u1", Text: text, ServerTimestamp: ts})
		require.NoError(t, err)
		return row
	}

	require.NoError(t, repo.SaveBatch(ctx, []domain.ArchivedEvent{mk(100, "a"), mk(200, "b")}))
	// 重试同一批 (加上一条新事件) 不应报错，也不应产生重复行
	require.NoError(t, repo.SaveBatch(ctx, []domain.ArchivedEvent{mk(200, "b"), mk(300, "c")}))
	require.NoError(t, repo.SaveBatch(ctx, nil))

	rows, err := repo.ListSince(ctx, "g1", 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(200), rows[0].ServerTimestamp)
	assert.Equal(t, int64(300), rows[1].ServerTimestamp)

	ev, err := rows[1].ToEvent()
	require.NoError(t, err)
	msg, ok := ev.(domain.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "c", msg.Text)
	assert.Equal(t, int64(300), msg.ServerTimestamp)

	all, err := repo.ListSince(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
