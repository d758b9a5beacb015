package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
)

// archiveBatchSize 限制单条 INSERT 的行数
const archiveBatchSize = 200

// GormEventArchiveRepository 是 EventArchiveRepository 的 GORM 实现
type GormEventArchiveRepository struct {
	db *gorm.DB
}

// NewGormEventArchiveRepository 创建 GormEventArchiveRepository 实例
func NewGormEventArchiveRepository(db *gorm.DB) *GormEventArchiveRepository {
	if db == nil {
		panic("database connection cannot be nil for GormEventArchiveRepository")
	}
	return &GormEventArchiveRepository{db: db}
}

// SaveBatch 批量保存归档事件; (group_id, server_timestamp) 已存在的行被忽略，任务重试是安全的。
func (r *GormEventArchiveRepository) SaveBatch(ctx context.Context, events []domain.ArchivedEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&events, archiveBatchSize).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save archived event batch (size %d): %w", len(events), err)
	}
	return nil
}

// ListSince 返回小组中时间戳大于 since 的归档事件
func (r *GormEventArchiveRepository) ListSince(ctx context.Context, groupID string, since int64) ([]domain.ArchivedEvent, error) {
	var events []domain.ArchivedEvent
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND server_timestamp > ?", groupID, since).
		Order("server_timestamp asc").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list archived events for group %s since %d: %w", groupID, since, err)
	}
	return events, nil
}

var _ repository.EventArchiveRepository = (*GormEventArchiveRepository)(nil)
