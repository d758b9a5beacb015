package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
)

// GormGroupRepository 是 GroupRepository (以及 MembershipGateway) 的 GORM 实现
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository 创建 GormGroupRepository 实例
func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	if db == nil {
		panic("database connection cannot be nil for GormGroupRepository")
	}
	return &GormGroupRepository{db: db}
}

// ResolveGroup 根据 ID 查找小组
func (r *GormGroupRepository) ResolveGroup(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrGroupNotFound
		}
		return nil, fmt.Errorf("gorm: find group by id %s: %w", id, err)
	}
	return &group, nil
}

// ResolveGroupByCode 根据加入码查找小组。code 应当已经规范化。
func (r *GormGroupRepository) ResolveGroupByCode(ctx context.Context, code string) (*domain.Group, error) {
	var group domain.Group
	err := r.db.WithContext(ctx).Where("join_code = ?", code).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrGroupNotFound
		}
		return nil, fmt.Errorf("gorm: find group by join code '%s': %w", code, err)
	}
	return &group, nil
}

// ListMembers 返回小组的成员名册，按加入时间排序
func (r *GormGroupRepository) ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	var members []domain.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("joined_at asc").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list members of group %s: %w", groupID, err)
	}
	return members, nil
}

// Save 创建或更新小组
func (r *GormGroupRepository) Save(ctx context.Context, group *domain.Group) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save group (id: %s, join_code: %s): %w", group.ID, group.JoinCode, err)
	}
	return nil
}

// AddMember 记录成员关系; 已存在时只更新显示名。
func (r *GormGroupRepository) AddMember(ctx context.Context, member *domain.GroupMember) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
	}).Create(member).Error
	if err != nil {
		return fmt.Errorf("gorm: add member %s to group %s: %w", member.MemberID, member.GroupID, err)
	}
	return nil
}

// IsJoinCodeExists 检查加入码是否存在
func (r *GormGroupRepository) IsJoinCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Group{}).Where("join_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count groups by join code '%s': %w", code, err)
	}
	return count > 0, nil
}

var _ repository.GroupRepository = (*GormGroupRepository)(nil)
