package repository

import (
	"context"

	"groupwatch/internal/domain"
)

// MembershipGateway 是同步器从小组管理方消费的最小接口。
// 未找到时返回 ErrGroupNotFound。
type MembershipGateway interface {
	ResolveGroup(ctx context.Context, id string) (*domain.Group, error)
	ResolveGroupByCode(ctx context.Context, code string) (*domain.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error)
}

// GroupRepository 在网关之上增加了创建和加入所需的写操作 (供 GroupService 使用)。
type GroupRepository interface {
	MembershipGateway

	// Save 创建或更新小组。加入码冲突时返回 ErrDuplicateEntry。
	Save(ctx context.Context, group *domain.Group) error

	// AddMember 幂等地记录成员关系。
	AddMember(ctx context.Context, member *domain.GroupMember) error

	// IsJoinCodeExists 检查加入码是否已被占用。
	IsJoinCodeExists(ctx context.Context, code string) (bool, error)
}
