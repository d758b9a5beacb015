package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
)

// GroupService 负责小组的创建、按加入码加入和查询 (成员网关的写入一侧)。
type GroupService struct {
	groupRepo repository.GroupRepository
}

// NewGroupService 创建 GroupService 实例。
func NewGroupService(groupRepo repository.GroupRepository) *GroupService {
	if groupRepo == nil {
		panic("GroupRepository cannot be nil for GroupService")
	}
	return &GroupService{groupRepo: groupRepo}
}

// CreateGroup 创建一个新小组并把创建者登记为成员。
func (s *GroupService) CreateGroup(ctx context.Context, owner domain.Member, name, description string, visibility domain.Visibility) (*domain.Group, error) {
	logCtx := logrus.WithField("owner_id", owner.ID)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	switch visibility {
	case "":
		visibility = domain.VisibilityPublic
	case domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, visibility)
	}

	// 1. 生成唯一的加入码
	code, err := s.generateUniqueJoinCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique join code")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("join_code", code)

	group := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		JoinCode:    code,
		OwnerID:     owner.ID,
		Visibility:  visibility,
	}

	// 2. 保存小组
	if err := s.groupRepo.Save(ctx, group); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 检查与写入之间被别人占用了加入码，概率极低
			logCtx.WithError(err).Error("Failed to save new group due to join code conflict")
		} else {
			logCtx.WithError(err).Error("Failed to save new group to database")
		}
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("group_id", group.ID)

	// 3. 创建者自动成为成员
	if err := s.groupRepo.AddMember(ctx, &domain.GroupMember{GroupID: group.ID, MemberID: owner.ID, DisplayName: owner.DisplayName}); err != nil {
		logCtx.WithError(err).Error("Failed to add owner as group member")
		return nil, ErrInternalServer
	}

	logCtx.Info("Group created successfully")
	return group, nil
}

// JoinByCode 通过加入码加入小组并记录成员关系。格式错误的加入码不会触发任何查询。
func (s *GroupService) JoinByCode(ctx context.Context, member domain.Member, rawCode string) (*domain.Group, error) {
	code, err := domain.NormalizeJoinCode(rawCode)
	if err != nil {
		return nil, ErrInvalidJoinCode
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": member.ID, "join_code": code})

	group, err := s.groupRepo.ResolveGroupByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrGroupNotFound) {
			logCtx.Warn("JoinByCode: No group with this join code")
			return nil, ErrGroupNotFound
		}
		logCtx.WithError(err).Error("JoinByCode: Repository error")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("group_id", group.ID)

	if err := s.groupRepo.AddMember(ctx, &domain.GroupMember{GroupID: group.ID, MemberID: member.ID, DisplayName: member.DisplayName}); err != nil {
		logCtx.WithError(err).Error("JoinByCode: Failed to record membership")
		return nil, ErrInternalServer
	}

	logCtx.Info("User joined group successfully")
	return group, nil
}

// FindGroupByID 查找小组。
func (s *GroupService) FindGroupByID(ctx context.Context, groupID string) (*domain.Group, error) {
	logCtx := logrus.WithField("group_id", groupID)
	group, err := s.groupRepo.ResolveGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrGroupNotFound) {
			logCtx.Warn("FindGroupByID: Group not found")
			return nil, ErrGroupNotFound
		}
		logCtx.WithError(err).Error("FindGroupByID: Repository error")
		return nil, ErrInternalServer
	}
	return group, nil
}

// ListMembers 返回小组的成员名册。
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	if _, err := s.FindGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.groupRepo.ListMembers(ctx, groupID)
	if err != nil {
		logrus.WithError(err).WithField("group_id", groupID).Error("ListMembers: Repository error")
		return nil, ErrInternalServer
	}
	return members, nil
}

// --- 私有辅助函数 ---

// generateUniqueJoinCode 生成未被占用的加入码
func (s *GroupService) generateUniqueJoinCode(ctx context.Context) (string, error) {
	const maxAttempts = 10

	b := make([]byte, domain.JoinCodeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = domain.JoinCodeAlphabet[int(b[i])%len(domain.JoinCodeAlphabet)]
		}
		code := string(b)

		exists, err := s.groupRepo.IsJoinCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking join code: %w", err)
		}
		if !exists {
			logrus.WithField("join_code", code).Debugf("Generated unique join code after %d attempt(s).", attempt+1)
			return code, nil
		}
		logrus.WithField("join_code", code).Warnf("Generated join code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique join code after %d attempts", maxAttempts)
}
