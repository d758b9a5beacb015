// Package mocks 提供 repository 接口的 testify mock 实现。
package mocks

import (
	"context"

	"groupwatch/internal/domain"

	"github.com/stretchr/testify/mock"
)

// GroupRepository is a mock of repository.GroupRepository (and therefore of MembershipGateway).
type GroupRepository struct {
	mock.Mock
}

func (m *GroupRepository) ResolveGroup(ctx context.Context, id string) (*domain.Group, error) {
	args := m.Called(ctx, id)
	var g *domain.Group
	if v := args.Get(0); v != nil {
		g = v.(*domain.Group)
	}
	return g, args.Error(1)
}

func (m *GroupRepository) ResolveGroupByCode(ctx context.Context, code string) (*domain.Group, error) {
	args := m.Called(ctx, code)
	var g *domain.Group
	if v := args.Get(0); v != nil {
		g = v.(*domain.Group)
	}
	return g, args.Error(1)
}

func (m *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	args := m.Called(ctx, groupID)
	var members []domain.GroupMember
	if v := args.Get(0); v != nil {
		members = v.([]domain.GroupMember)
	}
	return members, args.Error(1)
}

func (m *GroupRepository) Save(ctx context.Context, group *domain.Group) error {
	return m.Called(ctx, group).Error(0)
}

func (m *GroupRepository) AddMember(ctx context.Context, member *domain.GroupMember) error {
	return m.Called(ctx, member).Error(0)
}

func (m *GroupRepository) IsJoinCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}
