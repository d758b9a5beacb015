// Package session 实现小组观看会话的协调器: 把一个已连接的客户端绑定到一个小组的实时会话上，
// 订阅事件日志、在线状态表和输入状态表，发布本地操作，并输出对账后的视图模型。
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
)

// Coordinator 创建会话。它本身不持有任何小组状态，每个会话的状态在 Join 时注入并由会话独占。
type Coordinator struct {
	gateway  repository.MembershipGateway
	events   repository.EventLogStore
	presence repository.PresenceStore
	typing   repository.TypingStore

	clock    clock.Clock
	cfg      Config
	observer Observer

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewCoordinator 创建 Coordinator 实例
func NewCoordinator(
	gateway repository.MembershipGateway,
	events repository.EventLogStore,
	presence repository.PresenceStore,
	typing repository.TypingStore,
	opts ...Option,
) *Coordinator {
	if gateway == nil || events == nil || presence == nil || typing == nil {
		panic("Coordinator requires non-nil gateway and stores")
	}
	c := &Coordinator{
		gateway:  gateway,
		events:   events,
		presence: presence,
		typing:   typing,
		clock:    clock.New(),
		cfg:      DefaultConfig(),
		observer: nopObserver{},
		sessions: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join 加入小组 groupID 的实时会话。小组无法解析时返回 ErrGroupNotFound。
func (c *Coordinator) Join(ctx context.Context, groupID string, member domain.Member) (*Session, error) {
	if strings.TrimSpace(member.ID) == "" {
		return nil, ErrInvalidMember
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, ErrGroupNotFound
	}
	group, err := c.gateway.ResolveGroup(ctx, groupID)
	if err != nil {
		return nil, gatewayError(err, "resolve group "+groupID)
	}
	return c.open(ctx, group, member)
}

// JoinByCode 通过加入码加入。格式错误的加入码在任何网络调用之前就以 domain.ErrInvalidCode 被拒绝。
func (c *Coordinator) JoinByCode(ctx context.Context, code string, member domain.Member) (*Session, error) {
	normalized, err := domain.NormalizeJoinCode(code)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(member.ID) == "" {
		return nil, ErrInvalidMember
	}
	group, err := c.gateway.ResolveGroupByCode(ctx, normalized)
	if err != nil {
		return nil, gatewayError(err, "resolve join code "+normalized)
	}
	return c.open(ctx, group, member)
}

// Active 返回当前打开的会话数。
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close 让所有打开的会话离开 (用于进程关闭)。
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Leave(ctx)
		}(s)
	}
	wg.Wait()
}

func (c *Coordinator) open(ctx context.Context, group *domain.Group, member domain.Member) (*Session, error) {
	if member.DisplayName == "" {
		member.DisplayName = member.ID
	}
	logCtx := logrus.WithFields(logrus.Fields{"group_id": group.ID, "member_id": member.ID})

	roster := make(map[string]string)
	members, err := c.gateway.ListMembers(ctx, group.ID)
	if err != nil {
		// 名册只用于补全显示名，失败不影响加入
		logCtx.WithError(err).Warn("Session: failed to list group members")
	}
	for _, m := range members {
		roster[m.MemberID] = m.DisplayName
	}

	s := newSession(c, *group, member, roster, logCtx)
	s.connect(ctx)

	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
	c.observer.SessionOpened(group.ID)

	go s.run()
	logCtx.Info("Session: member joined")
	return s, nil
}

func (c *Coordinator) forget(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
	c.observer.SessionClosed(s.group.ID)
}

func gatewayError(err error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrGroupNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientIO, op, err)
}
