package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"groupwatch/internal/archive"
	"groupwatch/internal/domain"
	httpHandler "groupwatch/internal/handler/http"
	"groupwatch/internal/middleware"
	"groupwatch/internal/repository"
	"groupwatch/internal/repository/mocks"
	"groupwatch/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticMembers map[string]domain.Member

func (s staticMembers) Member(_ context.Context, userID string) (domain.Member, error) {
	m, ok := s[userID]
	if !ok {
		return domain.Member{}, service.ErrUserNotFound
	}
	return m, nil
}

// newRouter 构建带有伪认证中间件的路由: X-User 头直接作为用户 ID。
func newRouter(repo *mocks.GroupRepository) *gin.Engine {
	h := httpHandler.NewGroupHandler(service.NewGroupService(repo), staticMembers{
		"u-1": {ID: "u-1", DisplayName: "Ann"},
	})
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id != "" {
			c.Set(middleware.ContextUserIDKey, id)
		}
		c.Next()
	})
	r.POST("/groups", h.CreateGroup)
	r.POST("/groups/join", h.JoinGroup)
	r.GET("/groups/:groupId", h.GetGroup)
	r.GET("/groups/:groupId/members", h.ListMembers)
	return r
}

func do(r *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGroupHandler_CreateGroup(t *testing.T) {
	repo := new(mocks.GroupRepository)
	repo.On("IsJoinCodeExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Group")).Return(nil).Once()
	repo.On("AddMember", mock.Anything, mock.AnythingOfType("*domain.GroupMember")).Return(nil).Once()

	w := do(newRouter(repo), http.MethodPost, "/groups", "u-1", gin.H{"name": "Physics"})

	require.Equal(t, http.StatusCreated, w.Code)
	var group domain.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Equal(t, "Physics", group.Name)
	assert.Equal(t, "u-1", group.OwnerID)
	assert.Len(t, group.JoinCode, domain.JoinCodeLength)
	repo.AssertExpectations(t)
}

func TestGroupHandler_RequiresAuthenticatedMember(t *testing.T) {
	repo := new(mocks.GroupRepository)
	r := newRouter(repo)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/groups", "", gin.H{"name": "x"}).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/groups", "ghost", gin.H{"name": "x"}).Code)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestGroupHandler_JoinGroup(t *testing.T) {
	repo := new(mocks.GroupRepository)
	group := &domain.Group{ID: "g-1", Name: "Physics", JoinCode: "ABC123"}
	repo.On("ResolveGroupByCode", mock.Anything, "ABC123").Return(group, nil).Once()
	repo.On("AddMember", mock.Anything, mock.AnythingOfType("*domain.GroupMember")).Return(nil).Once()
	r := newRouter(repo)

	w := do(r, http.MethodPost, "/groups/join", "u-1", gin.H{"join_code": "abc123"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/groups/join", "u-1", gin.H{"join_code": "AB"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	repo.AssertNumberOfCalls(t, "ResolveGroupByCode", 1)
}

func TestGroupHandler_GetGroupAndMembers(t *testing.T) {
	repo := new(mocks.GroupRepository)
	repo.On("ResolveGroup", mock.Anything, "g-1").Return(&domain.Group{ID: "g-1"}, nil)
	repo.On("ResolveGroup", mock.Anything, "missing").Return(nil, repository.ErrGroupNotFound)
	repo.On("ListMembers", mock.Anything, "g-1").Return([]domain.GroupMember{{GroupID: "g-1", MemberID: "u-1", DisplayName: "Ann"}}, nil)
	r := newRouter(repo)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/groups/g-1", "u-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/groups/missing", "u-1", nil).Code)

	w := do(r, http.MethodGet, "/groups/g-1/members", "u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Members []domain.GroupMember `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Members, 1)
	assert.Equal(t, "Ann", body.Members[0].DisplayName)
}

func TestHandleServiceError_Mapping(t *testing.T) {
	cases := map[error]int{
		service.ErrAuthenticationFailed: http.StatusUnauthorized,
		service.ErrRegistrationFailed:   http.StatusBadRequest,
		service.ErrInvalidJoinCode:      http.StatusBadRequest,
		service.ErrGroupNotFound:        http.StatusNotFound,
		service.ErrInternalServer:       http.StatusInternalServerError,
	}
	for err, want := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		httpHandler.HandleServiceError(c, err)
		assert.Equal(t, want, w.Code, err.Error())
	}
}

type fakeAuth struct {
	staticMembers
	registerErr error
	loginErr    error
}

func (f fakeAuth) Register(_ context.Context, username, _, displayName, _ string) (*domain.User, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &domain.User{ID: "u-new", Username: username, DisplayName: displayName}, nil
}

func (f fakeAuth) Login(_ context.Context, _, _ string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "signed-token", nil
}

func newAuthRouter(auth fakeAuth) *gin.Engine {
	h := httpHandler.NewAuthHandler(auth)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id != "" {
			c.Set(middleware.ContextUserIDKey, id)
		}
		c.Next()
	})
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", h.Me)
	return r
}

func TestAuthHandler_Register(t *testing.T) {
	r := newAuthRouter(fakeAuth{})

	w := do(r, http.MethodPost, "/auth/register", "", gin.H{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var body httpHandler.RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u-new", body.UserID)
	assert.Equal(t, "alice", body.DisplayName)

	w = do(r, http.MethodPost, "/auth/register", "", gin.H{"username": "al", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	dup := newAuthRouter(fakeAuth{registerErr: service.ErrRegistrationFailed})
	w = do(dup, http.MethodPost, "/auth/register", "", gin.H{"username": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Login(t *testing.T) {
	w := do(newAuthRouter(fakeAuth{}), http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var body httpHandler.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "signed-token", body.Token)

	denied := newAuthRouter(fakeAuth{loginErr: service.ErrAuthenticationFailed})
	w = do(denied, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(denied, http.MethodPost, "/auth/login", "", gin.H{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	r := newAuthRouter(fakeAuth{staticMembers: staticMembers{"u-1": {ID: "u-1", DisplayName: "Ann"}}})

	w := do(r, http.MethodGet, "/auth/me", "u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var member domain.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &member))
	assert.Equal(t, "Ann", member.DisplayName)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/auth/me", "ghost", nil).Code)
}

type fakeHistory struct {
	msgs  []domain.ChatMessage
	err   error
	since int64
}

func (f *fakeHistory) ChatHistory(_ context.Context, _ string, since int64) ([]domain.ChatMessage, error) {
	f.since = since
	return f.msgs, f.err
}

func TestHistoryHandler_ListMessages(t *testing.T) {
	history := &fakeHistory{msgs: []domain.ChatMessage{{ID: "m1", Text: "hi", ServerTimestamp: 10}}}
	r := gin.New()
	r.GET("/groups/:groupId/messages", httpHandler.NewHistoryHandler(history).ListMessages)

	w := do(r, http.MethodGet, "/groups/g-1/messages?since=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), history.since)
	var body struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hi", body.Messages[0].Text)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/groups/g-1/messages?since=abc", "", nil).Code)

	history.err = archive.ErrArchiveDisabled
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/groups/g-1/messages", "", nil).Code)
}
