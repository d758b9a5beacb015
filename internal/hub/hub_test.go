package hub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupwatch/internal/domain"
	"groupwatch/internal/dto"
	"groupwatch/internal/hub"
)

type fakeSession struct {
	views chan domain.ViewModel

	mu       sync.Mutex
	messages []string
	actions  []domain.PlaybackAction
	typing   []bool
	left     int
	leftOnce sync.Once
	sendErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{views: make(chan domain.ViewModel, 1)}
}

func (f *fakeSession) Group() domain.Group                 { return domain.Group{ID: "g1"} }
func (f *fakeSession) Member() domain.Member               { return domain.Member{ID: "u1", DisplayName: "Ann"} }
func (f *fakeSession) Views() <-chan domain.ViewModel      { return f.views }
func (f *fakeSession) SetAway(context.Context, bool) error { return nil }

func (f *fakeSession) PublishPlaybackAction(_ context.Context, action domain.PlaybackAction, videoID string, _ float64) error {
	if videoID == "" {
		return domain.ErrInvalidAction
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeSession) SendMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSession) SetTyping(_ context.Context, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return nil
}

func (f *fakeSession) Leave(context.Context) {
	f.leftOnce.Do(func() {
		f.mu.Lock()
		f.left++
		f.mu.Unlock()
		close(f.views)
	})
}

func (f *fakeSession) snapshot() (messages []string, actions []domain.PlaybackAction, left int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...), append([]domain.PlaybackAction(nil), f.actions...), f.left
}

// serve 启动一个把每个连接绑定到 sess 的测试服务器，返回客户端连接。
func serve(t *testing.T, h *hub.Hub, sess hub.Session) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.NewClient(h, conn, sess).Run()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) dto.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg dto.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestClient_ForwardsViews(t *testing.T) {
	h := hub.NewHub(0, nil)
	sess := newFakeSession()
	conn := serve(t, h, sess)

	sess.views <- domain.ViewModel{GroupID: "g1", TypingUsers: []string{"Bob"}}

	msg := readMessage(t, conn)
	assert.Equal(t, dto.MessageView, msg.Type)
	require.NotNil(t, msg.View)
	assert.Equal(t, []string{"Bob"}, msg.View.TypingUsers)
	assert.Eventually(t, func() bool { return h.ClientCount("g1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_DispatchesCommands(t *testing.T) {
	h := hub.NewHub(0, nil)
	sess := newFakeSession()
	conn := serve(t, h, sess)

	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandChat, Text: "hello"}))
	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandSeek, VideoID: "v1", Position: 30}))

	assert.Eventually(t, func() bool {
		messages, actions, _ := sess.snapshot()
		return len(messages) == 1 && len(actions) == 1
	}, time.Second, 10*time.Millisecond)

	messages, actions, _ := sess.snapshot()
	assert.Equal(t, []string{"hello"}, messages)
	assert.Equal(t, []domain.PlaybackAction{domain.ActionSeek}, actions)
}

func TestClient_ReportsValidationErrors(t *testing.T) {
	h := hub.NewHub(0, nil)
	sess := newFakeSession()
	sess.sendErr = domain.ErrInvalidMessage
	conn := serve(t, h, sess)

	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandChat, Text: "   "}))
	msg := readMessage(t, conn)
	assert.Equal(t, dto.MessageError, msg.Type)
	assert.Equal(t, domain.ErrInvalidMessage.Error(), msg.Message)

	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: "rewind"}))
	msg = readMessage(t, conn)
	assert.Equal(t, dto.MessageError, msg.Type)
	assert.Contains(t, msg.Message, "rewind")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, dto.MessageError, msg.Type)
}

func TestClient_RateLimitsCommands(t *testing.T) {
	h := hub.NewHub(0.001, nil) // burst 1, 几乎不补充
	sess := newFakeSession()
	conn := serve(t, h, sess)

	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandChat, Text: "one"}))
	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandChat, Text: "two"}))

	msg := readMessage(t, conn)
	assert.Equal(t, dto.MessageError, msg.Type)
	assert.Equal(t, "Too many commands", msg.Message)

	messages, _, _ := sess.snapshot()
	assert.Equal(t, []string{"one"}, messages)
}

func TestClient_LeaveCommandClosesSession(t *testing.T) {
	h := hub.NewHub(0, nil)
	sess := newFakeSession()
	conn := serve(t, h, sess)

	assert.Eventually(t, func() bool { return h.ClientCount("g1") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteJSON(dto.ClientCommand{Type: dto.CommandLeave}))

	assert.Eventually(t, func() bool {
		_, _, left := sess.snapshot()
		return left == 1 && h.ClientCount("g1") == 0
	}, time.Second, 10*time.Millisecond)

	// 服务端随后关闭连接
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_ShutdownLeavesAllSessions(t *testing.T) {
	h := hub.NewHub(0, nil)
	sess := newFakeSession()
	serve(t, h, sess)

	assert.Eventually(t, func() bool { return h.ClientCount("g1") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, h.ActiveGroupIDs())

	h.Shutdown()

	_, _, left := sess.snapshot()
	assert.Equal(t, 1, left)
	assert.Equal(t, 0, h.ClientCount("g1"))
}

func TestServerMessage_JSONShape(t *testing.T) {
	data, err := json.Marshal(dto.ErrorMessage("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"nope"}`, string(data))
}
