package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"groupwatch/internal/domain"
	"groupwatch/internal/dto"
	"groupwatch/internal/session"
)

// Session 是 Client 使用的会话操作，由 *session.Session 实现。
type Session interface {
	Group() domain.Group
	Member() domain.Member
	Views() <-chan domain.ViewModel
	PublishPlaybackAction(ctx context.Context, action domain.PlaybackAction, videoID string, position float64) error
	SendMessage(ctx context.Context, text string) error
	SetTyping(ctx context.Context, isTyping bool) error
	SetAway(ctx context.Context, away bool) error
	Leave(ctx context.Context)
}

var _ Session = (*session.Session)(nil)

// Client 代表一个连接到 Hub 的 WebSocket 客户端，绑定到一个小组会话。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session Session
	limiter *rate.Limiter // nil 表示不限制
	send    chan []byte   // 用于向此客户端发送消息的缓冲通道

	stop     chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, sess Session) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		session: sess,
		send:    make(chan []byte, 16),
		stop:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"group_id":  sess.Group().ID,
			"member_id": sess.Member().ID,
		}),
	}
	if hub.commandRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.commandRate), hub.commandBurst)
	}
	return c
}

// Run 登记到 Hub 并启动读、写和视图转发 goroutine
func (c *Client) Run() {
	c.hub.register(c)
	go c.writePump()
	go c.forwardViews()
	go c.readPump()
}

func (c *Client) GroupID() string  { return c.session.Group().ID }
func (c *Client) MemberID() string { return c.session.Member().ID }

// readPump 把客户端命令转交给会话。
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debugf("Received non-text message type: %d", messageType)
			continue
		}

		var cmd dto.ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reject("invalid", "Malformed command")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.reject("rate_limited", "Too many commands")
			continue
		}
		if cmd.Type == dto.CommandLeave {
			c.log.Debug("Client requested leave")
			return
		}
		if !c.dispatch(cmd) {
			return
		}
	}
}

// dispatch 执行一条命令。返回 false 表示会话已经结束。
func (c *Client) dispatch(cmd dto.ClientCommand) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var err error
	switch cmd.Type {
	case dto.CommandPlay, dto.CommandPause, dto.CommandSeek:
		err = c.session.PublishPlaybackAction(ctx, domain.PlaybackAction(cmd.Type), cmd.VideoID, cmd.Position)
	case dto.CommandChat:
		err = c.session.SendMessage(ctx, cmd.Text)
	case dto.CommandTyping:
		err = c.session.SetTyping(ctx, cmd.IsTyping)
	case dto.CommandAway:
		err = c.session.SetAway(ctx, cmd.Away)
	default:
		c.reject("invalid", "Unknown command type: "+cmd.Type)
		return true
	}

	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionClosed):
		return false
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrInvalidMessage):
		c.reject("invalid", err.Error())
	case errors.Is(err, session.ErrTransientIO):
		c.log.WithError(err).Warn("Command failed due to store error")
		c.enqueue(dto.ErrorMessage("Temporarily unavailable, please retry"))
	default:
		c.log.WithError(err).Error("Command failed")
		c.enqueue(dto.ErrorMessage("Command failed"))
	}
	return true
}

// forwardViews 把会话的视图模型转发给客户端。视图通道关闭说明会话已经结束。
func (c *Client) forwardViews() {
	defer c.shutdown()
	for vm := range c.session.Views() {
		c.enqueue(dto.ViewMessage(vm))
	}
}

// writePump 将消息从 send 通道泵送到 WebSocket 连接。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("writePump exited")
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			// 发送 Ping 以检测断开
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}

		case <-c.stop:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue 非阻塞地把消息放入发送队列。
func (c *Client) enqueue(msg dto.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Failed to marshal server message")
		return
	}
	select {
	case c.send <- data:
	case <-c.stop:
	default:
		// 慢客户端: 丢弃本条，下一次视图会带上完整状态
		c.log.WithField("message_type", msg.Type).Warn("Client send channel full, message dropped")
	}
}

func (c *Client) reject(reason, message string) {
	c.hub.observer.CommandRejected(reason)
	c.enqueue(dto.ErrorMessage(message))
}

// shutdown 只执行一次: 通知写协程关闭连接、离开会话并从 Hub 注销。
func (c *Client) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		c.session.Leave(ctx)
		c.hub.unregister(c)
	})
}
