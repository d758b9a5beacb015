package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// 客户端离开时清理会话的超时
	leaveTimeout = 5 * time.Second
)

// Observer 接收连接相关的指标。
type Observer interface {
	ClientConnected()
	ClientDisconnected()
	CommandRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) ClientConnected()       {}
func (nopObserver) ClientDisconnected()    {}
func (nopObserver) CommandRejected(string) {}

// Hub 维护活跃客户端集合，按小组 ID 组织。
// 同步逻辑全部在会话里，Hub 只负责连接的登记和统一关闭。
type Hub struct {
	groups   map[string]map[*Client]struct{}
	groupsMu sync.RWMutex

	commandRate  float64
	commandBurst int
	observer     Observer
}

// NewHub 创建并返回一个新的 Hub 实例。
// commandRate 是每个连接每秒允许的命令数，<= 0 表示不限制。
func NewHub(commandRate float64, observer Observer) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	burst := int(commandRate * 2)
	if burst < 1 {
		burst = 1
	}
	return &Hub{
		groups:       make(map[string]map[*Client]struct{}),
		commandRate:  commandRate,
		commandBurst: burst,
		observer:     observer,
	}
}

// register 处理客户端注册逻辑
func (h *Hub) register(client *Client) {
	groupID := client.GroupID()
	logCtx := logrus.WithFields(logrus.Fields{
		"group_id":  groupID,
		"member_id": client.MemberID(),
		"action":    "registerClient",
	})

	h.groupsMu.Lock()
	if _, ok := h.groups[groupID]; !ok {
		h.groups[groupID] = make(map[*Client]struct{})
		logCtx.Debug("Client list created for new group")
	}
	h.groups[groupID][client] = struct{}{}
	h.groupsMu.Unlock()

	h.observer.ClientConnected()
	logCtx.Info("Client registered to Hub")
}

// unregister 处理客户端注销逻辑
func (h *Hub) unregister(client *Client) {
	groupID := client.GroupID()
	logCtx := logrus.WithFields(logrus.Fields{
		"group_id":  groupID,
		"member_id": client.MemberID(),
		"action":    "unregisterClient",
	})

	h.groupsMu.Lock()
	clients, ok := h.groups[groupID]
	if ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.groups, groupID)
				logCtx.Debug("Group empty, removed from Hub")
			}
		} else {
			ok = false
		}
	}
	h.groupsMu.Unlock()

	if !ok {
		logCtx.Warn("Client not found in Hub during unregister")
		return
	}
	h.observer.ClientDisconnected()
	logCtx.Info("Client unregistered from Hub")
}

// ClientCount 返回小组中当前连接的客户端数。
func (h *Hub) ClientCount(groupID string) int {
	h.groupsMu.RLock()
	defer h.groupsMu.RUnlock()
	return len(h.groups[groupID])
}

// ActiveGroupIDs 返回当前有连接的小组 ID。
func (h *Hub) ActiveGroupIDs() []string {
	h.groupsMu.RLock()
	defer h.groupsMu.RUnlock()
	ids := make([]string, 0, len(h.groups))
	for id := range h.groups {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown 关闭所有客户端连接并等待它们的会话清理完成。
func (h *Hub) Shutdown() {
	h.groupsMu.RLock()
	clients := make([]*Client, 0)
	for _, group := range h.groups {
		for c := range group {
			clients = append(clients, c)
		}
	}
	h.groupsMu.RUnlock()

	logrus.WithField("client_count", len(clients)).Info("Hub: closing all client connections")
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.shutdown()
		}(c)
	}
	wg.Wait()
}
