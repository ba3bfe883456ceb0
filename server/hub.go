package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"account-rotator/core"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// 管理端只监听本地地址，放行所有来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event 推送给 websocket 客户端的消息
type Event struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	Time   time.Time    `json:"time"`
	Notice *core.Notice `json:"notice,omitempty"`
}

const (
	EventNotice       = "notice"
	EventStateChanged = "state_changed"
)

// clientBuffer 每个连接的待发送队列长度，满了说明客户端跟不上，直接断开
const clientBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub 管理 websocket 连接并广播引擎通知，同时实现 core.Notifier
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	logger  *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		logger:  logger,
	}
}

// HandleWebSocket 升级连接并注册客户端
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[cl] = true
	h.mu.Unlock()

	go h.writeLoop(cl)

	// 读循环只用于感知断开
	go func() {
		defer h.remove(cl)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeLoop 每个连接唯一的写协程
func (h *Hub) writeLoop(cl *client) {
	defer cl.conn.Close()
	for data := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.WithError(err).Debug("websocket write failed")
			// 关闭连接让读协程退出并注销
			cl.conn.Close()
			for range cl.send {
			}
			return
		}
	}
	cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if h.clients[cl] {
		delete(h.clients, cl)
		cl.close()
	}
	h.mu.Unlock()
}

// Notify 实现 core.Notifier
func (h *Hub) Notify(_ context.Context, n core.Notice) {
	h.Broadcast(Event{Type: EventNotice, Time: n.Time, Notice: &n})
}

// StateChanged 存储文件被修改 (可能来自其它进程)
func (h *Hub) StateChanged() {
	h.Broadcast(Event{Type: EventStateChanged, Time: time.Now()})
}

// Broadcast 只入队不阻塞，慢客户端不会拖住调用方
func (h *Hub) Broadcast(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("websocket marshal failed")
		return
	}

	var slow []*client
	h.mu.RLock()
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.logger.Debug("websocket client too slow, dropping")
		h.remove(cl)
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开全部连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
}

var _ core.Notifier = (*Hub)(nil)
