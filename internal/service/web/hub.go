package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"crawlpool/internal/crawl"
	"crawlpool/internal/shared/logger"

	"github.com/gorilla/websocket"
)

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub 维护所有 websocket 客户端，并把爬取统计广播给它们。
// Hub 同时实现 crawl.Observer。
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{} // Run 退出后关闭
	mu         sync.Mutex

	statsMu sync.RWMutex
	latest  crawl.Stats
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束。只能调用一次。
func (h *Hub) Run(ctx context.Context) {
	l := logger.WithComponent("Web/Hub")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// 由 read pump 负责注销
					l.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Observe 记录最新统计并广播 stats_update。
func (h *Hub) Observe(stats crawl.Stats) {
	h.statsMu.Lock()
	h.latest = stats
	h.statsMu.Unlock()
	h.BroadcastStatsUpdate(stats)
}

// Latest 返回最近一次收到的统计。
func (h *Hub) Latest() crawl.Stats {
	h.statsMu.RLock()
	defer h.statsMu.RUnlock()
	return h.latest
}

// BroadcastStatsUpdate 广播统计快照。通道满时丢弃，避免阻塞爬取循环。
func (h *Hub) BroadcastStatsUpdate(stats crawl.Stats) {
	msg := WebSocketMessage{Type: "stats_update", Data: stats}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		l := logger.WithComponent("Web/Hub")
		l.Error().Err(err).Msg("Failed to marshal stats update")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		l := logger.WithComponent("Web/Hub")
		l.Debug().Msg("Broadcast channel is full, skipping stats update.")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := logger.WithComponent("Web/Hub")
		l.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// read pump，用于发现客户端断开
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					l := logger.WithComponent("Web/Hub")
					l.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
