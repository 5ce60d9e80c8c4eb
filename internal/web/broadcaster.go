package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/notification"
	"github.com/gorilla/websocket"
)

var _ notification.Notifier = (*Broadcaster)(nil)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	// session 订阅的会话, 空表示全部
	session string
	send    chan []byte
}

// Broadcaster 把引擎事件推送给 websocket 客户端, 每个客户端一个写协程
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Notify 只入队不写网络, 队列满的客户端被断开
func (b *Broadcaster) Notify(ctx context.Context, event notification.Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if c.session != "" && c.session != event.SessionID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slog.Warn("websocket client too slow, disconnect", "remote", c.conn.RemoteAddr().String())
			b.removeLocked(c)
		}
	}
	return nil
}

// Clients 当前连接数
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Handler 接受 websocket 连接, ?session= 只订阅单个会话
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		c := &client{
			conn:    conn,
			session: r.URL.Query().Get("session"),
			send:    make(chan []byte, sendBuffer),
		}
		b.mu.Lock()
		b.clients[c] = struct{}{}
		b.mu.Unlock()

		go b.writeLoop(c)
		// 读循环只用于感知断开
		go func() {
			defer b.remove(c)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	defer func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(writeWait))
		c.conn.Close()
	}()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("websocket write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			b.remove(c)
			return
		}
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
}

// removeLocked 关闭发送队列, 写协程随后断开连接
func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	close(c.send)
}

// Close 断开所有客户端
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		b.removeLocked(c)
	}
}
