package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 订阅的收件地址
	mu        sync.Mutex
	log       *zap.Logger
}

// Hub 按收件地址管理 WebSocket 订阅，并在新邮件入库后推送摘要
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	addresses  map[string]map[string]*Client // address -> clientID -> Client
	unregister chan *Client
	done       chan struct{}
	closed     bool
	mu         sync.RWMutex
	log        *zap.Logger
	upgrader   websocket.Upgrader
	directory  domain.Directory
}

var _ domain.MailListener = (*Hub)(nil)

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - directory: 受支持域名目录，nil 表示不校验订阅地址
//   - logger: 日志记录器
func NewHub(allowedOrigins []string, directory domain.Directory, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		addresses:  make(map[string]map[string]*Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.Named("websocket"),
		upgrader:   upgraderFactory(allowedOrigins),
		directory:  directory,
	}
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// Run 启动Hub，ctx 取消后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				client.mu.Lock()
				for addr := range client.addresses {
					h.removeLocked(addr, client.ID)
				}
				client.mu.Unlock()
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("client unregistered", zap.String("id", client.ID))
		}
	}
}

// MessageStored 向订阅收件地址的客户端推送新邮件摘要
func (h *Hub) MessageStored(_ context.Context, msg *domain.Message) {
	summary := msg.Summary()
	data, err := json.Marshal(summary)
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}
	delivered := h.broadcast(msg.ToAddress, &Message{
		Type:      MessageTypeNewMail,
		Address:   msg.ToAddress,
		Data:      data,
		Timestamp: time.Now(),
	})
	if delivered > 0 {
		h.log.Debug("new mail pushed",
			zap.String("message_id", msg.ID),
			zap.String("address", msg.ToAddress),
			zap.Int("clients", delivered),
		)
	}
}

// Subscribers 返回某地址当前的订阅客户端数
func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.addresses[domain.NormalizeAddress(address)])
}

// broadcast 非阻塞地发送给订阅者，返回成功入队的客户端数
func (h *Hub) broadcast(address string, msg *Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.addresses[address] {
		select {
		case client.send <- data:
			n++
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
	return n
}

// add 注册客户端，Hub 已关闭时返回 false
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID] = c
	return true
}

// subscribe 只对仍在注册表中的客户端生效
func (h *Hub) subscribe(c *Client, address string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}

	c.mu.Lock()
	c.addresses[address] = true
	c.mu.Unlock()

	if h.addresses[address] == nil {
		h.addresses[address] = make(map[string]*Client)
	}
	h.addresses[address][c.ID] = c
	return true
}

func (h *Hub) unsubscribe(c *Client, address string) {
	c.mu.Lock()
	delete(c.addresses, address)
	c.mu.Unlock()

	h.mu.Lock()
	h.removeLocked(address, c.ID)
	h.mu.Unlock()
}

// removeLocked 调用方需持有 h.mu 写锁
func (h *Hub) removeLocked(address, clientID string) {
	if clients, ok := h.addresses[address]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(h.addresses, address)
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.addresses = make(map[string]map[string]*Client)
	h.closed = true
}

// checkAddress 规范化地址并校验域名
func (h *Hub) checkAddress(address string) (string, bool) {
	addr := domain.NormalizeAddress(address)
	if !domain.ValidateEmail(addr) {
		return addr, false
	}
	if h.directory != nil && !h.directory.IsSupportedDomain(domain.DomainOf(addr)) {
		return addr, false
	}
	return addr, true
}

// Handler 处理 GET /ws?address= 连接，address 可省略，之后通过 subscribe 消息订阅
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var initial string
		if q := c.Query("address"); q != "" {
			addr, ok := h.checkAddress(q)
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "domain not supported"})
				return
			}
			initial = addr
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()),
			)
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       h,
			addresses: make(map[string]bool),
			log:       h.log,
		}

		if !h.add(client) {
			_ = conn.Close()
			return
		}
		h.log.Debug("client registered", zap.String("id", client.ID))

		if initial != "" && h.subscribe(client, initial) {
			client.sendMessage(&Message{Type: MessageTypeSubscribed, Address: initial, Timestamp: time.Now()})
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		addr, ok := c.hub.checkAddress(msg.Address)
		if !ok {
			c.sendError("domain not supported")
			return
		}
		if !c.hub.subscribe(c, addr) {
			return
		}
		c.sendMessage(&Message{Type: MessageTypeSubscribed, Address: addr, Timestamp: time.Now()})
	case MessageTypeUnsubscribe:
		c.hub.unsubscribe(c, domain.NormalizeAddress(msg.Address))
	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
	case MessageTypePong:
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	default:
		c.sendError("unknown message type")
	}
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{Type: MessageTypeError, Error: errMsg, Timestamp: time.Now()})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}
