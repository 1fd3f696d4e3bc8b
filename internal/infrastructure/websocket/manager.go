package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/logger"
)

// Client is one socket attached to the relay.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	subsMu sync.Mutex
	subs   map[string]bool
}

func NewClient(userID string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, buffer),
		subs:   make(map[string]bool),
	}
}

func (c *Client) subscribe(destination string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[destination] = true
}

func (c *Client) unsubscribe(destination string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, destination)
}

func (c *Client) subscribed(destination string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return c.subs[destination]
}

type ManagerConfig struct {
	PongWait      time.Duration
	PingPeriod    time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
}

// Manager is the in-memory relay: it tracks one client per user, routes
// frames between them and keeps presence.
type Manager struct {
	cfg     ManagerConfig
	chats   repository.ChatRepository
	limiter *ratelimit.RateLimiter
	metrics *metrics.Metrics

	clients map[string]*Client
	mutex   sync.RWMutex
}

func NewManager(cfg ManagerConfig, chats repository.ChatRepository, limiter *ratelimit.RateLimiter, m *metrics.Metrics) *Manager {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 16 * 1024
	}
	return &Manager{
		cfg:     cfg,
		chats:   chats,
		limiter: limiter,
		metrics: m,
		clients: make(map[string]*Client),
	}
}

// Start closes every client when ctx ends.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.mutex.Lock()
		for id, client := range m.clients {
			delete(m.clients, id)
			close(client.Send)
		}
		m.metrics.RelayClients(0)
		m.mutex.Unlock()
	}()
}

// Register attaches client, replacing an older socket of the same user.
func (m *Manager) Register(client *Client) {
	m.mutex.Lock()
	previous, existed := m.clients[client.UserID]
	if existed {
		close(previous.Send)
	}
	m.clients[client.UserID] = client
	m.metrics.RelayClients(len(m.clients))
	m.mutex.Unlock()

	logger.Info("Relay: client registered: %s", client.UserID)
	if !existed {
		m.broadcastPresence(client.UserID, true)
	}
}

// Unregister detaches client unless a newer socket already replaced it.
func (m *Manager) Unregister(client *Client) {
	m.mutex.Lock()
	current, ok := m.clients[client.UserID]
	removed := ok && current == client
	if removed {
		delete(m.clients, client.UserID)
		close(client.Send)
	}
	m.metrics.RelayClients(len(m.clients))
	m.mutex.Unlock()

	if removed {
		logger.Info("Relay: client unregistered: %s", client.UserID)
		m.broadcastPresence(client.UserID, false)
	}
}

func (m *Manager) IsOnline(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

func (m *Manager) OnlineUsers() []string {
	m.mutex.RLock()
	users := make([]string, 0, len(m.clients))
	for id := range m.clients {
		users = append(users, id)
	}
	m.mutex.RUnlock()
	sort.Strings(users)
	return users
}

// SendToUser delivers body on destination if userID is online and subscribed.
func (m *Manager) SendToUser(userID, destination string, body interface{}) bool {
	frame, err := NewFrame(FrameMessage, destination, body)
	if err != nil {
		logger.Error("Relay: %v", err)
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Relay: marshal frame: %v", err)
		return false
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	client, ok := m.clients[userID]
	if !ok || !client.subscribed(destination) {
		return false
	}
	return m.enqueue(client, data)
}

// enqueue must run under m.mutex so Send cannot be closed underneath it.
func (m *Manager) enqueue(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		return true
	default:
		logger.Warn("Relay: send buffer of %s full, dropping connection", client.UserID)
		client.Conn.Close()
		return false
	}
}

func (m *Manager) sendError(client *Client, destination, code, message string) {
	frame, err := NewFrame(FrameError, destination, ErrorBody{Code: code, Message: message})
	if err != nil {
		return
	}
	data, _ := json.Marshal(frame)

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if current, ok := m.clients[client.UserID]; ok && current == client {
		m.enqueue(client, data)
	}
}

func (m *Manager) broadcastPresence(userID string, online bool) {
	event := entity.PresenceEvent{UserID: userID, Online: online}
	for _, id := range m.OnlineUsers() {
		if id != userID {
			m.SendToUser(id, TopicPresence, event)
		}
	}
}

// sendPresenceSnapshot tells a fresh presence subscriber who is online.
func (m *Manager) sendPresenceSnapshot(client *Client) {
	for _, id := range m.OnlineUsers() {
		if id != client.UserID {
			m.SendToUser(client.UserID, TopicPresence, entity.PresenceEvent{UserID: id, Online: true})
		}
	}
}

// ReadPump reads frames until the socket fails, then unregisters the client.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(m.cfg.MaxFrameBytes)
	c.Conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Relay: read from %s: %v", c.UserID, err)
			}
			return
		}
		m.HandleClientFrame(c, message)
	}
}

// WritePump drains Send to the socket and keeps it alive with pings.
func (c *Client) WritePump(m *Manager) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("Relay: write to %s: %v", c.UserID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
