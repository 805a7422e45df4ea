package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"story-voice/internal/render"
	"story-voice/internal/studio"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Типы сообщений, рассылаемых подписчикам сессии
const (
	MessageSegment = "segment"
	MessageStudio  = "studio"
)

// Message сообщение подписчику сессии
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub рассылает изменения сегментов подписчикам сессии по WebSocket.
// Реализует render.Publisher и studio.Listener.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  *zap.Logger
}

// NewHub создает новый хаб подписок
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// Publish рассылает изменение статуса сегмента
func (h *Hub) Publish(update render.Update) {
	h.broadcast(update.SessionID, Message{Type: MessageSegment, Payload: update})
}

// OnEvent рассылает событие контроллера массового рендера
func (h *Hub) OnEvent(event studio.Event) {
	h.broadcast(event.SessionID, Message{Type: MessageStudio, Payload: event})
}

// Subscribers возвращает число подписчиков сессии
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Serve переводит запрос в WebSocket и подписывает его на события сессии.
// Возвращает управление после отключения клиента.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// Close отключает всех подписчиков
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, set := range h.clients {
		for c := range set {
			c.close()
		}
		delete(h.clients, sessionID)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.clients[c.sessionID] == nil {
		h.clients[c.sessionID] = make(map[*client]struct{})
	}
	h.clients[c.sessionID][c] = struct{}{}
	count := len(h.clients[c.sessionID])
	h.mu.Unlock()

	h.logger.Debug("подписчик подключен",
		zap.String("session_id", c.sessionID),
		zap.Int("subscribers", count))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.sessionID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.close()
		}
		if len(set) == 0 {
			delete(h.clients, c.sessionID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("подписчик отключен", zap.String("session_id", c.sessionID))
}

func (h *Hub) broadcast(sessionID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ошибка сериализации сообщения", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[sessionID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("очередь подписчика переполнена, сообщение пропущено",
				zap.String("session_id", sessionID),
				zap.String("type", msg.Type))
		}
	}
}

// readPump читает входящие кадры только ради pong и закрытия соединения
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("соединение закрыто", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
