package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/voice"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// WebSocketMessage is the envelope for both directions.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	EventID string          `json:"eventId,omitempty"`
}

// ConnectionStats counts WebSocket traffic.
type ConnectionStats struct {
	Connections int    `json:"connections"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// ConnectionManager manages active WebSocket connections
type ConnectionManager struct {
	mu        sync.RWMutex
	clients   map[*WebSocketClient]struct{}
	delivered atomic.Uint64
	dropped   atomic.Uint64
	logger    *log.Logger
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *log.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[*WebSocketClient]struct{}),
		logger:  logger,
	}
}

func (cm *ConnectionManager) add(c *WebSocketClient) {
	cm.mu.Lock()
	cm.clients[c] = struct{}{}
	cm.mu.Unlock()
}

func (cm *ConnectionManager) remove(c *WebSocketClient) {
	cm.mu.Lock()
	_, ok := cm.clients[c]
	delete(cm.clients, c)
	cm.mu.Unlock()
	if ok {
		c.close()
	}
}

// Broadcast delivers an event to every client. Slow clients lose events
// rather than stall the feed.
func (cm *ConnectionManager) Broadcast(ev events.Event[conversation.Change]) {
	data, err := json.Marshal(ev)
	if err != nil {
		cm.logger.Warn("Failed to encode event", "type", ev.Type, "err", err)
		return
	}
	msg := WebSocketMessage{Type: string(ev.Type), Data: data, EventID: ev.ID}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for c := range cm.clients {
		if c.enqueue(msg) {
			cm.delivered.Add(1)
		} else {
			cm.dropped.Add(1)
		}
	}
}

// Pump forwards broker events to clients until ctx is done.
func (cm *ConnectionManager) Pump(ctx context.Context, broker *events.Broker[conversation.Change]) {
	if broker == nil {
		return
	}
	for ev := range broker.Subscribe(ctx) {
		cm.Broadcast(ev)
	}
}

// CloseAll disconnects every client.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	clients := cm.clients
	cm.clients = make(map[*WebSocketClient]struct{})
	cm.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	n := len(cm.clients)
	cm.mu.RUnlock()
	return ConnectionStats{Connections: n, Delivered: cm.delivered.Load(), Dropped: cm.dropped.Load()}
}

// WebSocketClient represents a WebSocket client
type WebSocketClient struct {
	id     string
	conn   *websocket.Conn
	send   chan WebSocketMessage
	server *Server

	mu     sync.Mutex
	closed bool
}

func (c *WebSocketClient) enqueue(msg WebSocketMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *WebSocketClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleWebSocket upgrades the connection and attaches it to the change feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	client := &WebSocketClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan WebSocketMessage, sendBuffer),
		server: s,
	}
	s.connectionManager.add(client)
	s.logger.Debug("WebSocket client connected", "client", client.id)

	hello, _ := json.Marshal(map[string]any{
		"clientId":             client.id,
		"activeConversationId": s.deps.Repository.ActiveID(),
	})
	client.enqueue(WebSocketMessage{Type: "connected", Data: hello})

	go client.writePump()
	go client.readPump()
}

// readPump handles incoming WebSocket messages
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.connectionManager.remove(c)
		c.conn.Close()
		c.server.logger.Debug("WebSocket client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WebSocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("WebSocket error", "err", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

// writePump handles outgoing WebSocket messages
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Warn("WebSocket write error", "err", err)
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

type wsSend struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	// Transcript marks text that came from speech recognition.
	Transcript bool `json:"transcript"`
}

type wsSetActive struct {
	ConversationID string `json:"conversationId"`
}

// handleMessage processes incoming WebSocket messages
func (c *WebSocketClient) handleMessage(msg WebSocketMessage) {
	s := c.server
	switch msg.Type {
	case "ping":
		c.enqueue(WebSocketMessage{Type: "pong", EventID: msg.EventID})

	case "send":
		var req wsSend
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError("Invalid message data", "", msg.EventID)
			return
		}
		text := req.Text
		if req.Transcript {
			text = voice.CleanTranscript(text)
		}
		convID := req.ConversationID
		if convID == "" {
			convID = s.deps.Repository.ActiveID()
		}
		gen, err := s.deps.Reconciler.Send(context.Background(), convID, text, nil)
		if err != nil {
			c.sendFailure(err, msg.EventID)
			return
		}
		ack, _ := json.Marshal(map[string]string{"conversationId": gen.ConversationID, "messageId": gen.MessageID})
		c.enqueue(WebSocketMessage{Type: "send_ack", Data: ack, EventID: msg.EventID})

	case "set_active":
		var req wsSetActive
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError("Invalid message data", "", msg.EventID)
			return
		}
		if _, err := s.deps.Repository.SetActive(req.ConversationID); err != nil {
			c.sendFailure(err, msg.EventID)
		}

	case "cancel":
		s.deps.Reconciler.Cancel()

	default:
		c.sendError("Unknown message type", "", msg.EventID)
	}
}

func (c *WebSocketClient) sendFailure(err error, eventID string) {
	status := c.server.failureOf(err)
	c.sendError(status.body.Error, status.body.Code, eventID)
}

// sendError sends an error message to the WebSocket client
func (c *WebSocketClient) sendError(message, code, eventID string) {
	c.enqueue(WebSocketMessage{Type: "error", Error: message, Code: code, EventID: eventID})
}
