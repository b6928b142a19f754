package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // admin console may run on another port in development
	},
}

// WSMessage is the wire frame pushed to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler fans the event bus out to connected admin consoles: job
// lifecycle and card review transitions. Each connection writes behind its
// own mutex; the handler never blocks the event bus on a slow client.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService

	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex

	allowedEvents map[string]bool          // whitelist; empty allows all
	throttlers    map[string]*rate.Limiter // per event type, from config

	// serverInstanceID changes on every process start so clients can detect
	// a restart and drop stale state.
	serverInstanceID string
}

// NewWebSocketHandler creates the hub and subscribes it to the event bus.
func NewWebSocketHandler(eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Event whitelist active for WebSocket broadcasts")
	}

	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Bad throttle interval; event unthrottled")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if eventService != nil {
		h.subscribeToEvents()
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// subscribeToEvents wires every published event type to the broadcast path.
func (h *WebSocketHandler) subscribeToEvents() {
	eventTypes := []interfaces.EventType{
		interfaces.EventCardUploaded,
		interfaces.EventCardAssigned,
		interfaces.EventCardApproved,
		interfaces.EventCardRejected,
		interfaces.EventJobQueued,
		interfaces.EventJobClaimed,
		interfaces.EventJobDone,
		interfaces.EventJobFailed,
		interfaces.EventJobRequeued,
	}
	for _, eventType := range eventTypes {
		if err := h.eventService.Subscribe(eventType, h.relayEvent); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event subscription failed")
		}
	}
}

// relayEvent pushes one bus event to all clients, subject to the whitelist
// and the per-type throttle.
func (h *WebSocketHandler) relayEvent(ctx context.Context, event interfaces.Event) error {
	eventType := string(event.Type)

	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return nil
	}
	if throttler, exists := h.throttlers[eventType]; exists && !throttler.Allow() {
		return nil
	}

	h.Broadcast(eventType, event.Payload)
	return nil
}

// Broadcast sends a message to every connected client. The client list is
// snapshotted under RLock; each write holds only that connection's mutex so
// one stuck client cannot stall the rest beyond its own frame.
func (h *WebSocketHandler) Broadcast(messageType string, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: messageType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("type", messageType).Msg("WebSocket write failed")
		}
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away. Incoming frames are drained and ignored; the stream is
// one-way.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}
	}
}

// sendHello pushes the connection greeting carrying the server instance ID.
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	data, err := json.Marshal(WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"time":               time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket hello failed")
	}
}

// ClientCount reports connected clients, used by the status endpoint.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client during shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
