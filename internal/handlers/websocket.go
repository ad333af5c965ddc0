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

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is the initial handshake message sent to each client
type StatusUpdate struct {
	Service          string `json:"service"`
	TrackedJobs      int    `json:"tracked_jobs"`
	ServerInstanceID string `json:"server_instance_id"` // Unique ID per server startup - clients clear state on change
}

// WebSocketHandler broadcasts tracked job lifecycle events to all
// connected UI clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	monitor          *monitor.Monitor
	eventService     interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	allowedEvents    map[string]bool // Whitelist of events to broadcast (empty = allow all)
	serverInstanceID string
}

// NewWebSocketHandler creates a WebSocket broadcast handler
func NewWebSocketHandler(eventService interfaces.EventService, m *monitor.Monitor, config *common.GatewayConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           common.GetLogger(),
		monitor:          m,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	h.logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Empty whitelist means allow all events
	h.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		h.logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	if eventService != nil {
		h.subscribeToMonitorEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
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

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendStatus(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendStatus sends current status to a specific client
func (h *WebSocketHandler) sendStatus(conn *websocket.Conn) {
	status := StatusUpdate{
		Service:          "ONLINE",
		TrackedJobs:      len(h.monitor.Snapshot()),
		ServerInstanceID: h.serverInstanceID,
	}

	msg := WSMessage{
		Type:    "status",
		Payload: status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal initial status")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send initial status")
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHandler) Broadcast(msgType string, payload interface{}) {
	msg := WSMessage{
		Type:    msgType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to send message to client")
		}
	}
}

// subscribeToMonitorEvents wires job lifecycle events to the broadcast path
func (h *WebSocketHandler) subscribeToMonitorEvents() {
	forward := func(eventType interfaces.EventType) interfaces.EventHandler {
		return func(ctx context.Context, event interfaces.Event) error {
			// Check whitelist (empty allowedEvents = allow all)
			if len(h.allowedEvents) > 0 && !h.allowedEvents[string(eventType)] {
				return nil
			}
			h.Broadcast(string(eventType), h.wsPayload(event.Payload))
			return nil
		}
	}

	h.eventService.Subscribe(interfaces.EventJobTracked, forward(interfaces.EventJobTracked))
	h.eventService.Subscribe(interfaces.EventJobUpdated, forward(interfaces.EventJobUpdated))
	h.eventService.Subscribe(interfaces.EventJobTerminal, forward(interfaces.EventJobTerminal))
	h.eventService.Subscribe(interfaces.EventJobUntracked, forward(interfaces.EventJobUntracked))
}

// wsPayload shapes an event payload for the wire
func (h *WebSocketHandler) wsPayload(payload interface{}) interface{} {
	switch p := payload.(type) {
	case *models.JobRecord:
		return p
	case string:
		// Untracked events carry just the job ID
		return map[string]interface{}{
			"job_id":    p,
			"timestamp": time.Now().Format(time.RFC3339),
		}
	default:
		return payload
	}
}
