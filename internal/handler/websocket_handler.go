// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/model"
	"acquisition-service/internal/service"
	"acquisition-service/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams acquisition status and channel snapshots to clients
type WebSocketHandler struct {
	upgrader           websocket.Upgrader
	connections        *ConnectionManager
	acquisitionService *service.AcquisitionService
	eventBus           *EventBus
	stream             config.StreamConfig
	logger             *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	acquisitionService *service.AcquisitionService,
	eventBus *EventBus,
	stream config.StreamConfig,
	security config.SecurityConfig,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(security.AllowedOrigins),
	}

	if stream.Interval <= 0 {
		stream.Interval = 33 * time.Millisecond
	}

	return &WebSocketHandler{
		upgrader:           upgrader,
		connections:        NewConnectionManager(),
		acquisitionService: acquisitionService,
		eventBus:           eventBus,
		stream:             stream,
		logger:             utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// originChecker allows every origin when none are configured
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stream", h.HandleStreamConnection)
}

// Run pushes status events and snapshot frames to clients until ctx is done
func (h *WebSocketHandler) Run(ctx context.Context) {
	events := h.eventBus.Subscribe()
	ticker := time.NewTicker(h.stream.Interval)
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			h.broadcast(TopicStatus, &WebSocketMessage{
				Type:      TopicStatus,
				Data:      event,
				Timestamp: event.Timestamp,
			})

		case <-ticker.C:
			version := h.acquisitionService.DataVersion()
			if version == lastVersion || h.connections.Count() == 0 {
				continue
			}
			lastVersion = version
			h.broadcast(TopicSnapshot, h.snapshotMessage(version))
		}
	}
}

// HandleStreamConnection upgrades the request and starts streaming
// @Summary Acquisition stream
// @Description WebSocket pushing "status" events and "snapshot" frames of every channel
// @Tags Stream
// @Router /ws/stream [get]
func (h *WebSocketHandler) HandleStreamConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn)
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr

	h.connections.Register(client)
	h.logger.Info("Stream WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	// Initial state so the client does not wait for the first change
	h.sendMessage(client, &WebSocketMessage{
		Type:      TopicStatus,
		Data:      h.acquisitionService.Status(),
		Timestamp: time.Now(),
	})
	h.sendMessage(client, h.snapshotMessage(h.acquisitionService.DataVersion()))

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Stream WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe", "unsubscribe":
		h.handleSubscription(client, message, message.Type == "subscribe")
	case "command":
		go h.executeCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// handleSubscription turns a topic on or off for the client
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage, on bool) {
	data, _ := message.Data.(map[string]interface{})
	topic, _ := data["topic"].(string)
	if topic != TopicStatus && topic != TopicSnapshot {
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown topic: %q", topic))
		return
	}

	client.SetSubscription(topic, on)
	h.sendMessage(client, &WebSocketMessage{
		Type:      "subscription_confirmed",
		Data:      map[string]interface{}{"topic": topic, "subscribed": on},
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// executeCommand runs connect, disconnect, reset or status sent over the socket
func (h *WebSocketHandler) executeCommand(client *Client, message *WebSocketMessage) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, message.RequestID, "invalid command data")
		return
	}
	command, _ := data["command"].(string)

	var (
		status model.Status
		err    error
	)
	switch command {
	case "connect":
		var req model.ConnectRequest
		if err = remarshal(data["request"], &req); err != nil {
			h.sendError(client, message.RequestID, "invalid connect request")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		status, err = h.acquisitionService.Connect(ctx, &req)
		cancel()
	case "disconnect":
		status = h.acquisitionService.Disconnect()
	case "reset":
		status = h.acquisitionService.Reset()
	case "status":
		status = h.acquisitionService.Status()
	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown command: %s", command))
		return
	}

	response := map[string]interface{}{
		"command": command,
		"success": err == nil,
		"status":  status,
	}
	if err != nil {
		response["error"] = err.Error()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      response,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// snapshotMessage builds a snapshot push of the newest points of every channel
func (h *WebSocketHandler) snapshotMessage(version uint64) *WebSocketMessage {
	return &WebSocketMessage{
		Type: TopicSnapshot,
		Data: SnapshotMessage{
			Version: version,
			Series:  h.acquisitionService.SeriesTail(h.stream.MaxPoints),
		},
		Timestamp: time.Now(),
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !client.TrySend(messageBytes) {
		h.logger.Warn("Dropping message for client",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// broadcast sends message to every client subscribed to topic
func (h *WebSocketHandler) broadcast(topic string, message *WebSocketMessage) {
	clients := h.connections.GetSubscribers(topic)
	if len(clients) == 0 {
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		if !client.TrySend(messageBytes) {
			h.logger.Debug("Client send channel full during broadcast",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)
		}
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// remarshal converts a decoded JSON value into out
func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
