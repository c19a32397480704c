// Package websocket pushes case events to connected directors and paramedics.
// Clients subscribe to topics and receive every event published to them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/aidmate/dispatch/internal/platform/auth"
)

const (
	TopicCases = "cases"

	EventCaseCreated       = "case.created"
	EventCaseAssigned      = "case.assigned"
	EventCaseStatusChanged = "case.status_changed"
	EventCaseCompleted     = "case.completed"
	EventCaseNoteAdded     = "case.note_added"
)

// ParamedicTopic is the private topic of a single paramedic.
func ParamedicTopic(id uuid.UUID) string {
	return "paramedic:" + id.String()
}

// Event is one message on the live case feed.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	CaseID    string          `json:"caseId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Client struct {
	ID     string
	Actor  auth.Actor
	Topics []string
	Send   chan []byte
}

// Hub tracks connected clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// CanSubscribe reports whether actor may listen on topic. Directors see
// everything; paramedics only their own topic.
func CanSubscribe(actor auth.Actor, topic string) bool {
	if actor.IsDirector() {
		return true
	}
	return actor.IsParamedic() && topic == ParamedicTopic(actor.ID)
}

// DefaultTopics are subscribed on connect.
func DefaultTopics(actor auth.Actor) []string {
	if actor.IsDirector() {
		return []string{TopicCases}
	}
	return []string{ParamedicTopic(actor.ID)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	topics := client.Topics
	client.Topics = nil
	h.subscribeLocked(client, topics)
}

// Unregister drops every subscription of client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	remove := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		remove[topic] = struct{}{}
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies a client request. Topics the client may not read
// are dropped silently.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		allowed := make([]string, 0, len(msg.Topics))
		for _, topic := range msg.Topics {
			if CanSubscribe(client.Actor, topic) {
				allowed = append(allowed, topic)
			}
		}
		h.Subscribe(client, allowed)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping event")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins; "*" or an empty list
// allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
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

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

func (h *Handler) HandleConnect(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Actor:  actor,
		Topics: DefaultTopics(actor),
		Send:   make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
