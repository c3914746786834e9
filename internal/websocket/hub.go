// Package websocket carries the progress channel over a websocket
// connection. A client sends one request message at a time and receives
// the pipeline's progress, heartbeat and terminal events for it.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/internal/jobs"
	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // scripts travel inline

	defaultHeartbeat = 15 * time.Second
	defaultBuffer    = 64
)

// VoiceoverRunner is the pipeline a client drives
type VoiceoverRunner interface {
	Generate(ctx context.Context, req usecase.GenerateRequest, emitter progress.Emitter) (*entities.VoiceoverResult, error)
	RegenerateSegment(ctx context.Context, req usecase.RegenerateRequest, emitter progress.Emitter) (*entities.VoiceoverResult, error)
	Recombine(ctx context.Context, req usecase.RecombineRequest, emitter progress.Emitter) (*entities.VoiceoverResult, error)
}

// HubConfig holds the hub's transport settings
type HubConfig struct {
	Heartbeat    time.Duration // Optional: Heartbeat interval (default: 15s)
	Buffer       int           // Optional: Events buffered per request (default: 64)
	AllowOrigins []string      // Optional: Allowed Origin headers, empty or "*" allows any
}

// Hub maintains the set of active clients
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	runner    VoiceoverRunner
	jobs      *jobs.Manager
	validator *MessageValidator
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	buffer    int

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub. jobManager may be nil, in which
// case requests are not recorded as jobs.
func NewHub(runner VoiceoverRunner, jobManager *jobs.Manager, config HubConfig, logger *zap.Logger) *Hub {
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaultHeartbeat
		logger.Info("Using default heartbeat interval", zap.Duration("heartbeat", config.Heartbeat))
	}
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}

	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		runner:     runner,
		jobs:       jobManager,
		validator:  NewMessageValidator(),
		heartbeat:  config.Heartbeat,
		buffer:     config.Buffer,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(config.AllowOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main loop. When ctx is done every client is
// disconnected and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientId", client.id), zap.String("subject", client.subject))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.cancel()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientId", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.cancel()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	id      string
	subject string

	// Cancelled when the connection goes away; in-flight requests stop
	// waiting on the pipeline.
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	mutex sync.Mutex
	busy  bool
}

func newClient(hub *Hub, conn *websocket.Conn, subject string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan WriteData, 256),
		id:      id,
		subject: subject,
		ctx:     ctx,
		cancel:  cancel,
		logger:  hub.logger.With(zap.String("clientId", id)),
	}
}

// HandleWebSocket upgrades an authenticated request and serves it
func HandleWebSocket(hub *Hub, c echo.Context, subject string) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, subject)
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.sendJSON(CreateErrorMessage("", "unsupported_frame", "only text messages are accepted"))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// sendJSON queues v for the write pump. It gives up once the connection
// is gone.
func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.ctx.Done():
	}
}

// processMessage processes incoming messages from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("", "invalid_message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.MessageID, m.Data))

	case *SynthesizeMessage:
		req := usecase.GenerateRequest{
			Script:            m.Script,
			ReferenceVoiceURL: m.ReferenceVoiceURL,
			Speed:             m.Speed,
		}
		c.start(m.MessageID, jobs.KindGenerate, func(ctx context.Context, emitter progress.Emitter) {
			c.hub.runner.Generate(ctx, req, emitter)
		})

	case *RegenerateMessage:
		req := usecase.RegenerateRequest{
			AssetGroupID:      m.AssetGroupID,
			SegmentIndex:      m.SegmentIndex,
			SegmentText:       m.SegmentText,
			ReferenceVoiceURL: m.ReferenceVoiceURL,
		}
		c.start(m.MessageID, jobs.KindRegenerate, func(ctx context.Context, emitter progress.Emitter) {
			c.hub.runner.RegenerateSegment(ctx, req, emitter)
		})

	case *RecombineMessage:
		req := usecase.RecombineRequest{AssetGroupID: m.AssetGroupID, Speed: m.Speed}
		c.start(m.MessageID, jobs.KindRecombine, func(ctx context.Context, emitter progress.Emitter) {
			c.hub.runner.Recombine(ctx, req, emitter)
		})
	}
}

// start runs one request and forwards its events. A connection serves
// one request at a time.
func (c *Client) start(messageID string, kind jobs.Kind, run jobs.RunFunc) {
	c.mutex.Lock()
	if c.busy {
		c.mutex.Unlock()
		c.sendJSON(CreateErrorMessage(messageID, "busy", "a request is already in progress on this connection"))
		return
	}
	c.busy = true
	c.mutex.Unlock()

	var jobID string
	var recorder progress.Emitter = progress.Discard
	if c.hub.jobs != nil {
		job, emitter, err := c.hub.jobs.Create(c.ctx, kind)
		if err != nil {
			c.logger.Error("Failed to create job", zap.Error(err))
		} else {
			jobID, recorder = job.ID, emitter
		}
	}
	c.sendJSON(&AcceptedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeAccepted, Timestamp: now(), MessageID: messageID},
		JobID:       jobID,
	})

	go func() {
		defer func() {
			c.mutex.Lock()
			c.busy = false
			c.mutex.Unlock()
		}()

		events := progress.Pipe(c.ctx, c.hub.buffer, c.hub.heartbeat, func(out progress.Emitter) {
			run(c.ctx, progress.Tee{recorder, out})
		})
		for e := range events {
			c.sendJSON(CreateEventMessage(messageID, jobID, e))
		}
		c.logger.Debug("Request finished", zap.String("messageId", messageID), zap.String("kind", string(kind)))
	}()
}
