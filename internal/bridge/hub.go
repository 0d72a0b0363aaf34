// Package bridge relays dashboard commands to browser extension clients
// over websockets. The extension records screen captures and drives the
// agent browser window; the dashboard only ever talks to it through
// here.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Command types understood by the extension.
const (
	CommandStartRecording    = "start_recording"
	CommandStopRecording     = "stop_recording"
	CommandJumpToAgentWindow = "jump_to_agent_window"
	CommandAbort             = "abort"
)

// Command is the wire format for bridge messages.
type Command struct {
	Type   string         `json:"type"`
	ChatID string         `json:"chat_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	TS     int64          `json:"ts"`
}

const (
	sendBuffer    = 64
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Extensions connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn    *websocket.Conn
	sendCh  chan Command
	done    chan struct{}
	writeMu sync.Mutex
}

// Hub fans commands out to every connected extension client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ClientCount returns the number of connected extension clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a command for every connected client. Slow clients
// have the command dropped rather than blocking the sender.
func (h *Hub) Broadcast(cmd Command) {
	if cmd.TS == 0 {
		cmd.TS = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.sendCh <- cmd:
		default:
			slog.Warn("bridge client send buffer full, dropping command", "type", cmd.Type)
		}
	}
}

// StartRecording tells the extension to begin a screen recording for the
// given chat.
func (h *Hub) StartRecording(chatID string) {
	h.Broadcast(Command{Type: CommandStartRecording, ChatID: chatID})
}

// StopRecording tells the extension to finish the active recording.
func (h *Hub) StopRecording(chatID string) {
	h.Broadcast(Command{Type: CommandStopRecording, ChatID: chatID})
}

// JumpToAgentWindow focuses the agent browser window.
func (h *Hub) JumpToAgentWindow() {
	h.Broadcast(Command{Type: CommandJumpToAgentWindow})
}

// Abort tells the extension the active run was stopped.
func (h *Hub) Abort(chatID, reason string) {
	h.Broadcast(Command{
		Type:   CommandAbort,
		ChatID: chatID,
		Data:   map[string]any{"reason": reason},
	})
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.sendCh)
	}
}

// HandleWS upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn:   conn,
		sendCh: make(chan Command, sendBuffer),
		done:   make(chan struct{}),
	}
	h.add(cl)
	slog.Info("bridge client connected", "remote", conn.RemoteAddr().String())

	// Reader exists for liveness only; the extension does not send
	// anything we act on.
	go func() {
		defer close(cl.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.remove(cl)
		conn.Close()
		slog.Info("bridge client disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		select {
		case cmd, ok := <-cl.sendCh:
			if !ok {
				return
			}
			if err := cl.writeJSON(cmd); err != nil {
				slog.Warn("bridge write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := cl.writeControl(websocket.PingMessage); err != nil {
				return
			}
		case <-cl.done:
			return
		}
	}
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(v)
}

func (c *client) writeControl(messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, nil, time.Now().Add(writeDeadline))
}

// Server exposes the hub over HTTP.
type Server struct {
	hub    *Hub
	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the hub into a gin router.
func NewServer(hub *Hub, listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": hub.ClientCount()})
	})
	engine.GET("/ws", hub.HandleWS)

	return &Server{
		hub:    hub,
		engine: engine,
		http: &http.Server{
			Addr:              listen,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	slog.Info("bridge listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
