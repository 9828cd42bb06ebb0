package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

var errSendBufferFull = errors.New("connection send buffer full")

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection is one WebSocket subscriber. It implements Sink: payloads are
// handed to a buffered send channel and written by the write pump, so a
// broadcast never blocks on a slow client. A full buffer fails the Send,
// which makes the hub drop the connection.
type Connection struct {
	id         string
	accessCode string
	conn       *websocket.Conn
	sendCh     chan []byte
	hub        *Hub
	config     ConnectionConfig

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Connection) Send(payload []byte) error {
	select {
	case c.sendCh <- payload:
		return nil
	default:
		c.conn.Close()
		return errSendBufferFull
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.hub.Unsubscribe(c.accessCode, c)
		c.conn.Close()
		close(c.done)

		log.Info().
			Str("connection_id", c.id).
			Str("access_code", c.accessCode).
			Msg("WebSocket connection closed")
	})
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("failed to write to WebSocket")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames so pongs and close frames are processed.
// Clients do not send commands over the socket; control goes over HTTP.
func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close")
			}
			return
		}
	}
}

// WebSocketHandler upgrades HTTP requests into live-update WebSocket
// subscriptions.
type WebSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

func NewWebSocketHandler(hub *Hub, config ConnectionConfig) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleTimerConnection subscribes a WebSocket client to one access code.
func (h *WebSocketHandler) HandleTimerConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("accessCode")
	if raw == "" {
		raw = r.Header.Get("X-Access-Code")
	}
	accessCode, err := timer.ValidateAccessCode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		id:         uuid.New().String(),
		accessCode: accessCode,
		conn:       conn,
		sendCh:     make(chan []byte, 256),
		hub:        h.hub,
		config:     h.config,
		done:       make(chan struct{}),
	}

	go connection.writePump()
	go connection.readPump()

	h.hub.Subscribe(accessCode, connection)

	log.Info().
		Str("connection_id", connection.id).
		Str("access_code", accessCode).
		Msg("WebSocket connection established")
}
