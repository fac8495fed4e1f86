package match

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// pongWait is how long we wait for any read (including pongs) before
	// declaring the connection dead; pings go out well inside that window.
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second

	// outboundQueueSize bounds the per-connection send queue. A client that
	// cannot drain it is disconnected rather than buffered without limit.
	outboundQueueSize = 64
)

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection read loop that feeds the matchmaker and relay.
type Handler struct {
	matchmaker *Matchmaker
	relay      *Relay
	upgrader   websocket.Upgrader
}

func NewHandler(matchmaker *Matchmaker, relay *Relay, allowedOrigins []string) *Handler {
	return &Handler{
		matchmaker: matchmaker,
		relay:      relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker builds the handshake origin filter from the configured
// allow-list. An empty list or a "*" entry allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header; they are accepted.
		return origin == "" || set[origin]
	}
}

// ServeHTTP is the entry point for a client connection. Each connection gets
// an opaque id for the lifetime of the network session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	client := newWSClient(uuid.NewString(), conn)
	slog.Info("WebSocket connection established", "connectionID", client.ID())

	go client.writePump()
	h.readPump(client)
}

// readPump runs for the lifetime of the connection. Every inbound frame is
// handled synchronously here, which is what preserves per-connection event
// order through the relay. The deferred cleanup is the single disconnect
// path: explicit closes, read errors, and write-side failures all funnel
// into it.
func (h *Handler) readPump(client *wsClient) {
	defer func() {
		slog.Info("Closing WebSocket connection", "connectionID", client.ID())
		h.matchmaker.Disconnect(client.ID())
		client.close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection closed unexpectedly", "connectionID", client.ID(), "error", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("Dropping unparseable frame", "connectionID", client.ID(), "error", err)
			continue
		}
		h.dispatch(client, env)
	}
}

func (h *Handler) dispatch(client *wsClient, env Envelope) {
	switch env.Type {
	case KindJoinRoom:
		var join JoinRoomPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &join); err != nil {
				slog.Warn("Dropping malformed join payload", "connectionID", client.ID(), "error", err)
				return
			}
		}
		if join.DisplayName == "" {
			join.DisplayName = "player"
		}
		roomID, slot, err := h.matchmaker.Join(client, join.DisplayName)
		if err != nil {
			client.Send(errorMessage(err))
			return
		}
		slog.Info("Connection joined room", "connectionID", client.ID(), "roomID", roomID, "slot", slot)
	default:
		err := h.relay.Relay(client.ID(), env.RoomID, env.Type, env.Data)
		switch {
		case err == nil:
		case errors.Is(err, ErrRoomNotFound):
			// Stale event racing a room teardown; expected, dropped.
			slog.Debug("Dropping stale event", "connectionID", client.ID(), "type", env.Type)
		default:
			client.Send(errorMessage(err))
		}
	}
}

// wsClient is the coordinator-side handle for one WebSocket connection. It
// implements Conn: Send queues onto a bounded channel drained by writePump,
// so a slow or dead opponent can never stall the sender's event processing.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan Message

	once sync.Once
	done chan struct{}
}

func newWSClient(id string, conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan Message, outboundQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues a message without blocking. Overflow policy is explicit:
// a connection whose queue is full is torn down, not buffered forever.
func (c *wsClient) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		slog.Warn("Outbound queue overflow, disconnecting slow client", "connectionID", c.id)
		c.close()
		return ErrTransportClosed
	}
}

// close is idempotent. Closing the underlying conn unblocks the read pump,
// whose deferred cleanup then settles room membership.
func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump owns all writes on the connection: queued messages plus the
// keepalive pings. Any write failure tears the connection down, which routes
// the failure into the same cleanup path as an explicit disconnect.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Warn("Write failed, closing connection", "connectionID", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
