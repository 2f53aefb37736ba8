package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/auth"
	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/sandbox"
	"github.com/burrowhq/burrow/pkg/types"
)

// Application close codes, beyond the RFC 6455 set.
const (
	closeNotOwned   = 4004 // sandbox absent or owned by another tenant
	closeNotRunning = 4003 // terminal requires a running container
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	replayTail   = 100
)

// Hub serves the WebSocket surface: live log streaming and interactive
// terminals. Authentication happens upstream in the auth middleware; the
// hub enforces ownership and sandbox state.
type Hub struct {
	sandboxes *sandbox.Service
	upgrader  websocket.Upgrader
	logger    zerolog.Logger

	mu    sync.Mutex
	conns map[*conn]bool
}

func New(sandboxes *sandbox.Service, corsOrigin string) *Hub {
	return &Hub{
		sandboxes: sandboxes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == corsOrigin
			},
		},
		logger: log.WithComponent("hub"),
		conns:  make(map[*conn]bool),
	}
}

// Routes mounts the WebSocket endpoints on a router that already carries
// the auth middleware.
func (h *Hub) Routes(r chi.Router) {
	r.Get("/ws/sandboxes/{id}/logs", h.handleLogs)
	r.Get("/ws/sandboxes/{id}/terminal", h.handleTerminal)
}

// Close sends close frames to every live connection and drops them. New
// upgrades race this during shutdown; the listener is already closed by the
// time it runs.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// conn wraps a websocket with a write lock; gorilla allows only one
// concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeBinary(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, p)
}

func (c *conn) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *conn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = c.ws.Close()
}

func (h *Hub) track(c *conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// serverFrame is the server → client message shape on the log endpoint.
type serverFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type logFrameData struct {
	Stream    types.LogStream `json:"stream"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

type statusFrameData struct {
	Status types.SandboxStatus `json:"status"`
	Phase  types.SandboxPhase  `json:"phase"`
}

// clientControl is a client → server text message on either endpoint.
type clientControl struct {
	Type string `json:"type"`
	Cols uint   `json:"cols,omitempty"`
	Rows uint   `json:"rows,omitempty"`
}

func (h *Hub) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sandboxID := chi.URLParam(r, "id")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	h.track(c)
	defer h.untrack(c)

	metrics.WebsocketSessions.WithLabelValues("logs").Inc()
	defer metrics.WebsocketSessions.WithLabelValues("logs").Dec()

	sb, err := h.sandboxes.Get(r.Context(), id.UserID, sandboxID)
	if err != nil {
		c.close(closeNotOwned, "sandbox not found")
		return
	}

	logger := log.WithSandboxID(h.logger, sb.ID).With().Str("trace_id", id.TraceID).Logger()

	if err := c.writeJSON(serverFrame{Event: "status", Data: statusFrameData{Status: sb.Status, Phase: sb.Phase}}); err != nil {
		c.close(websocket.CloseNormalClosure, "")
		return
	}

	// Subscribe before reading the replay so no line falls between the two;
	// the overlap is filtered below by row id. Timestamps cannot dedupe here:
	// a burst can land several lines on one clock reading.
	sub := h.sandboxes.Broker().Subscribe(sb.ID)
	defer h.sandboxes.Broker().Unsubscribe(sb.ID, sub)

	var lastReplayedID int64
	stored, err := h.sandboxes.Logs(r.Context(), id.UserID, sb.ID, replayTail)
	if err == nil {
		for _, entry := range stored {
			frame := serverFrame{Event: "log", Data: logFrameData{
				Stream: entry.Stream, Text: entry.Text, Timestamp: entry.Timestamp,
			}}
			if err := c.writeJSON(frame); err != nil {
				c.close(websocket.CloseNormalClosure, "")
				return
			}
			lastReplayedID = entry.ID
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLogControls(cancel, c)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.close(websocket.CloseNormalClosure, "")
			return
		case <-ping.C:
			if err := c.writePing(); err != nil {
				return
			}
		case ev, open := <-sub:
			if !open {
				// The broker dropped this viewer for falling behind (or the
				// sandbox was destroyed).
				c.close(websocket.CloseMessageTooBig, "log stream overflow")
				logger.Debug().Msg("log viewer dropped")
				return
			}
			if ev.ID <= lastReplayedID {
				// Already delivered in the replay.
				continue
			}
			frame := serverFrame{Event: "log", Data: logFrameData{
				Stream: ev.Stream, Text: ev.Text, Timestamp: ev.Timestamp,
			}}
			if err := c.writeJSON(frame); err != nil {
				return
			}
		}
	}
}

// readLogControls consumes client messages on the log endpoint: ping gets a
// pong, everything else is ignored. A read error ends the connection.
func (h *Hub) readLogControls(cancel context.CancelFunc, c *conn) {
	defer cancel()
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var ctl clientControl
		if json.Unmarshal(payload, &ctl) != nil {
			continue
		}
		if ctl.Type == "ping" {
			if err := c.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sandboxID := chi.URLParam(r, "id")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	h.track(c)
	defer h.untrack(c)

	metrics.WebsocketSessions.WithLabelValues("terminal").Inc()
	defer metrics.WebsocketSessions.WithLabelValues("terminal").Dec()

	session, err := h.sandboxes.Terminal(r.Context(), id.UserID, sandboxID, 80, 24)
	if err != nil {
		if errdefs.IsNotRunning(err) || errdefs.IsNoContainer(err) {
			c.close(closeNotRunning, "sandbox is not running")
		} else {
			c.close(closeNotOwned, "sandbox not found")
		}
		return
	}
	defer session.Close()

	if err := c.writeJSON(map[string]string{"type": "ready"}); err != nil {
		c.close(websocket.CloseNormalClosure, "")
		return
	}

	logger := log.WithSandboxID(h.logger, sandboxID).With().Str("trace_id", id.TraceID).Logger()
	logger.Debug().Msg("terminal session opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pumpSessionOutput(c, session)
	}()

	h.readTerminalInput(r.Context(), c, session)

	// Socket side ended: closing the session unblocks the output pump
	// within its next read.
	session.Close()
	<-done
}

// pumpSessionOutput copies PTY output to the socket as binary frames and
// closes the socket with 1000 when the PTY reaches end of stream.
func (h *Hub) pumpSessionOutput(c *conn, session runtime.Session) {
	buf := make([]byte, 4096)
	reader := session.Reader()
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if werr := c.writeBinary(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			c.close(websocket.CloseNormalClosure, "session ended")
			return
		}
	}
}

// readTerminalInput forwards client frames to the PTY. Binary frames are
// stdin bytes. Text frames opening with '{' are control messages; anything
// that fails to parse falls through as input.
func (h *Hub) readTerminalInput(ctx context.Context, c *conn, session runtime.Session) {
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		if kind == websocket.TextMessage && len(payload) > 0 && payload[0] == '{' {
			var ctl clientControl
			if json.Unmarshal(payload, &ctl) == nil {
				switch ctl.Type {
				case "resize":
					if err := session.Resize(ctx, ctl.Cols, ctl.Rows); err != nil {
						h.logger.Debug().Err(err).Msg("pty resize failed")
					}
					continue
				case "ping":
					if err := c.writeJSON(map[string]string{"type": "pong"}); err != nil {
						return
					}
					continue
				}
			}
		}

		if _, err := session.Write(payload); err != nil {
			return
		}
	}
}
