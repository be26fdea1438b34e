package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Clients only send control frames.
	maxMessageSize = 512
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServeWS streams the same events as ServeSSE as JSON frames over a
// WebSocket connection.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	owner, err := g.authenticate(r)
	if err != nil {
		status, msg := authStatus(err)
		writeError(w, status, msg)
		return
	}

	l, err := g.subs.Acquire(r.Context(), channelFor(owner))
	if err != nil {
		g.logger.Warnw("stream subscribe failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	defer g.subs.Release(l)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, closed := g.session("websocket", owner)
	defer closed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go g.readPump(conn, cancel)

	write := func(event string, v any) bool {
		var data []byte
		switch d := v.(type) {
		case []byte:
			data = d
		default:
			if data, err = json.Marshal(v); err != nil {
				return false
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame{Event: event, Data: data}) == nil
	}

	if !write(EventConnected, connectedEvent{SessionID: id, OwnerID: owner}) {
		return
	}

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !write(EventPing, pingEvent{Time: g.now().UTC()}) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg := <-l.C():
			if !write(EventAlarm, msg) {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed and
// cancels the session once the peer goes away or stops answering pings.
func (g *Gateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 4 * g.heartbeat
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				g.logger.Warnw("websocket read error", "error", err)
			}
			return
		}
	}
}
