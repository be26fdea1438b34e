package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ServeSSE streams events for the token's owner until the client goes away.
func (g *Gateway) ServeSSE(w http.ResponseWriter, r *http.Request) {
	owner, err := g.authenticate(r)
	if err != nil {
		status, msg := authStatus(err)
		writeError(w, status, msg)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	l, err := g.subs.Acquire(ctx, channelFor(owner))
	if err != nil {
		g.logger.Warnw("stream subscribe failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	defer g.subs.Release(l)

	id, closed := g.session("sse", owner)
	defer closed()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data []byte) bool {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	sendJSON := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return send(event, data)
	}

	if !sendJSON(EventConnected, connectedEvent{SessionID: id, OwnerID: owner}) {
		return
	}

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sendJSON(EventPing, pingEvent{Time: g.now().UTC()}) {
				return
			}
		case msg := <-l.C():
			if !send(EventAlarm, msg) {
				return
			}
		}
	}
}
