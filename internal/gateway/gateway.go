// Package gateway streams fired alarms to connected sessions over SSE or
// WebSocket. Sessions for the same owner share one broker subscription.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/notify"
)

const (
	EventConnected = "connected"
	EventPing      = "ping"
	EventAlarm     = "alarm"

	DefaultHeartbeat = 15 * time.Second
)

// Gateway serves the stream endpoints.
type Gateway struct {
	subs      *SubscriptionManager
	tokens    *TokenIssuer
	logger    *zap.SugaredLogger
	metrics   MetricsSink // optional, nil = disabled
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	now       func() time.Time
}

func New(subs *SubscriptionManager, tokens *TokenIssuer, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		subs:      subs,
		tokens:    tokens,
		logger:    logger.Named("gateway"),
		heartbeat: DefaultHeartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Stream tokens are the authentication; browsers connect from the
			// app origin which may differ from the API origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (g *Gateway) WithMetrics(sink MetricsSink) *Gateway {
	g.metrics = sink
	return g
}

// WithHeartbeat sets the ping interval.
func (g *Gateway) WithHeartbeat(d time.Duration) *Gateway {
	if d > 0 {
		g.heartbeat = d
	}
	return g
}

// WithClock sets a custom clock function (for testing).
func (g *Gateway) WithClock(fn func() time.Time) *Gateway {
	g.now = fn
	return g
}

type connectedEvent struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
}

type pingEvent struct {
	Time time.Time `json:"time"`
}

// authenticate returns the owner named by the request's stream token, taken
// from the token query parameter or a bearer Authorization header.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return "", ErrInvalidToken
	}
	return g.tokens.Verify(token)
}

func (g *Gateway) session(kind string, owner string) (string, func()) {
	id := uuid.NewString()
	if g.metrics != nil {
		g.metrics.SessionOpened(kind)
	}
	g.logger.Debugw("session opened", "session_id", id, "owner_id", owner, "transport", kind)
	return id, func() {
		if g.metrics != nil {
			g.metrics.SessionClosed(kind)
		}
		g.logger.Debugw("session closed", "session_id", id, "owner_id", owner, "transport", kind)
	}
}

func channelFor(owner string) string { return notify.Channel(owner) }

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func authStatus(err error) (int, string) {
	if errors.Is(err, ErrTokenExpired) {
		return http.StatusUnauthorized, "stream token expired"
	}
	return http.StatusUnauthorized, "invalid stream token"
}
