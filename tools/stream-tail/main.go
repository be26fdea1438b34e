// stream-tail is a development listener for the live alarm stream. It mints
// a stream token for one owner, follows the SSE endpoint and keeps the most
// recent alarm events for inspection over HTTP.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/api"
	"github.com/djlord-it/easy-alarm/internal/gateway"
)

const reconnectDelay = 2 * time.Second

type event struct {
	Received string          `json:"received"`
	Name     string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type stats struct {
	Count      int64   `json:"count"`
	LastEvents []event `json:"last_events"`
	Since      string  `json:"since"`
}

// recorder keeps a bounded window of received alarm events.
type recorder struct {
	mu    sync.Mutex
	max   int
	count int64
	last  []event
	since time.Time
	nowFn func() time.Time
}

func newRecorder(limit int) *recorder {
	r := &recorder{max: limit, nowFn: time.Now}
	r.since = r.nowFn().UTC()
	return r
}

func (r *recorder) record(name string, data []byte) int64 {
	ev := event{
		Received: r.nowFn().UTC().Format(time.RFC3339Nano),
		Name:     name,
		Data:     json.RawMessage(append([]byte(nil), data...)),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.last = append(r.last, ev)
	if len(r.last) > r.max {
		r.last = r.last[len(r.last)-r.max:]
	}
	return r.count
}

func (r *recorder) snapshot() stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return stats{
		Count:      r.count,
		LastEvents: append([]event(nil), r.last...),
		Since:      r.since.Format(time.RFC3339),
	}
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.count = 0
	r.last = nil
	r.since = r.nowFn().UTC()
	r.mu.Unlock()
}

func main() {
	logger := zap.Must(zap.NewDevelopment()).Sugar().Named("stream-tail")
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Errorw("stream-tail failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *zap.SugaredLogger) error {
	apiURL := getenv("API_URL", "http://localhost:8080")
	addr := getenv("ADDR", ":8081")
	owner := os.Getenv("OWNER_ID")
	if owner == "" {
		return errors.New("OWNER_ID is required")
	}
	keep, err := strconv.Atoi(getenv("KEEP", "50"))
	if err != nil || keep < 1 {
		return errors.Newf("KEEP must be a positive integer, got %q", os.Getenv("KEEP"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := newRecorder(keep)
	srv := &http.Server{Addr: addr, Handler: routes(rec), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infow("stats server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("stats server error", "error", err)
			stop()
		}
	}()

	client := &http.Client{}
	for ctx.Err() == nil {
		err := follow(ctx, client, apiURL, owner, func(name string, data []byte) {
			if name != gateway.EventAlarm {
				logger.Debugw("stream event", "event", name)
				return
			}
			n := rec.record(name, data)
			logger.Infow("alarm received", "n", n, "data", string(data))
		})
		if ctx.Err() != nil {
			break
		}
		logger.Warnw("stream ended, reconnecting", "error", err, "delay", reconnectDelay)
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func routes(rec *recorder) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.snapshot())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rec.reset()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

// follow mints a fresh token and reads the SSE stream until it ends.
func follow(ctx context.Context, client *http.Client, apiURL, owner string, onEvent func(string, []byte)) error {
	token, err := fetchToken(ctx, client, apiURL, owner)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("open stream: unexpected status %d", resp.StatusCode)
	}
	return readEvents(resp.Body, onEvent)
}

func fetchToken(ctx context.Context, client *http.Client, apiURL, owner string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/stream/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(api.OwnerHeader, owner)

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "request stream token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("request stream token: unexpected status %d", resp.StatusCode)
	}
	var body api.StreamTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decode stream token")
	}
	if body.Token == "" {
		return "", errors.New("request stream token: empty token")
	}
	return body.Token, nil
}

// readEvents dispatches each complete SSE event. Multi-line data fields are
// joined with newlines; comment lines are ignored.
func readEvents(r io.Reader, onEvent func(string, []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				onEvent(name, []byte(strings.Join(data, "\n")))
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}
	return io.EOF
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
