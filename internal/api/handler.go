package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/domain"
	"github.com/djlord-it/easy-alarm/internal/queue"
	"github.com/djlord-it/easy-alarm/internal/schedindex"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// OwnerHeader carries the authenticated user id, set by the upstream proxy.
const OwnerHeader = "X-User-ID"

type Store interface {
	CreateAlarm(ctx context.Context, a domain.Alarm) error
	GetAlarm(ctx context.Context, id uuid.UUID) (domain.Alarm, error)
	ListAlarms(ctx context.Context, ownerID string, limit, offset int) ([]domain.Alarm, error)
	UpdateAlarm(ctx context.Context, a domain.Alarm) error
	DeleteAlarm(ctx context.Context, id uuid.UUID, ownerID string) error
}

// Scheduler applies the scheduling side effects of alarm writes.
type Scheduler interface {
	Schedule(ctx context.Context, a *domain.Alarm) error
	Unschedule(ctx context.Context, a *domain.Alarm) error
}

type History interface {
	History(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error)
}

type TokenIssuer interface {
	Issue(ownerID string) (string, time.Time, error)
}

type StreamServer interface {
	ServeSSE(w http.ResponseWriter, r *http.Request)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type FailedJobs interface {
	Failed(ctx context.Context, limit int) ([]queue.Record, error)
}

type IndexReader interface {
	Get(ctx context.Context, id uuid.UUID) (schedindex.Entry, error)
}

// HealthCheck reports a dependency's health for verbose /health responses.
type HealthCheck func(ctx context.Context) error

// MetricsSink records HTTP metrics. All methods must be non-blocking.
type MetricsSink interface {
	HTTPRequest(method, route string, status int, duration time.Duration)
}

type namedCheck struct {
	name  string
	check HealthCheck
}

type Handler struct {
	store     Store
	scheduler Scheduler
	history   History
	tokens    TokenIssuer
	stream    StreamServer
	failed    FailedJobs
	index     IndexReader
	checks    []namedCheck
	logger    *zap.SugaredLogger
	metrics   MetricsSink // optional, nil = disabled
	now       func() time.Time
}

func NewHandler(store Store, scheduler Scheduler, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		store:     store,
		scheduler: scheduler,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

func (h *Handler) WithHistory(history History) *Handler {
	h.history = history
	return h
}

// WithStream enables token issuance and the stream endpoints.
func (h *Handler) WithStream(tokens TokenIssuer, stream StreamServer) *Handler {
	h.tokens = tokens
	h.stream = stream
	return h
}

// WithOps enables the operator inspection endpoints.
func (h *Handler) WithOps(failed FailedJobs, index IndexReader) *Handler {
	h.failed = failed
	h.index = index
	return h
}

// WithHealthCheck adds a component to verbose /health responses.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// WithClock sets a custom clock function (for testing).
func (h *Handler) WithClock(fn func() time.Time) *Handler {
	h.now = fn
	return h
}

// Routes builds the router. Call after all With* options.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/alarms", func(r chi.Router) {
			r.Post("/", h.createAlarm)
			r.Get("/", h.listAlarms)
			r.Get("/{id}", h.getAlarm)
			r.Patch("/{id}", h.updateAlarm)
			r.Delete("/{id}", h.deleteAlarm)
		})
		if h.history != nil {
			r.Get("/history", h.listHistory)
		}
		if h.tokens != nil {
			r.Post("/stream/token", h.issueStreamToken)
		}
	})

	// Stream endpoints authenticate with the stream token, not the header.
	if h.stream != nil {
		r.Get("/stream", h.stream.ServeSSE)
		r.Get("/stream/ws", h.stream.ServeWS)
	}

	if h.failed != nil {
		r.Get("/ops/queue/failed", h.listFailedJobs)
	}
	if h.index != nil {
		r.Get("/ops/index/{id}", h.getIndexEntry)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[c.name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[c.name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody writes the error response itself and reports whether decoding
// succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) createAlarm(w http.ResponseWriter, r *http.Request) {
	var req CreateAlarmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	owner := ownerFrom(r.Context())
	a, err := buildAlarm(req, owner, h.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateAlarm(r.Context(), a); err != nil {
		h.logger.Errorw("create alarm failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create alarm")
		return
	}
	if err := h.scheduler.Schedule(r.Context(), &a); err != nil {
		h.logger.Errorw("schedule alarm failed", "alarm_id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule alarm")
		return
	}

	h.logger.Infow("alarm created", "alarm_id", a.ID, "owner_id", owner, "kind", a.Kind)
	writeJSON(w, http.StatusCreated, toAlarmResponse(a))
}

func (h *Handler) listAlarms(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alarms, err := h.store.ListAlarms(r.Context(), ownerFrom(r.Context()), limit, offset)
	if err != nil {
		h.logger.Errorw("list alarms failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alarms")
		return
	}

	resp := ListAlarmsResponse{Alarms: make([]AlarmResponse, len(alarms))}
	for i, a := range alarms {
		resp.Alarms[i] = toAlarmResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadOwned fetches the alarm named in the path. Alarms of other owners are
// reported as missing. On failure the response is already written.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (domain.Alarm, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alarm id")
		return domain.Alarm{}, false
	}

	a, err := h.store.GetAlarm(r.Context(), id)
	if errors.Is(err, domain.ErrAlarmNotFound) || (err == nil && a.OwnerID != ownerFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return domain.Alarm{}, false
	}
	if err != nil {
		h.logger.Errorw("get alarm failed", "alarm_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get alarm")
		return domain.Alarm{}, false
	}
	return a, true
}

func (h *Handler) getAlarm(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAlarmResponse(a))
}

func (h *Handler) updateAlarm(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req UpdateAlarmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	timing, err := applyUpdate(&a, req, h.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpdateAlarm(r.Context(), a); err != nil {
		if errors.Is(err, domain.ErrAlarmNotFound) {
			writeError(w, http.StatusNotFound, "alarm not found")
			return
		}
		h.logger.Errorw("update alarm failed", "alarm_id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update alarm")
		return
	}

	if timing {
		// Schedule unschedules an alarm that can no longer trigger.
		if err := h.scheduler.Schedule(r.Context(), &a); err != nil {
			h.logger.Errorw("reschedule alarm failed", "alarm_id", a.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to reschedule alarm")
			return
		}
	}

	writeJSON(w, http.StatusOK, toAlarmResponse(a))
}

func (h *Handler) deleteAlarm(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.Unschedule(r.Context(), &a); err != nil {
		h.logger.Errorw("unschedule alarm failed", "alarm_id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unschedule alarm")
		return
	}

	if err := h.store.DeleteAlarm(r.Context(), a.ID, a.OwnerID); err != nil {
		if errors.Is(err, domain.ErrAlarmNotFound) {
			writeError(w, http.StatusNotFound, "alarm not found")
			return
		}
		h.logger.Errorw("delete alarm failed", "alarm_id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete alarm")
		return
	}

	h.logger.Infow("alarm deleted", "alarm_id", a.ID, "owner_id", a.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.history.History(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		h.logger.Errorw("read history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (h *Handler) issueStreamToken(w http.ResponseWriter, r *http.Request) {
	token, expires, err := h.tokens.Issue(ownerFrom(r.Context()))
	if err != nil {
		h.logger.Errorw("issue stream token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue stream token")
		return
	}
	writeJSON(w, http.StatusOK, StreamTokenResponse{Token: token, ExpiresAt: formatTime(expires)})
}

func (h *Handler) listFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.failed.Failed(r.Context(), limit)
	if err != nil {
		h.logger.Errorw("list failed jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list failed jobs")
		return
	}

	resp := ListFailedJobsResponse{Jobs: make([]FailedJobResponse, len(records))}
	for i, rec := range records {
		resp.Jobs[i] = FailedJobResponse{
			Key:        rec.Key,
			Payload:    rec.Payload,
			Attempts:   rec.Attempts,
			LastError:  rec.LastError,
			FinishedAt: formatTime(rec.FinishedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getIndexEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alarm id")
		return
	}

	entry, err := h.index.Get(r.Context(), id)
	if errors.Is(err, schedindex.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not indexed")
		return
	}
	if err != nil {
		h.logger.Errorw("read index entry failed", "alarm_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read index")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
