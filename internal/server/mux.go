// Package server implements the operator HTTP API of the dashboard service.
// Every /api/ route except sign-in requires an active session; without one
// the answer is 401 with a redirect to the login route.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/auth"
	"github.com/a96363877/zain-js-lohan/internal/dashboard"
	errordefs "github.com/a96363877/zain-js-lohan/internal/errors"
	"github.com/a96363877/zain-js-lohan/internal/export"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/session"
	"github.com/a96363877/zain-js-lohan/internal/view"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ContextKey is used for context values to avoid collisions
type ContextKey string

const (
	ContextKeyCorrelationID ContextKey = "correlationId"

	maxBodyBytes = 1 << 16
)

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators of the API.
type Options struct {
	Controller *dashboard.Controller
	Guard      *session.Guard
	Session    *auth.TokenSession
	Exporter   *export.Exporter
	Notices    *notice.Queue
	Ready      []Pinger
	Logger     *zap.Logger

	CORSAllowedOrigins []string
}

// Mux handles HTTP requests for the dashboard service.
type Mux struct {
	mux     *http.ServeMux
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewMux registers every route and returns the handler.
func NewMux(opts Options) *http.ServeMux {
	m := &Mux{
		mux:     http.NewServeMux(),
		opts:    opts,
		logger:  opts.Logger,
		metrics: metrics.NewMetrics(),
	}

	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())

	m.mux.HandleFunc("POST /api/session", m.withMiddleware(m.handleSignIn, false))
	m.mux.HandleFunc("DELETE /api/session", m.withMiddleware(m.handleSignOut, true))

	m.mux.HandleFunc("GET /api/notifications", m.withMiddleware(m.handleListNotifications, true))
	m.mux.HandleFunc("POST /api/notifications/hide-all", m.withMiddleware(m.handleHideAll, true))
	m.mux.HandleFunc("POST /api/notifications/{id}/approve", m.withMiddleware(m.handleStatus(model.StatusApproved), true))
	m.mux.HandleFunc("POST /api/notifications/{id}/reject", m.withMiddleware(m.handleStatus(model.StatusRejected), true))
	m.mux.HandleFunc("POST /api/notifications/{id}/hide", m.withMiddleware(m.handleHide, true))
	m.mux.HandleFunc("PUT /api/notifications/{id}/flag", m.withMiddleware(m.handleFlag, true))
	m.mux.HandleFunc("GET /api/users/{id}/presence", m.withMiddleware(m.handlePresence, true))

	m.mux.HandleFunc("GET /api/stats", m.withMiddleware(m.handleStats, true))
	m.mux.HandleFunc("GET /api/notices", m.withMiddleware(m.handleNotices, true))
	m.mux.HandleFunc("GET /api/settings", m.withMiddleware(m.handleGetSettings, true))
	m.mux.HandleFunc("PUT /api/settings", m.withMiddleware(m.handlePutSettings, true))
	m.mux.HandleFunc("POST /api/export", m.withMiddleware(m.handleExport, true))

	m.mux.HandleFunc("OPTIONS /api/", m.withMiddleware(func(http.ResponseWriter, *http.Request) {}, false))

	return m.mux
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies CORS, correlation ids, the session gate, request
// logging and metrics.
func (m *Mux) withMiddleware(h http.HandlerFunc, requireSession bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		origin := r.Header.Get("Origin")
		if origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			if origin != "" && m.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			m.observe(r, rec.status, time.Since(start), correlationID)
		}()

		if requireSession && !m.opts.Guard.Active() {
			m.writeErrorDef(rec, errordefs.NewWithDetails(errordefs.DASH_NO_SESSION, "sign in required", correlationID,
				map[string]string{"redirect": session.LoginPath}))
			return
		}

		h(rec, r)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.opts.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeErrorDef writes an error response following the error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}

// writeFailure maps a component error onto the taxonomy.
func (m *Mux) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	cid := correlationID(r)
	var verr *export.ValidationError
	switch {
	case errors.Is(err, dashboard.ErrNotRunning):
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_UNAVAILABLE, "dashboard is starting", cid))
	case errors.Is(err, view.ErrPageOutOfRange):
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_PAGE_OUT_OF_RANGE, err.Error(), cid))
	case errors.Is(err, feed.ErrNotFound):
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_NOT_FOUND, "notification not found", cid))
	case errors.Is(err, auth.ErrInvalidToken):
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_TOKEN_INVALID, err.Error(), cid))
	case errors.As(err, &verr):
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.DASH_VALIDATION, "invalid export request", cid, verr.Problems))
	default:
		m.logger.Error("request failed", zap.String("correlation_id", cid), zap.Error(err))
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_BACKEND, "backend operation failed", cid))
	}
}

func (m *Mux) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	m.writeErrorDef(w, errordefs.New(errordefs.DASH_BAD_REQUEST, message, correlationID(r)))
}

// observe logs the request and records HTTP metrics
func (m *Mux) observe(r *http.Request, status int, duration time.Duration, correlationID string) {
	path := r.Pattern
	if path == "" {
		path = r.URL.Path
	}
	statusText := strconv.Itoa(status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, statusText).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, statusText).Observe(duration.Seconds())

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("correlation_id", correlationID),
	}
	if status >= http.StatusInternalServerError {
		m.logger.Error("request completed with error", fields...)
		return
	}
	m.logger.Debug("request completed", fields...)
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks every configured backend
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, p := range m.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			m.logger.Warn("readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type signInRequest struct {
	Token string `json:"token"`
}

// handleSignIn accepts the token as a JSON body or a bearer header
func (m *Mux) handleSignIn(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		var req signInRequest
		if err := decodeBody(r, &req); err != nil || req.Token == "" {
			m.badRequest(w, r, "token required")
			return
		}
		token = req.Token
	}

	claims, err := m.opts.Session.SignIn(r.Context(), token)
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"subject":   claims.Subject,
		"expiresAt": claims.ExpiresAt.UTC(),
	})
}

func (m *Mux) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := m.opts.Guard.SignOut(r.Context()); err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"redirect": session.LoginPath})
}

func (m *Mux) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query dashboard.Query

	if q.Has("category") {
		cat, ok := view.ParseCategory(q.Get("category"))
		if !ok {
			m.badRequest(w, r, "unknown category")
			return
		}
		query.Category = &cat
	}
	if q.Has("q") {
		term := q.Get("q")
		query.Term = &term
	}
	if q.Has("page") {
		page, err := strconv.Atoi(q.Get("page"))
		if err != nil {
			m.badRequest(w, r, "page must be an integer")
			return
		}
		query.Page = &page
	}

	res, err := m.opts.Controller.View(query)
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, res)
}

func (m *Mux) handleStatus(status model.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := m.opts.Controller.Moderation()
		if err != nil {
			m.writeFailure(w, r, err)
			return
		}
		id := r.PathValue("id")
		if status == model.StatusApproved {
			err = d.Approve(r.Context(), id)
		} else {
			err = d.Reject(r.Context(), id)
		}
		if err != nil {
			m.writeFailure(w, r, err)
			return
		}
		m.writeSuccess(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
	}
}

func (m *Mux) handleHide(w http.ResponseWriter, r *http.Request) {
	d, err := m.opts.Controller.Moderation()
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := d.Hide(r.Context(), id); err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"id": id})
}

func (m *Mux) handleHideAll(w http.ResponseWriter, r *http.Request) {
	d, err := m.opts.Controller.Moderation()
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	if err := d.HideAll(r.Context()); err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]bool{"cleared": true})
}

type flagRequest struct {
	Color *string `json:"color"`
}

func (m *Mux) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decodeBody(r, &req); err != nil {
		m.badRequest(w, r, "invalid JSON")
		return
	}
	raw := ""
	if req.Color != nil {
		raw = *req.Color
	}
	color, ok := model.ParseFlagColor(raw)
	if !ok {
		m.badRequest(w, r, "color must be red, yellow, green or none")
		return
	}

	d, err := m.opts.Controller.Moderation()
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := d.SetFlagColor(r.Context(), id, color); err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"id": id, "flagColor": string(color)})
}

func (m *Mux) handlePresence(w http.ResponseWriter, r *http.Request) {
	state, err := m.opts.Controller.Presence(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "state": string(state)})
}

func (m *Mux) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := m.opts.Controller.Stats()
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, st)
}

func (m *Mux) handleNotices(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			m.badRequest(w, r, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	m.writeSuccess(w, http.StatusOK, m.opts.Notices.Recent(limit))
}

func (m *Mux) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.opts.Controller.Settings())
}

func (m *Mux) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var s dashboard.Settings
	if err := decodeBody(r, &s); err != nil {
		m.badRequest(w, r, "invalid JSON")
		return
	}
	if err := m.opts.Controller.UpdateSettings(s); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.DASH_VALIDATION, err.Error(), correlationID(r)))
		return
	}
	m.opts.Notices.Notify(notice.LevelSuccess, "Settings saved", "Your preferences were updated")
	m.writeSuccess(w, http.StatusOK, s)
}

func (m *Mux) handleExport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		m.badRequest(w, r, "unreadable body")
		return
	}
	req := export.DefaultRequest()
	if len(strings.TrimSpace(string(raw))) > 0 {
		if req, err = m.opts.Exporter.Decode(raw); err != nil {
			var verr *export.ValidationError
			if errors.As(err, &verr) {
				m.writeFailure(w, r, err)
				return
			}
			m.badRequest(w, r, "invalid JSON")
			return
		}
	}

	records, err := m.opts.Controller.Filtered()
	if err != nil {
		m.writeFailure(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, m.opts.Exporter.Run(req, records))
}
