package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/auth"
	"github.com/a96363877/zain-js-lohan/internal/dashboard"
	"github.com/a96363877/zain-js-lohan/internal/export"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

type env struct {
	handler   http.Handler
	records   *feed.MemoryRecords
	presence  *feed.MemoryPresence
	redirects []string
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func newEnv(t *testing.T, ready ...Pinger) *env {
	t.Helper()
	e := &env{
		records: feed.NewMemoryRecords(
			model.Notification{ID: "a", CreatedDate: "2024-01-02T00:00:00Z", Name: "Sara", Country: "QA", Status: model.StatusPending},
			model.Notification{ID: "b", CreatedDate: "2024-01-01T00:00:00Z", Name: "Omar", Country: "EG", CardNumber: "4111", Status: model.StatusPending},
		),
		presence: feed.NewMemoryPresence(),
	}
	logger := zap.NewNop()
	notices := notice.NewQueue(0)

	ctrl := dashboard.NewController(dashboard.Deps{
		Records:  e.records,
		Presence: e.presence,
		Notices:  notices,
		Logger:   logger,
		Metrics:  metrics.NewMetrics(),
	}, dashboard.DefaultSettings())

	verifier, err := auth.NewVerifier(testSecret, nil, "test-issuer", "test-audience")
	require.NoError(t, err)
	sess := auth.NewTokenSession(verifier, logger)
	guard := session.NewGuard(sess, ctrl, notices, logger, func(path string) { e.redirects = append(e.redirects, path) })
	guard.Start(t.Context())
	t.Cleanup(guard.Close)

	exporter, err := export.NewExporter(notices)
	require.NoError(t, err)

	e.handler = NewMux(Options{
		Controller:         ctrl,
		Guard:              guard,
		Session:            sess,
		Exporter:           exporter,
		Notices:            notices,
		Ready:              ready,
		Logger:             logger,
		CORSAllowedOrigins: []string{"https://ops.example"},
	})
	return e
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator-1",
		Issuer:    "test-issuer",
		Audience:  jwt.ClaimStrings{"test-audience"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *env) signIn(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/session", `{"token":"`+token(t)+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code          string          `json:"code"`
		CorrelationID string          `json:"correlationId"`
		Details       json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return env
}

func TestHealthzEndpoint(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestReadyzEndpoint(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "").Code)

	e = newEnv(t, failingPinger{})
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestNoSessionAnswersWithLoginRedirect(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, []string{"/login"}, e.redirects)

	rr := e.do(t, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	env := decode(t, rr, nil)
	assert.Equal(t, "DASH_NO_SESSION", env.Error.Code)
	assert.JSONEq(t, `{"redirect":"/login"}`, string(env.Error.Details))
	assert.NotEmpty(t, env.Error.CorrelationID)
	assert.Equal(t, env.Error.CorrelationID, rr.Header().Get("X-Correlation-Id"))
}

func TestSignInRejectsBadToken(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/api/session", `{"token":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "DASH_TOKEN_INVALID", decode(t, rr, nil).Error.Code)

	rr = e.do(t, http.MethodPost, "/api/session", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListNotifications(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	var res dashboard.Result
	rr := e.do(t, http.MethodGet, "/api/notifications?category=card", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &res)
	require.Len(t, res.Page.Items, 1)
	assert.Equal(t, "b", res.Page.Items[0].ID)
	assert.Equal(t, 2, res.Counts.All)

	rr = e.do(t, http.MethodGet, "/api/notifications?category=all&q=sara", "")
	decode(t, rr, &res)
	require.Len(t, res.Page.Items, 1)
	assert.Equal(t, "a", res.Page.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/notifications?category=flagged", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/notifications?page=x", "").Code)

	rr = e.do(t, http.MethodGet, "/api/notifications?page=2", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "DASH_PAGE_OUT_OF_RANGE", decode(t, rr, nil).Error.Code)
}

func TestModerationRoutes(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/notifications/a/approve", "").Code)
	got, _ := e.records.Get("a")
	assert.Equal(t, model.StatusApproved, got.Status)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/notifications/a/reject", "").Code)
	got, _ = e.records.Get("a")
	assert.Equal(t, model.StatusRejected, got.Status)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/notifications/b/flag", `{"color":"red"}`).Code)
	got, _ = e.records.Get("b")
	assert.Equal(t, model.FlagRed, got.FlagColor)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/notifications/b/flag", `{"color":null}`).Code)
	got, _ = e.records.Get("b")
	assert.Equal(t, model.FlagNone, got.FlagColor)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/api/notifications/b/flag", `{"color":"blue"}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/notifications/zzz/approve", "").Code)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/notifications/a/hide", "").Code)
	var st model.Stats
	decode(t, e.do(t, http.MethodGet, "/api/stats", ""), &st)
	assert.Equal(t, 1, st.Total)
}

func TestHideAllFailureReports(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)
	e.records.FailBatches(feed.ErrBatchFailed)

	rr := e.do(t, http.MethodPost, "/api/notifications/hide-all", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	var st model.Stats
	decode(t, e.do(t, http.MethodGet, "/api/stats", ""), &st)
	assert.Equal(t, 2, st.Total)

	var notices []notice.Notice
	decode(t, e.do(t, http.MethodGet, "/api/notices?limit=1", ""), &notices)
	require.Len(t, notices, 1)
	assert.Equal(t, notice.LevelError, notices[0].Level)
}

func TestStatsIncludeOnlineUsers(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)
	e.presence.Set("a", "online")

	var st model.Stats
	decode(t, e.do(t, http.MethodGet, "/api/stats", ""), &st)
	assert.Equal(t, model.Stats{Total: 2, WithCard: 1, OnlineUsers: 1}, st)

	var p map[string]string
	decode(t, e.do(t, http.MethodGet, "/api/users/b/presence", ""), &p)
	assert.Equal(t, "offline", p["state"])
}

func TestSettingsRoutes(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	var s dashboard.Settings
	decode(t, e.do(t, http.MethodGet, "/api/settings", ""), &s)
	assert.Equal(t, dashboard.DefaultSettings(), s)

	rr := e.do(t, http.MethodPut, "/api/settings",
		`{"notifyNewCards":true,"notifyNewUsers":false,"playSounds":true,"autoRefresh":true,"refreshInterval":60}`)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, e.do(t, http.MethodGet, "/api/settings", ""), &s)
	assert.Equal(t, 60, s.RefreshInterval)
	assert.False(t, s.NotifyNewUsers)

	rr = e.do(t, http.MethodPut, "/api/settings", `{"refreshInterval":7}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportRoute(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	var res export.Result
	decode(t, e.do(t, http.MethodPost, "/api/export", `{"format":"json","fields":{"status":true}}`), &res)
	assert.Equal(t, export.Result{Format: "json", Count: 2, Fields: []string{"status"}}, res)

	rr := e.do(t, http.MethodPost, "/api/export", `{"format":"pdf","fields":{}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "DASH_VALIDATION", decode(t, rr, nil).Error.Code)
}

func TestSignOutRedirectsAndLocksAPI(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	rr := e.do(t, http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out map[string]string
	decode(t, rr, &out)
	assert.Equal(t, "/login", out["redirect"])
	assert.Equal(t, []string{"/login", "/login"}, e.redirects)
	assert.Equal(t, 0, e.records.SubscriberCount())

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/stats", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/notifications", nil)
	req.Header.Set("Origin", "https://ops.example")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://ops.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/notifications", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
