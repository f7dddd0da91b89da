package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/roadside-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/roadside-api/internal/handler/notification"
	prometheusHandler "github.com/jwalitptl/roadside-api/internal/handler/prometheus"
	realtimeHandler "github.com/jwalitptl/roadside-api/internal/handler/realtime"
	requestHandler "github.com/jwalitptl/roadside-api/internal/handler/request"
	"github.com/jwalitptl/roadside-api/internal/middleware"
	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/realtime"
	"github.com/jwalitptl/roadside-api/internal/repository/sqldb"
	"github.com/jwalitptl/roadside-api/internal/service/dispatch"
	"github.com/jwalitptl/roadside-api/internal/service/lifecycle"
	notificationService "github.com/jwalitptl/roadside-api/internal/service/notification"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/metrics"
	"github.com/jwalitptl/roadside-api/pkg/validator"
)

var (
	customer = model.Identity{UserID: "c1", Role: model.RoleCustomer}
	admin    = model.Identity{UserID: "a1", Role: model.RoleAdmin}
	worker   = model.Identity{UserID: "w1", Role: model.RoleWorker}
)

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	jwt    *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOrigins(t, nil)
}

// newTestServerWithOrigins restricts websocket upgrades to allowedOrigins.
func newTestServerWithOrigins(t *testing.T, allowedOrigins []string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Register())

	db, err := sqldb.NewDB(sqldb.Config{
		Driver:  sqldb.DriverSQLite,
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, u := range []model.Identity{customer, admin, worker} {
		_, err := db.Exec("INSERT INTO users (id, role) VALUES (?, ?)", u.UserID, u.Role)
		require.NoError(t, err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New("test", registry)
	base := sqldb.NewBaseRepository(db)
	store := sqldb.NewNotificationRepository(base)
	directory := sqldb.NewUserDirectory(base)
	jwtSvc := auth.NewJWTService(auth.Config{Secret: "test-secret", Issuer: "roadside-auth"})
	rooms := realtime.NewRegistry(m)
	dispatcher := dispatch.NewDispatcher(base, store, rooms, dispatch.Config{PushTimeout: 100 * time.Millisecond}, logger.Nop(), m)
	svc := lifecycle.NewService(base, sqldb.NewRequestRepository(base), sqldb.NewOutboxRepository(base),
		dispatch.NewPolicy(directory), dispatcher, lifecycle.NewDirectoryAvailability(directory), logger.Nop(), m)

	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)
	r := NewRouter(
		authMiddleware,
		health.NewHandler(base),
		requestHandler.NewHandler(svc, authMiddleware),
		notificationHandler.NewHandler(notificationService.NewGateway(store, jwtSvc, 0), dispatcher),
		realtimeHandler.NewHandler(context.Background(), rooms, jwtSvc, realtime.DefaultConfig(), allowedOrigins, logger.Nop()),
		prometheusHandler.New(registry),
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), MaxBodyBytes: 1 << 16},
	)
	r.Setup()
	return &testServer{t: t, engine: r.Engine(), jwt: jwtSvc}
}

func (s *testServer) do(method, path string, as *model.Identity, body interface{}) (int, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := s.jwt.GenerateToken(*as, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodGet, "/api/v1/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, "/api/v1/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRequestRoutesRequireAuthentication(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/api/v1/requests", nil, model.CreateRequestRequest{Description: "flat", Location: "A1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", resp.Code)

	code, resp = s.do(http.MethodPost, "/api/v1/requests", &worker, model.CreateRequestRequest{Description: "flat", Location: "A1"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", resp.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/api/v1/requests", &customer, model.CreateRequestRequest{Description: "flat tyre", Location: "A1 km 12"})
	require.Equal(t, http.StatusCreated, code)
	created := decode[model.ServiceRequest](t, resp.Data)
	assert.Equal(t, model.RequestStatePending, created.State)
	base := "/api/v1/requests/" + created.ID

	code, resp = s.do(http.MethodPost, base+"/claim", &admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.RequestStateAdminReviewing, decode[model.ServiceRequest](t, resp.Data).State)

	code, resp = s.do(http.MethodPost, base+"/assign", &admin, model.AssignWorkerRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.RequestStateWorkerAssigned, decode[model.ServiceRequest](t, resp.Data).State)

	code, resp = s.do(http.MethodPost, base+"/advance", &worker, map[string]string{"sub_status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", resp.Code)

	code, resp = s.do(http.MethodPost, base+"/close", &customer, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "precondition_violation", resp.Code)

	code, _ = s.do(http.MethodGet, base, &worker, nil)
	assert.Equal(t, http.StatusOK, code)

	// the worker received the assignment in the backlog
	code, resp = s.do(http.MethodGet, "/api/v1/notifications/w1", &worker, nil)
	require.Equal(t, http.StatusOK, code)
	backlog := decode[[]model.Notification](t, resp.Data)
	require.Len(t, backlog, 1)
	assert.Equal(t, model.NotificationKindTaskAssigned, backlog[0].Kind)

	code, resp = s.do(http.MethodPatch, "/api/v1/notifications/"+backlog[0].ID+"/read", &worker, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[model.MarkReadResponse](t, resp.Data).AlreadyRead)

	code, resp = s.do(http.MethodGet, "/api/v1/notifications/w1/unread-count", &worker, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), decode[model.UnreadCountResponse](t, resp.Data).Unread)
}

func TestNotificationRoutes(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodGet, "/api/v1/notifications/c1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/api/v1/notifications/c1", &worker, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/notifications/c1?since=-1", &customer, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do(http.MethodGet, "/api/v1/notifications/c1?since=9223372036854775808", &customer, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", resp.Code)

	code, _ = s.do(http.MethodGet, "/api/v1/notifications/c1?since=9223372036854775807", &customer, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodPatch, "/api/v1/notifications/"+uuid.New().String()+"/read", &customer, nil)
	assert.Equal(t, http.StatusNotFound, code)

	send := map[string]interface{}{"recipient_ids": []string{"c1"}, "title": "Service window", "body": "Tonight"}
	code, _ = s.do(http.MethodPost, "/api/v1/notifications", &customer, send)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(http.MethodPost, "/api/v1/notifications", &admin, send)
	require.Equal(t, http.StatusCreated, code)
	sent := decode[[]model.Notification](t, resp.Data)
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotificationKindGeneric, sent[0].Kind)

	code, resp = s.do(http.MethodGet, "/api/v1/notifications/c1", &customer, nil)
	require.Equal(t, http.StatusOK, code)
	backlog := decode[[]model.Notification](t, resp.Data)
	require.Len(t, backlog, 1)
	assert.Equal(t, sent[0].ID, backlog[0].ID)
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t)
	big := model.CreateRequestRequest{Description: string(bytes.Repeat([]byte("x"), 1<<17)), Location: "A1"}
	code, resp := s.do(http.MethodPost, "/api/v1/requests", &customer, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "too_large", resp.Code)
}

func TestWebsocketOriginCheck(t *testing.T) {
	s := newTestServerWithOrigins(t, []string{"https://app.example"})
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example"}})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	tok, err := s.jwt.GenerateToken(customer, time.Hour)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": realtime.EventJoin,
		"data":  realtime.JoinPayload{UserID: customer.UserID, Token: tok},
	}))

	var f struct {
		Event string `json:"event"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, realtime.EventJoinedRoom, f.Event)
}
