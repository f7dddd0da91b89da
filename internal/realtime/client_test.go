package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/pkg/logger"
)

type staticAuth map[string]model.Identity

func (a staticAuth) ValidateToken(_ context.Context, token string) (*model.Identity, error) {
	id, ok := a[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &id, nil
}

func newTestServer(t *testing.T, r *Registry) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	authn := staticAuth{"tok-u1": {UserID: "u1", Role: model.RoleCustomer}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		NewClient(ws, r, authn, DefaultConfig(), logger.Nop()).Serve(context.Background())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type frame struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func join(t *testing.T, ws *websocket.Conn, userID, token string) frame {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": EventJoin,
		"data":  JoinPayload{UserID: userID, Token: token},
	}))
	return readFrame(t, ws)
}

func TestClientJoinAndPush(t *testing.T) {
	r := NewRegistry(nil)
	ws := dial(t, newTestServer(t, r))

	f := join(t, ws, "u1", "tok-u1")
	require.Equal(t, EventJoinedRoom, f.Event)
	assert.Equal(t, "u1", f.Data["user_id"])
	connID, _ := f.Data["connection_id"].(string)
	assert.Equal(t, []string{connID}, r.IDsFor("u1"))

	for _, c := range r.ConnectionsFor("u1") {
		require.NoError(t, c.Send(context.Background(), NewEnvelope(EventNewNotification, map[string]string{"id": "n1"})))
	}
	f = readFrame(t, ws)
	assert.Equal(t, EventNewNotification, f.Event)
	assert.Equal(t, "n1", f.Data["id"])
}

func TestClientJoinRejected(t *testing.T) {
	r := NewRegistry(nil)
	ws := dial(t, newTestServer(t, r))

	f := join(t, ws, "u1", "bad")
	assert.Equal(t, EventError, f.Event)
	assert.Equal(t, "invalid token", f.Data["message"])

	f = join(t, ws, "u2", "tok-u1")
	assert.Equal(t, EventError, f.Event)
	assert.Equal(t, 0, r.Count())
}

func TestClientLeaveAndDisconnect(t *testing.T) {
	r := NewRegistry(nil)
	url := newTestServer(t, r)

	first := dial(t, url)
	second := dial(t, url)
	join(t, first, "u1", "tok-u1")
	join(t, second, "u1", "tok-u1")
	require.Len(t, r.IDsFor("u1"), 2)

	require.NoError(t, first.WriteJSON(map[string]string{"event": EventLeave}))
	f := readFrame(t, first)
	assert.Equal(t, EventLeftRoom, f.Event)
	assert.Len(t, r.IDsFor("u1"), 1)

	second.Close()
	assert.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendAfterClose(t *testing.T) {
	r := NewRegistry(nil)
	c := &Client{id: "c1", send: make(chan []byte), done: make(chan struct{}), registry: r}
	c.close()

	err := c.Send(context.Background(), NewEnvelope(EventNewNotification, nil))
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestClientSendTimesOutWhenBufferFull(t *testing.T) {
	c := &Client{id: "c1", send: make(chan []byte), done: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, NewEnvelope(EventNewNotification, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// gatedAuth blocks inside ValidateToken until release is closed.
type gatedAuth struct {
	entered chan struct{}
	release chan struct{}
}

func (a *gatedAuth) ValidateToken(context.Context, string) (*model.Identity, error) {
	close(a.entered)
	<-a.release
	return &model.Identity{UserID: "u1", Role: model.RoleCustomer}, nil
}

func TestClientClosedDuringJoinIsNotRegistered(t *testing.T) {
	r := NewRegistry(nil)
	authn := &gatedAuth{entered: make(chan struct{}), release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, req, nil)
		if err != nil {
			return
		}
		NewClient(ws, r, authn, DefaultConfig(), logger.Nop()).Serve(ctx)
		close(served)
	}))
	t.Cleanup(srv.Close)

	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": EventJoin,
		"data":  JoinPayload{UserID: "u1", Token: "tok-u1"},
	}))

	select {
	case <-authn.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("join never reached token validation")
	}
	cancel()
	close(authn.release)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.ConnectionsFor("u1"))
}
