package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/core/mock"
	"github.com/totegamma/postbox/x/auth"
	"github.com/totegamma/postbox/x/jwt"
)

type testServer struct {
	server   *httptest.Server
	registry core.ConnectionRegistry
	codec    core.TokenService
	skew     atomic.Int64
}

func (s *testServer) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/notifications"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *testServer) token(t *testing.T, id string, ttl time.Duration) string {
	t.Helper()
	token, err := s.codec.Issue(core.Identity{ID: id, Email: id + "@example.com"}, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func newTestServer(t *testing.T, config core.Config) *testServer {
	t.Helper()
	return newWrappedTestServer(t, config, func(r core.ConnectionRegistry) core.ConnectionRegistry { return r })
}

func newWrappedTestServer(t *testing.T, config core.Config, wrap func(core.ConnectionRegistry) core.ConnectionRegistry) *testServer {
	t.Helper()

	ctrl := gomock.NewController(t)
	account := mock_core.NewMockAccountService(ctrl)
	account.EXPECT().IsActive(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()

	s := &testServer{}
	s.codec = jwt.NewServiceWithClock([]byte("secret"), func() time.Time {
		return time.Now().Add(time.Duration(s.skew.Load()))
	})

	if config.SendQueueSize == 0 {
		config.SendQueueSize = 64
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	s.registry = NewRegistry(config, metrics)
	gate := auth.NewService(s.codec, account, config)

	e := echo.New()
	h := NewHandler(gate, wrap(s.registry), config, metrics)
	e.GET("/ws/notifications", h.Connect)
	e.GET("/ws/connections", h.Connections)

	s.server = httptest.NewServer(e)
	t.Cleanup(func() {
		s.registry.CloseAll()
		s.server.Close()
	})
	return s
}

func readFrame(t *testing.T, ws *websocket.Conn) core.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame core.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", message, err)
	}
	return frame
}

func TestConnectWithQueryToken(t *testing.T) {
	s := newTestServer(t, core.Config{})

	ws, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User1ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()

	welcome := readFrame(t, ws)
	assert.Equal(t, core.FrameTypeConnectionEstablished, welcome.Type)
	assert.Equal(t, User1ID, welcome.UserID)
	assert.Len(t, s.registry.ChannelsFor(User1ID), 1)

	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, core.FrameTypePong, readFrame(t, ws).Type)

	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, "Invalid JSON message", readFrame(t, ws).Error)

	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_stats"}`)))
	stats := readFrame(t, ws)
	assert.Equal(t, core.FrameTypeStats, stats.Type)
	assert.Equal(t, map[string]any{"active_connections": float64(1), "total_connections": float64(1)}, stats.Data)

	// delivery through the registry reaches the socket
	n := s.registry.ForEachChannel(User1ID, func(ch core.Channel) error {
		return ch.Enqueue([]byte(`{"type":"new_message","data":{"message_id":"m1"}}`))
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, core.FrameTypeNewMessage, readFrame(t, ws).Type)

	ws.Close()
	assert.Eventually(t, func() bool {
		return len(s.registry.ChannelsFor(User1ID)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectWithBearerHeader(t *testing.T) {
	s := newTestServer(t, core.Config{})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token(t, User1ID, time.Hour))
	ws, _, err := websocket.DefaultDialer.Dial(s.url(""), header)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()

	assert.Equal(t, core.FrameTypeConnectionEstablished, readFrame(t, ws).Type)
}

func TestConnectWithFirstFrame(t *testing.T) {
	s := newTestServer(t, core.Config{})

	ws, _, err := websocket.DefaultDialer.Dial(s.url(""), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()

	assert.Empty(t, s.registry.All())

	frame, _ := json.Marshal(core.Frame{Token: s.token(t, User1ID, time.Hour)})
	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))

	welcome := readFrame(t, ws)
	assert.Equal(t, core.FrameTypeConnectionEstablished, welcome.Type)
	assert.Equal(t, User1ID, welcome.UserID)
}

// an expired token never gets a channel
func TestConnectRejectsExpiredToken(t *testing.T) {
	s := newTestServer(t, core.Config{})
	token := s.token(t, User1ID, time.Minute)
	s.skew.Store(int64(time.Hour))

	_, resp, err := websocket.DefaultDialer.Dial(s.url("token="+token), nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Empty(t, s.registry.All())
	assert.Equal(t, uint64(0), s.registry.Stats().LifetimeConnections)
}

func TestConnectRejectsBadFirstFrame(t *testing.T) {
	s := newTestServer(t, core.Config{})

	cases := map[string]string{
		`not json`:           "Invalid authentication message format",
		`{"type":"ping"}`:    "Authentication token required",
		`{"token":"a.b.c"}`: "Authentication failed: SignatureInvalid",
	}

	for first, expected := range cases {
		ws, _, err := websocket.DefaultDialer.Dial(s.url(""), nil)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(first)))
		assert.Equal(t, expected, readFrame(t, ws).Error, first)

		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = ws.ReadMessage()
		assert.Error(t, err)
		ws.Close()
	}

	assert.Equal(t, uint64(0), s.registry.Stats().LifetimeConnections)
}

func TestConnectTooManyConnections(t *testing.T) {
	s := newTestServer(t, core.Config{MaxConnections: 1})

	first, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User1ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer first.Close()
	readFrame(t, first)

	second, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User2ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer second.Close()
	assert.Equal(t, "Too many connections", readFrame(t, second).Error)
	assert.Empty(t, s.registry.ChannelsFor(User2ID))
}

func TestInboundRateLimit(t *testing.T) {
	s := newTestServer(t, core.Config{InboundFramesPerSec: 1})

	ws, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User1ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()
	readFrame(t, ws)

	// burst is two frames
	for i := 0; i < 3; i++ {
		assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	}
	assert.Equal(t, core.FrameTypePong, readFrame(t, ws).Type)
	assert.Equal(t, core.FrameTypePong, readFrame(t, ws).Type)
	assert.Equal(t, "Rate limit exceeded", readFrame(t, ws).Error)
}

func TestConnections(t *testing.T) {
	s := newTestServer(t, core.Config{})

	ws, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User1ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()
	readFrame(t, ws)

	resp, err := http.Get(s.server.URL + "/ws/connections")
	if !assert.NoError(t, err) {
		return
	}
	defer resp.Body.Close()

	var body core.ResponseBase[core.RegistryStats]
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Content.TotalConnections)
	assert.Equal(t, 1, body.Content.ConnectionsPerUser[User1ID])
}

// eagerRegistry delivers a notification the moment a channel is registered
type eagerRegistry struct {
	core.ConnectionRegistry
}

func (r eagerRegistry) Register(identity string, ch core.Channel) error {
	if err := r.ConnectionRegistry.Register(identity, ch); err != nil {
		return err
	}
	return ch.Enqueue([]byte(`{"type":"new_message","data":{"message_id":"m1"}}`))
}

func TestWelcomePrecedesNotifications(t *testing.T) {
	s := newWrappedTestServer(t, core.Config{}, func(r core.ConnectionRegistry) core.ConnectionRegistry {
		return eagerRegistry{r}
	})

	ws, _, err := websocket.DefaultDialer.Dial(s.url("token="+s.token(t, User1ID, time.Hour)), nil)
	if !assert.NoError(t, err) {
		return
	}
	defer ws.Close()

	assert.Equal(t, core.FrameTypeConnectionEstablished, readFrame(t, ws).Type)
	assert.Equal(t, core.FrameTypeNewMessage, readFrame(t, ws).Type)
}
