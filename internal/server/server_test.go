package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/app"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/broadcast"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/config"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/index"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/registry"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/router"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectRatePerIP:        6000,
	}
}

type testServer struct {
	srv  *Server
	svc  *app.Service
	reg  *registry.Registry
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := clockwork.NewRealClock()
	ix := index.New(4)
	rt := router.New(ix, clock, time.Minute)

	var svc *app.Service
	reg := registry.New(clock, time.Minute, func(sessionID uuid.UUID) {
		svc.OnDeregister(sessionID)
	})
	bc := broadcast.New(reg, clock, broadcast.Config{Workers: 2})
	t.Cleanup(bc.Stop)

	svc = app.New(ix, reg, rt, bc, 0)

	srv := NewServer(testConfig(), svc, reg, clock, nil, nil)
	hs := httptest.NewServer(srv.echo)
	t.Cleanup(hs.Close)

	return &testServer{srv: srv, svc: svc, reg: reg, http: hs}
}

type welcome struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// connect dials the WebSocket endpoint and returns the connection plus the
// session ID announced in the welcome frame.
func (ts *testServer) connect(t *testing.T) (*ws.Conn, uuid.UUID) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, resp, err := ws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var w welcome
	require.NoError(t, json.Unmarshal(frame, &w))
	require.Equal(t, "welcome", w.Type)
	return conn, uuid.MustParse(w.SessionID)
}

func (ts *testServer) subscribe(t *testing.T, sessionID uuid.UUID, body string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/api/sessions/%s/subscriptions", ts.http.URL, sessionID)
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestWebSocketWelcomeAndSubscribeFlow(t *testing.T) {
	ts := newTestServer(t)

	conn, sessionID := ts.connect(t)

	resp := ts.subscribe(t, sessionID, `{"criteria":{"symbols":["xyz"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		SubscriptionID string `json:"subscription_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.SubscriptionID)

	count, err := ts.svc.Publish(domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9, Sequence: 7})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var got domain.Event
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, "XYZ", got.Symbol)
	assert.Equal(t, uint64(7), got.Sequence)
}

func TestDisconnectCleansUpSession(t *testing.T) {
	ts := newTestServer(t)

	conn, sessionID := ts.connect(t)

	resp := ts.subscribe(t, sessionID, `{"criteria":{"symbols":["XYZ"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, ts.svc.Health().IndexSize)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		h := ts.svc.Health()
		return h.SessionCount == 0 && h.IndexSize == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSubscribeUnknownSessionReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.subscribe(t, uuid.New(), `{"criteria":{"symbols":["XYZ"]}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Type)
}

func TestSubscribeInvalidCriteriaReturns400(t *testing.T) {
	ts := newTestServer(t)

	_, sessionID := ts.connect(t)

	resp := ts.subscribe(t, sessionID, `{"criteria":{"min_confidence":2.5}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeMalformedSessionIDReturns400(t *testing.T) {
	ts := newTestServer(t)

	url := ts.http.URL + "/api/sessions/not-a-uuid/subscriptions"
	resp, err := http.Post(url, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnsubscribeIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, sessionID := ts.connect(t)

	url := fmt.Sprintf("%s/api/sessions/%s/subscriptions/%s", ts.http.URL, sessionID, uuid.New())
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestSessionInfoEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, sessionID := ts.connect(t)

	res, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.http.URL, sessionID))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var info domain.SessionInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&info))
	assert.Equal(t, sessionID, info.ID)
	assert.Equal(t, domain.SessionActive, info.Status)

	res, err = http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.http.URL, uuid.New()))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, sessionID := ts.connect(t)
	resp := ts.subscribe(t, sessionID, `{"criteria":{"symbols":["XYZ"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	res, err := http.Get(ts.http.URL + "/api/health")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var h domain.HealthSnapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&h))
	assert.Equal(t, 1, h.IndexSize)
	assert.Equal(t, 1, h.SessionCount)
}

func TestLivenessAndMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.http.URL + "/health/live")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestGlobalConnectionLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.globalLimiter = NewGlobalConnectionLimiter(1)

	ts.connect(t)

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	_, resp, err := ws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
