package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/server"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	s := server.New("127.0.0.1:0", telemetry.NewCollector(), logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return s, ts
}

func testState(totalMW float64) dashboard.State {
	return dashboard.State{
		At:    time.Unix(1700000000, 0).UTC(),
		Power: power.Breakdown{TotalMW: totalMW},
	}
}

func TestHealthBeforeFirstState(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthReportsStaleness(t *testing.T) {
	s, ts := newTestServer(t)

	st := testState(9000)
	st.Health.HostStale = true
	s.Publish(st)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, true, body["host_stale"])
}

func TestSnapshotReturnsLatestState(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.Publish(testState(9000))
	s.Publish(testState(12000))

	resp, err = http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got dashboard.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.InDelta(t, 12000.0, got.Power.TotalMW, 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), `powerdash_http_requests_total{method="GET",route="/health",status="503"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/snapshot", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStreamDeliversStates(t *testing.T) {
	s, ts := newTestServer(t)

	s.Publish(testState(9000))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got dashboard.State
	require.NoError(t, conn.ReadJSON(&got), "new subscriber receives the latest state")
	assert.InDelta(t, 9000.0, got.Power.TotalMW, 1e-9)

	s.Publish(testState(11000))

	require.NoError(t, conn.ReadJSON(&got))
	assert.InDelta(t, 11000.0, got.Power.TotalMW, 1e-9)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := server.New("127.0.0.1:0", nil, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunWithStopsWorkWhenListenFails(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	s := server.New(taken.Addr().String(), nil, logger.Default())

	stopped := make(chan struct{})
	work := func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.RunWith(context.Background(), work) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.ErrServe, errors.CodeOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("RunWith kept running without a listener")
	}
	<-stopped
}

func TestRunWithReturnsWorkError(t *testing.T) {
	s := server.New("127.0.0.1:0", nil, logger.Default())

	workErr := errors.New().WithData(errors.ErrBackendUnreachable, "no sensor")
	err := s.RunWith(context.Background(), func(context.Context) error { return workErr })

	assert.Equal(t, errors.ErrBackendUnreachable, errors.CodeOf(err))
}
