package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	mu       sync.Mutex
	running  bool
	startErr error
	handlers []mempool.Handler
	unsubbed int
}

func (f *fakeMonitor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeMonitor) Status() mempool.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := mempool.Status{State: mempool.Stopped.String()}
	if f.running {
		st = mempool.Status{State: mempool.Running.String(), Active: true, Endpoint: "http://node"}
	}
	return st
}

func (f *fakeMonitor) GasEstimate(ctx context.Context) mempool.GasEstimate {
	return mempool.GasEstimate{Slow: "8", Standard: "10", Fast: "12"}
}

func (f *fakeMonitor) OnTransaction(fn mempool.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubbed++
	}
}

func (f *fakeMonitor) emit(tx mempool.PendingTransaction) {
	f.mu.Lock()
	hs := append([]mempool.Handler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(tx)
	}
}

func newTestServer(t *testing.T, recent int) (*Server, *fakeMonitor, *httptest.Server, *metrics.Metrics) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)

	mon := &fakeMonitor{}
	s := New(Config{RecentLimit: recent}, mon, reg, nil, m)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, mon, ts, m
}

func tx(i int) mempool.PendingTransaction {
	return mempool.PendingTransaction{
		Hash:      fmt.Sprintf("0x%064x", i),
		From:      "0x00000000000000000000000000000000000000aa",
		Value:     "1.0",
		GasLimit:  "21000",
		Data:      "0x",
		Timestamp: time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC),
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_StartStopStatus(t *testing.T) {
	_, _, ts, _ := newTestServer(t, 10)

	var st mempool.Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &st))
	require.False(t, st.Active)

	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/api/monitor/start", &st))
	require.True(t, st.Active)
	require.Equal(t, "http://node", st.Endpoint)

	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/api/monitor/stop", &st))
	require.False(t, st.Active)
	require.Equal(t, "stopped", st.State)
}

func TestServer_StartWithoutEndpoint(t *testing.T) {
	_, mon, ts, _ := newTestServer(t, 10)
	mon.startErr = fmt.Errorf("%w: %w", mempool.ErrNotConnected, errors.New("all endpoints down"))

	var body map[string]string
	require.Equal(t, http.StatusServiceUnavailable, postJSON(t, ts.URL+"/api/monitor/start", &body))
	require.Contains(t, body["error"], "all endpoints down")
}

func TestServer_StartInterruptedByStop(t *testing.T) {
	_, mon, ts, _ := newTestServer(t, 10)
	mon.startErr = mempool.ErrStopped

	var body map[string]string
	require.Equal(t, http.StatusConflict, postJSON(t, ts.URL+"/api/monitor/start", &body))
	require.Contains(t, body["error"], "stopped while starting")
}

func TestServer_Gas(t *testing.T) {
	_, _, ts, _ := newTestServer(t, 10)

	var g mempool.GasEstimate
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/gas", &g))
	require.Equal(t, mempool.GasEstimate{Slow: "8", Standard: "10", Fast: "12"}, g)
}

func TestServer_RecentTransactions(t *testing.T) {
	_, mon, ts, _ := newTestServer(t, 3)

	for i := 1; i <= 5; i++ {
		mon.emit(tx(i))
	}

	var got []mempool.PendingTransaction
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/transactions", &got))
	require.Len(t, got, 3)
	require.Equal(t, tx(5).Hash, got[0].Hash)
	require.Equal(t, tx(3).Hash, got[2].Hash)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/transactions?limit=1", &got))
	require.Len(t, got, 1)
	require.Equal(t, tx(5).Hash, got[0].Hash)

	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/transactions?limit=x", nil))
}

func TestServer_WebSocketStream(t *testing.T) {
	s, mon, ts, m := newTestServer(t, 10)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.WSClients))

	mon.emit(tx(7))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got mempool.PendingTransaction
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, tx(7).Hash, got.Hash)
	require.Equal(t, "1.0", got.Value)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Metrics(t *testing.T) {
	_, _, ts, _ := newTestServer(t, 10)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "mempool_ws_clients")
}

func TestServer_CloseUnsubscribes(t *testing.T) {
	mon := &fakeMonitor{}
	s := New(Config{}, mon, nil, nil, nil)
	require.Len(t, mon.handlers, 1)

	s.Close()
	require.Equal(t, 1, mon.unsubbed)
}

func TestRecent(t *testing.T) {
	r := NewRecent(2)
	require.Empty(t, r.Latest(0))

	r.Push(tx(1))
	require.Len(t, r.Latest(5), 1)

	r.Push(tx(2))
	r.Push(tx(3))
	got := r.Latest(0)
	require.Len(t, got, 2)
	require.Equal(t, tx(3).Hash, got[0].Hash)
	require.Equal(t, tx(2).Hash, got[1].Hash)
}
