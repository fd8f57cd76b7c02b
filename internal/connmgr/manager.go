package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/ethrpc"
	"github.com/pvzzle/mempoolwatch/internal/metrics"

	"go.uber.org/zap"
)

// ErrNoEndpoint means every endpoint in the pool failed its liveness probe.
var ErrNoEndpoint = errors.New("no reachable rpc endpoint")

type Dialer func(ctx context.Context, url string) (ethrpc.Client, error)

// DialRPC is the production Dialer.
func DialRPC(ctx context.Context, url string) (ethrpc.Client, error) {
	conn, err := ethrpc.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	Pool         Pool
	ProbeTimeout time.Duration
}

// Manager owns the single active client and rotates through the pool when it
// stops answering. Connects are serialized; Active and Reset never wait on an
// in-flight connect.
type Manager struct {
	cfg  Config
	dial Dialer
	log  *zap.Logger
	m    *metrics.Metrics

	mu     sync.Mutex
	cursor int
	active atomic.Pointer[activeConn]
}

type activeConn struct {
	cl  ethrpc.Client
	url string
}

func NewManager(cfg Config, dial Dialer, log *zap.Logger, m *metrics.Metrics) *Manager {
	if len(cfg.Pool) == 0 {
		cfg.Pool = DefaultPool
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if dial == nil {
		dial = DialRPC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Manager{cfg: cfg, dial: dial, log: log, m: m}
}

// EnsureConnected probes the pool starting at the last good endpoint, each
// endpoint at most once, and installs the first one that answers.
func (m *Manager) EnsureConnected(ctx context.Context) (ethrpc.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect(ctx, m.cursor)
}

// Failover is EnsureConnected for a client that still answers eth_blockNumber
// but fails real calls. The walk starts at the endpoint after the current one,
// which is tried last.
func (m *Manager) Failover(ctx context.Context) (ethrpc.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect(ctx, m.cursor+1)
}

func (m *Manager) connect(ctx context.Context, from int) (ethrpc.Client, error) {
	n := len(m.cfg.Pool)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := (from + i) % n
		url := m.cfg.Pool[idx]

		cl, err := m.probe(ctx, url)
		if err != nil {
			m.m.RPCProbeFailures.WithLabelValues(url).Inc()
			m.log.Warn("endpoint probe failed", zap.String("url", url), zap.Error(err))
			continue
		}

		m.install(idx, url, cl)
		return cl, nil
	}

	m.log.Error("all endpoints failed", zap.Int("pool_size", n))
	return nil, ErrNoEndpoint
}

func (m *Manager) probe(ctx context.Context, url string) (ethrpc.Client, error) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	cl, err := m.dial(pctx, url)
	if err != nil {
		return nil, err
	}
	bn, err := cl.BlockNumber(pctx)
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("block number: %w", err)
	}
	m.m.RPCProbeLatency.Observe(time.Since(start).Seconds())
	m.log.Debug("endpoint alive", zap.String("url", url), zap.Uint64("block", bn))
	return cl, nil
}

func (m *Manager) install(idx int, url string, cl ethrpc.Client) {
	m.cursor = idx
	if old := m.active.Swap(&activeConn{cl: cl, url: url}); old != nil {
		old.cl.Close()
		m.m.ActiveRPC.WithLabelValues(old.url).Set(0)
		if old.url != url {
			m.m.RPCFailovers.Inc()
			m.log.Info("switched endpoint", zap.String("from", old.url), zap.String("to", url))
		}
	}
	m.m.ActiveRPC.WithLabelValues(url).Set(1)
}

// Active returns the current client, nil when none is connected.
func (m *Manager) Active() (ethrpc.Client, string) {
	a := m.active.Load()
	if a == nil {
		return nil, ""
	}
	return a.cl, a.url
}

// Reset drops the active client. The cursor is kept so the next connect
// starts from the last good endpoint.
func (m *Manager) Reset() {
	if old := m.active.Swap(nil); old != nil {
		old.cl.Close()
		m.m.ActiveRPC.WithLabelValues(old.url).Set(0)
	}
}

func (m *Manager) Pool() Pool { return m.cfg.Pool }
