package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/dedup"
	"github.com/pvzzle/mempoolwatch/internal/ethrpc"
	"github.com/pvzzle/mempoolwatch/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is returned by Start when no endpoint answered.
	ErrNotConnected = errors.New("mempool monitor: not connected")
	// ErrStopped is returned by a Start that Stop interrupted while connecting.
	ErrStopped = errors.New("mempool monitor: stopped while starting")
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

// Connector hands out the active RPC client and fails over on demand.
type Connector interface {
	EnsureConnected(ctx context.Context) (ethrpc.Client, error)
	Failover(ctx context.Context) (ethrpc.Client, error)
	Active() (ethrpc.Client, string)
	Reset()
}

type Handler func(PendingTransaction)

type Config struct {
	Interval         time.Duration
	WindowCapacity   int
	FetchConcurrency int
	// FetchRate caps detail fetches per second; zero means unlimited.
	FetchRate float64
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

type subscription struct {
	fn     Handler
	active atomic.Bool
}

// session is the state of one Start..Stop run. A cycle still in flight after
// Stop keeps a reference to its own session and finds it canceled.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	window  *dedup.Window
	limiter *rate.Limiter
}

// Monitor polls the pending block of the active endpoint and delivers every
// newly seen transaction to its subscribers.
type Monitor struct {
	cfg   Config
	conns Connector
	log   *zap.Logger
	m     *metrics.Metrics

	now       func() time.Time
	newTicker func(time.Duration) ticker

	mu       sync.Mutex
	state    atomic.Int32
	session  *session
	starting bool
	startSeq uint64

	subsMu sync.Mutex
	subs   []*subscription

	delivered atomic.Uint64
}

func NewMonitor(cfg Config, conns Connector, log *zap.Logger, m *metrics.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = dedup.DefaultCapacity
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Monitor{
		cfg:       cfg,
		conns:     conns,
		log:       log,
		m:         m,
		now:       time.Now,
		newTicker: newTimeTicker,
	}
}

// Start connects if needed and begins polling. It is a no-op while running
// or while another Start is connecting. Status and Stop do not wait for the
// connect; a Stop during it makes Start return ErrStopped.
func (mon *Monitor) Start(ctx context.Context) error {
	mon.mu.Lock()
	if mon.session != nil || mon.starting {
		mon.mu.Unlock()
		return nil
	}
	mon.starting = true
	mon.startSeq++
	seq := mon.startSeq
	mon.state.Store(int32(Starting))
	mon.mu.Unlock()

	var err error
	if cl, _ := mon.conns.Active(); cl == nil {
		_, err = mon.conns.EnsureConnected(ctx)
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()

	if mon.startSeq != seq {
		if mon.session == nil && !mon.starting {
			mon.conns.Reset()
		}
		return ErrStopped
	}
	mon.starting = false

	if err != nil {
		mon.state.Store(int32(Stopped))
		mon.log.Error("monitor failed to start", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	limit := rate.Inf
	if mon.cfg.FetchRate > 0 {
		limit = rate.Limit(mon.cfg.FetchRate)
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:     sctx,
		cancel:  cancel,
		window:  dedup.New(mon.cfg.WindowCapacity),
		limiter: rate.NewLimiter(limit, max(1, mon.cfg.FetchConcurrency)),
	}
	mon.session = s
	mon.state.Store(int32(Running))
	mon.m.MonitorRunning.Set(1)

	_, url := mon.conns.Active()
	mon.log.Info("monitor started", zap.String("endpoint", url), zap.Duration("interval", mon.cfg.Interval))

	go mon.run(s)
	return nil
}

// Stop cancels polling, forgets seen hashes and drops the active client.
// Stopping a stopped monitor does nothing.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	if mon.starting {
		mon.starting = false
		mon.startSeq++
		mon.conns.Reset()
		mon.state.Store(int32(Stopped))
		mon.log.Info("monitor start aborted")
		return
	}

	s := mon.session
	if s == nil {
		return
	}
	s.cancel()
	s.window.Reset()
	mon.session = nil
	mon.conns.Reset()

	mon.state.Store(int32(Stopped))
	mon.m.MonitorRunning.Set(0)
	mon.m.DedupWindowSize.Set(0)
	mon.log.Info("monitor stopped")
}

func (mon *Monitor) IsActive() bool { return State(mon.state.Load()) == Running }

func (mon *Monitor) State() State { return State(mon.state.Load()) }

// OnTransaction registers fn and returns a function that removes exactly this
// registration. Registering the same fn twice delivers twice.
func (mon *Monitor) OnTransaction(fn Handler) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	mon.subsMu.Lock()
	mon.subs = append(mon.subs, sub)
	mon.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)

			mon.subsMu.Lock()
			defer mon.subsMu.Unlock()
			for i, s := range mon.subs {
				if s == sub {
					mon.subs = append(mon.subs[:i:i], mon.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Status is a point-in-time view for dashboards.
type Status struct {
	State       string `json:"state"`
	Active      bool   `json:"active"`
	Endpoint    string `json:"endpoint,omitempty"`
	Seen        int    `json:"seen"`
	Delivered   uint64 `json:"delivered"`
	Subscribers int    `json:"subscribers"`
}

func (mon *Monitor) Status() Status {
	st := Status{
		State:     mon.State().String(),
		Active:    mon.IsActive(),
		Delivered: mon.delivered.Load(),
	}
	_, st.Endpoint = mon.conns.Active()

	mon.mu.Lock()
	if mon.session != nil {
		st.Seen = mon.session.window.Len()
	}
	mon.mu.Unlock()

	mon.subsMu.Lock()
	st.Subscribers = len(mon.subs)
	mon.subsMu.Unlock()
	return st
}

// GasEstimate derives slow/standard/fast from the node gas price, falling
// back to FallbackGasEstimate when no endpoint answers.
func (mon *Monitor) GasEstimate(ctx context.Context) GasEstimate {
	cl, _ := mon.conns.Active()
	if cl == nil {
		var err error
		if cl, err = mon.conns.EnsureConnected(ctx); err != nil {
			return FallbackGasEstimate
		}
	}

	price, err := cl.GasPrice(ctx)
	if err != nil {
		mon.log.Warn("gas price fetch failed", zap.Error(err))
		if cl, err = mon.conns.Failover(ctx); err != nil {
			return FallbackGasEstimate
		}
		if price, err = cl.GasPrice(ctx); err != nil {
			return FallbackGasEstimate
		}
	}
	return EstimateFromGasPrice(price)
}

func (mon *Monitor) run(s *session) {
	t := mon.newTicker(mon.cfg.Interval)
	defer t.Stop()

	mon.poll(s)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C():
			mon.poll(s)
		}
	}
}

func (mon *Monitor) poll(s *session) {
	if s.ctx.Err() != nil {
		return
	}
	mon.m.PollCycles.Inc()

	cl, _ := mon.conns.Active()
	if cl == nil {
		var err error
		if cl, err = mon.conns.EnsureConnected(s.ctx); err != nil {
			mon.m.PollFailures.Inc()
			return
		}
	}

	hashes, err := cl.PendingTransactionHashes(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		mon.m.PollFailures.Inc()
		mon.log.Warn("pending block fetch failed, failing over", zap.Error(err))
		if _, err := mon.conns.Failover(s.ctx); err != nil && s.ctx.Err() == nil {
			mon.log.Error("failover failed", zap.Error(err))
		}
		return
	}

	fresh := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !s.window.Add(h) {
			mon.m.DuplicatesSkipped.Inc()
			continue
		}
		fresh = append(fresh, h)
	}

	for _, tx := range mon.fetchAll(s, cl, fresh) {
		if tx == nil {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		mon.deliver(*tx)
	}

	if n := s.window.Trim(); n > 0 {
		mon.log.Debug("dedup window trimmed", zap.Int("evicted", n))
	}
	mon.m.DedupWindowSize.Set(float64(s.window.Len()))
}

// fetchAll resolves hashes concurrently; the result keeps the input order and
// holds nil for every hash that could not be fetched.
func (mon *Monitor) fetchAll(s *session, cl ethrpc.Client, hashes []common.Hash) []*PendingTransaction {
	out := make([]*PendingTransaction, len(hashes))

	var g errgroup.Group
	g.SetLimit(mon.cfg.FetchConcurrency)
	for i, h := range hashes {
		g.Go(func() error {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return nil
			}
			raw, err := cl.TransactionByHash(s.ctx, h)
			switch {
			case err == nil:
			case errors.Is(err, ethrpc.ErrUndecodable):
				mon.m.DetailDecodeFailures.Inc()
				mon.log.Warn("tx detail not decodable", zap.Stringer("hash", h), zap.Error(err))
				return nil
			default:
				// ErrNotFound: mined or dropped between the block and detail calls
				mon.m.DetailFetchFailures.Inc()
				mon.log.Debug("tx detail fetch failed", zap.Stringer("hash", h), zap.Error(err))
				return nil
			}
			tx := Normalize(h, raw, mon.now())
			out[i] = &tx
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (mon *Monitor) deliver(tx PendingTransaction) {
	mon.subsMu.Lock()
	snapshot := make([]*subscription, len(mon.subs))
	copy(snapshot, mon.subs)
	mon.subsMu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		mon.invoke(sub, tx)
	}
	mon.delivered.Add(1)
	mon.m.TxDelivered.Inc()
}

func (mon *Monitor) invoke(sub *subscription, tx PendingTransaction) {
	defer func() {
		if r := recover(); r != nil {
			mon.m.SubscriberPanics.Inc()
			mon.log.Error("subscriber panicked", zap.String("hash", tx.Hash), zap.Any("panic", r))
		}
	}()
	sub.fn(tx)
}
