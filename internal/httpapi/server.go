package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/metrics"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Monitor is the mempool monitor as seen by the dashboard.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Status() mempool.Status
	GasEstimate(ctx context.Context) mempool.GasEstimate
	OnTransaction(fn mempool.Handler) (unsubscribe func())
}

type Config struct {
	Addr        string
	CORSOrigins []string
	RecentLimit int
}

type Server struct {
	cfg     Config
	mon     Monitor
	hub     *Hub
	recent  *Recent
	handler http.Handler
	log     *zap.Logger

	unsubscribe func()
}

// New builds the dashboard server and subscribes it to mon. Close releases
// the subscription.
func New(cfg Config, mon Monitor, gatherer prometheus.Gatherer, log *zap.Logger, m *metrics.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	log = log.Named("http")

	s := &Server{
		cfg:    cfg,
		mon:    mon,
		hub:    NewHub(cfg.CORSOrigins, log, m),
		recent: NewRecent(cfg.RecentLimit),
		log:    log,
	}

	router := httprouter.New()
	router.GET("/api/status", s.handleStatus)
	router.POST("/api/monitor/start", s.handleStart)
	router.POST("/api/monitor/stop", s.handleStop)
	router.GET("/api/gas", s.handleGas)
	router.GET("/api/transactions", s.handleTransactions)
	router.HandlerFunc(http.MethodGet, "/ws", s.hub.ServeWS)
	if gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(router)

	s.unsubscribe = mon.OnTransaction(s.onTransaction)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) onTransaction(tx mempool.PendingTransaction) {
	s.recent.Push(tx)
	s.hub.Broadcast(tx)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) Close() {
	s.unsubscribe()
	s.hub.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.mon.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.mon.Start(r.Context()); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, mempool.ErrNotConnected):
			code = http.StatusServiceUnavailable
		case errors.Is(err, mempool.ErrStopped):
			code = http.StatusConflict
		}
		s.log.Warn("monitor start failed", zap.Error(err))
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mon.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mon.Stop()
	writeJSON(w, http.StatusOK, s.mon.Status())
}

func (s *Server) handleGas(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.mon.GasEstimate(r.Context()))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := s.recent.Limit()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, limit)
	}
	writeJSON(w, http.StatusOK, s.recent.Latest(limit))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
