// Command mempoolctl is the operator tool: probe RPC endpoints, read the gas
// estimate and stream pending transactions to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/connmgr"
	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/metrics"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	rpcFlag = &cli.StringSliceFlag{
		Name:    "rpc",
		Usage:   "RPC endpoint, repeatable; probed in order",
		EnvVars: []string{"RPC_ENDPOINTS"},
		Value:   cli.NewStringSlice(connmgr.DefaultPool...),
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "per-endpoint probe timeout",
		Value: 5 * time.Second,
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "log to stderr",
	}
)

func main() {
	app := &cli.App{
		Name:  "mempoolctl",
		Usage: "inspect the Ethereum mempool through public RPC endpoints",
		Flags: []cli.Flag{rpcFlag, timeoutFlag, verboseFlag},
		Commands: []*cli.Command{
			&probeCommand,
			&gasCommand,
			&watchCommand,
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mempoolctl:", err)
		os.Exit(1)
	}
}

var probeCommand = cli.Command{
	Name:  "probe",
	Usage: "probe every endpoint and print its head block and latency",
	Action: func(cliCtx *cli.Context) error {
		return probe(cliCtx.Context, cliCtx.App.Writer, pool(cliCtx), cliCtx.Duration(timeoutFlag.Name), connmgr.DialRPC)
	},
}

var gasCommand = cli.Command{
	Name:  "gas",
	Usage: "print the slow/standard/fast gas estimate in gwei",
	Action: func(cliCtx *cli.Context) error {
		mon := newMonitor(cliCtx, mempool.Config{})
		return json.NewEncoder(cliCtx.App.Writer).Encode(mon.GasEstimate(cliCtx.Context))
	},
}

var watchCommand = cli.Command{
	Name:  "watch",
	Usage: "stream newly seen pending transactions as JSON lines",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long; 0 runs until interrupted"},
		&cli.DurationFlag{Name: "interval", Usage: "poll interval", Value: 2 * time.Second},
		&cli.IntFlag{Name: "capacity", Usage: "dedup window capacity", Value: 1000},
		&cli.IntFlag{Name: "concurrency", Usage: "concurrent detail fetches", Value: 4},
		&cli.Float64Flag{Name: "rps", Usage: "detail fetch rate limit, 0 is unlimited"},
	},
	Action: func(cliCtx *cli.Context) error {
		mon := newMonitor(cliCtx, mempool.Config{
			Interval:         cliCtx.Duration("interval"),
			WindowCapacity:   cliCtx.Int("capacity"),
			FetchConcurrency: cliCtx.Int("concurrency"),
			FetchRate:        cliCtx.Float64("rps"),
		})
		return watch(cliCtx.Context, cliCtx.App.Writer, mon, cliCtx.Duration("duration"))
	},
}

func pool(cliCtx *cli.Context) connmgr.Pool {
	return connmgr.ParsePool(strings.Join(cliCtx.StringSlice(rpcFlag.Name), ","))
}

func logger(cliCtx *cli.Context) *zap.Logger {
	if !cliCtx.Bool(verboseFlag.Name) {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newMonitor(cliCtx *cli.Context, cfg mempool.Config) *mempool.Monitor {
	log := logger(cliCtx)
	m := metrics.New()
	conns := connmgr.NewManager(connmgr.Config{
		Pool:         pool(cliCtx),
		ProbeTimeout: cliCtx.Duration(timeoutFlag.Name),
	}, connmgr.DialRPC, log, m)
	return mempool.NewMonitor(cfg, conns, log, m)
}

func probe(ctx context.Context, w io.Writer, endpoints connmgr.Pool, timeout time.Duration, dial connmgr.Dialer) error {
	healthy := 0
	for _, url := range endpoints {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()

		head, err := probeOne(pctx, url, dial)
		cancel()

		if err != nil {
			fmt.Fprintf(w, "%-45s DOWN  %v\n", url, err)
			continue
		}
		healthy++
		fmt.Fprintf(w, "%-45s OK    block=%d latency=%s\n", url, head, time.Since(start).Round(time.Millisecond))
	}
	if healthy == 0 {
		return connmgr.ErrNoEndpoint
	}
	return nil
}

func probeOne(ctx context.Context, url string, dial connmgr.Dialer) (uint64, error) {
	cl, err := dial(ctx, url)
	if err != nil {
		return 0, err
	}
	defer cl.Close()
	return cl.BlockNumber(ctx)
}

type transactionSource interface {
	Start(ctx context.Context) error
	Stop()
	OnTransaction(fn mempool.Handler) (unsubscribe func())
}

func watch(ctx context.Context, w io.Writer, mon transactionSource, d time.Duration) error {
	enc := json.NewEncoder(w)
	unsubscribe := mon.OnTransaction(func(tx mempool.PendingTransaction) {
		_ = enc.Encode(tx)
	})
	defer unsubscribe()

	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Stop()

	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	<-ctx.Done()
	return nil
}
