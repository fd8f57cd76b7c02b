// Command loadtest drives the Postgres repository with the dispatcher's
// write pattern (tx upsert plus notify event) mixed with dashboard and
// history reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/storage/pg"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

type opType int

const (
	opWrite opType = iota
	opHistory
	opRecent
)

type phase struct {
	workers   int
	avgRPS    int
	peakRPS   int
	ramp      time.Duration
	dur       time.Duration
	reads     int // reads per write
	histLimit int
	collect   bool
}

type results struct {
	totalOps   atomic.Uint64
	readOps    atomic.Uint64
	writeOps   atomic.Uint64
	errOps     atomic.Uint64
	mu         sync.Mutex
	latencies  []time.Duration
	startedAt  time.Time
	finishedAt time.Time
}

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_URL"), "Postgres DSN")
		dur       = flag.Duration("dur", 60*time.Second, "test duration")
		warmup    = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS    = flag.Int("avg-rps", 300, "average RPS")
		peakRPS   = flag.Int("peak-rps", 1500, "peak RPS reached at the end of the ramp")
		ramp      = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		reads     = flag.Int("rw", 15, "reads per write")
		workers   = flag.Int("workers", 64, "concurrent workers")
		histLimit = flag.Int("hist-limit", 10, "history and recent page size")
	)
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "loadtest: -dsn or POSTGRES_URL is required")
		os.Exit(2)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest: ensure schema:", err)
		os.Exit(1)
	}

	base := phase{workers: *workers, avgRPS: *avgRPS, peakRPS: *avgRPS, reads: *reads, histLimit: *histLimit}

	fmt.Println("starting warmup:", *warmup)
	warm := base
	warm.dur = *warmup
	runPhase(ctx, repo, warm)

	fmt.Println("starting measured test:", *dur)
	measured := base
	measured.peakRPS, measured.ramp, measured.dur, measured.collect = *peakRPS, *ramp, *dur, true
	printReport(runPhase(ctx, repo, measured))
}

func runPhase(ctx context.Context, repo storage.Repository, p phase) *results {
	ctx, cancel := context.WithTimeout(ctx, p.dur)
	defer cancel()

	lim := rate.NewLimiter(rate.Limit(p.avgRPS), max(p.avgRPS, 1))
	jobs := make(chan opType, 1024)
	res := &results{startedAt: time.Now()}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for op := range jobs {
				t0 := time.Now()
				err := doOp(ctx, repo, op, r, p.histLimit)
				dt := time.Since(t0)

				res.totalOps.Add(1)
				if op == opWrite {
					res.writeOps.Add(1)
				} else {
					res.readOps.Add(1)
				}
				if err != nil {
					res.errOps.Add(1)
					continue
				}
				if p.collect {
					res.mu.Lock()
					res.latencies = append(res.latencies, dt)
					res.mu.Unlock()
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}

	go func() {
		defer close(jobs)

		// reads alternate between chat history and the recent feed
		pattern := make([]opType, 0, p.reads+1)
		for i := 0; i < p.reads; i++ {
			pattern = append(pattern, opHistory+opType(i%2))
		}
		pattern = append(pattern, opWrite)

		rampStart := time.Now()
		for idx := 0; ; idx = (idx + 1) % len(pattern) {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			if p.ramp > 0 {
				if el := time.Since(rampStart); el < p.ramp {
					cur := float64(p.avgRPS) + float64(p.peakRPS-p.avgRPS)*(float64(el)/float64(p.ramp))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(p.peakRPS))
				}
			}

			select {
			case jobs <- pattern[idx]:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	res.finishedAt = time.Now()
	return res
}

func doOp(ctx context.Context, repo storage.Repository, op opType, r *rand.Rand, limit int) error {
	chatID := int64(1 + r.Intn(20000))
	switch op {
	case opHistory:
		_, err := repo.ListHistory(ctx, chatID, limit)
		return err
	case opRecent:
		_, err := repo.ListRecent(ctx, limit)
		return err
	case opWrite:
		tx := fakeTx(r)
		if err := repo.UpsertTx(ctx, tx); err != nil {
			return err
		}
		return repo.AddChatEvent(ctx, chatID, tx.Hash, storage.EventNotify)
	default:
		return nil
	}
}

func fakeTx(r *rand.Rand) storage.TxRecord {
	to := fmt.Sprintf("0x%040x", r.Uint64())
	maxFee := fmt.Sprintf("%d.5", 10+r.Intn(40))
	tip := "1.5"

	return storage.TxRecord{
		Hash:               fmt.Sprintf("0x%064x", r.Uint64()),
		FromAddr:           fmt.Sprintf("0x%040x", r.Uint64()),
		ToAddr:             &to,
		ValueEth:           fmt.Sprintf("%d.%03d", r.Intn(5), r.Intn(1000)),
		Nonce:              uint64(r.Intn(1000)),
		TxType:             2,
		Gas:                21000,
		MaxFeeGwei:         &maxFee,
		MaxPriorityFeeGwei: &tip,
		TrackedBot:         r.Intn(50) == 0,
		FirstSeenAt:        time.Now().UTC(),
	}
}

func printReport(res *results) {
	d := res.finishedAt.Sub(res.startedAt)
	total := res.totalOps.Load()

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d read=%d write=%d errors=%d\n", total, res.readOps.Load(), res.writeOps.Load(), res.errOps.Load())
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}
	if len(res.latencies) == 0 {
		fmt.Println("no latency samples")
		return
	}

	slices.Sort(res.latencies)
	p := func(q float64) time.Duration {
		return res.latencies[int(q*float64(len(res.latencies)-1))]
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		p(0.50), p(0.95), p(0.99), res.latencies[len(res.latencies)-1],
	)
}
