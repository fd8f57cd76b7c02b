package ethwatch

import (
	"context"
	"sync"

	"github.com/pvzzle/mempoolwatch/internal/bus"
	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/metrics"
	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/subs"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type DispatcherConfig struct {
	Workers     int
	TasksBuffer int
}

// Dispatcher takes delivered pending transactions off the monitor's poll
// loop and, on a worker pool, persists them and notifies interested chats.
type Dispatcher struct {
	subStore *subs.Store
	notifyCh chan<- bus.Notification
	repo     storage.Repository // nil disables persistence

	cfg DispatcherConfig
	log *zap.Logger
	m   *metrics.Metrics

	tasks chan mempool.PendingTransaction
	wg    sync.WaitGroup
}

func NewDispatcher(
	subStore *subs.Store,
	notifyCh chan<- bus.Notification,
	repo storage.Repository,
	cfg DispatcherConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *Dispatcher {

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if cfg.TasksBuffer <= 0 {
		cfg.TasksBuffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	return &Dispatcher{
		subStore: subStore,
		notifyCh: notifyCh,
		repo:     repo,
		cfg:      cfg,
		log:      log,
		m:        m,
		tasks:    make(chan mempool.PendingTransaction, cfg.TasksBuffer),
	}
}

// Handle is registered with the monitor. It never blocks: when the queue is
// full the transaction is dropped.
func (d *Dispatcher) Handle(tx mempool.PendingTransaction) {
	select {
	case d.tasks <- tx:
	default:
		d.m.DispatchDropped.Inc()
	}
}

// Start runs the workers until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startWorkers(ctx)
	<-ctx.Done()
	d.wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) startWorkers(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return

				case tx := <-d.tasks:
					d.handleTask(ctx, tx)
				}
			}
		}()
	}
}

func (d *Dispatcher) handleTask(ctx context.Context, tx mempool.PendingTransaction) {
	from := common.HexToAddress(tx.From)
	var to *common.Address
	if tx.To != "" {
		a := common.HexToAddress(tx.To)
		to = &a
	}
	tracked := d.subStore.IsBot(from) || (to != nil && d.subStore.IsBot(*to))

	rec := ToRecord(tx, tracked)
	if d.repo != nil {
		if err := d.repo.UpsertTx(ctx, rec); err != nil {
			d.log.Warn("db upsert tx failed", zap.String("hash", tx.Hash), zap.Error(err))
			// notifications still go out
		}
	}

	recipients := d.subStore.MatchTx(from, to, tx.ValueWei)
	if len(recipients) == 0 {
		return
	}

	text := FormatTxNotification(tx, tracked)
	for _, chatID := range recipients {
		if d.repo != nil {
			if err := d.repo.AddChatEvent(ctx, chatID, rec.Hash, storage.EventNotify); err != nil {
				d.log.Debug("db add chat event failed", zap.Int64("chat_id", chatID), zap.String("hash", rec.Hash), zap.Error(err))
			}
		}

		select {
		case d.notifyCh <- bus.Notification{ChatID: chatID, Text: text}:
			d.m.NotificationsEnqueued.Inc()
		case <-ctx.Done():
			return
		}
	}
}
