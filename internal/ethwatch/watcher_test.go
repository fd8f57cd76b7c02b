package ethwatch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/bus"
	"github.com/pvzzle/mempoolwatch/internal/metrics"
	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/subs"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockRepo struct {
	mu       sync.Mutex
	eventErr error
	upserts  []storage.TxRecord
	events   []struct {
		chatID int64
		hash   string
		etype  storage.TxEventType
	}
}

func (m *mockRepo) EnsureSchema(ctx context.Context) error { return nil }
func (m *mockRepo) UpsertTx(ctx context.Context, tx storage.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, tx)
	return nil
}
func (m *mockRepo) AddChatEvent(ctx context.Context, chatID int64, txHash string, eventType storage.TxEventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventErr != nil {
		return m.eventErr
	}
	m.events = append(m.events, struct {
		chatID int64
		hash   string
		etype  storage.TxEventType
	}{chatID: chatID, hash: txHash, etype: eventType})
	return nil
}
func (m *mockRepo) ListHistory(ctx context.Context, chatID int64, limit int) ([]storage.HistoryItem, error) {
	return nil, nil
}
func (m *mockRepo) ListRecent(ctx context.Context, limit int) ([]storage.TxRecord, error) {
	return nil, nil
}

func TestDispatcher_handleTask_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()

	tx := sampleTx()
	bot := common.HexToAddress(tx.From)

	subStore := subs.NewStore(bot)
	chatID := int64(99)
	subStore.SetFollowBots(chatID, true)

	notifyCh := make(chan bus.Notification, 1)
	repo := &mockRepo{}
	d := NewDispatcher(subStore, notifyCh, repo, DispatcherConfig{}, nil, nil)

	d.handleTask(ctx, tx)

	select {
	case n := <-notifyCh:
		require.Equal(t, chatID, n.ChatID)
		require.Contains(t, n.Text, "(tracked bot)")
	default:
		t.Fatal("expected notification")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	require.Len(t, repo.upserts, 1)
	require.Equal(t, tx.Hash, repo.upserts[0].Hash)
	require.True(t, repo.upserts[0].TrackedBot)

	require.Len(t, repo.events, 1)
	require.Equal(t, chatID, repo.events[0].chatID)
	require.Equal(t, storage.EventNotify, repo.events[0].etype)
}

func TestDispatcher_handleTask_NoRecipients(t *testing.T) {
	notifyCh := make(chan bus.Notification, 1)
	repo := &mockRepo{}
	d := NewDispatcher(subs.NewStore(), notifyCh, repo, DispatcherConfig{}, nil, nil)

	d.handleTask(context.Background(), sampleTx())

	require.Empty(t, notifyCh)
	require.Len(t, repo.upserts, 1, "every transaction is persisted")
	require.Empty(t, repo.events)
}

func TestDispatcher_handleTask_ChatEventFailureStillNotifies(t *testing.T) {
	tx := sampleTx()
	subStore := subs.NewStore()
	subStore.AddWallet(3, common.HexToAddress(tx.From))

	notifyCh := make(chan bus.Notification, 1)
	repo := &mockRepo{eventErr: errors.New("connection reset")}
	core, logs := observer.New(zap.DebugLevel)
	d := NewDispatcher(subStore, notifyCh, repo, DispatcherConfig{}, zap.New(core), nil)

	d.handleTask(context.Background(), tx)

	n := <-notifyCh
	require.Equal(t, int64(3), n.ChatID)

	entries := logs.FilterMessage("db add chat event failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(3), entries[0].ContextMap()["chat_id"])
	require.Equal(t, tx.Hash, entries[0].ContextMap()["hash"])
}

func TestDispatcher_handleTask_LargeValueUsesWei(t *testing.T) {
	tx := sampleTx()
	subStore := subs.NewStore()
	subStore.SetLargeTxMin(1, big.NewInt(1_500_000_000_000_000_000))
	subStore.SetLargeTxMin(2, big.NewInt(1_500_000_000_000_000_001))

	notifyCh := make(chan bus.Notification, 2)
	d := NewDispatcher(subStore, notifyCh, nil, DispatcherConfig{}, nil, nil)
	d.handleTask(context.Background(), tx)

	require.Len(t, notifyCh, 1)
	require.Equal(t, int64(1), (<-notifyCh).ChatID)
}

func TestDispatcher_WithoutRepo(t *testing.T) {
	tx := sampleTx()
	subStore := subs.NewStore()
	subStore.AddWallet(5, common.HexToAddress(tx.To))

	notifyCh := make(chan bus.Notification, 1)
	d := NewDispatcher(subStore, notifyCh, nil, DispatcherConfig{}, nil, nil)
	d.handleTask(context.Background(), tx)

	n := <-notifyCh
	require.Equal(t, int64(5), n.ChatID)
}

func TestDispatcher_HandleDropsWhenFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(subs.NewStore(), make(chan bus.Notification), nil, DispatcherConfig{TasksBuffer: 1}, nil, m)

	d.Handle(sampleTx())
	d.Handle(sampleTx())

	require.Equal(t, 1.0, testutil.ToFloat64(m.DispatchDropped))
}

func TestDispatcher_StartProcessesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx := sampleTx()
	subStore := subs.NewStore()
	subStore.SetLargeTxMin(1, common.Big1)

	notifyCh := make(chan bus.Notification, 1)
	repo := &mockRepo{}
	d := NewDispatcher(subStore, notifyCh, repo, DispatcherConfig{Workers: 2}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	d.Handle(tx)

	select {
	case n := <-notifyCh:
		require.Equal(t, int64(1), n.ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected notification")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
