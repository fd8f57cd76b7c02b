package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Postgres)(nil)

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS pending_transactions (
  hash TEXT PRIMARY KEY,

  from_addr TEXT NOT NULL,
  to_addr   TEXT NULL,

  value_eth NUMERIC(60,18) NOT NULL,
  nonce     BIGINT NOT NULL,
  tx_type   INT NOT NULL,
  gas       BIGINT NOT NULL,

  gas_price_gwei        NUMERIC(40,9) NULL,
  max_fee_gwei          NUMERIC(40,9) NULL,
  max_priority_fee_gwei NUMERIC(40,9) NULL,

  method_id   TEXT NULL,
  tracked_bot BOOLEAN NOT NULL DEFAULT false,

  first_seen_at TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS pending_tx_first_seen_idx ON pending_transactions(first_seen_at DESC);

CREATE TABLE IF NOT EXISTS chat_tx (
  chat_id BIGINT NOT NULL,
  tx_hash TEXT NOT NULL REFERENCES pending_transactions(hash) ON DELETE CASCADE,
  event_type TEXT NOT NULL, -- lookup|notify
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (chat_id, tx_hash, event_type)
);

CREATE INDEX IF NOT EXISTS chat_tx_chat_created_idx ON chat_tx(chat_id, created_at DESC);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) UpsertTx(ctx context.Context, tx storage.TxRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q := `
INSERT INTO pending_transactions(
  hash, from_addr, to_addr,
  value_eth, nonce, tx_type, gas,
  gas_price_gwei, max_fee_gwei, max_priority_fee_gwei,
  method_id, tracked_bot, first_seen_at
) VALUES (
  $1, $2, $3,
  $4::numeric, $5, $6, $7,
  $8::numeric, $9::numeric, $10::numeric,
  $11, $12, $13
)
ON CONFLICT(hash) DO UPDATE SET
  to_addr     = COALESCE(EXCLUDED.to_addr, pending_transactions.to_addr),
  tracked_bot = EXCLUDED.tracked_bot OR pending_transactions.tracked_bot,
  gas_price_gwei        = COALESCE(EXCLUDED.gas_price_gwei, pending_transactions.gas_price_gwei),
  max_fee_gwei          = COALESCE(EXCLUDED.max_fee_gwei, pending_transactions.max_fee_gwei),
  max_priority_fee_gwei = COALESCE(EXCLUDED.max_priority_fee_gwei, pending_transactions.max_priority_fee_gwei),
  first_seen_at = LEAST(EXCLUDED.first_seen_at, pending_transactions.first_seen_at),
  updated_at    = now()
`
	_, err := r.pool.Exec(cctx, q,
		tx.Hash, tx.FromAddr, tx.ToAddr,
		tx.ValueEth, int64(tx.Nonce), int(tx.TxType), int64(tx.Gas),
		tx.GasPriceGwei, tx.MaxFeeGwei, tx.MaxPriorityFeeGwei,
		tx.MethodID, tx.TrackedBot, tx.FirstSeenAt,
	)
	return err
}

func (r *Postgres) AddChatEvent(ctx context.Context, chatID int64, txHash string, eventType storage.TxEventType) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.pool.Exec(cctx,
		`INSERT INTO chat_tx(chat_id, tx_hash, event_type) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		chatID, txHash, string(eventType),
	)
	return err
}

func (r *Postgres) ListHistory(ctx context.Context, chatID int64, limit int) ([]storage.HistoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  c.created_at,
  c.event_type,
  t.hash,
  t.from_addr,
  t.to_addr,
  t.value_eth::text,
  t.tracked_bot,
  t.first_seen_at
FROM chat_tx c
JOIN pending_transactions t ON t.hash = c.tx_hash
WHERE c.chat_id = $1
ORDER BY c.created_at DESC
LIMIT $2
`
	rows, err := r.pool.Query(cctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.HistoryItem
	for rows.Next() {
		var (
			it    storage.HistoryItem
			etype string
		)
		if err := rows.Scan(&it.At, &etype, &it.Hash, &it.FromAddr, &it.ToAddr, &it.ValueEth, &it.TrackedBot, &it.FirstSeenAt); err != nil {
			return nil, err
		}
		it.EventType = storage.TxEventType(etype)
		out = append(out, it)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

func (r *Postgres) ListRecent(ctx context.Context, limit int) ([]storage.TxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  hash, from_addr, to_addr,
  value_eth::text, nonce, tx_type, gas,
  gas_price_gwei::text, max_fee_gwei::text, max_priority_fee_gwei::text,
  method_id, tracked_bot, first_seen_at
FROM pending_transactions
ORDER BY first_seen_at DESC
LIMIT $1
`
	rows, err := r.pool.Query(cctx, q, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.TxRecord, error) {
		var (
			rec   storage.TxRecord
			nonce int64
			typ   int32
			gas   int64
		)
		err := row.Scan(
			&rec.Hash, &rec.FromAddr, &rec.ToAddr,
			&rec.ValueEth, &nonce, &typ, &gas,
			&rec.GasPriceGwei, &rec.MaxFeeGwei, &rec.MaxPriorityFeeGwei,
			&rec.MethodID, &rec.TrackedBot, &rec.FirstSeenAt,
		)
		rec.Nonce = uint64(nonce)
		rec.TxType = uint8(typ)
		rec.Gas = uint64(gas)
		return rec, err
	})
}

func (r *Postgres) String() string { return fmt.Sprintf("pgrepo(%p)", r.pool) }
