package storage

import "time"

// TxRecord is a pending transaction as first observed in the mempool.
// Amounts are decimal strings: ETH for value, gwei for fees.
type TxRecord struct {
	Hash     string
	FromAddr string
	ToAddr   *string // nil for contract creation
	ValueEth string
	Nonce    uint64
	TxType   uint8
	Gas      uint64

	GasPriceGwei       *string // legacy and access-list txs
	MaxFeeGwei         *string // fee-market txs
	MaxPriorityFeeGwei *string

	MethodID    *string // first 4 bytes of calldata, nil for plain transfers
	TrackedBot  bool
	FirstSeenAt time.Time
}

type TxEventType string

const (
	EventLookup TxEventType = "lookup"
	EventNotify TxEventType = "notify"
)

type HistoryItem struct {
	At        time.Time
	EventType TxEventType

	Hash        string
	FromAddr    string
	ToAddr      *string
	ValueEth    string
	TrackedBot  bool
	FirstSeenAt time.Time
}
