package ethwatch

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/storage"
)

// MethodID returns the 4-byte selector of hex calldata, or "" when there is none.
func MethodID(data string) string {
	if len(data) < 10 || !strings.HasPrefix(data, "0x") {
		return ""
	}
	return strings.ToLower(data[:10])
}

// ToRecord maps a delivered transaction to its storage row.
func ToRecord(tx mempool.PendingTransaction, trackedBot bool) storage.TxRecord {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return storage.TxRecord{
		Hash:               tx.Hash,
		FromAddr:           tx.From,
		ToAddr:             opt(tx.To),
		ValueEth:           tx.Value,
		Nonce:              tx.Nonce,
		TxType:             tx.Type,
		Gas:                parseUint(tx.GasLimit),
		GasPriceGwei:       opt(tx.GasPrice),
		MaxFeeGwei:         opt(tx.MaxFeePerGas),
		MaxPriorityFeeGwei: opt(tx.MaxPriorityFeePerGas),
		MethodID:           opt(MethodID(tx.Data)),
		TrackedBot:         trackedBot,
		FirstSeenAt:        tx.Timestamp.UTC(),
	}
}

func parseUint(s string) uint64 {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func FormatTxNotification(tx mempool.PendingTransaction, trackedBot bool) string {
	return FormatTx("🔔 Pending tx", tx, trackedBot)
}

// FormatTx renders tx under the given title line.
func FormatTx(title string, tx mempool.PendingTransaction, trackedBot bool) string {
	toStr := "contract-creation"
	if tx.To != "" {
		toStr = tx.To
	}
	from := tx.From
	if trackedBot {
		from += " (tracked bot)"
	}

	fee := "Gas price: " + tx.GasPrice + " gwei"
	if tx.GasPrice == "" {
		fee = fmt.Sprintf("Max fee: %s gwei, tip: %s gwei", tx.MaxFeePerGas, tx.MaxPriorityFeePerGas)
	}

	return fmt.Sprintf(
		"%s\n\nHash: %s\nFrom: %s\nTo: %s\nValue: %s ETH\n%s\nNonce: %d\nSeen: %s",
		title,
		tx.Hash,
		from,
		toStr,
		tx.Value,
		fee,
		tx.Nonce,
		tx.Timestamp.UTC().Format(time.RFC3339),
	)
}
