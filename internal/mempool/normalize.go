package mempool

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/ethrpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// PendingTransaction is a mempool transaction as delivered to subscribers.
// Value is in ETH, fee fields in gwei; exactly one fee model is populated.
// ValueWei carries the exact amount for in-process consumers and is nil on
// values that did not come from Normalize.
type PendingTransaction struct {
	Hash                 string    `json:"hash"`
	From                 string    `json:"from"`
	To                   string    `json:"to,omitempty"`
	Value                string    `json:"value"`
	GasPrice             string    `json:"gasPrice,omitempty"`
	MaxFeePerGas         string    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string    `json:"maxPriorityFeePerGas,omitempty"`
	GasLimit             string    `json:"gasLimit"`
	Data                 string    `json:"data"`
	Nonce                uint64    `json:"nonce"`
	Timestamp            time.Time `json:"timestamp"`
	Type                 uint8     `json:"type"`

	ValueWei *big.Int `json:"-"`
}

// IsContractCreation reports whether the transaction has no recipient.
func (p PendingTransaction) IsContractCreation() bool { return p.To == "" }

// Normalize converts a node transaction into a PendingTransaction observed at now.
func Normalize(hash common.Hash, raw *ethrpc.Transaction, now time.Time) PendingTransaction {
	tx := raw.Tx
	out := PendingTransaction{
		Hash:      hash.Hex(),
		From:      raw.From.Hex(),
		Value:     FormatEther(tx.Value()),
		ValueWei:  tx.Value(),
		GasLimit:  new(big.Int).SetUint64(tx.Gas()).String(),
		Data:      hexutil.Encode(tx.Data()),
		Nonce:     tx.Nonce(),
		Timestamp: now,
		Type:      tx.Type(),
	}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}

	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType:
		out.GasPrice = FormatGwei(tx.GasPrice())
	default:
		out.MaxFeePerGas = FormatGwei(tx.GasFeeCap())
		out.MaxPriorityFeePerGas = FormatGwei(tx.GasTipCap())
	}
	return out
}

var (
	weiPerEth  = big.NewInt(params.Ether)
	weiPerGwei = big.NewInt(params.GWei)
)

// ErrInvalidEther is returned by ParseEther for input that is not a decimal number.
var ErrInvalidEther = errors.New("invalid ether amount")

// ParseEther converts a decimal ETH amount ("1.5", "0.000000001") to wei,
// truncating anything below one wei. It is the inverse of FormatEther.
func ParseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, ErrInvalidEther
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEth))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// FormatEther renders wei as an exact ETH decimal ("1.0", "0.000000001").
func FormatEther(wei *big.Int) string { return formatUnits(wei, weiPerEth, 18) }

// FormatGwei renders wei as an exact gwei decimal ("25.0", "1.5").
func FormatGwei(wei *big.Int) string { return formatUnits(wei, weiPerGwei, 9) }

func formatUnits(v, unit *big.Int, decimals int) string {
	if v == nil {
		return "0.0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	q, r := new(big.Int).QuoRem(abs, unit, new(big.Int))
	frac := r.String()
	frac = strings.Repeat("0", decimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}

	s := q.String() + "." + frac
	if neg {
		s = "-" + s
	}
	return s
}
