package tg

import (
	"errors"
	"math/big"
	"strings"

	"github.com/pvzzle/mempoolwatch/internal/mempool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidAmount = errors.New("invalid eth amount")

// ParseTxHash accepts a 32-byte hex hash with or without the 0x prefix.
func ParseTxHash(s string) (common.Hash, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// ParseAddress accepts a 20-byte hex address with or without the 0x prefix.
func ParseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// ParseEthToWei parses a user-typed ETH amount such as "1.5" or "0,5" into
// wei, rounding down. The result must be positive.
func ParseEthToWei(amount string) (*big.Int, error) {
	wei, err := mempool.ParseEther(strings.ReplaceAll(amount, ",", "."))
	if err != nil || wei.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return wei, nil
}
