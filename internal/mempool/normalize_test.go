package mempool

import (
	"math/big"
	"testing"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/ethrpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFormatEther(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	require.Equal(t, "1.0", FormatEther(oneEth))
	require.Equal(t, "0.5", FormatEther(new(big.Int).Div(oneEth, big.NewInt(2))))
	require.Equal(t, "0.0", FormatEther(big.NewInt(0)))
	require.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	require.Equal(t, "12.345", FormatEther(new(big.Int).Mul(big.NewInt(12345), big.NewInt(1e15))))
	require.Equal(t, "0.0", FormatEther(nil))
}

func TestFormatGwei(t *testing.T) {
	require.Equal(t, "25.0", FormatGwei(big.NewInt(25_000_000_000)))
	require.Equal(t, "1.5", FormatGwei(big.NewInt(1_500_000_000)))
	require.Equal(t, "0.000000001", FormatGwei(big.NewInt(1)))
}

func TestNormalize_Legacy(t *testing.T) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	raw := &ethrpc.Transaction{
		Tx: types.NewTx(&types.LegacyTx{
			Nonce:    3,
			To:       &to,
			Value:    big.NewInt(1_500_000_000_000_000_000),
			Gas:      21000,
			GasPrice: big.NewInt(30_000_000_000),
			Data:     []byte{0xde, 0xad},
		}),
		From: from,
	}
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

	got := Normalize(hashA, raw, now)

	require.Equal(t, hashA.Hex(), got.Hash)
	require.Equal(t, from.Hex(), got.From)
	require.Equal(t, to.Hex(), got.To)
	require.Equal(t, "1.5", got.Value)
	require.Zero(t, got.ValueWei.Cmp(big.NewInt(1_500_000_000_000_000_000)))
	require.Equal(t, "30.0", got.GasPrice)
	require.Empty(t, got.MaxFeePerGas)
	require.Empty(t, got.MaxPriorityFeePerGas)
	require.Equal(t, "21000", got.GasLimit)
	require.Equal(t, "0xdead", got.Data)
	require.Equal(t, uint64(3), got.Nonce)
	require.Equal(t, now, got.Timestamp)
	require.Equal(t, uint8(types.LegacyTxType), got.Type)
	require.False(t, got.IsContractCreation())
}

func TestNormalize_DynamicFeeContractCreation(t *testing.T) {
	raw := &ethrpc.Transaction{
		Tx: types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(1),
			Nonce:     1,
			Value:     big.NewInt(0),
			Gas:       500000,
			GasFeeCap: big.NewInt(40_000_000_000),
			GasTipCap: big.NewInt(1_500_000_000),
		}),
	}

	got := Normalize(hashB, raw, time.Now())

	require.Empty(t, got.To)
	require.True(t, got.IsContractCreation())
	require.Empty(t, got.GasPrice)
	require.Equal(t, "40.0", got.MaxFeePerGas)
	require.Equal(t, "1.5", got.MaxPriorityFeePerGas)
	require.Equal(t, "0x", got.Data)
	require.Equal(t, uint8(types.DynamicFeeTxType), got.Type)
}

func TestNormalize_SetCode(t *testing.T) {
	to := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	raw := &ethrpc.Transaction{
		Tx: types.NewTx(&types.SetCodeTx{
			ChainID:   uint256.NewInt(1),
			Nonce:     8,
			GasTipCap: uint256.NewInt(2_000_000_000),
			GasFeeCap: uint256.NewInt(35_000_000_000),
			Gas:       60_000,
			To:        to,
			Value:     uint256.NewInt(0),
			AuthList: []types.SetCodeAuthorization{{
				ChainID: *uint256.NewInt(1),
				Address: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
				Nonce:   9,
			}},
		}),
		From: to,
	}

	got := Normalize(hashC, raw, time.Now())

	require.Equal(t, uint8(types.SetCodeTxType), got.Type)
	require.Equal(t, to.Hex(), got.To)
	require.Empty(t, got.GasPrice)
	require.Equal(t, "35.0", got.MaxFeePerGas)
	require.Equal(t, "2.0", got.MaxPriorityFeePerGas)
	require.Equal(t, "0.0", got.Value)
	require.Zero(t, got.ValueWei.Sign())
}

func TestParseEther(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	got, err := ParseEther("1.0")
	require.NoError(t, err)
	require.Zero(t, got.Cmp(oneEth))

	got, err = ParseEther(" 0.000000000000000001 ")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Int64())

	got, err = ParseEther("0.0000000000000000009")
	require.NoError(t, err)
	require.Zero(t, got.Sign(), "below one wei truncates")

	for _, wei := range []*big.Int{big.NewInt(1), big.NewInt(123_456_789), new(big.Int).Mul(oneEth, big.NewInt(42))} {
		back, err := ParseEther(FormatEther(wei))
		require.NoError(t, err)
		require.Zero(t, back.Cmp(wei), wei.String())
	}

	_, err = ParseEther("abc")
	require.ErrorIs(t, err, ErrInvalidEther)
}

func TestEstimateFromGasPrice(t *testing.T) {
	require.Equal(t, GasEstimate{Slow: "20", Standard: "25", Fast: "30"}, EstimateFromGasPrice(big.NewInt(25_000_000_000)))
	require.Equal(t, GasEstimate{Slow: "0", Standard: "0", Fast: "0"}, EstimateFromGasPrice(big.NewInt(500_000_000)))
	require.Equal(t, GasEstimate{Slow: "2", Standard: "3", Fast: "4"}, EstimateFromGasPrice(big.NewInt(3_700_000_000)))
	require.Equal(t, FallbackGasEstimate, EstimateFromGasPrice(nil))
}
