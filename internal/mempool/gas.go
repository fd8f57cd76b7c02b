package mempool

import (
	"math/big"
)

// GasEstimate holds whole-gwei price suggestions.
type GasEstimate struct {
	Slow     string `json:"slow"`
	Standard string `json:"standard"`
	Fast     string `json:"fast"`
}

// FallbackGasEstimate is served when no endpoint can be reached.
var FallbackGasEstimate = GasEstimate{Slow: "20", Standard: "25", Fast: "30"}

// EstimateFromGasPrice derives the triple from a single node gas price:
// standard is the price itself, slow 80% and fast 120%, all floored to gwei.
func EstimateFromGasPrice(wei *big.Int) GasEstimate {
	if wei == nil || wei.Sign() < 0 {
		return FallbackGasEstimate
	}
	gwei := new(big.Rat).SetFrac(wei, weiPerGwei)

	pct := func(n int64) string {
		r := new(big.Rat).Mul(gwei, big.NewRat(n, 100))
		return new(big.Int).Quo(r.Num(), r.Denom()).String()
	}
	return GasEstimate{
		Slow:     pct(80),
		Standard: pct(100),
		Fast:     pct(120),
	}
}
