package connmgr

import "strings"

// DefaultPool lists public Ethereum mainnet endpoints in probe order.
var DefaultPool = Pool{
	"https://ethereum-rpc.publicnode.com",
	"https://eth.llamarpc.com",
	"https://rpc.ankr.com/eth",
	"https://eth.drpc.org",
	"https://cloudflare-eth.com",
}

type Pool []string

// ParsePool splits a comma separated list, dropping blanks and duplicates.
func ParsePool(s string) Pool {
	var out Pool
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		u := strings.TrimSpace(part)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
