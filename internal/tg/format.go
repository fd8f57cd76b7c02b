package tg

import (
	"fmt"
	"strings"

	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/subs"

	"github.com/ethereum/go-ethereum/common"
)

const historyLimit = 10

func FormatHistory(items []storage.HistoryItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🕘 History (last %d)\n\n", historyLimit)

	for _, it := range items {
		bot := ""
		if it.TrackedBot {
			bot = " 🤖"
		}
		fmt.Fprintf(&sb, "• %s (%s) %s\n  %s ETH%s\n",
			shortenHash(it.Hash),
			it.EventType,
			it.At.UTC().Format("2006-01-02 15:04:05"),
			it.ValueEth,
			bot,
		)
	}

	return sb.String()
}

func FormatWatchlist(u subs.UserSubs, ok bool, bots []common.Address) string {
	lines := []string{"📌 Your watchlist:"}

	if !ok {
		lines = append(lines, "— nothing watched")
	} else {
		if u.LargeTxMinWei != nil {
			lines = append(lines, fmt.Sprintf("— Large transfers: value >= %s ETH", mempool.FormatEther(u.LargeTxMinWei)))
		}
		for _, w := range u.Wallets {
			lines = append(lines, "— Address: "+w.Hex())
		}
		if u.FollowBots {
			lines = append(lines, fmt.Sprintf("— Tracked bots (%d)", len(bots)))
		}
	}

	return strings.Join(lines, "\n")
}

func FormatStatus(st mempool.Status) string {
	endpoint := st.Endpoint
	if endpoint == "" {
		endpoint = "none"
	}
	return fmt.Sprintf(
		"📡 Monitor: %s\nEndpoint: %s\nSeen hashes: %d\nDelivered: %d\nSubscribers: %d",
		st.State, endpoint, st.Seen, st.Delivered, st.Subscribers,
	)
}

func FormatGas(g mempool.GasEstimate) string {
	return fmt.Sprintf("⛽ Gas price (gwei)\n\nSlow: %s\nStandard: %s\nFast: %s", g.Slow, g.Standard, g.Fast)
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
