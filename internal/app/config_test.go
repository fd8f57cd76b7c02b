package app

import (
	"testing"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/connmgr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig()
	require.NoError(t, err)

	require.Equal(t, []string(connmgr.DefaultPool), cfg.RPCEndpoints)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 1000, cfg.DedupCapacity)
	require.True(t, cfg.Autostart)
	require.Empty(t, cfg.PostgresURL)
	require.Empty(t, cfg.TelegramToken)
	require.Equal(t, []common.Address{
		common.HexToAddress(DefaultWatchAddresses[0]),
		common.HexToAddress(DefaultWatchAddresses[1]),
	}, cfg.watchAddresses())
}

func TestParseConfig_Env(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", " http://a , http://b,http://a ")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("DEDUP_CAPACITY", "10")
	t.Setenv("FETCH_RPS", "2.5")
	t.Setenv("AUTOSTART", "false")
	t.Setenv("WATCH_ADDRESSES", "0x00000000000000000000000000000000000000aa")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := parseConfig()
	require.NoError(t, err)

	require.Equal(t, []string{"http://a", "http://b"}, cfg.RPCEndpoints)
	require.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 10, cfg.DedupCapacity)
	require.Equal(t, 2.5, cfg.FetchRPS)
	require.False(t, cfg.Autostart)
	require.Len(t, cfg.watchAddresses(), 1)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"POLL_INTERVAL":   "0s",
		"DEDUP_CAPACITY":  "-1",
		"FETCH_RPS":       "-3",
		"WATCH_ADDRESSES": "0xnothex",
		"LOG_LEVEL":       "loud",
		"RPC_ENDPOINTS":   " , ",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := parseConfig()
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("warn")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(-1))

	_, err = NewLogger("nope")
	require.Error(t, err)
}
