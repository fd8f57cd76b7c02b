package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/connmgr"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultWatchAddresses are the MEV bot addresses tracked out of the box.
var DefaultWatchAddresses = []string{
	"0xae2Fc483527B8EF99EB5D9B44875F005ba1FaE13",
	"0x6b75d8AF000000e20B7a7DDf000Ba900b4009A80",
}

type Config struct {
	RPCEndpoints []string      `env:"RPC_ENDPOINTS" envSeparator:","`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT"`

	DedupCapacity    int     `env:"DEDUP_CAPACITY"`
	FetchConcurrency int     `env:"FETCH_CONCURRENCY"`
	FetchRPS         float64 `env:"FETCH_RPS"`
	Autostart        bool    `env:"AUTOSTART"`

	HTTPAddr    string   `env:"HTTP_ADDR"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	RecentLimit int      `env:"RECENT_LIMIT"`

	WatchAddresses []string `env:"WATCH_ADDRESSES" envSeparator:","`

	// Optional surfaces: empty disables them.
	PostgresURL   string `env:"POSTGRES_URL"`
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	TelegramDebug bool   `env:"TELEGRAM_DEBUG"`

	DispatchWorkers int `env:"DISPATCH_WORKERS"`
	TasksBuffer     int `env:"TASKS_BUFFER"`
	NotifyBuffer    int `env:"NOTIFY_BUFFER"`

	LogLevel string `env:"LOG_LEVEL"`
}

func defaultConfig() Config {
	return Config{
		RPCEndpoints:     append([]string(nil), connmgr.DefaultPool...),
		PollInterval:     2 * time.Second,
		ProbeTimeout:     5 * time.Second,
		DedupCapacity:    1000,
		FetchConcurrency: 4,
		Autostart:        true,
		HTTPAddr:         ":8080",
		CORSOrigins:      []string{"*"},
		RecentLimit:      50,
		WatchAddresses:   append([]string(nil), DefaultWatchAddresses...),
		DispatchWorkers:  4,
		TasksBuffer:      4096,
		NotifyBuffer:     4096,
		LogLevel:         "info",
	}
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}
	return parseConfig()
}

func parseConfig() (Config, error) {
	config := defaultConfig()

	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) validate() error {
	c.RPCEndpoints = connmgr.ParsePool(strings.Join(c.RPCEndpoints, ","))
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS: no endpoints")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.DedupCapacity <= 0 {
		return fmt.Errorf("DEDUP_CAPACITY must be positive, got %d", c.DedupCapacity)
	}
	if c.FetchRPS < 0 {
		return fmt.Errorf("FETCH_RPS must not be negative, got %v", c.FetchRPS)
	}
	for _, a := range c.WatchAddresses {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("WATCH_ADDRESSES: invalid address %q", a)
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

func (c Config) watchAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.WatchAddresses))
	for _, a := range c.WatchAddresses {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

// NewLogger builds the production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
