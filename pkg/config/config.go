// Package config loads process configuration from the environment.
//
// Every variable carries the LPR_ prefix, e.g. LPR_SUBGRAPH_EXCHANGE_URL. A .env file in
// the working directory is read first when present; variables already set win.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const Prefix = "LPR"

// Config is the full process configuration.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	Subgraph SubgraphConfig `envconfig:"SUBGRAPH"`
	Batch    BatchConfig    `envconfig:"BATCH"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Query    QueryConfig    `envconfig:"QUERY"`
	Reporter ReporterConfig `envconfig:"REPORTER"`
}

// SubgraphConfig points at the exchange and block index subgraphs.
type SubgraphConfig struct {
	ExchangeURL     string        `envconfig:"EXCHANGE_URL" default:"https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v2"`
	BlocksURL       string        `envconfig:"BLOCKS_URL" default:"https://api.thegraph.com/subgraphs/name/blocklytics/ethereum-blocks"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"15s"`
	RPS             int           `envconfig:"RPS" default:"10"`
	Burst           int           `envconfig:"BURST" default:"20"`
	BreakerFailures int           `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	PageSize        int           `envconfig:"PAGE_SIZE" default:"1000"`
}

// BatchConfig tunes chunked retrieval.
type BatchConfig struct {
	BlockChunkSize int           `envconfig:"BLOCK_CHUNK_SIZE" default:"500"`
	PairChunkSize  int           `envconfig:"PAIR_CHUNK_SIZE" default:"100"`
	BlockWindow    int64         `envconfig:"BLOCK_WINDOW" default:"600"`
	Parallelism    int           `envconfig:"PARALLELISM" default:"1"`
	ChunkTimeout   time.Duration `envconfig:"CHUNK_TIMEOUT" default:"30s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"4"`
	InitialDelay   time.Duration `envconfig:"INITIAL_DELAY" default:"500ms"`
	MaxDelay       time.Duration `envconfig:"MAX_DELAY" default:"10s"`
}

// RedisConfig is optional. Without an address block lookups are cached in memory and
// the reporter only logs.
type RedisConfig struct {
	Addr     string        `envconfig:"ADDR"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	BlockTTL time.Duration `envconfig:"BLOCK_TTL" default:"720h"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type QueryConfig struct {
	Addr            string        `envconfig:"ADDR" default:":3000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type ReporterConfig struct {
	// Schedule is a six field cron expression, seconds first.
	Schedule string `envconfig:"SCHEDULE" default:"0 5 0 * * *"`
	// Watch lists user:pair entries, comma separated.
	Watch   []string `envconfig:"WATCH"`
	Channel string   `envconfig:"CHANNEL" default:"lpreturns:daily"`
	// Lookback is how many days before now each run reconstructs.
	Lookback int `envconfig:"LOOKBACK_DAYS" default:"30"`
}

// Watch is one entry of the reporter's watch list.
type Watch struct {
	User string
	Pair string
}

// Watches parses the watch list. Blank entries are skipped and duplicates collapsed.
func (r ReporterConfig) Watches() ([]Watch, error) {
	seen := make(map[Watch]struct{}, len(r.Watch))
	out := make([]Watch, 0, len(r.Watch))
	for _, raw := range r.Watch {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		user, pair, ok := strings.Cut(raw, ":")
		if !ok || user == "" || pair == "" {
			return nil, fmt.Errorf("watch entry %q: want user:pair", raw)
		}
		w := Watch{User: strings.ToLower(user), Pair: strings.ToLower(pair)}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

// Load reads .env when present and then the environment.
func Load() (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Subgraph.ExchangeURL == "" {
		errs = append(errs, errors.New("subgraph exchange url is required"))
	}
	if c.Subgraph.BlocksURL == "" {
		errs = append(errs, errors.New("subgraph blocks url is required"))
	}
	if c.Batch.BlockChunkSize <= 0 || c.Batch.PairChunkSize <= 0 {
		errs = append(errs, errors.New("chunk sizes must be positive"))
	}
	if c.Batch.BlockWindow <= 0 {
		errs = append(errs, errors.New("block window must be positive"))
	}
	if c.Batch.Parallelism <= 0 {
		errs = append(errs, errors.New("parallelism must be positive"))
	}
	if _, err := c.Reporter.Watches(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
