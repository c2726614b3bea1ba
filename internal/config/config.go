// Package config defines the coordinator's configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETREBAL_* environment variables.
type Config struct {
	Ethereum   EthereumConfig   `toml:"ethereum"`
	Contracts  ContractsConfig  `toml:"contracts"`
	Allocation AllocationConfig `toml:"allocation"`
	Wallet     WalletConfig     `toml:"wallet"`
	Mining     MiningConfig     `toml:"mining"`
	Cache      CacheConfig      `toml:"cache"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Watch      WatchConfig      `toml:"watch"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EthereumConfig holds the RPC endpoint and gas policy.
type EthereumConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	DialTimeout      duration `toml:"dial_timeout"`
	GasBufferPercent uint64   `toml:"gas_buffer_percent"`
	MaxGasLimit      uint64   `toml:"max_gas_limit"`
}

// ContractsConfig holds protocol contract addresses as hex strings.
type ContractsConfig struct {
	Core          string   `toml:"core"`
	TransferProxy string   `toml:"transfer_proxy"`
	AuctionModule string   `toml:"auction_module"`
	EtherBidder   string   `toml:"ether_bidder"`
	CTokenBidder  string   `toml:"ctoken_bidder"`
	WETH          string   `toml:"weth"`
	CTokens       []string `toml:"ctokens"`
	// LinearCurves are approved curves whose price is computed locally.
	LinearCurves []string `toml:"linear_curves"`
	// Managers maps trading-pool manager addresses to "social_trading" or
	// "social_trading_v2".
	Managers map[string]string `toml:"managers"`
}

// AllocationConfig holds the auction parameters of proposals derived from
// allocation changes. Prices are decimal strings.
type AllocationConfig struct {
	PriceCurve  string   `toml:"price_curve"`
	StartPrice  string   `toml:"start_price"`
	PivotPrice  string   `toml:"pivot_price"`
	TimeToPivot duration `toml:"time_to_pivot"`
}

// WalletConfig holds the operator key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Address, when set, is the operator account the key must control.
	Address string `toml:"address"`
}

// MiningConfig bounds receipt waits.
type MiningConfig struct {
	PollInterval duration `toml:"poll_interval"`
	Timeout      duration `toml:"timeout"`
	// TrackTimeout bounds background tracking of submissions the caller did
	// not wait for.
	TrackTimeout duration `toml:"track_timeout"`
}

// CacheConfig sizes the immutable metadata cache.
type CacheConfig struct {
	LRUSize int `toml:"lru_size"`
	// Redis shares the cache across processes behind the in-memory tier.
	Redis bool `toml:"redis"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules moving old submissions and audit rows to S3.
type ArchiveConfig struct {
	Cron          string   `toml:"cron"`
	RetentionDays int      `toml:"retention_days"`
	LockTTL       duration `toml:"lock_ttl"`
}

// WatchConfig lists the baskets the auction watcher polls.
type WatchConfig struct {
	Baskets  []string `toml:"baskets"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps submitting requests per client IP per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ethereum: EthereumConfig{
			RPCURL:           "http://localhost:8545",
			ChainID:          1,
			DialTimeout:      duration{10 * time.Second},
			GasBufferPercent: 20,
		},
		Contracts: ContractsConfig{
			Managers: map[string]string{},
		},
		Allocation: AllocationConfig{
			TimeToPivot: duration{24 * time.Hour},
		},
		Mining: MiningConfig{
			PollInterval: duration{2 * time.Second},
			Timeout:      duration{5 * time.Minute},
			TrackTimeout: duration{10 * time.Minute},
		},
		Cache: CacheConfig{
			LRUSize: 1024,
			Redis:   true,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "setrebal-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 0 3 * * *",
			RetentionDays: 90,
			LockTTL:       duration{30 * time.Minute},
		},
		Watch: WatchConfig{
			Interval: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"submission_reverted", "submission_timed_out", "archive"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"watch":   true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode submits transactions.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// NeedsChain reports whether the mode talks to the ledger.
func (c *Config) NeedsChain() bool {
	return strings.ToLower(c.Mode) != "archive"
}

// NeedsArchive reports whether the mode runs the archive schedule.
func (c *Config) NeedsArchive() bool {
	m := strings.ToLower(c.Mode)
	return m == "archive" || (m == "full" && c.S3.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, watch, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsChain() {
		if c.Ethereum.RPCURL == "" {
			add("ethereum: rpc_url must not be empty")
		}
		if c.Ethereum.ChainID <= 0 {
			add("ethereum: chain_id must be positive")
		}
		checkAddr(&errs, "contracts.core", c.Contracts.Core, true)
		for _, a := range c.Contracts.LinearCurves {
			checkAddr(&errs, "contracts.linear_curves", a, true)
		}
		for _, b := range c.Watch.Baskets {
			checkAddr(&errs, "watch.baskets", b, true)
		}
		if c.Watch.Interval.Duration <= 0 {
			add("watch: interval must be > 0")
		}
	}

	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		checkAddr(&errs, "wallet.address", c.Wallet.Address, false)
		for name, v := range map[string]string{
			"contracts.transfer_proxy": c.Contracts.TransferProxy,
			"contracts.auction_module": c.Contracts.AuctionModule,
		} {
			checkAddr(&errs, name, v, true)
		}
		for name, v := range map[string]string{
			"contracts.ether_bidder":  c.Contracts.EtherBidder,
			"contracts.ctoken_bidder": c.Contracts.CTokenBidder,
			"contracts.weth":          c.Contracts.WETH,
			"allocation.price_curve":  c.Allocation.PriceCurve,
		} {
			checkAddr(&errs, name, v, false)
		}
		for _, a := range c.Contracts.CTokens {
			checkAddr(&errs, "contracts.ctokens", a, true)
		}
		for addr, kind := range c.Contracts.Managers {
			checkAddr(&errs, "contracts.managers", addr, true)
			if kind != "social_trading" && kind != "social_trading_v2" {
				add("contracts.managers: unknown manager kind %q for %s", kind, addr)
			}
		}
		for name, v := range map[string]string{
			"allocation.start_price": c.Allocation.StartPrice,
			"allocation.pivot_price": c.Allocation.PivotPrice,
		} {
			if v == "" {
				continue
			}
			if _, err := uint256.FromDecimal(v); err != nil {
				add("%s: %q is not a decimal integer", name, v)
			}
		}
		if c.Mining.Timeout.Duration <= 0 || c.Mining.PollInterval.Duration <= 0 {
			add("mining: timeout and poll_interval must be > 0")
		}
	}

	if c.Cache.LRUSize < 1 {
		add("cache: lru_size must be >= 1")
	}

	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			add("supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
		}
		if c.Supabase.Database == "" {
			add("supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		add("supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		add("supabase: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.NeedsArchive() {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if c.Archive.Cron == "" {
			add("archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		add("notify: webhook_secret is required when webhook_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddr(errs *[]string, name, v string, required bool) {
	if v == "" {
		if required {
			*errs = append(*errs, name+": address must be set")
		}
		return
	}
	if !common.IsHexAddress(v) {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a hex address", name, v))
	}
}

// Address parses a configured address. Empty and invalid values are zero;
// Validate reports invalid ones.
func Address(v string) common.Address {
	if !common.IsHexAddress(v) {
		return common.Address{}
	}
	return common.HexToAddress(v)
}

// Addresses parses a configured address list.
func Addresses(vs []string) []common.Address {
	out := make([]common.Address, 0, len(vs))
	for _, v := range vs {
		if a := Address(v); a != (common.Address{}) {
			out = append(out, a)
		}
	}
	return out
}

// Amount parses a configured decimal amount. Empty and invalid values are
// nil.
func Amount(v string) *uint256.Int {
	if v == "" {
		return nil
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil
	}
	return n
}
