package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SETREBAL_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETREBAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields whose SETREBAL_* variable is
// set. Secrets are normally injected this way.
func applyEnvOverrides(cfg *Config) {
	// ── Ethereum ──
	setStr(&cfg.Ethereum.RPCURL, "ETHEREUM_RPC_URL")
	setInt64(&cfg.Ethereum.ChainID, "ETHEREUM_CHAIN_ID")
	setUint64(&cfg.Ethereum.GasBufferPercent, "ETHEREUM_GAS_BUFFER_PERCENT")
	setUint64(&cfg.Ethereum.MaxGasLimit, "ETHEREUM_MAX_GAS_LIMIT")

	// ── Contracts ──
	setStr(&cfg.Contracts.Core, "CONTRACTS_CORE")
	setStr(&cfg.Contracts.TransferProxy, "CONTRACTS_TRANSFER_PROXY")
	setStr(&cfg.Contracts.AuctionModule, "CONTRACTS_AUCTION_MODULE")
	setStr(&cfg.Contracts.EtherBidder, "CONTRACTS_ETHER_BIDDER")
	setStr(&cfg.Contracts.CTokenBidder, "CONTRACTS_CTOKEN_BIDDER")
	setStr(&cfg.Contracts.WETH, "CONTRACTS_WETH")
	setStringSlice(&cfg.Contracts.LinearCurves, "CONTRACTS_LINEAR_CURVES")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "WALLET_ADDRESS")

	// ── Mining ──
	setDuration(&cfg.Mining.PollInterval, "MINING_POLL_INTERVAL")
	setDuration(&cfg.Mining.Timeout, "MINING_TIMEOUT")
	setDuration(&cfg.Mining.TrackTimeout, "MINING_TRACK_TIMEOUT")

	// ── Cache ──
	setInt(&cfg.Cache.LRUSize, "CACHE_LRU_SIZE")
	setBool(&cfg.Cache.Redis, "CACHE_REDIS")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Baskets, "WATCH_BASKETS")
	setDuration(&cfg.Watch.Interval, "WATCH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without EnvPrefix.
// ---------------------------------------------------------------------------

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := env(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := env(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := env(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
