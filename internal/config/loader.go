package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of the built-in defaults, applies
// the risk profile to fields the file leaves unset, then applies SNIPEBOT_*
// environment overrides. A missing file is not an error when path is empty.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	var md toml.MetaData
	if path != "" {
		var err error
		md, err = toml.DecodeFile(path, &cfg)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: %s not found", path)
			}
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	setStr(&cfg.Profile, "SNIPEBOT_PROFILE")
	applyProfile(&cfg, md.IsDefined)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyProfile copies the preset's values into every field for which
// defined reports false.
func applyProfile(cfg *Config, defined func(key ...string) bool) {
	p, ok := Profiles[strings.ToLower(cfg.Profile)]
	if !ok {
		return
	}
	if !defined("trading", "min_score") {
		cfg.Trading.MinScore = p.MinScore
	}
	if !defined("trading", "trailing_stop_pct") {
		cfg.Trading.TrailingStopPct = p.TrailingStopPct
	}
	if !defined("risk", "max_positions") {
		cfg.Risk.MaxPositions = p.MaxPositions
	}
}

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SNIPEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SNIPEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SNIPEBOT_WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SNIPEBOT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.JupiterQuoteURL, "SNIPEBOT_SOLANA_JUPITER_QUOTE_URL")
	setStr(&cfg.Solana.JupiterSwapURL, "SNIPEBOT_SOLANA_JUPITER_SWAP_URL")
	setStr(&cfg.Solana.JupiterAPIKey, "SNIPEBOT_SOLANA_JUPITER_API_KEY")
	setStr(&cfg.Solana.JitoURL, "SNIPEBOT_SOLANA_JITO_URL")
	setFloat64(&cfg.Solana.RPCRPS, "SNIPEBOT_SOLANA_RPC_RPS")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinScore, "SNIPEBOT_TRADING_MIN_SCORE")
	setFloat64(&cfg.Trading.AmountSOL, "SNIPEBOT_TRADING_AMOUNT_SOL")
	setInt(&cfg.Trading.MaxSlippageBps, "SNIPEBOT_TRADING_MAX_SLIPPAGE_BPS")
	setUint64(&cfg.Trading.PriorityFeeLamports, "SNIPEBOT_TRADING_PRIORITY_FEE_LAMPORTS")
	setBool(&cfg.Trading.UseJito, "SNIPEBOT_TRADING_USE_JITO")
	setUint64(&cfg.Trading.JitoTipLamports, "SNIPEBOT_TRADING_JITO_TIP_LAMPORTS")
	setFloat64(&cfg.Trading.TrailingStopPct, "SNIPEBOT_TRADING_TRAILING_STOP_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "SNIPEBOT_TRADING_STOP_LOSS_PCT")
	setBool(&cfg.Trading.KellySizing, "SNIPEBOT_TRADING_KELLY_SIZING")
	setStr(&cfg.Trading.Strategy, "SNIPEBOT_TRADING_STRATEGY")

	// ── Risk ──
	setInt(&cfg.Risk.MaxPositions, "SNIPEBOT_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxDailyLossSOL, "SNIPEBOT_RISK_MAX_DAILY_LOSS_SOL")
	setFloat64(&cfg.Risk.MaxSingleTokenSOL, "SNIPEBOT_RISK_MAX_SINGLE_TOKEN_SOL")
	setInt(&cfg.Risk.PauseAfterConsecutiveLosses, "SNIPEBOT_RISK_PAUSE_AFTER_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Risk.MinBalanceSOL, "SNIPEBOT_RISK_MIN_BALANCE_SOL")
	setStr(&cfg.Risk.Timezone, "SNIPEBOT_RISK_TIMEZONE")

	// ── Execution / monitor ──
	setInt(&cfg.Execution.MaxRetries, "SNIPEBOT_EXECUTION_MAX_RETRIES")
	setDuration(&cfg.Execution.RetryBase, "SNIPEBOT_EXECUTION_RETRY_BASE")
	setDuration(&cfg.Execution.ConfirmTimeout, "SNIPEBOT_EXECUTION_CONFIRM_TIMEOUT")
	setDuration(&cfg.Execution.OrderTimeout, "SNIPEBOT_EXECUTION_ORDER_TIMEOUT")
	setInt(&cfg.Execution.RateLimitPerMin, "SNIPEBOT_EXECUTION_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Monitor.Interval, "SNIPEBOT_MONITOR_INTERVAL")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "SNIPEBOT_FEED_WS_URL")
	setStr(&cfg.Feed.SubscribeMethod, "SNIPEBOT_FEED_SUBSCRIBE_METHOD")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SNIPEBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL")
	setStr(&cfg.Supabase.Host, "SNIPEBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SNIPEBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SNIPEBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SNIPEBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SNIPEBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SNIPEBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SNIPEBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SNIPEBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SNIPEBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPEBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SNIPEBOT_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPEBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "SNIPEBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SNIPEBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SNIPEBOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SNIPEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthToken, "SNIPEBOT_SERVER_AUTH_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
