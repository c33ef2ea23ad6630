// Package config defines the top-level configuration for the sniping bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/strategy"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SNIPEBOT_* environment
// variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Solana    SolanaConfig    `toml:"solana"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Filters   FiltersConfig   `toml:"filters"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Feed      FeedConfig      `toml:"feed"`
	Paper     PaperConfig     `toml:"paper"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	// Profile applies a preset (conservative, moderate, aggressive) to the
	// trading and risk fields the file leaves unset.
	Profile  string `toml:"profile"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// WalletConfig holds the primary wallet and any extra trading accounts.
type WalletConfig struct {
	PrivateKey       string          `toml:"private_key"`
	EncryptedKeyPath string          `toml:"encrypted_key_path"`
	KeyPassword      string          `toml:"key_password"`
	Accounts         []AccountConfig `toml:"accounts"`
}

// AccountConfig is one additional wallet traded in parallel.
type AccountConfig struct {
	Name             string `toml:"name"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds RPC and swap routing endpoints.
type SolanaConfig struct {
	RPCURL          string  `toml:"rpc_url"`
	JupiterQuoteURL string  `toml:"jupiter_quote_url"`
	JupiterSwapURL  string  `toml:"jupiter_swap_url"`
	JupiterAPIKey   string  `toml:"jupiter_api_key"`
	JitoURL         string  `toml:"jito_url"`
	RPCRPS          float64 `toml:"rpc_rps"`
	TokenDecimals   int     `toml:"token_decimals"`
}

// TradingConfig holds entry and exit parameters.
type TradingConfig struct {
	MinScore            float64                 `toml:"min_score"`
	AmountSOL           float64                 `toml:"amount_sol"`
	MaxSlippageBps      int                     `toml:"max_slippage_bps"`
	PriorityFeeLamports uint64                  `toml:"priority_fee_lamports"`
	UseJito             bool                    `toml:"use_jito"`
	JitoTipLamports     uint64                  `toml:"jito_tip_lamports"`
	TrailingStopPct     float64                 `toml:"trailing_stop_pct"`
	StopLossPct         float64                 `toml:"stop_loss_pct"`
	TakeProfitTiers     []domain.TakeProfitTier `toml:"take_profit_tiers"`
	KellySizing         bool                    `toml:"kelly_sizing"`
	// Strategy names the entry strategy consulted before the risk gate.
	Strategy string `toml:"strategy"`
}

// RiskConfig holds the hard limits enforced by the risk ledger.
type RiskConfig struct {
	MaxPositions                int     `toml:"max_positions"`
	MaxDailyLossSOL             float64 `toml:"max_daily_loss_sol"`
	MaxSingleTokenSOL           float64 `toml:"max_single_token_sol"`
	PauseAfterConsecutiveLosses int     `toml:"pause_after_consecutive_losses"`
	MinBalanceSOL               float64 `toml:"min_balance_sol"`
	// Timezone names the IANA zone whose midnight starts a trading day.
	Timezone string `toml:"timezone"`
}

// ExecutionConfig tunes order submission.
type ExecutionConfig struct {
	MaxRetries         int      `toml:"max_retries"`
	RetryBase          duration `toml:"retry_base"`
	ConfirmTimeout     duration `toml:"confirm_timeout"`
	BundlePollInterval duration `toml:"bundle_poll_interval"`
	OrderTimeout       duration `toml:"order_timeout"`
	RateLimitPerMin    int      `toml:"rate_limit_per_min"`
}

// MonitorConfig holds the position monitor cadence.
type MonitorConfig struct {
	Interval duration `toml:"interval"`
}

// FiltersConfig holds the safety filter rules.
type FiltersConfig struct {
	BlacklistPatterns        []string `toml:"blacklist_patterns"`
	RequireMintRenounced     bool     `toml:"require_mint_renounced"`
	RequireFreezeDisabled    bool     `toml:"require_freeze_disabled"`
	MaxCreatorRugCount       int      `toml:"max_creator_rug_count"`
	MinCreatorWalletAgeHours float64  `toml:"min_creator_wallet_age_hours"`
}

// ScoringConfig tunes the heuristic scoring oracle.
type ScoringConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
}

// FeedConfig holds the new-token stream parameters.
type FeedConfig struct {
	WSURL           string   `toml:"ws_url"`
	SubscribeMethod string   `toml:"subscribe_method"`
	DedupTTL        duration `toml:"dedup_ttl"`
}

// PaperConfig holds the simulator parameters used in paper mode.
type PaperConfig struct {
	StartingBalanceSOL float64 `toml:"starting_balance_sol"`
	SlippageBps        int     `toml:"slippage_bps"`
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

// RedisConfig holds Redis connection parameters. An empty Addr runs the bot
// without redis: no trader lease, in-process rate limiting, no event bridge.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	LeaseTTL   duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage archive job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "500ms", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthToken guards the API. Control actions are refused while it is
	// empty.
	AuthToken         string `toml:"auth_token"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:          "https://api.mainnet-beta.solana.com",
			JupiterQuoteURL: "https://lite-api.jup.ag/swap/v1/quote",
			JupiterSwapURL:  "https://lite-api.jup.ag/swap/v1/swap",
			JitoURL:         "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
			RPCRPS:          10,
			TokenDecimals:   6,
		},
		Trading: TradingConfig{
			MinScore:            65,
			AmountSOL:           0.05,
			MaxSlippageBps:      1000,
			PriorityFeeLamports: 100_000,
			UseJito:             true,
			JitoTipLamports:     10_000,
			TrailingStopPct:     20,
			StopLossPct:         50,
			TakeProfitTiers: []domain.TakeProfitTier{
				{Multiplier: 2, SellPct: 25},
				{Multiplier: 3, SellPct: 25},
				{Multiplier: 5, SellPct: 25},
				{Multiplier: 10, SellPct: 25},
			},
			Strategy: "default",
		},
		Risk: RiskConfig{
			MaxPositions:                5,
			MaxDailyLossSOL:             0.5,
			MaxSingleTokenSOL:           0.2,
			PauseAfterConsecutiveLosses: 3,
			MinBalanceSOL:               0.1,
			Timezone:                    "UTC",
		},
		Execution: ExecutionConfig{
			MaxRetries:         3,
			RetryBase:          duration{time.Second},
			ConfirmTimeout:     duration{60 * time.Second},
			BundlePollInterval: duration{2 * time.Second},
			OrderTimeout:       duration{90 * time.Second},
			RateLimitPerMin:    10,
		},
		Monitor: MonitorConfig{
			Interval: duration{500 * time.Millisecond},
		},
		Filters: FiltersConfig{
			BlacklistPatterns:        []string{"test", "rug", "scam", "honeypot", "fake"},
			RequireMintRenounced:     true,
			RequireFreezeDisabled:    true,
			MaxCreatorRugCount:       0,
			MinCreatorWalletAgeHours: 1,
		},
		Scoring: ScoringConfig{
			ConfidenceThreshold: 0.6,
		},
		Feed: FeedConfig{
			WSURL:           "wss://pumpportal.fun/api/data",
			SubscribeMethod: "subscribeNewToken",
			DedupTTL:        duration{10 * time.Minute},
		},
		Paper: PaperConfig{
			StartingBalanceSOL: 10,
			SlippageBps:        100,
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
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{30 * time.Second},
			LeaseTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snipebot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade", "position_action", "error"},
		},
		Profile:  "moderate",
		Mode:     "paper",
		LogLevel: "info",
	}
}

// Profile is a risk preset.
type Profile struct {
	MinScore        float64
	MaxPositions    int
	TrailingStopPct float64
}

// Profiles are the built-in risk presets.
var Profiles = map[string]Profile{
	"conservative": {MinScore: 80, MaxPositions: 3, TrailingStopPct: 25},
	"moderate":     {MinScore: 65, MaxPositions: 5, TrailingStopPct: 20},
	"aggressive":   {MinScore: 50, MaxPositions: 10, TrailingStopPct: 15},
}

var validModes = map[string]bool{
	"trade":  true,
	"paper":  true,
	"server": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode signs real transactions.
func (c *Config) NeedsWallet() bool {
	return strings.EqualFold(c.Mode, "trade")
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, paper, server)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if c.Profile != "" {
		if _, ok := Profiles[strings.ToLower(c.Profile)]; !ok {
			add("unknown profile %q (valid: conservative, moderate, aggressive)", c.Profile)
		}
	}

	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		for i, a := range c.Wallet.Accounts {
			if a.PrivateKey == "" && a.EncryptedKeyPath == "" {
				add("wallet.accounts[%d]: either private_key or encrypted_key_path must be set", i)
			}
			if a.EncryptedKeyPath != "" && a.KeyPassword == "" {
				add("wallet.accounts[%d]: key_password is required when encrypted_key_path is set", i)
			}
		}
		if c.Solana.RPCURL == "" {
			add("solana: rpc_url must not be empty")
		}
		if c.Solana.JupiterQuoteURL == "" || c.Solana.JupiterSwapURL == "" {
			add("solana: jupiter_quote_url and jupiter_swap_url must be set")
		}
		if c.Trading.UseJito && c.Solana.JitoURL == "" {
			add("solana: jito_url is required when trading.use_jito is set")
		}
	}
	if c.Solana.TokenDecimals < 0 || c.Solana.TokenDecimals > 12 {
		add("solana: token_decimals must be 0-12, got %d", c.Solana.TokenDecimals)
	}

	// Trading
	if c.Trading.MinScore < 0 || c.Trading.MinScore > 100 {
		add("trading: min_score must be 0-100, got %g", c.Trading.MinScore)
	}
	if c.Trading.AmountSOL <= 0 {
		add("trading: amount_sol must be > 0")
	}
	if c.Trading.MaxSlippageBps <= 0 || c.Trading.MaxSlippageBps > 10_000 {
		add("trading: max_slippage_bps must be 1-10000, got %d", c.Trading.MaxSlippageBps)
	}
	if c.Trading.TrailingStopPct <= 0 || c.Trading.TrailingStopPct >= 100 {
		add("trading: trailing_stop_pct must be between 0 and 100")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct > 100 {
		add("trading: stop_loss_pct must be in (0, 100]")
	}
	if _, err := strategy.Builtin().Get(c.Trading.Strategy); err != nil {
		add("trading: strategy must be one of %s, got %q", strings.Join(strategy.Builtin().List(), ", "), c.Trading.Strategy)
	}
	prev := 1.0
	for i, t := range c.Trading.TakeProfitTiers {
		if t.Multiplier <= prev {
			add("trading: take_profit_tiers[%d].multiplier must exceed %g", i, prev)
		}
		if t.SellPct <= 0 || t.SellPct > 100 {
			add("trading: take_profit_tiers[%d].sell_pct must be in (0, 100]", i)
		}
		prev = t.Multiplier
	}

	// Risk
	if c.Risk.MaxPositions < 1 {
		add("risk: max_positions must be >= 1")
	}
	if c.Risk.MaxDailyLossSOL <= 0 {
		add("risk: max_daily_loss_sol must be > 0")
	}
	if c.Risk.MaxSingleTokenSOL <= 0 {
		add("risk: max_single_token_sol must be > 0")
	}
	if c.Risk.PauseAfterConsecutiveLosses < 1 {
		add("risk: pause_after_consecutive_losses must be >= 1")
	}
	if c.Risk.MinBalanceSOL < 0 {
		add("risk: min_balance_sol must be >= 0")
	}
	if c.Risk.Timezone != "" {
		if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
			add("risk: unknown timezone %q", c.Risk.Timezone)
		}
	}

	// Execution
	if c.Execution.MaxRetries < 1 {
		add("execution: max_retries must be >= 1")
	}
	if c.Execution.RetryBase.Duration < 0 {
		add("execution: retry_base must not be negative")
	}
	if c.Execution.ConfirmTimeout.Duration <= 0 {
		add("execution: confirm_timeout must be > 0")
	}
	if c.Execution.OrderTimeout.Duration <= c.Execution.ConfirmTimeout.Duration {
		add("execution: order_timeout must exceed confirm_timeout")
	}
	if c.Execution.RateLimitPerMin < 0 {
		add("execution: rate_limit_per_min must be >= 0")
	}
	if c.Monitor.Interval.Duration <= 0 {
		add("monitor: interval must be > 0")
	}

	if !strings.EqualFold(c.Mode, "server") && c.Feed.WSURL == "" {
		add("feed: ws_url must not be empty")
	}
	if c.Paper.StartingBalanceSOL <= 0 && strings.EqualFold(c.Mode, "paper") {
		add("paper: starting_balance_sol must be > 0")
	}

	// Supabase
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
		add("supabase: pool_min_conns must be 0-pool_max_conns")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			add("s3: endpoint and bucket must be set when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location resolves Risk.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Risk.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
