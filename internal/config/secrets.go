package config

import "slices"

// Redacted returns a copy of cfg with sensitive fields replaced by "***".
// Use it when logging the active configuration.
func Redacted(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	out.Wallet.Accounts = slices.Clone(cfg.Wallet.Accounts)
	for i := range out.Wallet.Accounts {
		redact(&out.Wallet.Accounts[i].PrivateKey)
		redact(&out.Wallet.Accounts[i].KeyPassword)
	}

	redact(&out.Solana.JupiterAPIKey)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.AuthToken)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value cannot alias the original.
	out.Trading.TakeProfitTiers = slices.Clone(cfg.Trading.TakeProfitTiers)
	out.Filters.BlacklistPatterns = slices.Clone(cfg.Filters.BlacklistPatterns)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
