package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the copy.
	if cfg.Symbols != nil {
		out.Symbols = make([]string, len(cfg.Symbols))
		copy(out.Symbols, cfg.Symbols)
	}
	if cfg.Metrics.DepthBandsBps != nil {
		out.Metrics.DepthBandsBps = make([]int, len(cfg.Metrics.DepthBandsBps))
		copy(out.Metrics.DepthBandsBps, cfg.Metrics.DepthBandsBps)
	}
	if cfg.Metrics.NotionalsUSD != nil {
		out.Metrics.NotionalsUSD = make([]float64, len(cfg.Metrics.NotionalsUSD))
		copy(out.Metrics.NotionalsUSD, cfg.Metrics.NotionalsUSD)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
