package config

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	copy.Telegram.APIHash = maskString(copy.Telegram.APIHash)
	copy.Telegram.Token = maskString(copy.Telegram.Token)
	copy.Slack.BotToken = maskString(copy.Slack.BotToken)
	copy.Discord.Token = maskString(copy.Discord.Token)
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
