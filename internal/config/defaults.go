package config

func Defaults() *Config {
	return &Config{
		Platform: "telegram",
		Telegram: TelegramConfig{
			ParseMode: "Markdown",
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.telesend/chats.db",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Template is the config written by "telesend config init": credentials are
// read from the environment when the file is loaded.
func Template() *Config {
	cfg := Defaults()
	cfg.Telegram.APIID = "${TELESEND_API_ID}"
	cfg.Telegram.APIHash = "${TELESEND_API_HASH}"
	cfg.Slack.BotToken = "${TELESEND_SLACK_TOKEN}"
	cfg.Discord.Token = "${TELESEND_DISCORD_TOKEN}"
	return cfg
}
