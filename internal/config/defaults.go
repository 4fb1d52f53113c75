package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DefaultProvider:       "openai",
			MaxConcurrentMessages: 5,
			MaxRetries:            3,
			HistoryLimit:          50,
			RatePerMinute:         30,
			RateBurst:             5,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
				MaxTokens:    2048,
				Temperature:  0.7,
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   true,
				Token:     "${TELEGRAM_BOT_TOKEN}",
				ParseMode: "Markdown",
			},
			Slack:   SlackConfig{Enabled: false},
			Discord: DiscordConfig{Enabled: false},
			CLI:     CLIConfig{Enabled: false},
		},
		Registration: RegistrationConfig{
			Enabled:        false,
			AllowedDomains: []string{"ehu.lt", "student.ehu.lt"},
			SMTP: SMTPConfig{
				Port:     587,
				Password: "${EMAIL_PASSWORD}",
			},
		},
		Prompts: PromptsConfig{},
		Store: StoreConfig{
			DBPath: "~/.mootbot/mootbot.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
			Path:    "/metrics",
		},
	}
}
