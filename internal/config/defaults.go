package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Platforms: PlatformsConfig{
			SMS: SMSConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Gmail: GmailConfig{
				Enabled: false,
				UserID:  "me",
				Query:   "in:inbox",
			},
		},
		Processing: ProcessingConfig{
			BusBufferSize: 100,
		},
		Storage: StorageConfig{
			DBPath: "~/.ghostrider/ghostrider.db",
		},
		Web: WebConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}
}
