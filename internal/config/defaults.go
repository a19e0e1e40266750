package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:           "info",
			DefaultProvider:    "anthropic",
			TurnTimeoutSeconds: 120,
		},
		Slack: SlackConfig{
			MaxMessageLen: 3000,
			Cursor:        ":robot_face:",
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Enabled: true,
				APIKey:  "${ANTHROPIC_API_KEY}",
			},
		},
		Store: StoreConfig{
			Path:            "~/.relaybot/store",
			TTLSeconds:      3600,
			ThrottleCeiling: 100,
			FailOpen:        true,
		},
		Context: ContextConfig{
			ByteBudget: 4000,
		},
		Server: ServerConfig{
			Port:        9090,
			Path:        "/slack/events",
			Concurrency: 5,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
