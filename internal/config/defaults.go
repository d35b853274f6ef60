package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Frontend: "cli",
		},
		API: APIConfig{
			BaseURL:  "http://localhost:5000",
			Language: "bn",
		},
		Speech: SpeechConfig{
			Enabled:           false,
			Locale:            "bn-BD",
			AudioFilename:     "speech.wav",
			PartialIntervalMs: 3000,
		},
		History: HistoryConfig{
			Enabled:   false,
			DBPath:    "~/.tiaapa/history.db",
			ListLimit: 20,
		},
		Locale: LocaleConfig{
			Catalog: "bn",
		},
	}
}
