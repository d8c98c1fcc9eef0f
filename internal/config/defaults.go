package config

// Default returns the canonical runtime configuration used when no file is
// present, mirroring the option defaults in the configuration reference.
func Default() Config {
	return Config{
		API: APIConfig{
			URL:       "",
			Token:     "",
			AuthStyle: "bearer",
			UserAgent: "whisperlisten-go/1",
		},
		Audio: AudioConfig{
			Input:       "default",
			Fallback:    "default",
			SampleRate:  16000,
			FrameMillis: 30,
		},
		VAD: VADConfig{
			Aggressiveness:         2,
			SilenceDurationMs:      1000,
			MinRecordingDurationMs: 500,
		},
		Transcriber: TranscriberConfig{
			Backend:   "cpp",
			ModelPath: "./models/ggml-base.bin",
			Language:  "en",
			NThreads:  4,
		},
		Queue: QueueConfig{
			MaxRetries:            5,
			BaseRetryDelaySeconds: 1,
			MaxRetryDelaySeconds:  300,
			RetentionDays:         7,
		},
		Sender: SenderConfig{
			ConnectivityCheckIntervalSeconds: 5,
			SendCheckIntervalSeconds:         2,
			RequestTimeoutSeconds:            10,
			MaxConcurrentSends:               3,
		},
		Paths: PathsConfig{
			TempDir:   "./data/temp",
			OutputDir: "./data/transcripts",
			QueueDir:  "./data/queue",
			LogDir:    "./logs",
		},
		Debug: DebugConfig{},
	}
}
