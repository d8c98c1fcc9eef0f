// Package config resolves, parses, validates, and defaults whisperlisten-go
// runtime configuration.
package config

// Config is the fully materialized runtime configuration used by the agent.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Queue       QueueConfig       `yaml:"queue"`
	Sender      SenderConfig      `yaml:"sender"`
	Paths       PathsConfig       `yaml:"paths"`
	Debug       DebugConfig       `yaml:"debug"`
}

// APIConfig controls the remote forwarding endpoint and credential.
type APIConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	AuthStyle string `yaml:"auth_style"` // "bearer" (default) or "api_key"
	UserAgent string `yaml:"user_agent"`
}

// AudioConfig controls capture device selection and framing.
type AudioConfig struct {
	Input       string `yaml:"input"`
	Fallback    string `yaml:"fallback"`
	SampleRate  int    `yaml:"sample_rate"`
	FrameMillis int    `yaml:"frame_millis"`
}

// VADConfig controls Segmenter speech/silence classification and timing.
type VADConfig struct {
	Aggressiveness         int `yaml:"aggressiveness"`
	SilenceDurationMs      int `yaml:"silence_duration_ms"`
	MinRecordingDurationMs int `yaml:"min_recording_duration_ms"`
}

// TranscriberConfig controls backend selection and tuning.
type TranscriberConfig struct {
	Backend   string `yaml:"backend"` // "cpp", "fast", or "reference"
	ModelPath string `yaml:"model_path"`
	ModelName string `yaml:"model_name"`
	Language  string `yaml:"language"`
	NThreads  int    `yaml:"n_threads"`
}

// QueueConfig controls retry scheduling and retention.
type QueueConfig struct {
	MaxRetries            int `yaml:"max_retries"`
	BaseRetryDelaySeconds int `yaml:"base_retry_delay"`
	MaxRetryDelaySeconds  int `yaml:"max_retry_delay"`
	RetentionDays         int `yaml:"retention_days"`
}

// SenderConfig controls connectivity probing, dispatch cadence, and
// concurrency caps.
type SenderConfig struct {
	ConnectivityCheckIntervalSeconds int `yaml:"connectivity_check_interval"`
	SendCheckIntervalSeconds         int `yaml:"send_check_interval"`
	RequestTimeoutSeconds            int `yaml:"request_timeout"`
	MaxConcurrentSends               int `yaml:"max_concurrent_sends"`
}

// PathsConfig controls filesystem roots for transient and durable state.
type PathsConfig struct {
	TempDir   string `yaml:"temp_dir"`
	OutputDir string `yaml:"output_dir"`
	QueueDir  string `yaml:"queue_dir"`
	LogDir    string `yaml:"log_dir"`
}

// DebugConfig controls optional diagnostics surfaces.
type DebugConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
