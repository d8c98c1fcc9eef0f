package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.FrameMillis <= 0 {
		return nil, fmt.Errorf("audio.frame_millis must be > 0")
	}
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad.aggressiveness must be within 0-3")
	}
	if cfg.VAD.SilenceDurationMs <= 0 {
		return nil, fmt.Errorf("vad.silence_duration_ms must be > 0")
	}
	if cfg.VAD.SilenceDurationMs%cfg.Audio.FrameMillis != 0 {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf(
				"vad.silence_duration_ms=%d is not an exact multiple of audio.frame_millis=%d; pre-roll depth will be rounded",
				cfg.VAD.SilenceDurationMs, cfg.Audio.FrameMillis,
			),
		})
	}
	if cfg.VAD.MinRecordingDurationMs <= 0 {
		return nil, fmt.Errorf("vad.min_recording_duration_ms must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Transcriber.Backend))
	if backend != "cpp" && backend != "fast" && backend != "reference" {
		return nil, fmt.Errorf("transcriber.backend must be one of: cpp, fast, reference")
	}
	if backend != "reference" && strings.TrimSpace(cfg.Transcriber.ModelPath) == "" {
		return nil, fmt.Errorf("transcriber.model_path must not be empty for backend %q", backend)
	}
	if cfg.Transcriber.NThreads <= 0 {
		return nil, fmt.Errorf("transcriber.n_threads must be > 0")
	}

	if cfg.Queue.MaxRetries <= 0 {
		return nil, fmt.Errorf("queue.max_retries must be > 0")
	}
	if cfg.Queue.BaseRetryDelaySeconds <= 0 {
		return nil, fmt.Errorf("queue.base_retry_delay must be > 0")
	}
	if cfg.Queue.MaxRetryDelaySeconds < cfg.Queue.BaseRetryDelaySeconds {
		return nil, fmt.Errorf("queue.max_retry_delay must be >= queue.base_retry_delay")
	}
	if cfg.Queue.RetentionDays < 0 {
		return nil, fmt.Errorf("queue.retention_days must be >= 0")
	}

	if cfg.Sender.ConnectivityCheckIntervalSeconds <= 0 {
		return nil, fmt.Errorf("sender.connectivity_check_interval must be > 0")
	}
	if cfg.Sender.SendCheckIntervalSeconds <= 0 {
		return nil, fmt.Errorf("sender.send_check_interval must be > 0")
	}
	if cfg.Sender.RequestTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("sender.request_timeout must be > 0")
	}
	if cfg.Sender.MaxConcurrentSends <= 0 {
		return nil, fmt.Errorf("sender.max_concurrent_sends must be > 0")
	}

	authStyle := strings.ToLower(strings.TrimSpace(cfg.API.AuthStyle))
	if authStyle != "bearer" && authStyle != "api_key" {
		return nil, fmt.Errorf("api.auth_style must be one of: bearer, api_key")
	}

	if strings.TrimSpace(cfg.API.URL) == "" {
		warnings = append(warnings, Warning{Message: "api.url is empty; the Sender will be unable to dispatch"})
	}
	if strings.TrimSpace(cfg.API.Token) == "" {
		warnings = append(warnings, Warning{Message: "api.token is empty; requests will be sent unauthenticated"})
	}

	for name, dir := range map[string]string{
		"paths.temp_dir":   cfg.Paths.TempDir,
		"paths.output_dir": cfg.Paths.OutputDir,
		"paths.queue_dir":  cfg.Paths.QueueDir,
		"paths.log_dir":    cfg.Paths.LogDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("%s must not be empty", name)
		}
	}

	return warnings, nil
}
