// Package doctor runs runtime readiness diagnostics for config, audio,
// the transcriber backend, and the remote API.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/marvinmvns/whisperlisten-go/internal/audio"
	"github.com/marvinmvns/whisperlisten-go/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options selects which subset of checks `test` should run; an empty
// Options runs everything.
type Options struct {
	Mic         bool
	Transcriber bool
	Remote      bool
}

// any reports whether at least one check was requested.
func (o Options) any() bool {
	return o.Mic || o.Transcriber || o.Remote
}

// Run executes config/audio/transcriber/remote-API readiness checks for a
// loaded config, backing the `whisperlistend test` subcommand.
func Run(ctx context.Context, cfg config.Loaded, opts Options) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	runAll := !opts.any()

	if runAll || opts.Mic {
		checks = append(checks, checkAudioDevice(ctx, cfg.Config))
	}
	if runAll || opts.Transcriber {
		checks = append(checks, checkTranscriberBackend(cfg.Config))
	}
	if runAll || opts.Remote {
		checks = append(checks, checkRemoteAPI(cfg.Config))
	}

	return Report{Checks: checks}
}

// checkAudioDevice runs live device selection and a short capture test to
// surface selection, fallback, and permission issues.
func checkAudioDevice(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}

	if err := audio.Test(ctx, selection.Device, cfg.Audio.SampleRate, cfg.Audio.FrameMillis, 500*time.Millisecond); err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}

	message := fmt.Sprintf("captured from %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkTranscriberBackend verifies the configured backend's model path (for
// cpp/fast) exists and is readable, without loading the full model.
func checkTranscriberBackend(cfg config.Config) Check {
	backend := strings.ToLower(strings.TrimSpace(cfg.Transcriber.Backend))
	if backend == "reference" {
		return Check{Name: "transcriber.backend", Pass: true, Message: "reference backend requires no model"}
	}

	path := cfg.Transcriber.ModelPath
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: "transcriber.backend", Pass: false, Message: fmt.Sprintf("model_path %q: %v", path, err)}
	}
	if info.IsDir() {
		return Check{Name: "transcriber.backend", Pass: false, Message: fmt.Sprintf("model_path %q is a directory", path)}
	}
	return Check{Name: "transcriber.backend", Pass: true, Message: fmt.Sprintf("%s backend model found at %s (%d bytes)", backend, path, info.Size())}
}

// checkRemoteAPI probes the configured remote API's /health endpoint.
func checkRemoteAPI(cfg config.Config) Check {
	base := strings.TrimSpace(cfg.API.URL)
	if base == "" {
		return Check{Name: "api.remote", Pass: false, Message: "api.url is empty"}
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := strings.TrimRight(base, "/") + "/health"
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return Check{Name: "api.remote", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "api.remote", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}

	_ = body
	return Check{Name: "api.remote", Pass: true, Message: fmt.Sprintf("reachable at %s", url)}
}
