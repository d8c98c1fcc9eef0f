// Package audio handles device discovery, selection, and PCM capture streams.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/marvinmvns/whisperlisten-go/internal/apperr"
	"github.com/marvinmvns/whisperlisten-go/internal/frame"
)

const appName = "whisperlisten-go"

// Device describes one Pulse input source surfaced to the agent.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, apperr.New(apperr.KindAudioDevice, "connect pulse server", err)
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, apperr.New(apperr.KindAudioDevice, "read default source", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, apperr.New(apperr.KindAudioDevice, "list sources", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves audio.input/audio.fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, apperr.New(apperr.KindAudioDevice, "select device", errors.New("no audio input devices found"))
	}

	var (
		defaultDevice *Device
		byInput       *Device
		byFallback    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && input != "default" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && fallback != "default" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	chooseDefault := func() (*Device, error) {
		if defaultDevice == nil {
			return nil, errors.New("default audio source is unavailable")
		}
		return defaultDevice, nil
	}

	selectPrimary := func() (*Device, error) {
		if input == "" || input == "default" {
			return chooseDefault()
		}
		if byInput != nil {
			return byInput, nil
		}
		return nil, fmt.Errorf("audio.input %q did not match any device", input)
	}

	primary, err := selectPrimary()
	if err != nil {
		return Selection{}, apperr.New(apperr.KindAudioDevice, "select device", err)
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	fallbackDevice := primary
	if fallback != "" && fallback != "default" {
		if byFallback == nil {
			return Selection{}, apperr.New(apperr.KindAudioDevice, "select device",
				fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, primaryReason, fallback))
		}
		fallbackDevice = byFallback
	} else {
		d, derr := chooseDefault()
		if derr != nil {
			return Selection{}, apperr.New(apperr.KindAudioDevice, "select device",
				fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, primaryReason, derr))
		}
		fallbackDevice = d
	}

	if !fallbackDevice.Available {
		return Selection{}, apperr.New(apperr.KindAudioDevice, "select device",
			fmt.Errorf("audio fallback device %q is not available", fallbackDevice.ID))
	}
	if fallbackDevice.Muted {
		return Selection{}, apperr.New(apperr.KindAudioDevice, "select device",
			fmt.Errorf("audio fallback device %q is muted", fallbackDevice.ID))
	}

	return Selection{
		Device:   *fallbackDevice,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primaryReason, fallbackDevice.ID),
		Fallback: primary.ID != fallbackDevice.ID,
	}, nil
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// Source streams fixed-size PCM frames from one selected Pulse source.
// ReadFrame blocks for exactly one frameSamples-sample frame.
type Source struct {
	device       Device
	sampleRate   int
	frameSamples int

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan frame.Frame
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// Open dials the selected Pulse source and starts a mono s16 record stream
// framed at frameMillis milliseconds per frame.
func Open(ctx context.Context, selected Device, sampleRate int, frameMillis int) (*Source, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, apperr.New(apperr.KindAudioDevice, "connect pulse server", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, apperr.New(apperr.KindAudioDevice, "resolve source", fmt.Errorf("%q: %w", selected.ID, err))
	}

	frameSamples := sampleRate * frameMillis / 1000
	frameBytes := frameSamples * 2

	src := &Source{
		device:       selected,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		client:       client,
		frames:       make(chan frame.Frame, 64),
		stopCh:       make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(func(b []byte) (int, error) {
		return src.onPCM(b, frameBytes)
	}), pulseproto.FormatInt16LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(uint32(sampleRate)),
		pulse.RecordBufferFragmentSize(uint32(frameBytes)),
		pulse.RecordMediaName(appName+" capture"),
	)
	if err != nil {
		src.Close()
		return nil, apperr.New(apperr.KindAudioDevice, "create pulse record stream", err)
	}

	src.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = src.Close()
	}()

	return src, nil
}

// Device returns capture metadata for logging and diagnostics.
func (s *Source) Device() Device {
	return s.device
}

// ReadFrame blocks until one fixed-size frame is available, the context is
// cancelled, or the stream has stopped.
func (s *Source) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return frame.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// BytesCaptured reports total bytes accepted from Pulse.
func (s *Source) BytesCaptured() int64 {
	return s.bytes.Load()
}

// Close halts the stream, flushes residual PCM as a final short frame, and
// closes the frame channel exactly once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	pending := append([]byte(nil), s.pending...)
	s.pending = nil
	s.mu.Unlock()

	if len(pending) > 0 {
		select {
		case s.frames <- frame.FromBytes(pending, s.sampleRate, time.Now()):
		default:
		}
	}

	close(s.frames)
	return nil
}

// onPCM receives raw Pulse frames and emits frameBytes-sized slices to s.frames.
func (s *Source) onPCM(buffer []byte, frameBytes int) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)

	s.pending = append(s.pending, buffer...)

	var out []frame.Frame
	for len(s.pending) >= frameBytes {
		chunk := make([]byte, frameBytes)
		copy(chunk, s.pending[:frameBytes])
		s.pending = s.pending[frameBytes:]
		out = append(out, frame.FromBytes(chunk, s.sampleRate, time.Now()))
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	s.bytes.Add(int64(len(buffer)))

	for _, f := range out {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.frames <- f:
		}
	}

	return len(buffer), nil
}

// Test captures from the selected device for duration and reports an
// AudioDeviceError if no samples were captured.
func Test(ctx context.Context, selected Device, sampleRate int, frameMillis int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration+time.Second)
	defer cancel()

	src, err := Open(ctx, selected, sampleRate, frameMillis)
	if err != nil {
		return err
	}
	defer src.Close()

	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			if src.BytesCaptured() == 0 {
				return apperr.New(apperr.KindAudioDevice, "test capture", errors.New("no audio samples captured"))
			}
			return nil
		case <-ctx.Done():
			return apperr.New(apperr.KindAudioDevice, "test capture", ctx.Err())
		default:
			if _, err := src.ReadFrame(ctx); err != nil && !errors.Is(err, io.EOF) {
				return apperr.New(apperr.KindAudioDevice, "test capture", err)
			}
		}
	}
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
