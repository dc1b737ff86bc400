// Package pulsecapture implements the capture.CaptureProvider contract on
// top of PulseAudio: a mono microphone RecordStream for MicProvider, and
// the current default sink's ".monitor" source for SystemProvider. Device
// enumeration and transport classification are grounded on the same
// GetSourceInfoList request used for device listing elsewhere in the
// stack.
package pulsecapture

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/owlcap/duocap/internal/capture"
)

const applicationName = "duocap"

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

func newClient() (*pulse.Client, error) {
	return pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
}

// MicProvider captures one mono microphone source.
type MicProvider struct {
	// DeviceID selects a specific Pulse source by name; empty means the
	// server's current default source.
	DeviceID string
	// SampleRate is the rate requested from the server. Every buffer
	// handed to the callback reports this rate, so capture.ProbeMicRate
	// observes this value for this provider.
	SampleRate int

	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.RecordStream
	started bool
}

// NewMicProvider returns a MicProvider bound to deviceID ("" for default)
// at the given request sample rate.
func NewMicProvider(deviceID string, sampleRate int) *MicProvider {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &MicProvider{DeviceID: deviceID, SampleRate: sampleRate}
}

func (p *MicProvider) resolveSource(client *pulse.Client) (*pulse.Source, error) {
	if p.DeviceID == "" {
		return client.DefaultSource()
	}
	return client.SourceByID(p.DeviceID)
}

// IsAvailable opens a throwaway client connection to confirm the target
// source currently resolves.
func (p *MicProvider) IsAvailable(_ context.Context) bool {
	client, err := newClient()
	if err != nil {
		return false
	}
	defer client.Close()

	_, err = p.resolveSource(client)
	return err == nil
}

// Start opens a fresh Pulse connection and record stream. It is safe to
// call again after Stop, which callers rely on for the microphone rate
// probe followed immediately by the real capture start.
func (p *MicProvider) Start(ctx context.Context, callback capture.Callback) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pulsecapture: mic provider already started")
	}
	p.mu.Unlock()

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := p.resolveSource(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("resolve microphone source: %w", err)
	}

	rate := p.SampleRate
	writer := pulse.NewWriter(writerFunc(func(buf []byte) (int, error) {
		samples := bytesToFloat32(buf)
		callback(capture.PCMBuffer{Samples: samples, Channels: 1, SampleRate: float64(rate)}, time.Now())
		return len(buf), nil
	}), pulseproto.FormatFloat32LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(rate),
		pulse.RecordMediaName("duocap microphone"),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("create microphone record stream: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.stream = stream
	p.started = true
	p.mu.Unlock()

	stream.Start()

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()

	return nil
}

// Stop tears down the record stream and connection. It is idempotent.
func (p *MicProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
	if p.client != nil {
		p.client.Close()
	}
	p.client = nil
	p.stream = nil
	p.started = false
	return nil
}

// ListSources enumerates every Pulse input source, classifying each by
// transport so the UI can show a headset icon next to a Bluetooth mic.
func (p *MicProvider) ListSources(_ context.Context) ([]capture.AudioSource, error) {
	client, err := newClient()
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	if _, err := client.DefaultSource(); err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]capture.AudioSource, 0, len(sourceInfos))
	for _, info := range sourceInfos {
		if info == nil || strings.HasSuffix(info.SourceName, ".monitor") {
			continue
		}
		sources = append(sources, capture.AudioSource{
			ID:        info.SourceName,
			Name:      info.Device,
			Transport: classifyTransport(info.SourceName, info.Device),
			Available: sourceAvailable(info),
		})
	}
	return sources, nil
}

// SystemProvider captures the current default sink's monitor source in
// stereo: "what you hear", as opposed to what the microphone picks up.
type SystemProvider struct {
	SampleRate int

	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.RecordStream
	started bool
}

// NewSystemProvider returns a SystemProvider requesting the given sample
// rate from the server.
func NewSystemProvider(sampleRate int) *SystemProvider {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &SystemProvider{SampleRate: sampleRate}
}

func (p *SystemProvider) resolveMonitorSource(client *pulse.Client) (*pulse.Source, error) {
	sink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}
	return client.SourceByID(sink.ID() + ".monitor")
}

// IsAvailable reports whether the default sink currently exposes a
// monitor source to record from.
func (p *SystemProvider) IsAvailable(_ context.Context) bool {
	client, err := newClient()
	if err != nil {
		return false
	}
	defer client.Close()

	_, err = p.resolveMonitorSource(client)
	return err == nil
}

// Start opens the default sink's monitor source as a stereo record
// stream.
func (p *SystemProvider) Start(ctx context.Context, callback capture.Callback) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pulsecapture: system provider already started")
	}
	p.mu.Unlock()

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}

	monitor, err := p.resolveMonitorSource(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("resolve system audio monitor source: %w", err)
	}

	rate := p.SampleRate
	writer := pulse.NewWriter(writerFunc(func(buf []byte) (int, error) {
		samples := bytesToFloat32(buf)
		callback(capture.PCMBuffer{Samples: samples, Channels: 2, SampleRate: float64(rate)}, time.Now())
		return len(buf), nil
	}), pulseproto.FormatFloat32LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(monitor),
		pulse.RecordStereo,
		pulse.RecordSampleRate(rate),
		pulse.RecordMediaName("duocap system audio"),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("create system audio record stream: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.stream = stream
	p.started = true
	p.mu.Unlock()

	stream.Start()

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()

	return nil
}

// Stop tears down the record stream and connection. It is idempotent.
func (p *SystemProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
	if p.client != nil {
		p.client.Close()
	}
	p.client = nil
	p.stream = nil
	p.started = false
	return nil
}

// classifyTransport guesses a source's physical link from its name and
// description. PulseAudio doesn't expose this uniformly across drivers,
// so this is a best-effort heuristic rather than an authoritative read of
// device.bus.
func classifyTransport(name, description string) capture.TransportType {
	haystack := strings.ToLower(name + " " + description)
	switch {
	case strings.Contains(haystack, "bluez") && (strings.Contains(haystack, "a2dp") || strings.Contains(haystack, "hfp") || strings.Contains(haystack, "hsp")):
		return capture.TransportBluetooth
	case strings.Contains(haystack, "bluez") || strings.Contains(haystack, "bluetooth"):
		return capture.TransportBluetooth
	case strings.Contains(haystack, "usb"):
		return capture.TransportUSB
	case strings.Contains(haystack, "monitor") || strings.Contains(haystack, "virtual") || strings.Contains(haystack, "null"):
		return capture.TransportVirtual
	case strings.Contains(haystack, "pci") || strings.Contains(haystack, "built-in") || strings.Contains(haystack, "analog"):
		return capture.TransportBuiltIn
	default:
		return capture.TransportUnknown
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean,
// mirroring the PulseAudio convention unknown=0, no=1, yes=2.
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
		return port.Available == 0 || port.Available == 2
	}
	return true
}

// bytesToFloat32 reinterprets a little-endian float32 PCM byte slice as
// samples.
func bytesToFloat32(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[4*i]) | uint32(buf[4*i+1])<<8 | uint32(buf[4*i+2])<<16 | uint32(buf[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
