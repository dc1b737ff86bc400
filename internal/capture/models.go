// Package capture implements the dual-source capture session state
// machine: configuration, start/pause/resume/stop, sample-rate
// negotiation against the probed microphone rate, the mic/system ring
// buffers and 100ms mixing loop, and finalization of the streaming WAV
// writer into a RecordingResult.
package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/owlcap/duocap/internal/fsm"
	"github.com/owlcap/duocap/internal/wavwriter"
)

// Encryptor is the authenticated-cipher collaborator the capture session
// treats as an external dependency; it is passed straight through to the
// WAV writer. See internal/cryptobox for a concrete AES-256-GCM
// implementation.
type Encryptor = wavwriter.Encryptor

// Configuration is the immutable-within-a-session recording configuration
// supplied to Configure.
type Configuration struct {
	SampleRate   float64
	BitDepth     int
	Channels     int
	OutputDir    string
	MaxDuration  *time.Duration
	MicDeviceID  string
	EnableMic    bool
	EnableSystem bool
	Encryptor    Encryptor
}

// DefaultConfiguration returns the documented default recording settings.
func DefaultConfiguration() Configuration {
	return Configuration{
		SampleRate:   48000,
		BitDepth:     16,
		Channels:     2,
		EnableMic:    true,
		EnableSystem: true,
	}
}

// AudioLevels reports the last-seen RMS and monotone peak amplitude for
// each source, normalized to [0, 1].
type AudioLevels struct {
	MicRMS     float32
	SystemRMS  float32
	PeakMic    float32
	PeakSystem float32
}

// Diagnostics is a monotone-within-a-capture snapshot of processing
// counters.
type Diagnostics struct {
	MicCallbackCount    int64
	SystemCallbackCount int64
	TotalMicSamples     int64
	TotalSystemSamples  int64
	LastMicFormat       string
	LastSystemFormat    string
	BytesWritten        int64
	MixCycles           int64
}

// TrackInfo describes one mixed-down track in the finished recording.
type TrackInfo struct {
	Source string // "mic" or "system"
	Layout string // "center" or "stereo"
}

// RecordingMetadata is the durable, file-independent description of one
// completed recording.
type RecordingMetadata struct {
	ID                  string
	Duration            time.Duration
	Path                string
	Checksum            string
	IsEncrypted         bool
	CreatedAt           time.Time
	Tracks              []TrackInfo
	EncryptionAlgorithm string
	EncryptionKeyID     string
}

// RecordingResult is returned by a successful Stop.
type RecordingResult struct {
	FilePath string
	Duration time.Duration
	Metadata RecordingMetadata
	Checksum string
}

// TransportType classifies the physical link of an enumerated audio
// source.
type TransportType string

const (
	TransportBuiltIn     TransportType = "built-in"
	TransportBluetooth   TransportType = "bluetooth"
	TransportBluetoothLE TransportType = "bluetooth-le"
	TransportUSB         TransportType = "usb"
	TransportVirtual     TransportType = "virtual"
	TransportUnknown     TransportType = "unknown"
)

// AudioSource is one device entry returned by ListSources.
type AudioSource struct {
	ID        string
	Name      string
	Transport TransportType
	Available bool
}

// State is a CaptureState snapshot: the fsm.State tag plus whichever of
// Duration/Result/Err is meaningful for that tag (Capturing/Paused carry
// Duration, Completed carries Result, Failed carries Err).
type State struct {
	Kind     fsm.State
	Duration time.Duration
	Result   *RecordingResult
	Err      error
}

func newRecordingID() string { return uuid.NewString() }
