// Package config resolves, parses, validates, and defaults duocap's CLI
// configuration. This is distinct from capture.Configuration: the library
// surface takes a CaptureConfiguration value directly (see internal/capture),
// while this package exists only to give the duocap CLI binary a
// persistent JSONC settings file plus flag overrides.
package config

// Config is the fully materialized CLI configuration.
type Config struct {
	OutputDir  string
	Capture    CaptureConfig
	Encryption EncryptionConfig
	Debug      DebugConfig
}

// CaptureConfig mirrors the fields of capture.Configuration that make
// sense as persistent user defaults.
type CaptureConfig struct {
	SampleRate         float64
	BitDepth           int
	Channels           int
	EnableMic          bool
	EnableSystem       bool
	MicDevice          string
	MaxDurationSeconds int
}

// EncryptionConfig controls whether recordings are sealed with
// internal/cryptobox and where the key is read from.
type EncryptionConfig struct {
	Enable  bool
	KeyFile string
}

// DebugConfig holds the "debug" section of the config file.
// DumpDiagnostics is parsed and stored, but no command reads it and no
// debug artifact is written.
type DebugConfig struct {
	DumpDiagnostics bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
