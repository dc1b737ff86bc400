package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output_dir must not be empty")
	}

	if cfg.Capture.SampleRate <= 0 {
		return nil, fmt.Errorf("capture.sample_rate must be > 0")
	}
	switch cfg.Capture.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("capture.bit_depth must be one of: 16, 24, 32")
	}
	switch cfg.Capture.Channels {
	case 1, 2:
	default:
		return nil, fmt.Errorf("capture.channels must be 1 or 2")
	}
	if !cfg.Capture.EnableMic && !cfg.Capture.EnableSystem {
		return nil, fmt.Errorf("capture.enable_mic and capture.enable_system must not both be false")
	}
	if cfg.Capture.MaxDurationSeconds < 0 {
		return nil, fmt.Errorf("capture.max_duration_seconds must be >= 0")
	}
	if cfg.Capture.MaxDurationSeconds == 0 {
		warnings = append(warnings, Warning{Message: "capture.max_duration_seconds is 0; recordings run until stopped"})
	}
	if strings.TrimSpace(cfg.Capture.MicDevice) == "" {
		return nil, fmt.Errorf("capture.mic_device must not be empty")
	}

	if cfg.Encryption.Enable && strings.TrimSpace(cfg.Encryption.KeyFile) == "" {
		return nil, fmt.Errorf("encryption.key_file must be set when encryption.enable=true")
	}

	return warnings, nil
}
