package config

import (
	"os"
	"path/filepath"
)

// Default returns the canonical configuration used when no file is present.
func Default() Config {
	return Config{
		OutputDir: defaultOutputDir(),
		Capture: CaptureConfig{
			SampleRate:         48000,
			BitDepth:           16,
			Channels:           2,
			EnableMic:          true,
			EnableSystem:       true,
			MicDevice:          "default",
			MaxDurationSeconds: 0,
		},
		Encryption: EncryptionConfig{Enable: false},
		Debug:      DebugConfig{},
	}
}

// defaultOutputDir falls back to the working directory if $HOME can't be
// resolved, which only happens in unusual sandboxed environments.
func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Recordings", "duocap")
}
