package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValidJSONCConfig(t *testing.T) {
	input := `
{
  // recording defaults
  "output_dir": "/tmp/duocap-out",
  "capture": {
    "sample_rate": 44100,
    "bit_depth": 24,
    "channels": 1,
    "enable_system": false,
  },
  "encryption": {
    "enable": true,
    "key_file": "/tmp/duocap.key"
  },
}
`

	cfg, warnings, err := Parse(input, Default())
	require.NoError(t, err)
	require.Equal(t, "/tmp/duocap-out", cfg.OutputDir)
	require.Equal(t, 44100.0, cfg.Capture.SampleRate)
	require.Equal(t, 24, cfg.Capture.BitDepth)
	require.Equal(t, 1, cfg.Capture.Channels)
	require.False(t, cfg.Capture.EnableSystem)
	require.True(t, cfg.Encryption.Enable)
	require.Equal(t, "/tmp/duocap.key", cfg.Encryption.KeyFile)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "max_duration_seconds")
}

func TestParseEmptyContentReturnsDefaults(t *testing.T) {
	cfg, _, err := Parse("", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseJSONCUnknownKeyFails(t *testing.T) {
	_, _, err := Parse(`{"foo": {"bar": 1}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCLineNumberOnError(t *testing.T) {
	_, _, err := Parse(`
{
  "capture": {
    "sample_rate": 48000
    "bit_depth": 16
  }
}
`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
}

func TestParseJSONCBlockCommentsAndTrailingCommas(t *testing.T) {
	cfg, _, err := Parse(`{
  /* output location */
  "output_dir": "/tmp/rec",
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "/tmp/rec", cfg.OutputDir)
}

func TestParseRejectsSecondJSONValue(t *testing.T) {
	_, _, err := Parse(`{"output_dir":"/tmp/a"} {"output_dir":"/tmp/b"}`, Default())
	require.Error(t, err)
}

func TestParseOverlayLeavesUnspecifiedFieldsAtBase(t *testing.T) {
	base := Default()
	base.Capture.MicDevice = "elgato-wave"

	cfg, _, err := Parse(`{"capture":{"channels":1}}`, base)
	require.NoError(t, err)
	require.Equal(t, "elgato-wave", cfg.Capture.MicDevice)
	require.Equal(t, 1, cfg.Capture.Channels)
}

func TestParseInvalidConfigSurfacesValidationError(t *testing.T) {
	_, _, err := Parse(`{"capture":{"bit_depth":17}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bit_depth")
}

func TestParseWarnsOnUnboundedMaxDuration(t *testing.T) {
	cfg, warnings, err := Parse(`{"capture":{"max_duration_seconds":0}}`, Default())
	require.NoError(t, err)
	require.Zero(t, cfg.Capture.MaxDurationSeconds)

	found := false
	for _, w := range warnings {
		if strings.Contains(w.Message, "max_duration_seconds") {
			found = true
		}
	}
	require.True(t, found, "expected unbounded duration warning, got %+v", warnings)
}
