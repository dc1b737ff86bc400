package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/owlcap/duocap/internal/capture"
	"github.com/owlcap/duocap/internal/config"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	available bool
}

func (s stubProvider) IsAvailable(context.Context) bool              { return s.available }
func (s stubProvider) Start(context.Context, capture.Callback) error { return nil }
func (s stubProvider) Stop() error                                   { return nil }

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckOutputDirCreatesAndWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "recordings")

	check := checkOutputDir(dir)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "writable")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCheckOutputDirEmptyFails(t *testing.T) {
	check := checkOutputDir("")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "empty")
}

func TestCheckSourceDisabledPasses(t *testing.T) {
	check := checkSource("audio.mic", nil, false)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "disabled")
}

func TestCheckSourceNilProviderFails(t *testing.T) {
	check := checkSource("audio.mic", nil, true)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "no provider")
}

func TestCheckSourceReachable(t *testing.T) {
	check := checkSource("audio.mic", stubProvider{available: true}, true)
	require.True(t, check.Pass)
}

func TestCheckSourceUnreachable(t *testing.T) {
	check := checkSource("audio.system", stubProvider{available: false}, true)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not reachable")
}

func TestCheckEncryptionDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Encryption.Enable = false

	check := checkEncryption(cfg)
	require.True(t, check.Pass)
	require.Equal(t, "disabled", check.Message)
}

func TestCheckEncryptionMissingKeyFile(t *testing.T) {
	cfg := config.Default()
	cfg.Encryption.Enable = true
	cfg.Encryption.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	check := checkEncryption(cfg)
	require.False(t, check.Pass)
}

func TestCheckEncryptionPresentKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("secret"), 0o600))

	cfg := config.Default()
	cfg.Encryption.Enable = true
	cfg.Encryption.KeyFile = path

	check := checkEncryption(cfg)
	require.True(t, check.Pass)
}

func TestRunAggregatesChecks(t *testing.T) {
	loaded := config.Loaded{Path: "/tmp/config.jsonc", Config: config.Default()}
	loaded.Config.OutputDir = t.TempDir()

	report := Run(loaded, Sources{
		Mic:    stubProvider{available: true},
		System: stubProvider{available: true},
	})

	require.True(t, report.OK())
	require.Len(t, report.Checks, 5)
}

func TestRunReportsFailureWhenSourceUnavailable(t *testing.T) {
	loaded := config.Loaded{Path: "/tmp/config.jsonc", Config: config.Default()}
	loaded.Config.OutputDir = t.TempDir()

	report := Run(loaded, Sources{
		Mic:    stubProvider{available: false},
		System: stubProvider{available: true},
	})

	require.False(t, report.OK())
}
