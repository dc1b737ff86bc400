// Package doctor runs runtime readiness diagnostics for config, storage, and audio sources.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/owlcap/duocap/internal/capture"
	"github.com/owlcap/duocap/internal/config"
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

// Sources groups the providers doctor uses to probe live audio reachability.
// Either field may be nil when the corresponding source is unavailable in
// the current environment.
type Sources struct {
	Mic    capture.CaptureProvider
	System capture.CaptureProvider
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded, sources Sources) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkOutputDir(cfg.Config.OutputDir))
	checks = append(checks, checkSource("audio.mic", sources.Mic, cfg.Config.Capture.EnableMic))
	checks = append(checks, checkSource("audio.system", sources.System, cfg.Config.Capture.EnableSystem))
	checks = append(checks, checkEncryption(cfg.Config))

	return Report{Checks: checks}
}

// checkOutputDir validates that the configured recording directory exists
// or can be created, and is writable.
func checkOutputDir(dir string) Check {
	if strings.TrimSpace(dir) == "" {
		return Check{Name: "output_dir", Pass: false, Message: "output_dir is empty"}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "output_dir", Pass: false, Message: fmt.Sprintf("cannot create %q: %v", dir, err)}
	}

	probe := filepath.Join(dir, ".duocap-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Name: "output_dir", Pass: false, Message: fmt.Sprintf("%q is not writable: %v", dir, err)}
	}
	_ = os.Remove(probe)

	return Check{Name: "output_dir", Pass: true, Message: fmt.Sprintf("%q is writable", dir)}
}

// checkSource probes a capture provider's availability. A disabled source
// reports as passing since its absence was requested, not a failure.
func checkSource(name string, provider capture.CaptureProvider, enabled bool) Check {
	if !enabled {
		return Check{Name: name, Pass: true, Message: "disabled in configuration"}
	}
	if provider == nil {
		return Check{Name: name, Pass: false, Message: "no provider configured"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !provider.IsAvailable(ctx) {
		return Check{Name: name, Pass: false, Message: "source is not reachable"}
	}
	return Check{Name: name, Pass: true, Message: "source is reachable"}
}

// checkEncryption validates that encryption, if enabled, has a usable key file.
func checkEncryption(cfg config.Config) Check {
	if !cfg.Encryption.Enable {
		return Check{Name: "encryption", Pass: true, Message: "disabled"}
	}

	path := strings.TrimSpace(cfg.Encryption.KeyFile)
	if path == "" {
		return Check{Name: "encryption", Pass: false, Message: "encryption.key_file is empty"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: "encryption", Pass: false, Message: fmt.Sprintf("key file %q: %v", path, err)}
	}
	if info.IsDir() {
		return Check{Name: "encryption", Pass: false, Message: fmt.Sprintf("key file %q is a directory", path)}
	}

	return Check{Name: "encryption", Pass: true, Message: fmt.Sprintf("key file %q is present", path)}
}
