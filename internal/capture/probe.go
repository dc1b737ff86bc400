package capture

import (
	"context"
	"sync"
	"time"
)

// DefaultProbeSettle is how long ProbeMicRate listens to the microphone
// before trusting whatever rate it saw.
const DefaultProbeSettle = 500 * time.Millisecond

// ProbeMicRate starts provider briefly to observe the sample rate it
// actually reports in its first callbacks, then stops it. Bluetooth HFP
// devices frequently renegotiate to 8/16kHz moments after being opened,
// so a short listen window catches the real operating rate before the
// session commits to one. If no callback fires within settle,
// configuredRate is returned unchanged so a silent device doesn't block
// capture from starting. If provider.Start itself fails, configuredRate
// is returned together with a PermissionDenied or DeviceNotAvailable
// error.
//
// The returned rate is the minimum observed rate, never an upsampled
// guess: once a device drops to a lower rate mid-probe it is assumed to
// stay there, since renegotiating back up mid-recording is not something
// the mixer re-probes for.
func ProbeMicRate(ctx context.Context, provider CaptureProvider, configuredRate float64, settle time.Duration) (float64, error) {
	var (
		mu       sync.Mutex
		observed float64
		seen     bool
	)

	err := provider.Start(ctx, func(buf PCMBuffer, _ time.Time) {
		mu.Lock()
		defer mu.Unlock()
		if !seen || buf.SampleRate < observed {
			observed = buf.SampleRate
			seen = true
		}
	})
	if err != nil {
		return configuredRate, classifyProviderStartError("microphone probe failed to start: "+err.Error(), err)
	}
	defer provider.Stop()

	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen || observed <= 0 {
		return configuredRate, nil
	}
	return observed, nil
}
