package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errConnRefused = errors.New("connection refused")

// tickingProvider is a self-driving CaptureProvider: once started it
// fires synthetic buffers on its own ticker until Stop is called, the
// way a real device thread would.
type tickingProvider struct {
	available  bool
	startErr   error
	sampleRate float64
	channels   int
	frameSize  int
	interval   time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

func (p *tickingProvider) IsAvailable(context.Context) bool { return p.available }

func (p *tickingProvider) Start(_ context.Context, cb Callback) error {
	if p.startErr != nil {
		return p.startErr
	}
	stop := make(chan struct{})
	p.mu.Lock()
	p.stopCh = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				samples := make([]float32, p.frameSize*p.channels)
				for i := range samples {
					samples[i] = 0.1
				}
				cb(PCMBuffer{Samples: samples, Channels: p.channels, SampleRate: p.sampleRate}, time.Now())
			}
		}
	}()
	return nil
}

func (p *tickingProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	return nil
}

// immediateProvider invokes the callback exactly once, synchronously,
// from within Start. Useful for exercising ProbeMicRate without relying
// on ticker timing.
type immediateProvider struct {
	rate float64
}

func (p *immediateProvider) IsAvailable(context.Context) bool { return true }

func (p *immediateProvider) Start(_ context.Context, cb Callback) error {
	cb(PCMBuffer{Samples: []float32{0}, Channels: 1, SampleRate: p.rate}, time.Now())
	return nil
}

func (p *immediateProvider) Stop() error { return nil }

// silentProvider never calls back and never errors.
type silentProvider struct{ available bool }

func (p *silentProvider) IsAvailable(context.Context) bool      { return p.available }
func (p *silentProvider) Start(context.Context, Callback) error { return nil }
func (p *silentProvider) Stop() error                           { return nil }

type listSourcesStub struct {
	sources []AudioSource
	err     error
}

func (l *listSourcesStub) ListSources(context.Context) ([]AudioSource, error) {
	return l.sources, l.err
}

// recordingDelegate captures every callback it receives, for assertions
// on which Delegate events actually fire.
type recordingDelegate struct {
	NoopDelegate

	mu      sync.Mutex
	levels  []AudioLevels
	errs    []error
	states  []State
	results []RecordingResult
}

func (d *recordingDelegate) OnStateChanged(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, state)
}

func (d *recordingDelegate) OnLevelsUpdated(levels AudioLevels) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels = append(d.levels, levels)
}

func (d *recordingDelegate) OnErrorEncountered(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *recordingDelegate) OnFinished(result RecordingResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, result)
}

func (d *recordingDelegate) levelUpdates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.levels)
}

func (d *recordingDelegate) errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]error, len(d.errs))
	copy(out, d.errs)
	return out
}

// failingEncryptor always errors, to exercise the EncryptionFailed path.
type failingEncryptor struct{}

func (failingEncryptor) Encrypt([]byte) ([]byte, error) {
	return nil, errors.New("key unavailable")
}
