package capture

import (
	"context"
	"time"
)

// PCMBuffer is one slab of samples handed from a provider to the session.
// Samples is interleaved per Channels; providers may deliver mono (1) or
// stereo (2).
type PCMBuffer struct {
	Samples    []float32
	Channels   int
	SampleRate float64
}

// Callback receives one PCMBuffer as it arrives off a provider's capture
// thread. Implementations must return quickly: no I/O, no blocking locks.
type Callback func(buf PCMBuffer, timestamp time.Time)

// CaptureProvider is the capture session's contract with a single audio
// source (microphone or system loopback). Start must not block past
// device setup; it arranges for callback to be invoked asynchronously and
// returns. Stop is idempotent and waits for the source's capture thread to
// quiesce.
type CaptureProvider interface {
	IsAvailable(ctx context.Context) bool
	Start(ctx context.Context, callback Callback) error
	Stop() error
}

// SourceLister enumerates the concrete devices a provider family can
// bind to, independent of which one is currently active.
type SourceLister interface {
	ListSources(ctx context.Context) ([]AudioSource, error)
}

// Delegate receives session lifecycle notifications. All methods are
// optional; embed NoopDelegate to satisfy the interface without
// implementing callbacks you don't need. Delegate methods must not call
// back into the session that invoked them.
type Delegate interface {
	OnStateChanged(state State)
	OnLevelsUpdated(levels AudioLevels)
	OnErrorEncountered(err error)
	OnFinished(result RecordingResult)
}

// NoopDelegate implements Delegate with empty bodies. Embed it to observe
// only the callbacks you care about.
type NoopDelegate struct{}

func (NoopDelegate) OnStateChanged(State)        {}
func (NoopDelegate) OnLevelsUpdated(AudioLevels) {}
func (NoopDelegate) OnErrorEncountered(error)    {}
func (NoopDelegate) OnFinished(RecordingResult)  {}
