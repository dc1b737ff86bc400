package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/owlcap/duocap/internal/fsm"
	"github.com/owlcap/duocap/internal/mixer"
	"github.com/owlcap/duocap/internal/ringbuffer"
	"github.com/owlcap/duocap/internal/wavwriter"
)

const (
	processingTick = 100 * time.Millisecond
	durationTick   = 250 * time.Millisecond
	ringSeconds    = 5
)

// Session drives one recording from Idle through Completed or Failed. A
// Session is single-use: once it reaches a terminal state a new one must
// be constructed for the next recording.
type Session struct {
	logger         *slog.Logger
	micProvider    CaptureProvider
	systemProvider CaptureProvider
	micSources     SourceLister
	delegate       Delegate

	mu              sync.Mutex
	state           fsm.State
	config          Configuration
	levels          AudioLevels
	diagnostics     Diagnostics
	captureStart    time.Time
	pausedDuration  time.Duration
	lastPauseTime   time.Time
	outputPath      string
	detectedMicRate float64
	micRateDetected bool
	systemActive    bool
	recordingID     string

	mixer      *mixer.Mixer
	micRing    *ringbuffer.Buffer
	systemRing *ringbuffer.Buffer
	writer     *wavwriter.Writer

	stopLoops context.CancelFunc
	wg        sync.WaitGroup
}

// NewSession constructs an Idle session. systemProvider and micSources
// may be nil: a nil systemProvider disables system-audio capture
// entirely, and a nil micSources makes ListSources report only the
// synthetic system-audio entry (if any).
func NewSession(logger *slog.Logger, micProvider, systemProvider CaptureProvider, micSources SourceLister, delegate Delegate) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if delegate == nil {
		delegate = NoopDelegate{}
	}
	return &Session{
		logger:         logger,
		micProvider:    micProvider,
		systemProvider: systemProvider,
		micSources:     micSources,
		delegate:       delegate,
		state:          fsm.StateIdle,
	}
}

// State returns a snapshot of the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotStateLocked()
}

// Levels returns the last metered amplitude for each source.
func (s *Session) Levels() AudioLevels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels
}

// Diagnostics returns a snapshot of processing counters.
func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostics
}

// ListSources enumerates available microphone devices plus, when the
// system provider reports availability, a synthetic "system-audio" entry.
func (s *Session) ListSources(ctx context.Context) ([]AudioSource, error) {
	var sources []AudioSource
	if s.micSources != nil {
		micSources, err := s.micSources.ListSources(ctx)
		if err != nil {
			return nil, newDeviceNotAvailable("list microphone sources: " + err.Error())
		}
		sources = append(sources, micSources...)
	}
	if s.systemProvider != nil && s.systemProvider.IsAvailable(ctx) {
		sources = append(sources, AudioSource{
			ID:        "system-audio",
			Name:      "System Audio",
			Transport: TransportVirtual,
			Available: true,
		})
	}
	return sources, nil
}

// Configure validates cfg and moves the session from Idle to Ready.
func (s *Session) Configure(cfg Configuration) error {
	if err := s.requireState("configure", fsm.StateIdle); err != nil {
		return err
	}
	s.setState(fsm.EventConfigure)

	if err := validateConfiguration(cfg); err != nil {
		s.setState(fsm.EventConfigureFailed)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.setState(fsm.EventConfigured)
	return nil
}

func validateConfiguration(cfg Configuration) *Error {
	if cfg.SampleRate <= 0 {
		return newConfigurationFailed("sample rate must be positive")
	}
	switch cfg.BitDepth {
	case 16, 24, 32:
	default:
		return newConfigurationFailed("bit depth must be 16, 24, or 32")
	}
	switch cfg.Channels {
	case 1, 2:
	default:
		return newConfigurationFailed("channels must be 1 or 2")
	}
	if !cfg.EnableMic && !cfg.EnableSystem {
		return newConfigurationFailed("at least one of mic or system capture must be enabled")
	}
	return nil
}

// Start runs the device-probe and provider-startup sequence and, on
// success, transitions to Capturing and begins mixing. Start is only
// legal from Ready.
func (s *Session) Start(ctx context.Context) error {
	if err := s.requireState("start", fsm.StateReady); err != nil {
		return err
	}

	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()

	outputRate := cfg.SampleRate
	var probedRate float64
	micRateDetected := false

	if cfg.EnableMic {
		if s.micProvider == nil {
			err := newDeviceNotAvailable("microphone capture enabled but no provider configured")
			s.failStart(err)
			return err
		}
		rate, err := ProbeMicRate(ctx, s.micProvider, cfg.SampleRate, DefaultProbeSettle)
		if err != nil {
			s.failStart(err)
			return err
		}
		probedRate = rate
		micRateDetected = true
		if probedRate < outputRate {
			outputRate = probedRate
		}
	}

	mx := mixer.New(outputRate)
	micCapacity := int(outputRate * ringSeconds)
	systemCapacity := micCapacity * 2
	ext := "wav"
	if cfg.Encryptor != nil {
		ext = "enc.wav"
	}

	s.mu.Lock()
	s.mixer = mx
	s.detectedMicRate = probedRate
	s.micRateDetected = micRateDetected
	s.micRing = ringbuffer.New(micCapacity, s.logger, "mic")
	s.systemRing = ringbuffer.New(systemCapacity, s.logger, "system")
	s.recordingID = newRecordingID()
	s.outputPath = filepath.Join(cfg.OutputDir, fmt.Sprintf("recording_%s.%s", s.recordingID, ext))
	s.diagnostics = Diagnostics{}
	s.levels = AudioLevels{}
	s.mu.Unlock()

	writer := &wavwriter.Writer{}
	if err := writer.Open(wavwriter.Config{
		Path:       s.outputPath,
		SampleRate: outputRate,
		Channels:   cfg.Channels,
		BitDepth:   cfg.BitDepth,
		Encryptor:  cfg.Encryptor,
	}); err != nil {
		wrapped := newStorageError("open output file: "+err.Error(), err)
		s.failStart(wrapped)
		return wrapped
	}
	s.mu.Lock()
	s.writer = writer
	s.mu.Unlock()

	if cfg.EnableMic {
		if err := s.micProvider.Start(ctx, s.onMicBuffer); err != nil {
			wrapped := classifyProviderStartError("start microphone capture: "+err.Error(), err)
			s.failStart(wrapped)
			return wrapped
		}
	}

	systemActive := false
	if cfg.EnableSystem && s.systemProvider != nil {
		if s.systemProvider.IsAvailable(ctx) {
			if err := s.systemProvider.Start(ctx, s.onSystemBuffer); err != nil {
				s.emitError(classifyProviderStartError("system audio unavailable: "+err.Error(), err))
			} else {
				systemActive = true
			}
		} else {
			s.emitError(newConfigurationFailed("system audio unavailable: no default sink monitor"))
		}
	}

	now := s.now()
	s.mu.Lock()
	s.systemActive = systemActive
	s.captureStart = now
	s.pausedDuration = 0
	s.lastPauseTime = time.Time{}
	s.mu.Unlock()

	s.setState(fsm.EventStartSucceeded)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopLoops = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runDurationTimer(loopCtx, ctx)
	go s.runProcessingLoop(loopCtx)

	return nil
}

func (s *Session) failStart(err error) {
	s.setState(fsm.EventStartFailed)
	s.emitError(err)
}

// Pause freezes the elapsed-duration clock without stopping providers;
// the processing loop keeps draining buffered samples. Legal only from
// Capturing.
func (s *Session) Pause() error {
	if err := s.requireState("pause", fsm.StateCapturing); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPauseTime = s.nowLocked()
	s.mu.Unlock()
	s.setState(fsm.EventPause)
	return nil
}

// Resume un-freezes the elapsed-duration clock. Legal only from Paused.
func (s *Session) Resume() error {
	if err := s.requireState("resume", fsm.StatePaused); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.lastPauseTime.IsZero() {
		s.pausedDuration += s.nowLocked().Sub(s.lastPauseTime)
		s.lastPauseTime = time.Time{}
	}
	s.mu.Unlock()
	s.setState(fsm.EventResume)
	return nil
}

// Stop halts both providers, flushes any buffered samples, finalizes the
// WAV container, and returns the completed RecordingResult. Legal from
// Capturing or Paused.
func (s *Session) Stop(ctx context.Context) (RecordingResult, error) {
	s.mu.Lock()
	current := s.state
	s.mu.Unlock()
	if current != fsm.StateCapturing && current != fsm.StatePaused {
		return RecordingResult{}, newConfigurationFailed(fmt.Sprintf("cannot stop when not capturing or paused (current state: %s)", current))
	}

	s.setState(fsm.EventStop)
	elapsed := s.elapsed()

	if s.micProvider != nil {
		_ = s.micProvider.Stop()
	}
	s.mu.Lock()
	systemActive := s.systemActive
	s.mu.Unlock()
	if systemActive && s.systemProvider != nil {
		_ = s.systemProvider.Stop()
	}

	s.mu.Lock()
	cancel := s.stopLoops
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.drainRemaining()

	s.mu.Lock()
	cfg := s.config
	micDetected := s.micRateDetected
	detectedRate := s.detectedMicRate
	writer := s.writer
	outputPath := s.outputPath
	recordingID := s.recordingID
	s.mu.Unlock()

	var actualRate *float64
	if micDetected {
		rate := detectedRate
		if cfg.SampleRate < rate {
			rate = cfg.SampleRate
		}
		actualRate = &rate
	}

	checksum, err := writer.Close(actualRate, cfg.Channels, cfg.BitDepth)
	if err != nil {
		wrapped := newStorageError("close output file: "+err.Error(), err)
		s.setState(fsm.EventStopFailed)
		s.emitError(wrapped)
		return RecordingResult{}, wrapped
	}

	tracks := []TrackInfo{}
	if cfg.EnableMic {
		tracks = append(tracks, TrackInfo{Source: "mic", Layout: "center"})
	}
	if systemActive {
		tracks = append(tracks, TrackInfo{Source: "system", Layout: "stereo"})
	}

	algorithm := ""
	if cfg.Encryptor != nil {
		algorithm = "AES-256-GCM"
	}

	result := RecordingResult{
		FilePath: outputPath,
		Duration: elapsed,
		Checksum: checksum,
		Metadata: RecordingMetadata{
			ID:                  recordingID,
			Duration:            elapsed,
			Path:                outputPath,
			Checksum:            checksum,
			IsEncrypted:         cfg.Encryptor != nil,
			CreatedAt:           s.now(),
			Tracks:              tracks,
			EncryptionAlgorithm: algorithm,
		},
	}

	s.mu.Lock()
	s.state = fsm.StateCompleted
	s.mu.Unlock()
	s.delegate.OnStateChanged(State{Kind: fsm.StateCompleted, Result: &result})
	s.delegate.OnFinished(result)

	return result, nil
}

// --- provider callbacks ---

func (s *Session) onMicBuffer(buf PCMBuffer, _ time.Time) {
	mono := downmix(buf.Samples, buf.Channels)

	s.mu.Lock()
	mx := s.mixer
	ring := s.micRing
	s.mu.Unlock()
	if mx == nil || ring == nil {
		return
	}

	sourceRate := buf.SampleRate
	if sourceRate <= 0 {
		sourceRate = mx.TargetSampleRate()
	}
	resampled := mx.ResampleMono(mono, sourceRate)

	level := rms(resampled)
	pk := peak(resampled)

	s.mu.Lock()
	s.levels.MicRMS = level
	if pk > s.levels.PeakMic {
		s.levels.PeakMic = pk
	}
	levels := s.levels
	s.diagnostics.MicCallbackCount++
	s.diagnostics.TotalMicSamples += int64(len(resampled))
	s.diagnostics.LastMicFormat = fmt.Sprintf("%.0fHz mono", buf.SampleRate)
	s.mu.Unlock()

	s.delegate.OnLevelsUpdated(levels)
	ring.Write(resampled)
}

func (s *Session) onSystemBuffer(buf PCMBuffer, _ time.Time) {
	s.mu.Lock()
	mx := s.mixer
	ring := s.systemRing
	s.mu.Unlock()
	if mx == nil || ring == nil {
		return
	}

	var interleaved []float32
	switch buf.Channels {
	case 1:
		mono := mx.ResampleMono(buf.Samples, mx.TargetSampleRate())
		interleaved = mixer.Interleave(mono, mono)
	default:
		interleaved = mx.ResampleStereo(buf.Samples, mx.TargetSampleRate())
	}

	level := rms(interleaved)
	pk := peak(interleaved)

	s.mu.Lock()
	s.levels.SystemRMS = level
	if pk > s.levels.PeakSystem {
		s.levels.PeakSystem = pk
	}
	levels := s.levels
	s.diagnostics.SystemCallbackCount++
	s.diagnostics.TotalSystemSamples += int64(len(interleaved))
	s.diagnostics.LastSystemFormat = fmt.Sprintf("%.0fHz %dch", buf.SampleRate, buf.Channels)
	s.mu.Unlock()

	s.delegate.OnLevelsUpdated(levels)
	ring.Write(interleaved)
}

// --- background loops ---

func (s *Session) runDurationTimer(loopCtx, startCtx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(durationTick)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			state := s.state
			cfg := s.config
			s.mu.Unlock()
			if state != fsm.StateCapturing {
				continue
			}
			elapsed := s.elapsed()
			s.delegate.OnStateChanged(State{Kind: fsm.StateCapturing, Duration: elapsed})
			if cfg.MaxDuration != nil && elapsed >= *cfg.MaxDuration {
				go func() { _, _ = s.Stop(startCtx) }()
				return
			}
		}
	}
}

func (s *Session) runProcessingLoop(loopCtx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(processingTick)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			state := s.state
			s.mu.Unlock()
			if state != fsm.StateCapturing && state != fsm.StatePaused {
				continue
			}
			s.processTick(processingTick)
		}
	}
}

// processTick mixes and writes up to one tick's worth of samples. It is
// also reused, looped to exhaustion, by drainRemaining at Stop time.
func (s *Session) processTick(tick time.Duration) bool {
	s.mu.Lock()
	cfg := s.config
	systemActive := s.systemActive
	micRing := s.micRing
	systemRing := s.systemRing
	mx := s.mixer
	writer := s.writer
	s.mu.Unlock()

	if mx == nil || micRing == nil || writer == nil {
		return false
	}

	// Keyed off the mixer's target rate rather than cfg.SampleRate: the
	// rings hold samples already resampled to the output rate, so that is
	// the clock that actually governs how much a tick can drain.
	maxFrames := int(mx.TargetSampleRate() * tick.Seconds())
	if maxFrames <= 0 {
		maxFrames = 1
	}

	var micSamples, systemSamples []float32
	wrote := false

	if systemActive && systemRing != nil {
		available := systemRing.Count() / 2
		frames := available
		if frames > maxFrames {
			frames = maxFrames
		}
		if frames == 0 {
			return false
		}
		systemSamples = systemRing.Read(frames * 2)
		micSamples = micRing.Read(frames)
	} else {
		frames := maxFrames
		micSamples = micRing.Read(frames)
		if len(micSamples) == 0 {
			return false
		}
	}

	mixed := mixer.MixMonoMicWithStereoSystem(micSamples, systemSamples)
	if cfg.Channels == 1 {
		mixed = downmixInterleavedToMono(mixed)
	}
	pcm := mixer.ToInt16PCM(mixed)

	if err := writer.Write(pcm); err != nil {
		if errors.Is(err, wavwriter.ErrEncryptChunk) {
			s.emitError(newEncryptionFailed("write audio chunk: "+err.Error(), err))
		} else {
			s.emitError(newStorageError("write audio chunk: "+err.Error(), err))
		}
	} else {
		wrote = true
	}

	s.mu.Lock()
	s.diagnostics.MixCycles++
	s.diagnostics.BytesWritten = writer.BytesWritten()
	s.mu.Unlock()

	return wrote
}

// drainRemaining flushes whatever is left in the rings after providers
// have stopped, bounded so a bookkeeping bug can't spin forever.
func (s *Session) drainRemaining() {
	for i := 0; i < 10000; i++ {
		if !s.processTick(processingTick) {
			return
		}
	}
}

// --- helpers ---

func (s *Session) requireState(op string, allowed ...fsm.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return newConfigurationFailed(fmt.Sprintf("cannot %s when not %s (current state: %s)", op, allowed[0], s.state))
}

func (s *Session) setState(event fsm.Event) {
	s.mu.Lock()
	next, err := fsm.Transition(s.state, event)
	s.state = next
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("capture: unexpected transition rejected", "event", event, "error", err)
		s.emitError(newUnknown("unexpected state transition", err))
		return
	}
	s.delegate.OnStateChanged(State{Kind: next, Duration: s.elapsedIfCapturing(next)})
}

func (s *Session) elapsedIfCapturing(state fsm.State) time.Duration {
	if state != fsm.StateCapturing && state != fsm.StatePaused {
		return 0
	}
	return s.elapsed()
}

func (s *Session) snapshotStateLocked() State {
	return State{Kind: s.state, Duration: s.elapsedUnlocked()}
}

func (s *Session) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedUnlocked()
}

func (s *Session) elapsedUnlocked() time.Duration {
	if s.captureStart.IsZero() {
		return 0
	}
	now := s.nowLocked()
	total := now.Sub(s.captureStart) - s.pausedDuration
	if !s.lastPauseTime.IsZero() {
		total -= now.Sub(s.lastPauseTime)
	}
	if total < 0 {
		return 0
	}
	return total
}

func (s *Session) emitError(err error) {
	s.delegate.OnErrorEncountered(err)
}

func (s *Session) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

func (s *Session) nowLocked() time.Time { return time.Now() }

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func downmixInterleavedToMono(interleaved []float32) []float32 {
	frames := len(interleaved) / 2
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		out[i] = (interleaved[2*i] + interleaved[2*i+1]) / 2
	}
	return out
}

func rms(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range samples {
		sumSq += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sumSq / float64(len(samples))))
}

func peak(samples []float32) float32 {
	var m float32
	for _, v := range samples {
		a := v
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}
