package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/owlcap/duocap/internal/capture"
	"github.com/owlcap/duocap/internal/cli"
	"github.com/owlcap/duocap/internal/config"
	"github.com/owlcap/duocap/internal/cryptobox"
	"github.com/owlcap/duocap/internal/doctor"
	"github.com/owlcap/duocap/internal/ipc"
	"github.com/owlcap/duocap/internal/logging"
	"github.com/owlcap/duocap/internal/providers/pulsecapture"
	"github.com/owlcap/duocap/internal/version"
)

// Runner holds process-level dependencies used by command handlers.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute is the package entrypoint used by cmd/duocap/main.go.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute parses CLI arguments, loads config/logging, and dispatches a command.
func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("duocap"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("duocap"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, cfgLoaded)
	case cli.CommandListSources:
		return r.commandListSources(ctx, cfgLoaded.Config)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandPause:
		return r.forwardOrFail(ctx, "pause")
	case cli.CommandResume:
		return r.forwardOrFail(ctx, "resume")
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, "cancel")
	case cli.CommandRecord:
		return r.commandRecord(ctx, parsed.Args, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandDoctor builds the live providers implied by cfg and runs the
// readiness report against them.
func (r Runner) commandDoctor(_ context.Context, cfgLoaded config.Loaded) int {
	var sources doctor.Sources
	if cfgLoaded.Config.Capture.EnableMic {
		sources.Mic = pulsecapture.NewMicProvider(cfgLoaded.Config.Capture.MicDevice, int(cfgLoaded.Config.Capture.SampleRate))
	}
	if cfgLoaded.Config.Capture.EnableSystem {
		sources.System = pulsecapture.NewSystemProvider(int(cfgLoaded.Config.Capture.SampleRate))
	}

	report := doctor.Run(cfgLoaded, sources)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return 0
	}
	return 1
}

// commandListSources prints discovered mic and system audio sources.
func (r Runner) commandListSources(ctx context.Context, cfg config.Config) int {
	micProvider := pulsecapture.NewMicProvider(cfg.Capture.MicDevice, int(cfg.Capture.SampleRate))
	systemProvider := pulsecapture.NewSystemProvider(int(cfg.Capture.SampleRate))
	sess := capture.NewSession(nil, micProvider, systemProvider, micProvider, nil)

	sources, err := sess.ListSources(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(sources) == 0 {
		fmt.Fprintln(r.Stdout, "no audio sources found")
		return 1
	}

	for _, source := range sources {
		availability := "yes"
		if !source.Available {
			availability = "no"
		}
		fmt.Fprintf(r.Stdout, "id=%s | name=%q | transport=%s | available=%s\n",
			source.ID, source.Name, source.Transport, availability)
	}

	return 0
}

// commandStatus queries the active owner (if any) and prints session state.
func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

// forwardOrFail forwards a command to the active owner and fails when no owner exists.
func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active duocap session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.FilePath != "" {
		fmt.Fprintf(r.Stdout, "%s (%s)\n", resp.FilePath, time.Duration(resp.DurationMS)*time.Millisecond)
	} else if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// recordFlags holds the one-shot flags layered on top of the record command word.
type recordFlags struct {
	duration  int
	rate      float64
	bits      int
	channels  int
	noMic     bool
	noSystem  bool
	encrypt   bool
	outputDir string
}

// parseRecordArgs layers the record command's one-shot flags on top of the
// command word using pflag, matching the GNU-style --flag=value and
// --flag value forms.
func parseRecordArgs(args []string) (recordFlags, error) {
	fs := pflag.NewFlagSet("record", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	duration := fs.Int("duration", 0, "stop automatically after N seconds (0 = unbounded)")
	rate := fs.Float64("rate", 0, "target sample rate")
	bits := fs.Int("bits", 0, "output bit depth")
	channels := fs.Int("channels", 0, "output channel count")
	noMic := fs.Bool("no-mic", false, "disable the microphone track")
	noSystem := fs.Bool("no-system", false, "disable the system audio track")
	encrypt := fs.Bool("encrypt", false, "encrypt the output with the configured key")
	out := fs.String("out", "", "output directory")

	if err := fs.Parse(args); err != nil {
		if strings.HasPrefix(err.Error(), "unknown flag:") {
			return recordFlags{}, fmt.Errorf("unknown record flag: %s", strings.TrimPrefix(err.Error(), "unknown flag: "))
		}
		return recordFlags{}, err
	}

	return recordFlags{
		duration:  *duration,
		rate:      *rate,
		bits:      *bits,
		channels:  *channels,
		noMic:     *noMic,
		noSystem:  *noSystem,
		encrypt:   *encrypt,
		outputDir: *out,
	}, nil
}

func (f recordFlags) apply(cfg config.Config) capture.Configuration {
	capCfg := capture.DefaultConfiguration()
	capCfg.SampleRate = cfg.Capture.SampleRate
	capCfg.BitDepth = cfg.Capture.BitDepth
	capCfg.Channels = cfg.Capture.Channels
	capCfg.EnableMic = cfg.Capture.EnableMic
	capCfg.EnableSystem = cfg.Capture.EnableSystem
	capCfg.MicDeviceID = cfg.Capture.MicDevice
	capCfg.OutputDir = cfg.OutputDir
	if cfg.Capture.MaxDurationSeconds > 0 {
		d := time.Duration(cfg.Capture.MaxDurationSeconds) * time.Second
		capCfg.MaxDuration = &d
	}

	if f.rate > 0 {
		capCfg.SampleRate = f.rate
	}
	if f.bits > 0 {
		capCfg.BitDepth = f.bits
	}
	if f.channels > 0 {
		capCfg.Channels = f.channels
	}
	if f.noMic {
		capCfg.EnableMic = false
	}
	if f.noSystem {
		capCfg.EnableSystem = false
	}
	if f.outputDir != "" {
		capCfg.OutputDir = f.outputDir
	}
	if f.duration > 0 {
		d := time.Duration(f.duration) * time.Second
		capCfg.MaxDuration = &d
	}

	return capCfg
}

// commandRecord starts a new owner session that serves pause/resume/stop/
// cancel/status over the IPC socket until the recording finishes.
func (r Runner) commandRecord(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger) int {
	flags, err := parseRecordArgs(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 2
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a recording is already in progress")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	capCfg := flags.apply(cfg)
	if flags.encrypt || cfg.Encryption.Enable {
		encryptor, encErr := loadEncryptor(cfg.Encryption.KeyFile)
		if encErr != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", encErr)
			return 1
		}
		capCfg.Encryptor = encryptor
	}

	micProvider := pulsecapture.NewMicProvider(capCfg.MicDeviceID, int(capCfg.SampleRate))
	var systemProvider capture.CaptureProvider
	if capCfg.EnableSystem {
		systemProvider = pulsecapture.NewSystemProvider(int(capCfg.SampleRate))
	}

	delegate := &loggingDelegate{logger: logger}
	sess := capture.NewSession(logger, micProvider, systemProvider, micProvider, delegate)

	if err := sess.Configure(capCfg); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	handler := &sessionHandler{session: sess, done: make(chan struct{})}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, handler)
	}()

	if err := sess.Start(ctx); err != nil {
		serverCancel()
		<-serverErrCh
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	select {
	case <-handler.done:
	case <-ctx.Done():
		_, _ = sess.Stop(context.Background())
	}

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	result := handler.result
	if handler.cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if handler.failErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", handler.failErr)
		return 1
	}

	fmt.Fprintf(r.Stdout, "%s (%s)\n", result.FilePath, result.Duration)
	return 0
}

// loadEncryptor reads a 32-byte AES-256 key from keyPath.
func loadEncryptor(keyPath string) (capture.Encryptor, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("encryption requested but no key_file configured")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read encryption key %q: %w", keyPath, err)
	}
	return cryptobox.New(key)
}

// loggingDelegate forwards capture lifecycle events into structured logs.
type loggingDelegate struct {
	logger *slog.Logger
}

func (d *loggingDelegate) OnStateChanged(state capture.State) {
	d.logger.Debug("capture state changed", "state", state.Kind, "duration_ms", state.Duration.Milliseconds())
}

func (d *loggingDelegate) OnLevelsUpdated(levels capture.AudioLevels) {
	d.logger.Debug("levels", "mic_rms", levels.MicRMS, "system_rms", levels.SystemRMS)
}

func (d *loggingDelegate) OnErrorEncountered(err error) {
	d.logger.Error("capture error", "error", err.Error())
}

func (d *loggingDelegate) OnFinished(result capture.RecordingResult) {
	d.logger.Info("capture finished", "path", result.FilePath, "duration_ms", result.Duration.Milliseconds())
}

// sessionHandler adapts capture.Session lifecycle operations to the IPC
// Handler contract for the owning record process.
type sessionHandler struct {
	session *capture.Session

	mu        sync.Mutex
	done      chan struct{}
	closed    bool
	cancelled bool
	failErr   error
	result    capture.RecordingResult
}

func (h *sessionHandler) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		state := h.session.State()
		return ipc.Response{OK: true, State: string(state.Kind), DurationMS: state.Duration.Milliseconds()}
	case "pause":
		if err := h.session.Pause(); err != nil {
			return ipc.Response{OK: false, Error: err.Error()}
		}
		return ipc.Response{OK: true, Message: "paused"}
	case "resume":
		if err := h.session.Resume(); err != nil {
			return ipc.Response{OK: false, Error: err.Error()}
		}
		return ipc.Response{OK: true, Message: "resumed"}
	case "stop":
		result, err := h.session.Stop(ctx)
		if err != nil {
			h.finish(func() { h.failErr = err })
			return ipc.Response{OK: false, Error: err.Error()}
		}
		h.finish(func() { h.result = result })
		return ipc.Response{OK: true, FilePath: result.FilePath, DurationMS: result.Duration.Milliseconds()}
	case "cancel":
		if result, err := h.session.Stop(ctx); err == nil {
			_ = os.Remove(result.FilePath)
		}
		h.finish(func() { h.cancelled = true })
		return ipc.Response{OK: true, Message: "cancelled"}
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (h *sessionHandler) finish(apply func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	apply()
	h.closed = true
	close(h.done)
}

// tryForward attempts to send a command to an existing owner and classifies outcome.
//
// handled=false means there was no active owner to handle the request.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

// isSocketMissing reports whether forwarding failed because the owner socket is absent.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

// isConnectionRefused reports whether forwarding failed because no owner is listening.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
