package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultSegmentSeconds is the target duration of each emitted segment.
	DefaultSegmentSeconds = 2

	// DefaultListSize is the number of segments kept in the rolling window.
	DefaultListSize = 3

	tailLines = 20
)

// TranscoderConfig configures the ffmpeg invocation.
type TranscoderConfig struct {
	Binary         string
	SegmentSeconds int
	ListSize       int
}

func (c TranscoderConfig) withDefaults() TranscoderConfig {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "ffmpeg"
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = DefaultSegmentSeconds
	}
	if c.ListSize <= 0 {
		c.ListSize = DefaultListSize
	}
	return c
}

// TranscodeArgs builds the ffmpeg argument list that reads mediaURL and
// writes a rolling HLS window into dir. It has no side effects.
func TranscodeArgs(cfg TranscoderConfig, mediaURL, dir string) []string {
	cfg = cfg.withDefaults()
	return []string{
		"-i", mediaURL,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(cfg.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(cfg.ListSize),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(dir, SegmentPattern),
		"-preset", "veryfast",
		"-profile:v", "baseline",
		"-level", "3.0",
		filepath.Join(dir, PlaylistFile),
	}
}

// Supervisor resolves a source and spawns one transcoder for it.
type Supervisor struct {
	runner   Runner
	resolver MediaResolver
	cfg      TranscoderConfig
	log      *slog.Logger
}

// NewSupervisor returns a Supervisor that resolves with resolver and spawns
// processes through runner.
func NewSupervisor(runner Runner, resolver MediaResolver, cfg TranscoderConfig, log *slog.Logger) *Supervisor {
	return &Supervisor{runner: runner, resolver: resolver, cfg: cfg.withDefaults(), log: log}
}

// Start resolves sourceURL and spawns the transcoder writing into dir, which
// must already exist and be empty. Resolution failures wrap ErrResolution and
// leave nothing running; spawn failures wrap ErrTranscode. The process lives
// until it exits on its own, Stop is called, or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context, id StreamID, sourceURL, dir string) (*Handle, error) {
	mediaURL, err := s.resolver.MediaURL(ctx, sourceURL)
	if err != nil {
		if !errors.Is(err, ErrResolution) {
			err = fmt.Errorf("%w: %v", ErrResolution, err)
		}
		return nil, err
	}

	cmd := Command{Name: s.cfg.Binary, Args: TranscodeArgs(s.cfg, mediaURL, dir)}
	proc, err := s.runner.Start(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrTranscode, s.cfg.Binary, err)
	}

	log := s.log.With(slog.String("stream_id", string(id)), slog.Int("pid", proc.Pid()))
	log.Info("transcoder started", slog.String("dir", dir))

	h := &Handle{
		id:   id,
		proc: proc,
		log:  log,
		done: make(chan struct{}),
	}
	go h.supervise()
	return h, nil
}

// Exit is the terminal event of a supervised process.
type Exit struct {
	Code int
	Err  error
}

// Success reports a clean zero exit.
func (e Exit) Success() bool {
	return e.Err == nil && e.Code == 0
}

// Handle owns one running transcoder. Done is closed exactly once, after
// the exit status is recorded.
type Handle struct {
	id   StreamID
	proc Process
	log  *slog.Logger

	done chan struct{}
	exit Exit

	mu      sync.Mutex
	tail    []string
	stopped bool
}

// ID returns the stream the process belongs to.
func (h *Handle) ID() StreamID {
	return h.id
}

// Pid returns the operating system process id.
func (h *Handle) Pid() int {
	return h.proc.Pid()
}

// Done is closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exit blocks until the process has exited and returns its status.
func (h *Handle) Exit() Exit {
	<-h.done
	return h.exit
}

// Wait returns the exit status, or ctx's error if ctx ends first. The
// process keeps running in the latter case.
func (h *Handle) Wait(ctx context.Context) (Exit, error) {
	select {
	case <-h.done:
		return h.exit, nil
	case <-ctx.Done():
		return Exit{}, ctx.Err()
	}
}

// Stop kills the process. It is safe to call more than once and after exit.
func (h *Handle) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}
	return h.proc.Kill()
}

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Tail returns the most recent diagnostic lines, oldest first.
func (h *Handle) Tail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.tail))
	copy(out, h.tail)
	return out
}

func (h *Handle) supervise() {
	if r := h.proc.Diagnostics(); r != nil {
		h.drainDiagnostics(r)
	}

	code, err := h.proc.Wait()
	h.exit = Exit{Code: code, Err: err}

	attrs := []any{slog.Int("code", code)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if h.exit.Success() || h.Stopped() {
		h.log.Info("transcoder exited", attrs...)
	} else {
		attrs = append(attrs, slog.String("stderr_tail", strings.Join(h.Tail(), "\n")))
		h.log.Warn("transcoder exited", attrs...)
	}
	close(h.done)
}

func (h *Handle) drainDiagnostics(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.log.Debug("transcoder", slog.String("line", line))
		h.appendTail(line)
	}
	// Keep the pipe flowing if a line overflowed the scanner.
	_, _ = io.Copy(io.Discard, r)
}

func (h *Handle) appendTail(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tail = append(h.tail, line)
	if len(h.tail) > tailLines {
		h.tail = h.tail[len(h.tail)-tailLines:]
	}
}
