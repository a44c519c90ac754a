package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testManifest = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-TARGETDURATION:2\n" +
	"#EXT-X-MEDIA-SEQUENCE:0\n" +
	"#EXTINF:2.000000,\n" +
	"segment0.ts\n" +
	"#EXT-X-ENDLIST\n"

// fakeProcess stands in for a running transcoder. It exits when finish or
// Kill is called.
type fakeProcess struct {
	pid   int
	cmd   Command
	diagR *io.PipeReader
	diagW *io.PipeWriter

	once   sync.Once
	code   int
	exited chan struct{}
	killed atomic.Bool
}

func newFakeProcess(pid int, cmd Command) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, cmd: cmd, diagR: r, diagW: w, exited: make(chan struct{})}
}

func (p *fakeProcess) Pid() int               { return p.pid }
func (p *fakeProcess) Diagnostics() io.Reader { return p.diagR }

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	return p.code, nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.finish(-1)
	return nil
}

// say writes a diagnostic line as the process would on stderr.
func (p *fakeProcess) say(line string) {
	_, _ = io.WriteString(p.diagW, line+"\n")
}

func (p *fakeProcess) finish(code int) {
	p.once.Do(func() {
		p.code = code
		_ = p.diagW.Close()
		close(p.exited)
	})
}

// outputDir is the directory the transcoder was told to write into.
func (p *fakeProcess) outputDir() string {
	return filepath.Dir(p.cmd.Args[len(p.cmd.Args)-1])
}

// fakeRunner answers resolution queries from fields and spawns fakeProcesses.
type fakeRunner struct {
	live     bool
	liveErr  error
	mediaURL string
	mediaErr error
	startErr error

	// resolveGate, when set, holds media resolution until closed.
	resolveGate chan struct{}
	// onStart runs synchronously after each spawn.
	onStart func(p *fakeProcess)

	mu      sync.Mutex
	outputs []Command
	procs   []*fakeProcess
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{mediaURL: "https://media.example.com/video.m3u8"}
}

func (r *fakeRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	r.mu.Lock()
	r.outputs = append(r.outputs, cmd)
	r.mu.Unlock()

	switch {
	case slices.Contains(cmd.Args, "--get-id"):
		if r.liveErr != nil {
			return nil, r.liveErr
		}
		if r.live {
			return []byte("abc123\n"), nil
		}
		return []byte("\n"), nil
	case slices.Contains(cmd.Args, "-g"):
		if r.resolveGate != nil {
			select {
			case <-r.resolveGate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if r.mediaErr != nil {
			return nil, r.mediaErr
		}
		return []byte(r.mediaURL + "\n"), nil
	}
	return nil, errors.New("unexpected command: " + cmd.String())
}

func (r *fakeRunner) Start(ctx context.Context, cmd Command) (Process, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.mu.Lock()
	p := newFakeProcess(1000+len(r.procs), cmd)
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	// Mirror exec.CommandContext: cancelling ctx kills the process.
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Kill()
		case <-p.exited:
		}
	}()
	if r.onStart != nil {
		r.onStart(p)
	}
	return p, nil
}

func (r *fakeRunner) started() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func (r *fakeRunner) proc(i int) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[i]
}

func (r *fakeRunner) resolutions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.outputs {
		if slices.Contains(c.Args, "-g") {
			n++
		}
	}
	return n
}

// finishWith writes a complete manifest and one segment, then exits with code.
func finishWith(code int) func(p *fakeProcess) {
	return func(p *fakeProcess) {
		dir := p.outputDir()
		_ = os.WriteFile(filepath.Join(dir, PlaylistFile), []byte(testManifest), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "segment0.ts"), []byte("ts-bytes"), 0o644)
		p.finish(code)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, r *fakeRunner, opts ServiceOptions) *Service {
	t.Helper()
	store := NewSegmentStore(t.TempDir())
	require.NoError(t, store.Init())

	log := testLogger()
	tool := NewSourceTool(r, SourceToolConfig{Timeout: 5 * time.Second}, log)
	sup := NewSupervisor(r, tool, TranscoderConfig{}, log)
	opts.Logger = log
	svc := NewService(NewRegistry(), store, tool, sup, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
