package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command describes one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner launches external tools. ExecRunner is the production
// implementation; tests substitute fakes so the tools need not be installed.
type Runner interface {
	// Output runs the command to completion and returns its stdout.
	Output(ctx context.Context, cmd Command) ([]byte, error)

	// Start spawns a long-running process. The process is killed when ctx
	// is cancelled.
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Process is a running external process.
type Process interface {
	Pid() int

	// Diagnostics is the process's stderr. It must be drained before Wait
	// is called.
	Diagnostics() io.Reader

	// Wait blocks until the process exits. err is set only when the exit
	// code could not be determined.
	Wait() (code int, err error)

	Kill() error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Output implements Runner.Output. Stderr is folded into the returned error.
func (ExecRunner) Output(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w", c.Name, err)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", c.Name, err, msg)
	}
	return stdout.Bytes(), nil
}

// Start implements Runner.Start.
func (ExecRunner) Start(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader

	killOnce sync.Once
	killErr  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Diagnostics() io.Reader {
	return p.stderr
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Kill() error {
	p.killOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.killErr = err
		}
	})
	return p.killErr
}
