package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultResolveTimeout bounds every call to the resolution tool.
	DefaultResolveTimeout = 30 * time.Second

	// DefaultSourceFormat is the format selector passed to the resolution tool.
	DefaultSourceFormat = "best[height<=720]"
)

// Classifier decides whether a source is a live broadcast.
type Classifier interface {
	IsLive(ctx context.Context, sourceURL string) bool
}

// MediaResolver turns a source URL into a direct, time-limited media URL.
type MediaResolver interface {
	MediaURL(ctx context.Context, sourceURL string) (string, error)
}

// SourceToolConfig configures SourceTool.
type SourceToolConfig struct {
	Binary  string
	Format  string
	Timeout time.Duration
}

// SourceTool drives the yt-dlp compatible resolution tool. It implements
// both Classifier and MediaResolver.
type SourceTool struct {
	runner  Runner
	binary  string
	format  string
	timeout time.Duration
	log     *slog.Logger
}

// NewSourceTool returns a SourceTool. Zero config values fall back to
// "yt-dlp", DefaultSourceFormat and DefaultResolveTimeout.
func NewSourceTool(runner Runner, cfg SourceToolConfig, log *slog.Logger) *SourceTool {
	bin := strings.TrimSpace(cfg.Binary)
	if bin == "" {
		bin = "yt-dlp"
	}
	format := strings.TrimSpace(cfg.Format)
	if format == "" {
		format = DefaultSourceFormat
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &SourceTool{runner: runner, binary: bin, format: format, timeout: timeout, log: log}
}

// IsLive reports whether sourceURL is a live broadcast. Every failure of the
// tool is treated as "not live".
func (t *SourceTool) IsLive(ctx context.Context, sourceURL string) bool {
	out, err := t.run(ctx, "--get-id", "--match-filter", "is_live", sourceURL)
	if err != nil {
		t.log.Warn("liveness probe failed, treating source as finite",
			slog.String("source", sourceURL),
			slog.String("error", err.Error()))
		return false
	}
	return len(bytes.TrimSpace(out)) > 0
}

// MediaURL implements MediaResolver.
func (t *SourceTool) MediaURL(ctx context.Context, sourceURL string) (string, error) {
	out, err := t.run(ctx, "-f", t.format, "-g", sourceURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolution, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: empty output for %s", ErrResolution, sourceURL)
}

func (t *SourceTool) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.runner.Output(ctx, Command{Name: t.binary, Args: args})
}
