package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full gateway configuration.
type Settings struct {
	Port            string        `yaml:"port"`
	SegmentsDir     string        `yaml:"segmentsDir"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxSessions     int           `yaml:"maxSessions"`

	Resolver   ResolverSettings   `yaml:"resolver"`
	Transcoder TranscoderSettings `yaml:"transcoder"`
}

// ResolverSettings configures the source-resolution tool.
type ResolverSettings struct {
	Binary  string        `yaml:"binary"`
	Format  string        `yaml:"format"`
	Timeout time.Duration `yaml:"timeout"`
}

// TranscoderSettings configures the transcoding tool.
type TranscoderSettings struct {
	Binary         string `yaml:"binary"`
	SegmentSeconds int    `yaml:"segmentSeconds"`
	ListSize       int    `yaml:"listSize"`
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		Port:            "3000",
		SegmentsDir:     "./segments",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
		Resolver: ResolverSettings{
			Binary:  "yt-dlp",
			Format:  "best[height<=720]",
			Timeout: 30 * time.Second,
		},
		Transcoder: TranscoderSettings{
			Binary:         "ffmpeg",
			SegmentSeconds: 2,
			ListSize:       3,
		},
	}
}

// LoadSettings builds Settings from, in increasing precedence: defaults,
// the YAML file at path (skipped when path is empty), and the environment.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	s.Port = GetEnv("PORT", s.Port)
	s.SegmentsDir = GetEnv("SEGMENTS_DIR", s.SegmentsDir)
	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)
	s.ShutdownTimeout = GetEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxSessions = GetEnvInt("MAX_SESSIONS", s.MaxSessions)

	s.Resolver.Binary = GetEnv("YTDLP_PATH", s.Resolver.Binary)
	s.Resolver.Format = GetEnv("YTDLP_FORMAT", s.Resolver.Format)
	s.Resolver.Timeout = GetEnvDuration("RESOLVE_TIMEOUT", s.Resolver.Timeout)

	s.Transcoder.Binary = GetEnv("FFMPEG_PATH", s.Transcoder.Binary)
	s.Transcoder.SegmentSeconds = GetEnvInt("HLS_SEGMENT_SECONDS", s.Transcoder.SegmentSeconds)
	s.Transcoder.ListSize = GetEnvInt("HLS_LIST_SIZE", s.Transcoder.ListSize)
}

// Validate reports every invalid field, joined.
func (s Settings) Validate() error {
	var errs []error
	if n, err := strconv.Atoi(strings.TrimSpace(s.Port)); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("port %q out of range", s.Port))
	}
	if strings.TrimSpace(s.SegmentsDir) == "" {
		errs = append(errs, errors.New("segmentsDir is required"))
	}
	if s.MaxSessions < 0 {
		errs = append(errs, errors.New("maxSessions must not be negative"))
	}
	if s.Resolver.Timeout <= 0 {
		errs = append(errs, errors.New("resolver timeout must be positive"))
	}
	if s.Transcoder.SegmentSeconds <= 0 {
		errs = append(errs, errors.New("transcoder segmentSeconds must be positive"))
	}
	if s.Transcoder.ListSize <= 0 {
		errs = append(errs, errors.New("transcoder listSize must be positive"))
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdownTimeout must be positive"))
	}
	return errors.Join(errs...)
}
