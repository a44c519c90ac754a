package orchestrator

import (
	"errors"
	"time"
)

// StreamID uniquely identifies a source for the lifetime of a session. It is
// always safe to use as a single path component.
type StreamID string

// PlaylistURL returns the public manifest path served for the stream.
func (id StreamID) PlaylistURL() string {
	return "/segments/" + string(id) + "/" + PlaylistFile
}

// Session is one supervised transcode. A live session is owned by the
// Registry from insert until its watcher (or shutdown) removes it.
type Session struct {
	ID        StreamID
	SourceURL string
	Dir       string
	Live      bool
	StartedAt time.Time

	handle *Handle
	// released is closed once the watcher is done with the registry entry.
	released chan struct{}
}

// ended reports whether the transcoder has exited. The entry may linger in
// the registry until its watcher has removed the directory.
func (s *Session) ended() bool {
	select {
	case <-s.handle.Done():
		return true
	default:
		return false
	}
}

// Result is what the gateway hands back to a caller of Stream.
type Result struct {
	ID          StreamID `json:"-"`
	PlaylistURL string   `json:"playlistUrl"`
	Live        bool     `json:"-"`
}

// SessionInfo is the listing view of an active session.
type SessionInfo struct {
	ID            StreamID  `json:"id"`
	SourceURL     string    `json:"sourceUrl"`
	Live          bool      `json:"live"`
	StartedAt     time.Time `json:"startedAt"`
	PlaylistURL   string    `json:"playlistUrl"`
	Segments      int       `json:"segments"`
	MediaSequence int64     `json:"mediaSequence"`
}

var (
	// ErrInvalidURL is returned when the source parameter is missing or not an
	// absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid source url")

	// ErrResolution is returned when the resolution tool could not produce a
	// media URL. No process has been spawned when this is returned.
	ErrResolution = errors.New("source resolution failed")

	// ErrTranscode is returned when the transcoder failed to start or exited
	// with a non-zero code.
	ErrTranscode = errors.New("transcode failed")

	// ErrFilesystem is returned when a segment directory could not be created,
	// purged or removed.
	ErrFilesystem = errors.New("segment store failure")

	// ErrSessionExists is returned by Registry.Insert when the id is taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when no live session exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacity is returned when the configured session cap is reached.
	ErrCapacity = errors.New("session capacity reached")

	// ErrShuttingDown is returned once shutdown has started.
	ErrShuttingDown = errors.New("service is shutting down")
)
