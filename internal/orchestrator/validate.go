package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSourceURL parses raw and accepts it only when it is an absolute
// http or https URL with a host. No network access is performed.
func ValidateSourceURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// hashedIDPrefix marks ids derived from a hash of the whole URL. Bare ids
// never carry it.
const hashedIDPrefix = "src-"

// DeriveStreamID maps a validated source URL to its stream identifier.
// YouTube watch links (the "v" parameter) and youtu.be short links keep
// their video id. Every other URL, including ids with unsafe characters,
// gets a hash of the whole URL so distinct sources never share an id.
func DeriveStreamID(u *url.URL) StreamID {
	if id, ok := youtubeID(u); ok {
		return StreamID(id)
	}
	sum := sha256.Sum256([]byte(u.String()))
	return StreamID(hashedIDPrefix + hex.EncodeToString(sum[:16]))
}

func youtubeID(u *url.URL) (string, bool) {
	var id string
	switch strings.ToLower(strings.TrimSuffix(u.Hostname(), ".")) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		id = u.Query().Get("v")
	case "youtu.be":
		id = strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	default:
		return "", false
	}
	if !safeIDPattern.MatchString(id) || strings.HasPrefix(id, hashedIDPrefix) {
		return "", false
	}
	return id, true
}
