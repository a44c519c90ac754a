package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Segment is one entry of a media playlist.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// Manifest is the parsed form of a media playlist.
type Manifest struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []Segment
	Ended          bool
}

// ParseManifest reads an HLS media playlist as written by the transcoder.
// Unknown tags are skipped.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	scanner := bufio.NewScanner(r)

	sawHeader := false
	pending := -1.0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return Manifest{}, fmt.Errorf("manifest: missing #EXTM3U header")
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: target duration: %w", err)
			}
			m.TargetDuration = n
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: media sequence: %w", err)
			}
			m.MediaSequence = n
		case strings.HasPrefix(line, "#EXTINF:"):
			v := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: segment duration: %w", err)
			}
			pending = d
		case line == "#EXT-X-ENDLIST":
			m.Ended = true
		case strings.HasPrefix(line, "#"):
		default:
			if pending < 0 {
				return Manifest{}, fmt.Errorf("manifest: uri %q without #EXTINF", line)
			}
			m.Segments = append(m.Segments, Segment{
				Sequence: m.MediaSequence + int64(len(m.Segments)),
				Duration: pending,
				Path:     line,
			})
			pending = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, err
	}
	if !sawHeader {
		return Manifest{}, fmt.Errorf("manifest: empty")
	}
	return m, nil
}

// PendingLivePlaylist renders the live playlist served before the
// transcoder has written its first manifest: no segments, no end tag, and
// the target duration the transcoder was configured with.
func PendingLivePlaylist(targetDuration int) string {
	if targetDuration <= 0 {
		targetDuration = 1
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	return b.String()
}
