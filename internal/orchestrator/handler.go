package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"hls-gateway/internal/platform/logger"
	"hls-gateway/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"

	msgInvalidURL  = "Invalid URL parameter"
	msgTranscode   = "Failed to create HLS stream"
	msgStreamSetup = "Error creating stream"
	msgUnavailable = "Service unavailable"
	msgNotFound    = "Stream not found"
	msgStopFailed  = "Failed to stop stream"
)

// Handler exposes the gateway HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Mount registers the gateway routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/stream", h.Stream)
	r.Get("/streams", h.ListStreams)
	r.Post("/streams/{stream_id}/end", h.EndStream)
	r.Get("/segments/*", h.Segments)
}

// Stream handles GET /stream?url=<source>.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)
	raw := r.URL.Query().Get("url")

	res, err := h.svc.Stream(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidURL):
			log.Debug("rejected source url", slog.String("url", raw), slog.String("error", err.Error()))
			writeText(w, http.StatusBadRequest, msgInvalidURL)
		case errors.Is(err, ErrCapacity), errors.Is(err, ErrShuttingDown):
			log.Warn("stream refused", slog.String("url", raw), slog.String("error", err.Error()))
			writeText(w, http.StatusServiceUnavailable, msgUnavailable)
		case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
			// Client hung up; there is nobody to answer.
		case errors.Is(err, ErrTranscode):
			log.Error("transcode failed", slog.String("url", raw), slog.String("error", err.Error()))
			writeText(w, http.StatusInternalServerError, msgTranscode)
		default:
			log.Error("error creating stream", slog.String("url", raw), slog.String("error", err.Error()))
			writeText(w, http.StatusInternalServerError, msgStreamSetup)
		}
		return
	}

	log.Debug("stream ready",
		slog.String("stream_id", string(res.ID)),
		slog.Bool("live", res.Live))
	writeJSON(w, http.StatusOK, res)
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Sessions()
	h.metrics.SetActiveStreams(len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

// EndStream handles POST /streams/{stream_id}/end.
func (h *Handler) EndStream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)

	id := StreamID(chi.URLParam(r, "stream_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.EndStream(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeText(w, http.StatusNotFound, msgNotFound)
			return
		}
		log.Error("end stream failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		writeText(w, http.StatusInternalServerError, msgStopFailed)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Segments handles GET /segments/<id>/<file> from the segment store.
// Directory listings are not served.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + chi.URLParam(r, "*"))
	if name == "/" || strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	file := filepath.Join(h.svc.store.Root(), filepath.FromSlash(name))
	if info, err := os.Stat(file); err != nil || info.IsDir() {
		if id, ok := pendingPlaylist(name); ok && h.svc.isLive(id) {
			// The transcoder has not written its first manifest yet.
			w.Header().Set("Content-Type", playlistContentType)
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(PendingLivePlaylist(h.svc.supervisor.cfg.SegmentSeconds)))
			return
		}
		http.NotFound(w, r)
		return
	}

	switch path.Ext(name) {
	case ".m3u8":
		w.Header().Set("Content-Type", playlistContentType)
		w.Header().Set("Cache-Control", "no-cache")
	case ".ts":
		w.Header().Set("Content-Type", segmentContentType)
	}
	http.ServeFile(w, r, file)
}

// pendingPlaylist extracts the stream id from "/<id>/playlist.m3u8".
func pendingPlaylist(name string) (StreamID, bool) {
	dir, file := path.Split(strings.TrimPrefix(name, "/"))
	if file != PlaylistFile || dir == "" || strings.Count(dir, "/") != 1 {
		return "", false
	}
	return StreamID(strings.TrimSuffix(dir, "/")), true
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
