package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hls-gateway/internal/platform/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const tracerName = "hls-gateway/orchestrator"

// ServiceOptions carries the optional collaborators of a Service.
type ServiceOptions struct {
	// MaxSessions caps concurrently running transcoders. 0 means unlimited.
	MaxSessions int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Service is the gateway: it validates sources, consults the registry,
// classifies, supervises, and reclaims sessions.
type Service struct {
	registry   *Registry
	store      *SegmentStore
	classifier Classifier
	supervisor *Supervisor
	log        *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	flights singleflight.Group
	slots   *semaphore.Weighted

	// Transcoders run on baseCtx rather than the request's context so a
	// client hanging up does not kill a shared transcode.
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu orders register against Shutdown.
	mu       sync.Mutex
	closed   atomic.Bool
	watchers sync.WaitGroup
	now      func() time.Time
}

// NewService wires a Service. registry, store, classifier and supervisor are
// required.
func NewService(registry *Registry, store *SegmentStore, classifier Classifier, supervisor *Supervisor, opts ServiceOptions) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		registry:   registry,
		store:      store,
		classifier: classifier,
		supervisor: supervisor,
		log:        log,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer(tracerName),
		baseCtx:    ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	if opts.MaxSessions > 0 {
		s.slots = semaphore.NewWeighted(int64(opts.MaxSessions))
	}
	return s
}

// Registry returns the live session registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Stream returns the playlist for rawURL, starting a transcode if needed.
// Live sources return as soon as the transcoder is running; finite sources
// return once it has exited. Concurrent requests for the same id share one
// transcode. If ctx ends first Stream returns ctx's error and the transcode
// carries on.
func (s *Service) Stream(ctx context.Context, rawURL string) (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrShuttingDown
	}
	u, err := ValidateSourceURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	id := DeriveStreamID(u)

	if sess, ok := s.registry.Lookup(id); ok && !sess.ended() {
		s.metrics.IncFastPath()
		return resultFor(sess), nil
	}

	ch := s.flights.DoChan(string(id), func() (any, error) {
		return s.open(id, u.String())
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		s.log.Info("caller left before stream was ready",
			slog.String("stream_id", string(id)),
			slog.String("error", ctx.Err().Error()))
		return Result{}, ctx.Err()
	}
}

// open runs at most once at a time per id.
func (s *Service) open(id StreamID, sourceURL string) (res Result, err error) {
	ctx, span := s.tracer.Start(s.baseCtx, "orchestrator.open",
		trace.WithAttributes(attribute.String("stream.id", string(id))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// A flight that finished just before this one may already have
	// registered the session.
	if sess, ok := s.registry.Lookup(id); ok {
		if !sess.ended() {
			s.metrics.IncFastPath()
			return resultFor(sess), nil
		}
		// Its transcoder is gone; wait until the watcher frees the id.
		select {
		case <-sess.released:
		case <-s.baseCtx.Done():
			return Result{}, ErrShuttingDown
		}
	}
	if s.closed.Load() {
		return Result{}, ErrShuttingDown
	}
	if !s.acquire() {
		return Result{}, ErrCapacity
	}
	held := true
	defer func() {
		if held {
			s.release()
		}
	}()

	dir, err := s.store.Prepare(id)
	if err != nil {
		return Result{}, err
	}

	live := s.classifier.IsLive(ctx, sourceURL)
	span.SetAttributes(attribute.Bool("stream.live", live))

	handle, err := s.supervisor.Start(ctx, id, sourceURL, dir)
	if err != nil {
		// Nothing runs for id, so nobody else owns the directory.
		if rmErr := s.store.Remove(id); rmErr != nil {
			s.log.Warn("remove segment dir failed",
				slog.String("stream_id", string(id)),
				slog.String("error", rmErr.Error()))
		}
		// Shutdown cancelled the tool calls; that is not a source failure.
		if s.closed.Load() {
			return Result{}, ErrShuttingDown
		}
		if errors.Is(err, ErrResolution) {
			s.metrics.IncResolutionFailures()
		} else {
			s.metrics.IncTranscodeFailures()
		}
		return Result{}, err
	}
	s.metrics.IncStreamsStarted(live)

	sess := &Session{
		ID:        id,
		SourceURL: sourceURL,
		Dir:       dir,
		Live:      live,
		StartedAt: s.now().UTC(),
		handle:    handle,
		released:  make(chan struct{}),
	}

	if live {
		if err := s.register(sess); err != nil {
			// An existing entry owns the directory; leave it alone.
			s.abandon(sess, !errors.Is(err, ErrSessionExists))
			return Result{}, err
		}
		held = false
		go s.watch(sess)
		s.log.Info("live session started", slog.String("stream_id", string(id)))
		return resultFor(sess), nil
	}

	start := s.now()
	exit := handle.Exit()
	s.metrics.ObserveFiniteTranscode(s.now().Sub(start).Seconds())
	if !exit.Success() {
		if s.closed.Load() {
			return Result{}, ErrShuttingDown
		}
		s.metrics.IncTranscodeFailures()
		if exit.Err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrTranscode, exit.Err)
		}
		return Result{}, fmt.Errorf("%w: exit code %d", ErrTranscode, exit.Code)
	}
	s.log.Info("finite transcode complete", slog.String("stream_id", string(id)))
	return resultFor(sess), nil
}

// watch reclaims a live session once its transcoder exits. The directory
// goes before the registry entry so no new session can reuse it meanwhile;
// lookups skip the entry as soon as the transcoder has exited.
func (s *Service) watch(sess *Session) {
	defer close(sess.released)
	defer s.watchers.Done()
	defer s.release()

	exit := sess.handle.Exit()
	if cur, ok := s.registry.Lookup(sess.ID); !ok || cur != sess {
		return
	}
	if err := s.store.Remove(sess.ID); err != nil {
		s.log.Error("remove segment dir failed",
			slog.String("stream_id", string(sess.ID)),
			slog.String("error", err.Error()))
	}
	s.registry.RemoveIf(sess.ID, sess)
	s.metrics.IncSessionsEnded()
	s.log.Info("live session ended",
		slog.String("stream_id", string(sess.ID)),
		slog.Int("code", exit.Code))
}

// register inserts a live session and accounts for its watcher. It fails
// once shutdown has begun.
func (s *Service) register(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrShuttingDown
	}
	if err := s.registry.Insert(sess); err != nil {
		return err
	}
	s.watchers.Add(1)
	return nil
}

// abandon stops a session that never made it into service.
func (s *Service) abandon(sess *Session, removeDir bool) {
	_ = sess.handle.Stop()
	<-sess.handle.Done()
	if !removeDir {
		return
	}
	if err := s.store.Remove(sess.ID); err != nil {
		s.log.Error("remove segment dir failed",
			slog.String("stream_id", string(sess.ID)),
			slog.String("error", err.Error()))
	}
}

// EndStream stops the live session for id. Cleanup follows asynchronously
// once the transcoder has exited.
func (s *Service) EndStream(id StreamID) error {
	sess, ok := s.registry.Lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := sess.handle.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	s.log.Info("live session stop requested", slog.String("stream_id", string(id)))
	return nil
}

// Sessions lists active live sessions with the progress read from their
// manifests.
func (s *Service) Sessions() []SessionInfo {
	sessions := s.registry.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{
			ID:          sess.ID,
			SourceURL:   sess.SourceURL,
			Live:        sess.Live,
			StartedAt:   sess.StartedAt,
			PlaylistURL: sess.ID.PlaylistURL(),
		}
		if m, err := s.readManifest(sess.ID); err == nil {
			info.Segments = len(m.Segments)
			info.MediaSequence = m.MediaSequence
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) isLive(id StreamID) bool {
	_, ok := s.registry.Lookup(id)
	return ok
}

func (s *Service) readManifest(id StreamID) (Manifest, error) {
	f, err := os.Open(s.store.PlaylistPath(id))
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	return ParseManifest(f)
}

// Shutdown stops every live transcoder and deletes its directory, then kills
// any finite transcode still running. It waits for the kills to land, bounded
// by ctx, but not for a graceful drain. Later calls are no-ops.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.closed.Store(true)
	s.mu.Unlock()

	sessions := s.registry.Drain()
	s.log.Info("cleaning up active streams", slog.Int("count", len(sessions)))
	for _, sess := range sessions {
		if err := sess.handle.Stop(); err != nil {
			s.log.Warn("stop transcoder failed",
				slog.String("stream_id", string(sess.ID)),
				slog.String("error", err.Error()))
		}
	}
	for _, sess := range sessions {
		if _, err := sess.handle.Wait(ctx); err != nil {
			s.log.Warn("transcoder still running at shutdown deadline",
				slog.String("stream_id", string(sess.ID)),
				slog.Int("pid", sess.handle.Pid()))
		}
		if err := s.store.Remove(sess.ID); err != nil {
			s.log.Error("remove segment dir failed",
				slog.String("stream_id", string(sess.ID)),
				slog.String("error", err.Error()))
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown deadline reached before all watchers finished")
	}
}

func (s *Service) acquire() bool {
	if s.slots == nil {
		return true
	}
	return s.slots.TryAcquire(1)
}

func (s *Service) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func resultFor(sess *Session) Result {
	return Result{ID: sess.ID, PlaylistURL: sess.ID.PlaylistURL(), Live: sess.Live}
}
