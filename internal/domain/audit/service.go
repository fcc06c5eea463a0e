package audit

import (
	"context"
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Recorder is what the rest of the system depends on to leave a trail.
// Implementations must never fail the caller.
type Recorder interface {
	Record(ctx context.Context, action, actorID, subjectID string, payload map[string]any)
}

// Service allocates ordinals and persists entries. The ordinal counter
// is primed from storage once at construction and then advances
// atomically, so concurrent writers still produce a gap-free sequence.
type Service struct {
	repo    Repository
	logger  zerolog.Logger
	sink    *FileSink
	ordinal atomic.Uint64
	onWrite func()
}

// Option configures the service.
type Option func(*Service)

// WithSink mirrors every entry into a JSONL file.
func WithSink(sink *FileSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithWriteHook runs after each successful append. Used for metrics.
func WithWriteHook(fn func()) Option {
	return func(s *Service) { s.onWrite = fn }
}

// NewService primes the ordinal allocator from the stored maximum.
func NewService(ctx context.Context, repo Repository, logger zerolog.Logger, opts ...Option) (*Service, error) {
	s := &Service{repo: repo, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	max, err := repo.MaxOrdinal(ctx)
	if err != nil {
		return nil, err
	}
	s.ordinal.Store(max)
	return s, nil
}

// Record appends one entry. It never returns an error: persistence
// failures are logged out-of-band and the audited operation proceeds.
func (s *Service) Record(ctx context.Context, action, actorID, subjectID string, payload map[string]any) {
	if actorID == "" {
		actorID = SystemActor
	}
	src := sourceFromContext(ctx)
	e := &Entry{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Ordinal:   s.ordinal.Add(1),
		Action:    action,
		ActorID:   actorID,
		SubjectID: subjectID,
		Payload:   payload,
		SourceIP:  src.IP,
		UserAgent: src.UserAgent,
		At:        time.Now().UTC(),
	}

	// Persist on a detached context so a cancelled request cannot
	// drop its own trail.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Append(appendCtx, e); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("actor_id", actorID).
			Uint64("ordinal", e.Ordinal).
			Msg("audit append failed")
	} else if s.onWrite != nil {
		s.onWrite()
	}

	if s.sink != nil {
		if err := s.sink.Write(e); err != nil {
			s.logger.Error().Err(err).Msg("audit sink write failed")
		}
	}
}

// List reads entries for the admin surface.
func (s *Service) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	return s.repo.List(ctx, f)
}
