package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/metrics"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/pkg/idx"
	"github.com/sironahealth/sirona/pkg/slogx"
)

const (
	// auditMaxAttempts is how many times a single event is offered to the sink.
	auditMaxAttempts = 3

	// DefaultAuditRetryDelay is the base backoff between sink attempts. The
	// actual delay grows with the attempt number (delay, 2*delay, ...).
	DefaultAuditRetryDelay = 1 * time.Second
)

// ErrMalformedEvent reports a programming error: an event with an unknown
// kind. This is the only audit failure that propagates to callers.
var ErrMalformedEvent = errors.New("audit: malformed event")

// AuditEntry is what components hand to the audit logger. The logger assigns
// the id and the server-side timestamp.
type AuditEntry struct {
	Kind      domain.EventKind
	ActorID   string // empty for pre-auth events
	SubjectID string // empty when no target account/patient
	Origin    string
	Client    string
	Detail    map[string]string
}

// AuditRecorder is the narrow capability injected into every component that
// emits security events. Components never talk to the sink directly, so tests
// can swap in a fake.
type AuditRecorder interface {
	Record(ctx context.Context, e AuditEntry) error
}

// AuditService is the append-only, retrying audit logger. Persistence goes
// through Events with bounded retries; once retries are exhausted the event is
// written to the process log at Error level so it is never silently dropped.
// Transient sink failures are absorbed here and never surfaced to the
// triggering business operation.
type AuditService struct {
	Events  store.AuditEvents
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RetryDelay is the base backoff; zero means DefaultAuditRetryDelay.
	RetryDelay time.Duration

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

func (s *AuditService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

// Record builds an immutable event and persists it with retries. It returns
// an error only for malformed events; sink unavailability degrades to a
// fallback trace and a nil return.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}

	event := domain.Event{
		ID:        idx.New().String(),
		Timestamp: s.now(),
		Kind:      e.Kind,
		Origin:    e.Origin,
		Client:    e.Client,
		Detail:    e.Detail,
	}
	if e.ActorID != "" {
		actor := e.ActorID
		event.ActorID = &actor
	}
	if e.SubjectID != "" {
		subject := e.SubjectID
		event.SubjectID = &subject
	}
	if event.Detail == nil {
		event.Detail = map[string]string{}
	}

	s.appendWithRetry(ctx, event)
	return nil
}

// Query returns audit events matching the filter, newest first. Callers are
// responsible for gating this behind the administrator role.
func (s *AuditService) Query(ctx context.Context, f domain.EventFilter) (domain.EventPage, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return domain.EventPage{}, errors.New("audit: negative limit or offset")
	}
	return s.Events.QueryEvents(ctx, f)
}

func (s *AuditService) appendWithRetry(ctx context.Context, event domain.Event) {
	l := slogx.FromContext(ctx)
	if s.Logger != nil {
		l = s.Logger
	}

	delay := s.RetryDelay
	if delay <= 0 {
		delay = DefaultAuditRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= auditMaxAttempts; attempt++ {
		lastErr = s.Events.AppendEvent(ctx, event)
		if lastErr == nil {
			if s.Metrics != nil {
				s.Metrics.AuditWritten.Inc()
			}
			return
		}

		l.Warn("failed to persist audit event",
			slog.String("kind", string(event.Kind)),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)

		if attempt == auditMaxAttempts {
			break
		}
		if !sleepCtx(ctx, delay*time.Duration(attempt)) {
			break
		}
	}

	// The sink is down. Leave a loud local trace carrying the full event so
	// the record is never lost without evidence.
	if s.Metrics != nil {
		s.Metrics.AuditFallbacks.Inc()
	}
	l.Error("audit event not persisted, writing fallback trace",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.Time("ts", event.Timestamp),
		slog.Any("actor_id", event.ActorID),
		slog.Any("subject_id", event.SubjectID),
		slog.String("origin", event.Origin),
		slog.String("client", event.Client),
		slog.Any("detail", event.Detail),
		slog.Any("error", lastErr),
	)
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
