package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/stretchr/testify/require"
)

// flakySink fails the first failures appends, then succeeds.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	stored   []domain.Event
}

func (s *flakySink) AppendEvent(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("sink unavailable")
	}
	s.stored = append(s.stored, e)
	return nil
}

func (s *flakySink) QueryEvents(_ context.Context, _ domain.EventFilter) (domain.EventPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.EventPage{Total: len(s.stored), Events: s.stored}, nil
}

func newTestAudit(sink *flakySink) *AuditService {
	return &AuditService{
		Events:     sink,
		Logger:     slog.New(slog.DiscardHandler),
		RetryDelay: time.Millisecond,
	}
}

func TestAuditRecordFirstTry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sink := &flakySink{}
	svc := newTestAudit(sink)

	err := svc.Record(ctx, AuditEntry{
		Kind:    domain.EventLoginSuccess,
		ActorID: "acct-1",
		Origin:  testOrigin,
		Client:  testClient,
	})
	require.NoError(t, err)
	require.Equal(t, 1, sink.attempts)
	require.Len(t, sink.stored, 1)

	stored := sink.stored[0]
	require.NotEmpty(t, stored.ID)
	require.False(t, stored.Timestamp.IsZero())
	require.Equal(t, domain.EventLoginSuccess, stored.Kind)
	require.NotNil(t, stored.ActorID)
	require.Equal(t, "acct-1", *stored.ActorID)
	require.Nil(t, stored.SubjectID)
}

func TestAuditRecordRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sink := &flakySink{failures: 2}
	svc := newTestAudit(sink)

	err := svc.Record(ctx, AuditEntry{Kind: domain.EventLoginFailed, Origin: testOrigin})
	require.NoError(t, err)
	require.Equal(t, 3, sink.attempts)
	require.Len(t, sink.stored, 1)
}

func TestAuditRecordFallsBackAfterExhaustion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf strings.Builder
	sink := &flakySink{failures: 100}
	svc := newTestAudit(sink)
	svc.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	// Sink exhaustion must never surface to the triggering operation.
	err := svc.Record(ctx, AuditEntry{Kind: domain.EventLoginFailed, Origin: testOrigin})
	require.NoError(t, err)
	require.Equal(t, 3, sink.attempts)
	require.Empty(t, sink.stored)

	// The event leaves a loud local trace instead.
	trace := buf.String()
	require.Contains(t, trace, "level=ERROR")
	require.Contains(t, trace, "fallback trace")
	require.Contains(t, trace, string(domain.EventLoginFailed))
	require.Contains(t, trace, testOrigin)
}

func TestAuditRecordRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sink := &flakySink{}
	svc := newTestAudit(sink)

	err := svc.Record(ctx, AuditEntry{Kind: domain.EventKind("made_up_kind")})
	require.ErrorIs(t, err, ErrMalformedEvent)
	require.Zero(t, sink.attempts)
}

func TestAuditQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	svc := &AuditService{
		Events:     st.AuditEvents(),
		Logger:     slog.New(slog.DiscardHandler),
		RetryDelay: time.Millisecond,
	}

	kinds := []domain.EventKind{
		domain.EventLoginFailed,
		domain.EventLoginFailed,
		domain.EventLoginSuccess,
		domain.EventRecordQuarantined,
	}
	for _, kind := range kinds {
		require.NoError(t, svc.Record(ctx, AuditEntry{
			Kind:    kind,
			ActorID: "acct-1",
			Origin:  testOrigin,
			Client:  testClient,
			Detail:  map[string]string{"seq": string(kind)},
		}))
	}

	t.Run("filter by kind", func(t *testing.T) {
		page, err := svc.Query(ctx, domain.EventFilter{Kind: domain.EventLoginFailed})
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
		require.Len(t, page.Events, 2)
		for _, e := range page.Events {
			require.Equal(t, domain.EventLoginFailed, e.Kind)
		}
	})

	t.Run("filter by actor", func(t *testing.T) {
		page, err := svc.Query(ctx, domain.EventFilter{ActorID: "acct-1"})
		require.NoError(t, err)
		require.Equal(t, len(kinds), page.Total)
	})

	t.Run("pagination", func(t *testing.T) {
		page, err := svc.Query(ctx, domain.EventFilter{Limit: 2})
		require.NoError(t, err)
		require.Equal(t, len(kinds), page.Total)
		require.Len(t, page.Events, 2)

		rest, err := svc.Query(ctx, domain.EventFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, rest.Events, 2)
		require.NotEqual(t, page.Events[0].ID, rest.Events[0].ID)
	})

	t.Run("rejects negative paging", func(t *testing.T) {
		_, err := svc.Query(ctx, domain.EventFilter{Limit: -1})
		require.Error(t, err)
	})
}
