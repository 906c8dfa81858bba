package sqlite

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func testAccount(identity string) domain.Account {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Account{
		ID:           idx.New().String(),
		Identity:     identity,
		FullName:     "Test Person",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Role:         domain.RoleDoctor,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testRecord(patientID string) domain.ClinicalRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.ClinicalRecord{
		ID:        idx.New().String(),
		PatientID: patientID,
		Content: domain.MedicalContent{
			BloodType: "O+",
			Allergies: []string{"penicillin"},
			Visits: []domain.Visit{
				{ID: "v1", Date: "2026-01-05", Reason: "checkup"},
			},
		},
		Digest:    "ab12",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAccountRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	byID, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, acct.Identity, byID.Identity)
	require.Equal(t, acct.PasswordHash, byID.PasswordHash)
	require.Equal(t, acct.Role, byID.Role)
	require.False(t, byID.MFAEnabled)
	require.Nil(t, byID.MFASecret)
	require.Nil(t, byID.LockoutUntil)

	byIdentity, err := st.Accounts().GetAccountByIdentity(ctx, "doc@example.org")
	require.NoError(t, err)
	require.Equal(t, acct.ID, byIdentity.ID)

	_, err = st.Accounts().GetAccountByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountIdentityIsUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	require.NoError(t, st.Accounts().CreateAccount(ctx, testAccount("doc@example.org")))

	err := st.Accounts().CreateAccount(ctx, testAccount("doc@example.org"))
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestIncrementFailedAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	// Each call observes its own post-increment value.
	for want := 1; want <= 5; want++ {
		got, err := st.Accounts().IncrementFailedAttempts(ctx, acct.ID)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := st.Accounts().IncrementFailedAttempts(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIncrementFailedAttemptsConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	const workers = 20
	results := make([]int, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = st.Accounts().IncrementFailedAttempts(ctx, acct.ID)
		}()
	}
	wg.Wait()

	// Every caller must observe a distinct post-increment value, so the
	// sorted results are exactly 1..workers.
	for _, err := range errs {
		require.NoError(t, err)
	}
	slices.Sort(results)
	for i, got := range results {
		require.Equal(t, i+1, got)
	}
}

func TestLockoutLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	until := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Second)
	require.NoError(t, st.Accounts().SetLockout(ctx, acct.ID, until))

	locked, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLocked, locked.Status)
	require.NotNil(t, locked.LockoutUntil)
	require.True(t, locked.LockoutUntil.Equal(until))

	require.NoError(t, st.Accounts().ClearLockout(ctx, acct.ID))

	cleared, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, cleared.Status)
	require.Zero(t, cleared.FailedAttempts)
	require.Nil(t, cleared.LockoutUntil)
}

func TestClearLockoutKeepsInactiveStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	acct.Status = domain.StatusInactive
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	// Clearing a lockout must not resurrect a deactivated account.
	require.NoError(t, st.Accounts().ClearLockout(ctx, acct.ID))

	got, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, got.Status)
}

func TestListLockedExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	now := time.Now().UTC()

	expired := testAccount("expired@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, expired))
	require.NoError(t, st.Accounts().SetLockout(ctx, expired.ID, now.Add(-time.Minute)))

	current := testAccount("current@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, current))
	require.NoError(t, st.Accounts().SetLockout(ctx, current.ID, now.Add(time.Hour)))

	ids, err := st.Accounts().ListLockedExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{expired.ID}, ids)
}

func TestMFAFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	require.NoError(t, st.Accounts().UpdateMFASecret(ctx, acct.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, st.Accounts().EnableMFA(ctx, acct.ID))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.Accounts().TouchLastLogin(ctx, acct.ID, at))

	got, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled)
	require.NotNil(t, got.MFASecret)
	require.Equal(t, "JBSWY3DPEHPK3PXP", *got.MFASecret)
	require.NotNil(t, got.LastLogin)
	require.True(t, got.LastLogin.Equal(at))
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	rec := testRecord("patient-1")
	require.NoError(t, st.Records().CreateRecord(ctx, rec))

	got, err := st.Records().GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.PatientID, got.PatientID)
	require.Equal(t, rec.Content.BloodType, got.Content.BloodType)
	require.Equal(t, rec.Content.Allergies, got.Content.Allergies)
	require.Equal(t, rec.Content.Visits, got.Content.Visits)
	require.Equal(t, rec.Digest, got.Digest)
	require.False(t, got.Corrupted)

	byPatient, err := st.Records().GetRecordByPatient(ctx, "patient-1")
	require.NoError(t, err)
	require.Equal(t, rec.ID, byPatient.ID)
}

func TestQuarantineFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	rec := testRecord("patient-1")
	require.NoError(t, st.Records().CreateRecord(ctx, rec))

	detectedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.Records().SetQuarantine(ctx, rec.ID, "digest mismatch", detectedAt))

	flagged, err := st.Records().GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, flagged.Corrupted)
	require.Equal(t, "digest mismatch", flagged.CorruptionReason)
	require.NotNil(t, flagged.CorruptionDetectedAt)
	require.Equal(t, rec.Digest, flagged.Digest) // digest untouched

	require.NoError(t, st.Records().ClearQuarantine(ctx, rec.ID, "cd34"))

	cleared, err := st.Records().GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.False(t, cleared.Corrupted)
	require.Empty(t, cleared.CorruptionReason)
	require.Nil(t, cleared.CorruptionDetectedAt)
	require.Equal(t, "cd34", cleared.Digest)
}

func TestListQuarantinedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	clean := testRecord("patient-clean")
	require.NoError(t, st.Records().CreateRecord(ctx, clean))

	flagged := testRecord("patient-flagged")
	require.NoError(t, st.Records().CreateRecord(ctx, flagged))
	require.NoError(t, st.Records().SetQuarantine(ctx, flagged.ID, "digest mismatch", time.Now().UTC()))

	all, err := st.Records().ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	quarantined, err := st.Records().ListQuarantined(ctx)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	require.Equal(t, flagged.ID, quarantined[0].ID)
}

func TestAuditAppendAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	actor := "acct-1"

	base := time.Now().UTC().Truncate(time.Second)
	kinds := []domain.EventKind{
		domain.EventLoginFailed,
		domain.EventLoginSuccess,
		domain.EventRecordQuarantined,
	}
	for i, kind := range kinds {
		require.NoError(t, st.AuditEvents().AppendEvent(ctx, domain.Event{
			ID:        idx.New().String(),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Kind:      kind,
			ActorID:   &actor,
			Origin:    "203.0.113.10",
			Client:    "test-suite/1.0",
			Detail:    map[string]string{"n": string(rune('a' + i))},
		}))
	}

	t.Run("newest first", func(t *testing.T) {
		page, err := st.AuditEvents().QueryEvents(ctx, domain.EventFilter{})
		require.NoError(t, err)
		require.Equal(t, 3, page.Total)
		require.Len(t, page.Events, 3)
		require.Equal(t, domain.EventRecordQuarantined, page.Events[0].Kind)
		require.Equal(t, domain.EventLoginFailed, page.Events[2].Kind)
	})

	t.Run("kind filter", func(t *testing.T) {
		page, err := st.AuditEvents().QueryEvents(ctx, domain.EventFilter{Kind: domain.EventLoginSuccess})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
	})

	t.Run("time window", func(t *testing.T) {
		page, err := st.AuditEvents().QueryEvents(ctx, domain.EventFilter{
			From: base.Add(time.Second),
			To:   base.Add(2 * time.Second),
		})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		require.Equal(t, domain.EventLoginSuccess, page.Events[0].Kind)
	})

	t.Run("detail round trip", func(t *testing.T) {
		page, err := st.AuditEvents().QueryEvents(ctx, domain.EventFilter{Kind: domain.EventLoginFailed})
		require.NoError(t, err)
		require.Equal(t, map[string]string{"n": "a"}, page.Events[0].Detail)
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Accounts().IncrementFailedAttempts(ctx, acct.ID); err != nil {
			return err
		}
		return context.Canceled // force rollback
	})
	require.Error(t, err)

	got, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedAttempts)
}

func TestWithTxCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := newTestStore(t)
	acct := testAccount("doc@example.org")
	require.NoError(t, st.Accounts().CreateAccount(ctx, acct))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		attempts, err := tx.Accounts().IncrementFailedAttempts(ctx, acct.ID)
		if err != nil {
			return err
		}
		if attempts >= 1 {
			return tx.Accounts().SetLockout(ctx, acct.ID, time.Now().UTC().Add(time.Minute))
		}
		return nil
	})
	require.NoError(t, err)

	got, err := st.Accounts().GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailedAttempts)
	require.Equal(t, domain.StatusLocked, got.Status)
}
