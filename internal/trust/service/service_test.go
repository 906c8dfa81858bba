package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/internal/trust/store/drivers/sqlite"
	"github.com/sironahealth/sirona/pkg/cryptox"
	"github.com/sironahealth/sirona/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "trust-test"
	testPassword = "Sup3r-Secret-Pass!"
	testOrigin   = "203.0.113.10"
	testClient   = "test-suite/1.0"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// auditCapture is an in-memory AuditRecorder for asserting event emission.
type auditCapture struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *auditCapture) Record(_ context.Context, e AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *auditCapture) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.EventKind, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Kind)
	}
	return out
}

func (c *auditCapture) last() AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[len(c.entries)-1]
}

func (c *auditCapture) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

func containsKind(kinds []domain.EventKind, kind domain.EventKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newTestAuth(t *testing.T, st store.Store) (*AuthService, *auditCapture) {
	t.Helper()

	dir := t.TempDir()

	hasher, err := cryptox.NewHasher(
		cryptox.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1},
		filepath.Join(dir, "pepper"),
	)
	require.NoError(t, err)

	pemKey, err := jwtx.LoadOrGenerateKey(filepath.Join(dir, "trust.key"))
	require.NoError(t, err)
	signer, err := jwtx.NewSigner(pemKey)
	require.NoError(t, err)

	audit := &auditCapture{}
	svc := &AuthService{
		Store:      st,
		Hasher:     hasher,
		Signer:     signer,
		Verifier:   jwtx.NewVerifier(signer.Public(), testIssuer),
		TOTP:       &TOTPEngine{Issuer: testIssuer},
		Audit:      audit,
		Lockout:    DefaultLockoutPolicy(),
		Issuer:     testIssuer,
		PendingTTL: 5 * time.Minute,
		AccessTTL:  time.Hour,
	}
	return svc, audit
}

func createTestAccount(t *testing.T, svc *AuthService, identity string, role domain.Role) domain.Account {
	t.Helper()

	acct, err := svc.CreateAccount(context.Background(), identity, "Test Person", testPassword, role)
	require.NoError(t, err)
	return acct
}

// completeLogin drives the full two-phase flow for an enrolled or unenrolled
// account and returns the access result.
func completeLogin(t *testing.T, svc *AuthService, st store.Store, identity string) domain.AccessResult {
	t.Helper()
	ctx := context.Background()

	pending, err := svc.Authenticate(ctx, identity, testPassword, testOrigin, testClient)
	require.NoError(t, err)

	acct, err := st.Accounts().GetAccountByIdentity(ctx, identity)
	require.NoError(t, err)
	require.NotNil(t, acct.MFASecret)

	code, err := svc.TOTP.CodeAt(*acct.MFASecret, time.Now())
	require.NoError(t, err)

	access, err := svc.CompleteSecondFactor(ctx, pending.PendingToken, code, testOrigin, testClient)
	require.NoError(t, err)
	return access
}
