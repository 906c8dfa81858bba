package sqlite

import (
	"context"
	"errors"

	"github.com/sironahealth/sirona/internal/trust/store"
)

// txStore is a transaction-scoped Store. All repo calls run on the underlying
// *sql.Tx until Commit or Rollback.
type txStore struct {
	parent *Store
	tx     sqlTx
}

type sqlTx interface {
	dbtx
	Commit() error
	Rollback() error
}

func newTx(parent *Store, tx sqlTx) *txStore {
	return &txStore{parent: parent, tx: tx}
}

func (t *txStore) Accounts() store.Accounts       { return &accountsRepo{q: t.tx} }
func (t *txStore) Records() store.Records         { return &recordsRepo{q: t.tx} }
func (t *txStore) AuditEvents() store.AuditEvents { return &auditEventsRepo{q: t.tx} }

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Nested transactions are deliberately not supported.
func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, errors.New("sqlite: nested transactions are not supported")
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return errors.New("sqlite: nested transactions are not supported")
}

func (t *txStore) ApplyMigrations() error {
	return errors.New("sqlite: migrations cannot run inside a transaction")
}

func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return t.parent.Ping(ctx) }
