package entityclient

import (
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/provider"
)

// Transaction is a local transaction begun on a Connection. It is usable while it is
// the current transaction of its connection; commit, rollback and connection close
// end that.
type Transaction struct {
	id     string
	conn   *Connection
	store  provider.DbTransaction
	logger *slog.Logger
}

func newTransaction(c *Connection, store provider.DbTransaction) *Transaction {
	id := uuid.NewString()
	return &Transaction{
		id:     id,
		conn:   c,
		store:  store,
		logger: c.logger.With(slog.String("tx_id", id)),
	}
}

// ID returns the transaction identifier used in logs.
func (t *Transaction) ID() string { return t.id }

// Connection returns the owning connection, or nil once the transaction has ended.
func (t *Transaction) Connection() *Connection {
	if !t.active() {
		return nil
	}
	return t.conn
}

// StoreTransaction returns the physical transaction.
func (t *Transaction) StoreTransaction() provider.DbTransaction { return t.store }

// IsolationLevel returns the isolation level of the physical transaction.
func (t *Transaction) IsolationLevel() (sql.IsolationLevel, error) {
	if err := t.check("isolation level"); err != nil {
		return 0, err
	}
	return t.store.IsolationLevel(), nil
}

// Commit commits the transaction. The connection forgets the transaction whether or
// not the commit succeeds.
func (t *Transaction) Commit() error {
	const op = "commit"
	if err := t.check(op); err != nil {
		return err
	}
	err := t.store.Commit()
	t.conn.clearCurrentTransaction(t)
	if err != nil {
		return veloxdb.NewStoreError(op, err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls the transaction back. The connection forgets the transaction whether
// or not the rollback succeeds.
func (t *Transaction) Rollback() error {
	const op = "rollback"
	if err := t.check(op); err != nil {
		return err
	}
	err := t.store.Rollback()
	t.conn.clearCurrentTransaction(t)
	if err != nil {
		return veloxdb.NewStoreError(op, err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

func (t *Transaction) active() bool {
	return t.conn.CurrentTransaction() == t
}

func (t *Transaction) check(op string) error {
	if !t.active() {
		return veloxdb.NewInvalidOperationError(op, "the transaction has completed and is no longer usable")
	}
	return nil
}
