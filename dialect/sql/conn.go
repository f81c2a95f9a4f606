package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syssam/veloxdb/provider"
)

// Conn implements provider.DbConnection over a connection pinned from the provider
// pool. A connection that observes driver.ErrBadConn becomes Broken.
type Conn struct {
	p       *Provider
	connStr string
	logger  *slog.Logger

	mu       sync.Mutex
	state    provider.ConnectionState
	conn     *sql.Conn
	enlisted *enlistment
	pending  map[*enlistment]struct{} // not yet completed, including unenlisted ones
	subs     []subscriber
	nextSub  int
}

type subscriber struct {
	id int
	fn func(provider.StateChange)
}

// enlistment is the local transaction standing in for an ambient transaction.
type enlistment struct {
	ambient provider.AmbientTransaction
	tx      *sql.Tx
	cancel  func()
}

func newConn(p *Provider, connStr string) *Conn {
	return &Conn{
		p:       p,
		connStr: connStr,
		logger:  p.logger.With(slog.String("data_source", p.DataSource(connStr))),
	}
}

// Open pins a connection from the pool and pings it.
func (c *Conn) Open(ctx context.Context) error {
	if c.State() == provider.StateOpen {
		return nil
	}
	db, err := c.p.db(c.connStr)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err == nil {
		if err = conn.PingContext(ctx); err != nil {
			err = errors.Join(err, conn.Close())
		}
	}
	if err != nil {
		return fmt.Errorf("dialect/sql: open: %w", err)
	}
	c.mu.Lock()
	stale := c.conn
	c.conn = conn
	notify := c.setState(provider.StateOpen)
	c.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}
	notify()
	c.logger.Debug("connection opened")
	return nil
}

// Close returns the pinned connection to the pool. Local transactions of pending
// enlistments are rolled back and no longer follow their ambient transactions.
func (c *Conn) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.enlisted = nil
	pending := c.pending
	c.pending = nil
	notify := c.setState(provider.StateClosed)
	c.mu.Unlock()
	var err error
	for e := range pending {
		if e.cancel != nil {
			e.cancel()
		}
		if rerr := e.tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			c.logger.Warn("rolling back enlisted transaction failed",
				slog.String("tx_id", e.ambient.ID()),
				slog.Any("error", rerr),
			)
		}
	}
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = fmt.Errorf("dialect/sql: close: %w", cerr)
		}
	}
	notify()
	c.logger.Debug("connection closed")
	return err
}

// State implements provider.DbConnection.
func (c *Conn) State() provider.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginTx starts a local transaction on the pinned connection.
func (c *Conn) BeginTx(ctx context.Context, opts *provider.TxOptions) (provider.DbTransaction, error) {
	c.mu.Lock()
	conn, err := c.openConn()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		c.observe(err)
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	level := sql.LevelDefault
	if opts != nil {
		level = opts.Isolation
	}
	return &Tx{tx: tx, conn: c, level: level}, nil
}

// EnlistTransaction implements provider.DbConnection. The connection starts a local
// transaction that commits when the ambient transaction commits and rolls back
// otherwise. Commands without an explicit transaction run inside it. A nil
// transaction stops routing commands to the enlistment without completing it.
func (c *Conn) EnlistTransaction(ctx context.Context, amb provider.AmbientTransaction) error {
	c.mu.Lock()
	if amb == nil {
		c.enlisted = nil
		c.mu.Unlock()
		return nil
	}
	if e := c.enlisted; e != nil {
		c.mu.Unlock()
		if e.ambient.ID() == amb.ID() {
			return nil
		}
		return fmt.Errorf("dialect/sql: connection is enlisted in transaction %s", e.ambient.ID())
	}
	conn, err := c.openConn()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	// The local transaction outlives the enlisting call.
	tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		c.mu.Unlock()
		c.observe(err)
		return fmt.Errorf("dialect/sql: enlist: %w", err)
	}
	e := &enlistment{ambient: amb, tx: tx}
	c.enlisted = e
	if c.pending == nil {
		c.pending = make(map[*enlistment]struct{})
	}
	c.pending[e] = struct{}{}
	c.mu.Unlock()
	cancel := amb.OnComplete(func(done provider.AmbientTransaction) {
		c.complete(e, done.Status())
	})
	c.mu.Lock()
	_, open := c.pending[e]
	if open {
		e.cancel = cancel
	}
	c.mu.Unlock()
	if !open && cancel != nil {
		// Completed or closed while subscribing.
		cancel()
	}
	c.logger.Debug("connection enlisted", slog.String("tx_id", amb.ID()))
	return nil
}

// complete ends the local transaction of e according to the ambient outcome.
func (c *Conn) complete(e *enlistment, status provider.TransactionStatus) {
	c.mu.Lock()
	_, open := c.pending[e]
	delete(c.pending, e)
	c.mu.Unlock()
	if !open {
		return
	}
	var err error
	if status == provider.TransactionCommitted {
		err = e.tx.Commit()
	} else {
		err = e.tx.Rollback()
	}
	c.mu.Lock()
	if c.enlisted == e {
		c.enlisted = nil
	}
	c.mu.Unlock()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.observe(err)
		c.logger.Warn("completing enlisted transaction failed",
			slog.String("tx_id", e.ambient.ID()),
			slog.String("status", status.String()),
			slog.Any("error", err),
		)
	}
}

// DataSource implements provider.DbConnection.
func (c *Conn) DataSource() string { return c.p.DataSource(c.connStr) }

// ConnectionString implements provider.DbConnection.
func (c *Conn) ConnectionString() string { return c.connStr }

// OnStateChange implements provider.DbConnection.
func (c *Conn) OnStateChange(fn func(provider.StateChange)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// execer returns where a command runs: its transaction, the enlisted transaction or
// the pinned connection.
func (c *Conn) execer(tx *Tx) (ExecQuerier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.openConn()
	switch {
	case err != nil:
		return nil, err
	case tx != nil:
		if tx.conn != c {
			return nil, errors.New("dialect/sql: transaction belongs to another connection")
		}
		return tx.tx, nil
	case c.enlisted != nil:
		return c.enlisted.tx, nil
	default:
		return conn, nil
	}
}

// openConn returns the pinned connection. Callers hold mu.
func (c *Conn) openConn() (*sql.Conn, error) {
	if c.state != provider.StateOpen || c.conn == nil {
		return nil, fmt.Errorf("dialect/sql: connection is %s", c.state)
	}
	return c.conn, nil
}

// observe breaks the connection when err reports a dead driver connection.
func (c *Conn) observe(err error) {
	if err == nil || !errors.Is(err, driver.ErrBadConn) {
		return
	}
	c.mu.Lock()
	if c.state != provider.StateOpen {
		c.mu.Unlock()
		return
	}
	notify := c.setState(provider.StateBroken)
	c.mu.Unlock()
	c.logger.Warn("connection broken", slog.Any("error", err))
	notify()
}

// setState records a transition and returns the function notifying subscribers.
// Callers hold mu and call the returned function after releasing it.
func (c *Conn) setState(to provider.ConnectionState) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	subs := make([]func(provider.StateChange), len(c.subs))
	for i, s := range c.subs {
		subs[i] = s.fn
	}
	change := provider.StateChange{From: from, To: to}
	return func() {
		for _, fn := range subs {
			fn(change)
		}
	}
}

// Tx is a local transaction of a Conn.
type Tx struct {
	tx    *sql.Tx
	conn  *Conn
	level sql.IsolationLevel
}

// Commit implements provider.DbTransaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		t.conn.observe(err)
		return fmt.Errorf("dialect/sql: commit: %w", err)
	}
	return nil
}

// Rollback implements provider.DbTransaction.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		t.conn.observe(err)
		return fmt.Errorf("dialect/sql: rollback: %w", err)
	}
	return nil
}

// IsolationLevel implements provider.DbTransaction.
func (t *Tx) IsolationLevel() sql.IsolationLevel { return t.level }

var (
	_ provider.DbConnection  = (*Conn)(nil)
	_ provider.DbTransaction = (*Tx)(nil)
)
