package entityclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// Connection is a logical connection: it owns or borrows a physical connection,
// mirrors its state and coordinates local and ambient transactions over it. A
// Connection is not safe for concurrent use, except that physical state changes and
// ambient completions may arrive on other goroutines.
type Connection struct {
	id     string
	logger *slog.Logger
	cfg    *config

	mu            sync.Mutex
	connStr       ConnectionString
	rawConnStr    string
	services      *provider.Guard
	store         provider.DbConnection
	ownsStore     bool
	unsubscribe   func()
	state         provider.ConnectionState
	simulatedOpen bool
	workspace     *metadata.Workspace
	manifest      provider.Manifest
	currentTx     *Transaction
	ambient       provider.AmbientTransaction
	cancelAmbient func()
	observers     map[int]func(provider.StateChange)
	nextObserver  int
	disposed      bool
}

// NewConnection returns a closed connection for connStr. An empty connection string
// is allowed; it must be set with SetConnectionString before the connection is opened.
func NewConnection(connStr string, opts ...Option) (*Connection, error) {
	c := newConnection(newConfig(opts))
	if connStr != "" {
		if err := c.SetConnectionString(connStr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewConnectionFromStore returns a connection over an existing workspace and physical
// connection. When ownsStore is set, Dispose also closes the physical connection.
func NewConnectionFromStore(ws *metadata.Workspace, store provider.DbConnection, ownsStore bool, opts ...Option) (*Connection, error) {
	const op = "new connection"
	switch {
	case ws == nil:
		return nil, veloxdb.NewInvalidOperationError(op, "workspace is nil")
	case store == nil:
		return nil, veloxdb.NewInvalidOperationError(op, "store connection is nil")
	case ws.StoreSchema() == nil:
		return nil, veloxdb.NewInvalidOperationError(op, "workspace has no store metadata")
	}
	c := newConnection(newConfig(opts))
	services := c.cfg.services
	if services == nil {
		g, err := c.cfg.registry.Services(ws.StoreSchema().Provider)
		if err != nil {
			return nil, err
		}
		services = g
	}
	c.services = provider.NewGuard(services)
	if err := c.checkProvider(ws); err != nil {
		return nil, err
	}
	c.workspace = ws
	c.attach(store, ownsStore)
	return c, nil
}

func newConnection(cfg *config) *Connection {
	id := uuid.NewString()
	if cfg.cache == nil {
		cfg.cache = NewDefinitionCache(0, WithCacheLogger(cfg.logger))
	}
	return &Connection{
		id:        id,
		cfg:       cfg,
		logger:    cfg.logger.With(slog.String("conn_id", id)),
		observers: make(map[int]func(provider.StateChange)),
	}
}

// ID returns the connection identifier used in logs.
func (c *Connection) ID() string { return c.id }

// ConnectionString returns the connection string as set by the caller.
func (c *Connection) ConnectionString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawConnStr
}

// SetConnectionString replaces the connection string and the physical connection
// created from it. The connection must be closed.
func (c *Connection) SetConnectionString(s string) error {
	const op = "set connection string"
	if c.isDisposed() {
		return veloxdb.NewInvalidOperationError(op, "connection is disposed")
	}
	if c.State() != provider.StateClosed {
		return veloxdb.NewInvalidOperationError(op, "the connection string can only be changed while the connection is closed")
	}
	cs, err := ParseConnectionString(s)
	if err != nil {
		return err
	}
	resolved, err := cs.Resolve(c.cfg.named)
	if err != nil {
		return err
	}
	var (
		services *provider.Guard
		store    provider.DbConnection
	)
	if resolved.Provider != "" {
		if services, err = c.cfg.registry.Services(resolved.Provider); err != nil {
			return err
		}
		if store, err = services.NewConnection(resolved.ProviderConnectionString); err != nil {
			return err
		}
	}
	if err := c.detach(); err != nil {
		c.logger.Debug("closing replaced connection failed", slog.Any("error", err))
	}
	c.mu.Lock()
	c.rawConnStr = s
	c.connStr = resolved
	c.services = services
	c.workspace = nil
	c.manifest = nil
	c.mu.Unlock()
	if store != nil {
		c.attach(store, true)
	}
	return nil
}

func (c *Connection) attach(store provider.DbConnection, owns bool) {
	unsubscribe := store.OnStateChange(c.onStoreStateChange)
	c.mu.Lock()
	c.store = store
	c.ownsStore = owns
	c.unsubscribe = unsubscribe
	c.state = provider.StateClosed
	if store.State() == provider.StateOpen {
		c.state = provider.StateOpen
	}
	c.mu.Unlock()
}

// detach drops the physical connection, closing it when owned.
func (c *Connection) detach() error {
	c.mu.Lock()
	store, owns, unsubscribe := c.store, c.ownsStore, c.unsubscribe
	c.store, c.unsubscribe = nil, nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if store != nil && owns && store.State() != provider.StateClosed {
		return store.Close()
	}
	return nil
}

func (c *Connection) onStoreStateChange(sc provider.StateChange) {
	c.mu.Lock()
	from := c.state
	if c.simulatedOpen || from == sc.To {
		c.mu.Unlock()
		return
	}
	c.state = sc.To
	observers := make([]func(provider.StateChange), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	c.logger.Debug("connection state changed", slog.String("from", from.String()), slog.String("to", sc.To.String()))
	for _, fn := range observers {
		fn(provider.StateChange{From: from, To: sc.To})
	}
}

// OnStateChange registers fn for logical state transitions.
func (c *Connection) OnStateChange(fn func(provider.StateChange)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Connection) setState(to provider.ConnectionState) {
	c.onStoreStateChange(provider.StateChange{To: to})
}

// State returns the logical connection state.
func (c *Connection) State() provider.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.simulatedOpen {
		return provider.StateOpen
	}
	return c.state
}

// StoreConnection returns the physical connection.
func (c *Connection) StoreConnection() provider.DbConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Services returns the guarded provider of the connection.
func (c *Connection) Services() *provider.Guard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services
}

// Registry returns the provider registry of the connection.
func (c *Connection) Registry() *provider.Registry { return c.cfg.registry }

// Workspace returns the metadata workspace named by the metadata keyword, loading it
// on first use.
func (c *Connection) Workspace(ctx context.Context) (*metadata.Workspace, error) {
	const op = "load metadata"
	c.mu.Lock()
	ws, cs, services := c.workspace, c.connStr, c.services
	c.mu.Unlock()
	if ws != nil {
		return ws, nil
	}
	switch {
	case services == nil:
		return nil, veloxdb.NewInvalidOperationError(op, "the connection string must be set before this operation")
	case cs.Metadata == "":
		return nil, veloxdb.NewInvalidOperationError(op, "the metadata keyword is required")
	}
	ws, err := c.cfg.workspaces.Load(ctx, cs.Metadata)
	if err != nil {
		return nil, err
	}
	if err := c.checkProvider(ws); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.workspace == nil {
		c.workspace = ws
	}
	ws = c.workspace
	c.mu.Unlock()
	return ws, nil
}

func (c *Connection) checkProvider(ws *metadata.Workspace) error {
	const op = "load metadata"
	store := ws.StoreSchema()
	if store == nil {
		return veloxdb.NewInvalidOperationError(op, "the metadata has no store schema")
	}
	if name := c.services.InvariantName(); store.Provider != name {
		return veloxdb.InvalidOperationf(op, "the store metadata targets provider %q, but the connection uses %q", store.Provider, name)
	}
	return nil
}

// Manifest returns the provider manifest for the store schema manifest token.
func (c *Connection) Manifest(ctx context.Context) (provider.Manifest, error) {
	c.mu.Lock()
	m := c.manifest
	c.mu.Unlock()
	if m != nil {
		return m, nil
	}
	ws, err := c.Workspace(ctx)
	if err != nil {
		return nil, err
	}
	m, err = c.Services().GetManifest(ws.StoreSchema().ProviderManifestToken)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.manifest = m
	c.mu.Unlock()
	return m, nil
}

// ExecutionStrategy returns a new execution strategy for the physical connection.
func (c *Connection) ExecutionStrategy() (provider.ExecutionStrategy, error) {
	if c.cfg.strategy != nil {
		return c.cfg.strategy(), nil
	}
	c.mu.Lock()
	services, store := c.services, c.store
	c.mu.Unlock()
	var dataSource string
	if store != nil {
		dataSource = store.DataSource()
	}
	factory, err := c.cfg.registry.ExecutionStrategy(services, dataSource)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

// SpatialServices returns the spatial services for the store schema manifest token.
func (c *Connection) SpatialServices(ctx context.Context) (provider.SpatialServices, error) {
	ws, err := c.Workspace(ctx)
	if err != nil {
		return nil, err
	}
	return c.cfg.registry.SpatialServices(c.Services(), ws.StoreSchema().ProviderManifestToken)
}

// requireStore returns the physical connection or the error for a connection without
// a connection string.
func (c *Connection) requireStore(op string) (provider.DbConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, veloxdb.NewInvalidOperationError(op, "connection is disposed")
	}
	if c.store == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "the connection string must be set before this operation")
	}
	return c.store, nil
}

// Open opens the connection. Opening an open connection does nothing. A Broken
// physical connection is closed and reopened. The physical open runs under the
// execution strategy of the connection.
func (c *Connection) Open(ctx context.Context) error {
	const op = "open"
	if err := ctx.Err(); err != nil {
		return err
	}
	store, err := c.requireStore(op)
	if err != nil {
		return err
	}
	if c.State() == provider.StateOpen {
		return nil
	}
	for _, i := range c.cfg.interceptors {
		if !i.Opening(ctx, c) {
			c.mu.Lock()
			c.simulatedOpen = true
			c.mu.Unlock()
			c.logger.Debug("connection open intercepted")
			return nil
		}
	}
	if _, err := c.Workspace(ctx); err != nil {
		return err
	}
	if store.State() != provider.StateOpen {
		strategy, err := c.ExecutionStrategy()
		if err != nil {
			return err
		}
		err = strategy.Execute(ctx, func(ctx context.Context) error {
			if store.State() == provider.StateBroken {
				if err := store.Close(); err != nil {
					c.logger.Debug("closing broken connection failed", slog.Any("error", err))
				}
			}
			if store.State() == provider.StateClosed {
				return store.Open(ctx)
			}
			return nil
		})
		if err != nil {
			return veloxdb.NewStoreError(op, err)
		}
		c.clearTransactions()
	}
	if store.State() != provider.StateOpen {
		return veloxdb.NewInvalidOperationError(op, "the underlying connection did not open")
	}
	c.setState(provider.StateOpen)
	c.logger.Debug("connection opened", slog.String("data_source", store.DataSource()))
	return nil
}

// Close closes the connection. The logical state is Closed afterwards even when the
// physical close fails.
func (c *Connection) Close() error {
	c.mu.Lock()
	store := c.store
	wasSimulated := c.simulatedOpen
	c.simulatedOpen = false
	c.mu.Unlock()
	var err error
	if store != nil && store.State() != provider.StateClosed {
		err = store.Close()
	}
	c.clearTransactions()
	c.mu.Lock()
	from := c.state
	c.mu.Unlock()
	c.setState(provider.StateClosed)
	if from != provider.StateClosed || wasSimulated {
		c.logger.Debug("connection closed")
	}
	if err != nil {
		return veloxdb.NewStoreError("close", err)
	}
	return nil
}

// Dispose closes the connection and releases the physical connection. A disposed
// connection cannot be used again.
func (c *Connection) Dispose() error {
	if c.isDisposed() {
		return nil
	}
	err := c.Close()
	if derr := c.detach(); err == nil && derr != nil {
		err = veloxdb.NewStoreError("close", derr)
	}
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	return err
}

func (c *Connection) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Connection) clearTransactions() {
	c.mu.Lock()
	cancel := c.cancelAmbient
	c.currentTx, c.ambient, c.cancelAmbient = nil, nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CurrentTransaction returns the local transaction begun on the connection, if any.
func (c *Connection) CurrentTransaction() *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTx != nil && c.state == provider.StateClosed && !c.simulatedOpen {
		c.currentTx = nil
	}
	return c.currentTx
}

// EnlistedTransaction returns the ambient transaction the connection is enlisted in.
func (c *Connection) EnlistedTransaction() provider.AmbientTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ambient
}

func (c *Connection) clearCurrentTransaction(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTx == tx {
		c.currentTx = nil
	}
}

// BeginTx begins a local transaction. The connection must be open and must have
// neither a current nor an ambient transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *provider.TxOptions) (*Transaction, error) {
	const op = "begin transaction"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.CurrentTransaction() != nil {
		return nil, veloxdb.NewInvalidOperationError(op, "nested transactions are not supported")
	}
	store, err := c.requireStore(op)
	if err != nil {
		return nil, err
	}
	if c.State() != provider.StateOpen {
		return nil, veloxdb.NewInvalidOperationError(op, "the connection is not open")
	}
	if c.EnlistedTransaction() != nil {
		return nil, veloxdb.NewInvalidOperationError(op, "the connection is enlisted in an ambient transaction")
	}
	strategy, err := c.ExecutionStrategy()
	if err != nil {
		return nil, err
	}
	var storeTx provider.DbTransaction
	err = strategy.Execute(ctx, func(ctx context.Context) error {
		if store.State() == provider.StateBroken {
			if err := store.Close(); err != nil {
				c.logger.Debug("closing broken connection failed", slog.Any("error", err))
			}
		}
		if store.State() == provider.StateClosed {
			if err := store.Open(ctx); err != nil {
				return err
			}
		}
		var err error
		storeTx, err = store.BeginTx(ctx, opts)
		return err
	})
	if err != nil {
		return nil, veloxdb.NewStoreError(op, err)
	}
	if storeTx == nil {
		return nil, provider.Incompatible(provider.OpBeginTransaction, nil)
	}
	if c.State() != provider.StateOpen {
		if rerr := storeTx.Rollback(); rerr != nil {
			c.logger.Debug("rolling back orphaned transaction failed", slog.Any("error", rerr))
		}
		return nil, veloxdb.NewInvalidOperationError(op, "the connection was closed while the transaction was starting")
	}
	tx := newTransaction(c, storeTx)
	c.mu.Lock()
	c.currentTx = tx
	c.mu.Unlock()
	tx.logger.Debug("transaction started", slog.String("isolation", storeTx.IsolationLevel().String()))
	return tx, nil
}

// EnlistTransaction enlists the connection in an ambient transaction; a nil
// transaction removes the enlistment. Enlisting is refused while a local transaction
// is active. When the ambient transaction completes the enlistment is cleared, unless
// the connection has moved on to another transaction.
func (c *Connection) EnlistTransaction(ctx context.Context, tx provider.AmbientTransaction) error {
	const op = "enlist transaction"
	if err := ctx.Err(); err != nil {
		return err
	}
	store, err := c.requireStore(op)
	if err != nil {
		return err
	}
	if c.State() != provider.StateOpen {
		return veloxdb.NewInvalidOperationError(op, "the connection is not open")
	}
	if c.CurrentTransaction() != nil {
		return veloxdb.NewInvalidOperationError(op, "the connection has an active local transaction")
	}
	current := c.EnlistedTransaction()
	if tx != nil {
		if current == tx {
			return nil
		}
		if current != nil {
			return veloxdb.InvalidOperationf(op, "the connection is already enlisted in transaction %s", current.ID())
		}
		if s := tx.Status(); s != provider.TransactionActive {
			return veloxdb.InvalidOperationf(op, "transaction %s is %s", tx.ID(), s)
		}
	}
	if err := store.EnlistTransaction(ctx, tx); err != nil {
		return veloxdb.NewStoreError(op, err)
	}
	if tx == nil {
		c.clearAmbient(current)
		if current != nil {
			c.logger.Debug("transaction unenlisted", slog.String("tx_id", current.ID()))
		}
		return nil
	}
	// Published before subscribing: OnComplete may run clearAmbient inline.
	c.mu.Lock()
	c.ambient, c.cancelAmbient = tx, nil
	c.mu.Unlock()
	cancel := tx.OnComplete(c.clearAmbient)
	c.mu.Lock()
	enlisted := c.ambient == tx
	if enlisted {
		c.cancelAmbient = cancel
	}
	c.mu.Unlock()
	if !enlisted {
		if cancel != nil {
			cancel()
		}
		return nil
	}
	c.logger.Debug("transaction enlisted", slog.String("tx_id", tx.ID()))
	return nil
}

// clearAmbient drops the enlistment if it still refers to done.
func (c *Connection) clearAmbient(done provider.AmbientTransaction) {
	c.mu.Lock()
	if done == nil || c.ambient != done {
		c.mu.Unlock()
		return
	}
	cancel := c.cancelAmbient
	c.ambient, c.cancelAmbient = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.logger.Debug("ambient transaction completed", slog.String("tx_id", done.ID()), slog.String("status", done.Status().String()))
}

// CreateCommand returns a text command on the connection.
func (c *Connection) CreateCommand(text string) *Command {
	cmd := NewCommand(text)
	cmd.conn = c
	cmd.planCaching = !c.cfg.noPlanCache
	return cmd
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%s, %s)", c.id, c.State())
}
