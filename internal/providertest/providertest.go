// Package providertest provides in-memory fakes of the provider contract.
package providertest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// Services is a configurable fake provider. Unset hooks fall back to working defaults.
type Services struct {
	Name  string
	Token string

	NewConnectionFunc           func(connStr string) (provider.DbConnection, error)
	GetManifestTokenFunc        func(ctx context.Context, conn provider.DbConnection) (string, error)
	GetManifestFunc             func(token string) (provider.Manifest, error)
	CreateCommandDefinitionFunc func(ctx context.Context, m provider.Manifest, tree cqt.CommandTree) (*provider.CommandDefinition, error)

	compiles atomic.Int64
	mu       sync.Mutex
	conns    []*Conn
}

// NewServices returns a fake provider with the given invariant name and manifest token "1".
func NewServices(name string) *Services {
	return &Services{Name: name, Token: "1"}
}

// InvariantName implements provider.Services.
func (s *Services) InvariantName() string { return s.Name }

// NewConnection implements provider.Services.
func (s *Services) NewConnection(connStr string) (provider.DbConnection, error) {
	if s.NewConnectionFunc != nil {
		return s.NewConnectionFunc(connStr)
	}
	c := NewConn(connStr)
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c, nil
}

// Connections returns the connections created by NewConnection.
func (s *Services) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// GetManifestToken implements provider.Services.
func (s *Services) GetManifestToken(ctx context.Context, conn provider.DbConnection) (string, error) {
	if s.GetManifestTokenFunc != nil {
		return s.GetManifestTokenFunc(ctx, conn)
	}
	return s.Token, nil
}

// GetManifest implements provider.Services.
func (s *Services) GetManifest(token string) (provider.Manifest, error) {
	if s.GetManifestFunc != nil {
		return s.GetManifestFunc(token)
	}
	return &Manifest{TokenValue: token, ProviderName: s.Name}, nil
}

// CreateCommandDefinition implements provider.Services. Every call is counted.
func (s *Services) CreateCommandDefinition(ctx context.Context, m provider.Manifest, tree cqt.CommandTree) (*provider.CommandDefinition, error) {
	s.compiles.Add(1)
	if s.CreateCommandDefinitionFunc != nil {
		return s.CreateCommandDefinitionFunc(ctx, m, tree)
	}
	return Compile(tree)
}

// Compiles returns the number of CreateCommandDefinition calls.
func (s *Services) Compiles() int { return int(s.compiles.Load()) }

// Compile builds a definition for tree: query text is used as is and functions are
// invoked with CALL.
func Compile(tree cqt.CommandTree) (*provider.CommandDefinition, error) {
	var text string
	switch t := tree.(type) {
	case *cqt.QueryCommandTree:
		st, ok := t.Query().(*cqt.StoreText)
		if !ok {
			return nil, fmt.Errorf("providertest: unsupported expression %T", t.Query())
		}
		text = st.Text
	case *cqt.FunctionCommandTree:
		text = "CALL " + t.Function().PhysicalName()
	default:
		return nil, fmt.Errorf("providertest: unsupported tree %T", tree)
	}
	cmd := &Command{text: text}
	for _, p := range tree.Parameters() {
		dp := &provider.DbParameter{Name: p.Name, Direction: provider.DirectionOf(p.Mode)}
		provider.MapParameter(dp, p.Type, dp.Direction.IsOutput() || tree.Kind() == cqt.FunctionKind)
		cmd.params = append(cmd.params, dp)
	}
	return provider.NewCommandDefinition(cmd, func(c provider.DbCommand) provider.DbCommand {
		return c.(*Command).clone()
	})
}

// Manifest is a fake provider manifest mapping type usages to their type names.
type Manifest struct {
	TokenValue   string
	ProviderName string
}

// Token implements provider.Manifest.
func (m *Manifest) Token() string { return m.TokenValue }

// Provider implements provider.Manifest.
func (m *Manifest) Provider() string { return m.ProviderName }

// StoreType implements provider.Manifest.
func (m *Manifest) StoreType(tu *metadata.TypeUsage) (string, error) {
	if _, ok := tu.PrimitiveKind(); !ok {
		return "", fmt.Errorf("providertest: no store type for %s", tu)
	}
	return strings.ToLower(tu.EdmType().Name), nil
}

// Result is the outcome of a fake command execution.
type Result struct {
	Columns  []string
	Rows     [][]any
	Affected int64
	// Outputs holds values written back to output parameters by name.
	Outputs map[string]any
}

// Conn is a fake physical connection whose state can be changed out-of-band.
type Conn struct {
	connStr string

	// Errors returned by the next calls, consumed in order.
	OpenErrs []error
	CloseErr error
	// SilentClose makes Close leave the state unchanged, without a state change event.
	SilentClose bool
	BeginErr    error
	// NilTx makes BeginTx succeed without a transaction.
	NilTx     bool
	EnlistErr error
	// Execute produces command results. A nil Execute returns an empty Result.
	Execute func(cmd *Command) (*Result, error)

	mu       sync.Mutex
	state    provider.ConnectionState
	subs     map[int]func(provider.StateChange)
	nextSub  int
	opens    int
	closes   int
	enlisted provider.AmbientTransaction
	txs      []*Tx
	executed []string
}

// NewConn returns a closed fake connection.
func NewConn(connStr string) *Conn {
	return &Conn{connStr: connStr, subs: make(map[int]func(provider.StateChange))}
}

// Open implements provider.DbConnection.
func (c *Conn) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.opens++
	if len(c.OpenErrs) > 0 {
		err := c.OpenErrs[0]
		c.OpenErrs = c.OpenErrs[1:]
		if err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()
	c.SetState(provider.StateOpen)
	return nil
}

// Close implements provider.DbConnection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closes++
	err, silent := c.CloseErr, c.SilentClose
	c.mu.Unlock()
	if !silent {
		c.SetState(provider.StateClosed)
	}
	return err
}

// State implements provider.DbConnection.
func (c *Conn) State() provider.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState changes the state and notifies subscribers, as a server-side disconnect would.
func (c *Conn) SetState(s provider.ConnectionState) {
	c.mu.Lock()
	from := c.state
	c.state = s
	subs := make([]func(provider.StateChange), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	if from == s {
		return
	}
	for _, fn := range subs {
		fn(provider.StateChange{From: from, To: s})
	}
}

// Opens returns the number of Open calls.
func (c *Conn) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Closes returns the number of Close calls.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// BeginTx implements provider.DbConnection.
func (c *Conn) BeginTx(ctx context.Context, opts *provider.TxOptions) (provider.DbTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BeginErr != nil {
		return nil, c.BeginErr
	}
	if c.state != provider.StateOpen {
		return nil, errors.New("providertest: connection is not open")
	}
	if c.NilTx {
		return nil, nil
	}
	tx := &Tx{conn: c, level: sql.LevelDefault}
	if opts != nil {
		tx.level = opts.Isolation
	}
	c.txs = append(c.txs, tx)
	return tx, nil
}

// Transactions returns the transactions begun on the connection.
func (c *Conn) Transactions() []*Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Tx(nil), c.txs...)
}

// EnlistTransaction implements provider.DbConnection.
func (c *Conn) EnlistTransaction(ctx context.Context, tx provider.AmbientTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EnlistErr != nil {
		return c.EnlistErr
	}
	c.enlisted = tx
	return nil
}

// Enlisted returns the ambient transaction the connection is enlisted in.
func (c *Conn) Enlisted() provider.AmbientTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enlisted
}

// DataSource implements provider.DbConnection. It returns the "Data Source" value of
// the connection string.
func (c *Conn) DataSource() string {
	for _, part := range strings.Split(c.connStr, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "data source") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ConnectionString implements provider.DbConnection.
func (c *Conn) ConnectionString() string { return c.connStr }

// OnStateChange implements provider.DbConnection.
func (c *Conn) OnStateChange(fn func(provider.StateChange)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Subscribers returns the number of state change subscriptions.
func (c *Conn) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Executed returns the text of every executed command.
func (c *Conn) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

func (c *Conn) run(ctx context.Context, cmd *Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.State() != provider.StateOpen {
		return nil, errors.New("providertest: connection is not open")
	}
	c.mu.Lock()
	c.executed = append(c.executed, cmd.text)
	exec := c.Execute
	c.mu.Unlock()
	res := &Result{}
	if exec != nil {
		var err error
		if res, err = exec(cmd); err != nil {
			return nil, err
		}
	}
	for _, p := range cmd.params {
		if v, ok := res.Outputs[p.Name]; ok && p.Direction.IsOutput() {
			p.Value = v
		}
	}
	return res, nil
}

// Tx is a fake physical transaction.
type Tx struct {
	conn       *Conn
	level      sql.IsolationLevel
	CommitErr  error
	committed  bool
	rolledBack bool
}

// Commit implements provider.DbTransaction.
func (t *Tx) Commit() error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.committed = true
	return nil
}

// Rollback implements provider.DbTransaction.
func (t *Tx) Rollback() error {
	t.rolledBack = true
	return nil
}

// IsolationLevel implements provider.DbTransaction.
func (t *Tx) IsolationLevel() sql.IsolationLevel { return t.level }

// Committed reports whether Commit succeeded.
func (t *Tx) Committed() bool { return t.committed }

// RolledBack reports whether Rollback was called.
func (t *Tx) RolledBack() bool { return t.rolledBack }

// Command is a fake provider command.
type Command struct {
	text   string
	params []*provider.DbParameter
	conn   provider.DbConnection
	tx     provider.DbTransaction
}

// NewCommand returns a command with the given text and parameters.
func NewCommand(text string, params ...*provider.DbParameter) *Command {
	return &Command{text: text, params: params}
}

func (c *Command) clone() *Command {
	cc := &Command{text: c.text, conn: c.conn, tx: c.tx}
	for _, p := range c.params {
		cc.params = append(cc.params, p.Clone())
	}
	return cc
}

// Text implements provider.DbCommand.
func (c *Command) Text() string { return c.text }

// Parameters implements provider.DbCommand.
func (c *Command) Parameters() []*provider.DbParameter { return c.params }

// SetConnection implements provider.DbCommand.
func (c *Command) SetConnection(conn provider.DbConnection) { c.conn = conn }

// SetTransaction implements provider.DbCommand.
func (c *Command) SetTransaction(tx provider.DbTransaction) { c.tx = tx }

// Transaction returns the transaction the command was bound to.
func (c *Command) Transaction() provider.DbTransaction { return c.tx }

// Param returns the named parameter.
func (c *Command) Param(name string) *provider.DbParameter {
	for _, p := range c.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (c *Command) run(ctx context.Context) (*Result, error) {
	conn, ok := c.conn.(*Conn)
	if !ok {
		return nil, fmt.Errorf("providertest: command bound to %T", c.conn)
	}
	return conn.run(ctx, c)
}

// ExecuteReader implements provider.DbCommand.
func (c *Command) ExecuteReader(ctx context.Context) (provider.DataReader, error) {
	res, err := c.run(ctx)
	if err != nil {
		return nil, err
	}
	return &Reader{columns: res.Columns, rows: res.Rows, pos: -1}, nil
}

// ExecuteNonQuery implements provider.DbCommand.
func (c *Command) ExecuteNonQuery(ctx context.Context) (int64, error) {
	res, err := c.run(ctx)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// ExecuteScalar implements provider.DbCommand.
func (c *Command) ExecuteScalar(ctx context.Context) (any, error) {
	res, err := c.run(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return nil, nil
	}
	return res.Rows[0][0], nil
}

// Reader is an in-memory provider.DataReader.
type Reader struct {
	columns []string
	rows    [][]any
	pos     int
	closed  bool
}

// NewReader returns a reader over rows.
func NewReader(columns []string, rows [][]any) *Reader {
	return &Reader{columns: columns, rows: rows, pos: -1}
}

// Columns implements provider.DataReader.
func (r *Reader) Columns() ([]string, error) { return r.columns, nil }

// Next implements provider.DataReader.
func (r *Reader) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

// Scan implements provider.DataReader.
func (r *Reader) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return errors.New("providertest: Scan called without a current row")
	}
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("providertest: expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("providertest: destination %d is not a pointer", i)
		}
		if row[i] == nil {
			dv.Elem().SetZero()
			continue
		}
		sv := reflect.ValueOf(row[i])
		if !sv.Type().ConvertibleTo(dv.Elem().Type()) {
			return fmt.Errorf("providertest: cannot scan %T into %T", row[i], d)
		}
		dv.Elem().Set(sv.Convert(dv.Elem().Type()))
	}
	return nil
}

// NextResultSet implements provider.DataReader.
func (r *Reader) NextResultSet() bool { return false }

// Err implements provider.DataReader.
func (r *Reader) Err() error { return nil }

// Close implements provider.DataReader.
func (r *Reader) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Reader) Closed() bool { return r.closed }

// Ambient is a fake ambient transaction completed by the test.
type Ambient struct {
	id string
	// OnSubscribe runs after every OnComplete registration, before it returns.
	OnSubscribe func()

	mu     sync.Mutex
	status provider.TransactionStatus
	subs   map[int]func(provider.AmbientTransaction)
	next   int
}

// NewAmbient returns an active ambient transaction.
func NewAmbient() *Ambient {
	return &Ambient{id: uuid.NewString(), subs: make(map[int]func(provider.AmbientTransaction))}
}

// ID implements provider.AmbientTransaction.
func (a *Ambient) ID() string { return a.id }

// Status implements provider.AmbientTransaction.
func (a *Ambient) Status() provider.TransactionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// OnComplete implements provider.AmbientTransaction.
func (a *Ambient) OnComplete(fn func(provider.AmbientTransaction)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subs[id] = fn
	hook := a.OnSubscribe
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

// Subscribers returns the number of registered completion callbacks.
func (a *Ambient) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Complete sets the final status and runs the completion callbacks.
func (a *Ambient) Complete(status provider.TransactionStatus) {
	a.mu.Lock()
	a.status = status
	subs := a.subs
	a.subs = make(map[int]func(provider.AmbientTransaction))
	a.mu.Unlock()
	for _, fn := range subs {
		fn(a)
	}
}

var (
	_ provider.Services           = (*Services)(nil)
	_ provider.DbConnection       = (*Conn)(nil)
	_ provider.DbTransaction      = (*Tx)(nil)
	_ provider.DbCommand          = (*Command)(nil)
	_ provider.DataReader         = (*Reader)(nil)
	_ provider.AmbientTransaction = (*Ambient)(nil)
)
