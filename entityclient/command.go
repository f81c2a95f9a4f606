package entityclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
	"github.com/syssam/veloxdb/querycache"
)

// CommandType tells how the command text is interpreted.
type CommandType int

// Command types.
const (
	// CommandText is store text parsed by the connection's QueryParser.
	CommandText CommandType = iota
	// CommandStoredProcedure names a function import of the conceptual model.
	CommandStoredProcedure
	// CommandTree executes a prebuilt command tree.
	CommandTree
)

// String returns the command type name.
func (t CommandType) String() string {
	switch t {
	case CommandText:
		return "Text"
	case CommandStoredProcedure:
		return "StoredProcedure"
	case CommandTree:
		return "CommandTree"
	default:
		return fmt.Sprintf("CommandType(%d)", int(t))
	}
}

type shapeVersion [2]uint64

// Command is a command against a Connection. Prepare compiles it into a provider
// definition, which is reused until the text, tree, type, connection or parameter
// shape changes. A Command is not safe for concurrent use.
type Command struct {
	conn           *Connection
	cmdType        CommandType
	text           string
	tree           cqt.CommandTree
	params         *ParameterCollection
	tx             *Transaction
	planCaching    bool
	version        uint64
	readerOpen     bool
	fromDefinition bool

	prepared        *provider.CommandDefinition
	preparedVersion shapeVersion
}

// NewCommand returns a text command without a connection.
func NewCommand(text string) *Command {
	c := &Command{text: text, planCaching: true}
	c.params = &ParameterCollection{cmd: c}
	return c
}

func (c *Command) shapeVersion() shapeVersion {
	return shapeVersion{c.version, c.params.version}
}

func (c *Command) changed() {
	c.version++
}

func (c *Command) checkReader(op string) error {
	if c.readerOpen {
		return veloxdb.NewInvalidOperationError(op, "a data reader is open on the command")
	}
	return nil
}

// Connection returns the connection of the command.
func (c *Command) Connection() *Connection { return c.conn }

// SetConnection sets the connection. Changing the connection drops the transaction
// and the prepared definition.
func (c *Command) SetConnection(conn *Connection) error {
	if err := c.checkReader("set connection"); err != nil {
		return err
	}
	if c.conn != conn {
		if c.conn != nil {
			c.changed()
		}
		c.conn = conn
		c.tx = nil
	}
	return nil
}

// CommandType returns the command type.
func (c *Command) CommandType() CommandType { return c.cmdType }

// SetCommandType sets the command type.
func (c *Command) SetCommandType(t CommandType) error {
	if err := c.checkReader("set command type"); err != nil {
		return err
	}
	if t != c.cmdType {
		c.cmdType = t
		c.changed()
	}
	return nil
}

// Text returns the command text.
func (c *Command) Text() string { return c.text }

// SetText sets the command text. A non-empty text clears the command tree.
func (c *Command) SetText(text string) error {
	if err := c.checkReader("set command text"); err != nil {
		return err
	}
	if text != c.text {
		c.text = text
		if text != "" {
			c.tree = nil
		}
		c.changed()
	}
	return nil
}

// Tree returns the command tree.
func (c *Command) Tree() cqt.CommandTree { return c.tree }

// SetTree sets the command tree and switches the command type to CommandTree.
func (c *Command) SetTree(tree cqt.CommandTree) error {
	if err := c.checkReader("set command tree"); err != nil {
		return err
	}
	c.tree = tree
	c.text = ""
	c.cmdType = CommandTree
	c.changed()
	return nil
}

// Parameters returns the parameter collection.
func (c *Command) Parameters() *ParameterCollection { return c.params }

// Transaction returns the transaction the command runs in.
func (c *Command) Transaction() *Transaction { return c.tx }

// SetTransaction sets the transaction. A nil transaction runs the command in the
// current transaction of the connection, if any.
func (c *Command) SetTransaction(tx *Transaction) error {
	if err := c.checkReader("set transaction"); err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// SetPlanCaching enables or disables the definition cache for the command.
func (c *Command) SetPlanCaching(enabled bool) {
	if enabled != c.planCaching {
		c.planCaching = enabled
		c.changed()
	}
}

// IsPrepared reports whether the command holds a definition matching its current
// shape.
func (c *Command) IsPrepared() bool {
	return c.prepared != nil && c.preparedVersion == c.shapeVersion()
}

// Prepare compiles the command. Preparing an unchanged prepared command does nothing.
// Definitions are looked up in and published to the connection's DefinitionCache
// unless plan caching is disabled.
func (c *Command) Prepare(ctx context.Context) error {
	_, err := c.definition(ctx)
	return err
}

// Definition prepares the command and returns its definition.
func (c *Command) Definition(ctx context.Context) (*CommandDefinition, error) {
	def, err := c.definition(ctx)
	if err != nil {
		return nil, err
	}
	types := make(map[string]*metadata.TypeUsage, c.params.Len())
	for _, p := range c.params.params {
		if tu, err := p.EffectiveType(); err == nil {
			types[strings.ToLower(p.name)] = tu
		}
	}
	return &CommandDefinition{def: def, cmdType: c.cmdType, types: types}, nil
}

func (c *Command) definition(ctx context.Context) (*provider.CommandDefinition, error) {
	const op = "prepare"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.IsPrepared() {
		return c.prepared, nil
	}
	c.prepared = nil
	if c.conn == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "the command has no connection")
	}
	if c.fromDefinition && c.text == "" && c.tree == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "a command created from a definition cannot be prepared again without command text")
	}
	if err := c.params.validate(c.cmdType); err != nil {
		return nil, err
	}
	shape, err := c.shape(ctx)
	if err != nil {
		return nil, err
	}
	key, err := shape.Key()
	if err != nil {
		return nil, err
	}
	cache := c.conn.cfg.cache
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.planCaching {
		if def, ok := cache.get(key); ok {
			return c.setPrepared(def), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws, err := c.conn.Workspace(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := c.buildTree(ctx, ws)
	if err != nil {
		return nil, err
	}
	if tree.Workspace() != ws.ID() {
		return nil, veloxdb.NewInvalidOperationError(op, "the command tree was built against different metadata than the connection uses")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := c.conn.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	var def *provider.CommandDefinition
	if c.planCaching {
		def, err = cache.compile(ctx, key, c.conn.Services(), m, tree)
	} else {
		def, err = c.conn.Services().CreateCommandDefinition(ctx, m, tree)
	}
	if err != nil {
		return nil, err
	}
	c.conn.logger.Debug("command prepared", slog.String("type", c.cmdType.String()), slog.String("key", string(key)))
	return c.setPrepared(def), nil
}

func (c *Command) setPrepared(def *provider.CommandDefinition) *provider.CommandDefinition {
	c.prepared = def
	c.preparedVersion = c.shapeVersion()
	return def
}

// shape returns the cache key shape. Text commands are keyed on their text, so a
// cache hit skips parsing.
func (c *Command) shape(ctx context.Context) (querycache.Shape, error) {
	const op = "prepare"
	ws, err := c.conn.Workspace(ctx)
	if err != nil {
		return querycache.Shape{}, err
	}
	s := querycache.Shape{
		Provider:  c.conn.Services().InvariantName(),
		Token:     ws.StoreSchema().ProviderManifestToken,
		Workspace: ws.ID(),
	}
	switch c.cmdType {
	case CommandText:
		if strings.TrimSpace(c.text) == "" {
			return s, veloxdb.NewInvalidOperationError(op, "the command text is empty")
		}
		s.Kind, s.Text = querycache.KindText, c.text
	case CommandStoredProcedure:
		if strings.TrimSpace(c.text) == "" {
			return s, veloxdb.NewInvalidOperationError(op, "the stored procedure name is empty")
		}
		s.Kind, s.Text = querycache.KindStoredProcedure, strings.TrimSpace(c.text)
	case CommandTree:
		if c.tree == nil {
			return s, veloxdb.NewInvalidOperationError(op, "the command has no command tree")
		}
		s.Kind, s.Text = querycache.KindTree, c.tree.Fingerprint()
	default:
		return s, veloxdb.InvalidOperationf(op, "unknown command type %s", c.cmdType)
	}
	for _, p := range c.params.params {
		tu, err := p.EffectiveType()
		if err != nil {
			return s, err
		}
		s.Params = append(s.Params, querycache.ParamShape{
			Name:      p.name,
			Type:      tu.Fingerprint(),
			Direction: int(p.direction),
		})
	}
	return s, nil
}

func (c *Command) buildTree(ctx context.Context, ws *metadata.Workspace) (cqt.CommandTree, error) {
	switch c.cmdType {
	case CommandText:
		params := make([]cqt.Parameter, 0, c.params.Len())
		for _, p := range c.params.params {
			tu, err := p.EffectiveType()
			if err != nil {
				return nil, err
			}
			params = append(params, cqt.Parameter{Name: p.name, Type: tu, Mode: metadata.ModeIn})
		}
		return c.conn.cfg.parser.Parse(ctx, ws, c.text, params)
	case CommandStoredProcedure:
		return c.functionTree(ws)
	default:
		return c.tree, nil
	}
}

// functionTree resolves the function import named by the command text to the store
// function it is mapped to.
func (c *Command) functionTree(ws *metadata.Workspace) (cqt.CommandTree, error) {
	const op = "prepare"
	name := strings.TrimSpace(c.text)
	fi, ok := ws.FunctionImport(name)
	if !ok {
		return nil, veloxdb.InvalidOperationf(op, "the function import %q could not be found in the container", name)
	}
	sf, ok := ws.MappedStoreFunction(fi)
	if !ok {
		return nil, veloxdb.InvalidOperationf(op, "the function import %q is not mapped to a store function", fi.FullName())
	}
	for _, p := range c.params.params {
		if !hasParameter(fi, p.name) {
			return nil, veloxdb.InvalidOperationf(op, "the function import %q has no parameter named %q", fi.FullName(), p.name)
		}
	}
	params := make([]cqt.Parameter, len(fi.Parameters))
	for i, fp := range fi.Parameters {
		params[i] = cqt.Parameter{Name: fp.Name, Type: fp.Type, Mode: fp.Mode, StoreName: fp.Name}
		if i < len(sf.Parameters) {
			params[i].StoreName = sf.Parameters[i].Name
		}
	}
	return cqt.NewFunctionCommandTree(ws.ID(), metadata.StoreSpace, sf, fi.ReturnType, params...)
}

func hasParameter(fi *metadata.FunctionImport, name string) bool {
	for _, p := range fi.Parameters {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// storeCommand prepares the command and returns a bound, executable provider command.
func (c *Command) storeCommand(ctx context.Context) (provider.DbCommand, error) {
	const op = "execute"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.conn == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "the command has no connection")
	}
	if err := c.checkReader(op); err != nil {
		return nil, err
	}
	if c.conn.State() != provider.StateOpen {
		return nil, veloxdb.NewInvalidOperationError(op, "the connection is not open")
	}
	tx := c.tx
	current := c.conn.CurrentTransaction()
	switch {
	case tx != nil && tx != current:
		return nil, veloxdb.NewInvalidOperationError(op, "the transaction is not the current transaction of the command's connection")
	case tx == nil:
		tx = current
	}
	def, err := c.definition(ctx)
	if err != nil {
		return nil, err
	}
	store, err := c.conn.requireStore(op)
	if err != nil {
		return nil, err
	}
	// A simulated open leaves the physical connection closed.
	if store.State() != provider.StateOpen {
		return nil, veloxdb.NewInvalidOperationError(op, "the underlying connection is not open")
	}
	cmd := def.CreateCommand()
	cmd.SetConnection(store)
	if tx != nil {
		cmd.SetTransaction(tx.store)
	}
	if err := c.bind(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// bind copies parameter values into the store command. Parameters the provider could
// not map to a primitive data kind fail here rather than at prepare time.
func (c *Command) bind(cmd provider.DbCommand) error {
	const op = "execute"
	for _, dp := range cmd.Parameters() {
		p, ok := c.params.Get(dp.Name)
		if dp.DbType == provider.DbTypeObject {
			typ := "unknown"
			if ok && p.typ != nil {
				typ = p.typ.String()
			}
			return veloxdb.InvalidOperationf(op, "parameter %q has type %s, which is not a primitive type and cannot be bound", dp.Name, typ)
		}
		if ok {
			dp.Value = p.value
		} else {
			dp.Value = nil
		}
	}
	return nil
}

// copyOutputs writes output parameter values of cmd back into the command parameters.
func (c *Command) copyOutputs(cmd provider.DbCommand) {
	for _, dp := range cmd.Parameters() {
		if !dp.Direction.IsOutput() {
			continue
		}
		if p, ok := c.params.Get(dp.Name); ok {
			p.value = dp.Value
		}
	}
}

// ExecuteNonQuery executes the command and returns the number of affected rows.
func (c *Command) ExecuteNonQuery(ctx context.Context) (int64, error) {
	cmd, err := c.storeCommand(ctx)
	if err != nil {
		return 0, err
	}
	n, err := cmd.ExecuteNonQuery(ctx)
	if err != nil {
		return 0, veloxdb.NewStoreError("execute", err)
	}
	c.copyOutputs(cmd)
	return n, nil
}

// ExecuteScalar executes the command and returns the first column of the first row.
func (c *Command) ExecuteScalar(ctx context.Context) (any, error) {
	cmd, err := c.storeCommand(ctx)
	if err != nil {
		return nil, err
	}
	v, err := cmd.ExecuteScalar(ctx)
	if err != nil {
		return nil, veloxdb.NewStoreError("execute", err)
	}
	c.copyOutputs(cmd)
	return v, nil
}

// ExecuteReader executes the command and returns a reader over its results. Output
// parameters are available after the reader is closed.
func (c *Command) ExecuteReader(ctx context.Context) (*DataReader, error) {
	cmd, err := c.storeCommand(ctx)
	if err != nil {
		return nil, err
	}
	r, err := cmd.ExecuteReader(ctx)
	if err != nil {
		return nil, veloxdb.NewStoreError("execute", err)
	}
	c.readerOpen = true
	return &DataReader{cmd: c, store: cmd, reader: r}, nil
}
