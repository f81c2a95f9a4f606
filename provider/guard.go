package provider

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
)

// Contract operations.
const (
	OpNewConnection           = "NewConnection"
	OpGetManifestToken        = "GetManifestToken"
	OpGetManifest             = "GetManifest"
	OpCreateCommandDefinition = "CreateCommandDefinition"
	OpCreateDatabaseScript    = "CreateDatabaseScript"
	OpCreateDatabase          = "CreateDatabase"
	OpDatabaseExists          = "DatabaseExists"
	OpDeleteDatabase          = "DeleteDatabase"
	OpSpatialServices         = "SpatialServices"
	OpBeginTransaction        = "BeginTransaction"
	OpExecutionStrategy       = "ExecutionStrategy"
)

var incompatibleMessages = map[string]string{
	OpNewConnection:           "the provider did not return a connection",
	OpGetManifestToken:        "the provider did not return a manifest token",
	OpGetManifest:             "the provider did not return a manifest",
	OpCreateCommandDefinition: "the provider could not create a command definition",
	OpCreateDatabaseScript:    "the provider could not generate a database creation script",
	OpCreateDatabase:          "the provider could not create the database",
	OpDatabaseExists:          "the provider could not determine whether the database exists",
	OpDeleteDatabase:          "the provider could not delete the database",
	OpSpatialServices:         "the provider did not return spatial services",
	OpBeginTransaction:        "the provider did not return a transaction",
	OpExecutionStrategy:       "no execution strategy could be resolved",
}

// Incompatible returns the provider incompatible error for a contract operation.
// The message is taken from the operation table; err is kept as the cause.
func Incompatible(op string, err error) *veloxdb.ProviderIncompatibleError {
	msg, ok := incompatibleMessages[op]
	if !ok {
		msg = "the provider failed on " + op
	}
	return veloxdb.NewProviderIncompatibleError(op, msg, err)
}

// NotSupported returns the error for an optional capability a provider lacks.
func NotSupported(op string) *veloxdb.ProviderIncompatibleError {
	return veloxdb.NewProviderIncompatibleError(op, fmt.Sprintf("the provider does not support %s", op), veloxdb.ErrNotSupported)
}

// Guard wraps a provider and enforces the contract on every entry point: inputs are
// checked, provider failures and panics are reported as provider incompatible errors,
// and missing results are rejected. Guard itself implements Services.
type Guard struct {
	services Services
}

// NewGuard returns a guard for s. Guarding a guard returns it unchanged.
func NewGuard(s Services) *Guard {
	if g, ok := s.(*Guard); ok {
		return g
	}
	return &Guard{services: s}
}

// Unwrap returns the guarded provider.
func (g *Guard) Unwrap() Services { return g.services }

// InvariantName implements Services.
func (g *Guard) InvariantName() string {
	if g.services == nil {
		return ""
	}
	return g.services.InvariantName()
}

// NewConnection implements Services.
func (g *Guard) NewConnection(connStr string) (conn DbConnection, err error) {
	if err := g.check(OpNewConnection); err != nil {
		return nil, err
	}
	err = g.call(OpNewConnection, func() (err error) {
		conn, err = g.services.NewConnection(connStr)
		return err
	})
	if err == nil && conn == nil {
		err = Incompatible(OpNewConnection, nil)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GetManifestToken implements Services.
func (g *Guard) GetManifestToken(ctx context.Context, conn DbConnection) (token string, err error) {
	if err := g.check(OpGetManifestToken); err != nil {
		return "", err
	}
	if conn == nil {
		return "", veloxdb.NewInvalidOperationError(OpGetManifestToken, "connection is nil")
	}
	err = g.call(OpGetManifestToken, func() (err error) {
		token, err = g.services.GetManifestToken(ctx, conn)
		return err
	})
	if err == nil && strings.TrimSpace(token) == "" {
		err = Incompatible(OpGetManifestToken, nil)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetManifest implements Services.
func (g *Guard) GetManifest(token string) (m Manifest, err error) {
	if err := g.check(OpGetManifest); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, veloxdb.NewInvalidOperationError(OpGetManifest, "manifest token is empty")
	}
	err = g.call(OpGetManifest, func() (err error) {
		m, err = g.services.GetManifest(token)
		return err
	})
	if err == nil && m == nil {
		err = Incompatible(OpGetManifest, nil)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateCommandDefinition implements Services. Only store-space trees are accepted.
func (g *Guard) CreateCommandDefinition(ctx context.Context, m Manifest, tree cqt.CommandTree) (def *CommandDefinition, err error) {
	if err := g.check(OpCreateCommandDefinition); err != nil {
		return nil, err
	}
	switch {
	case m == nil:
		return nil, veloxdb.NewInvalidOperationError(OpCreateCommandDefinition, "manifest is nil")
	case tree == nil:
		return nil, veloxdb.NewInvalidOperationError(OpCreateCommandDefinition, "command tree is nil")
	case tree.DataSpace() != metadata.StoreSpace:
		return nil, veloxdb.NewProviderIncompatibleError(OpCreateCommandDefinition, "the provider requires a store-space command tree", nil)
	}
	err = g.call(OpCreateCommandDefinition, func() (err error) {
		def, err = g.services.CreateCommandDefinition(ctx, m, tree)
		return err
	})
	if err == nil && def == nil {
		err = Incompatible(OpCreateCommandDefinition, nil)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

// CreateDatabaseScript returns the DDL script creating store.
func (g *Guard) CreateDatabaseScript(token string, store *metadata.StoreSchema) (script string, err error) {
	ddl, err := g.ddl(OpCreateDatabaseScript, store)
	if err != nil {
		return "", err
	}
	err = g.call(OpCreateDatabaseScript, func() (err error) {
		script, err = ddl.CreateDatabaseScript(token, store)
		return err
	})
	return script, err
}

// CreateDatabase creates the store behind conn.
func (g *Guard) CreateDatabase(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) error {
	ddl, err := g.ddl(OpCreateDatabase, store)
	if err != nil {
		return err
	}
	if conn == nil {
		return veloxdb.NewInvalidOperationError(OpCreateDatabase, "connection is nil")
	}
	return g.call(OpCreateDatabase, func() error {
		return ddl.CreateDatabase(ctx, conn, store)
	})
}

// DatabaseExists reports whether the store behind conn exists.
func (g *Guard) DatabaseExists(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) (exists bool, err error) {
	ddl, err := g.ddl(OpDatabaseExists, store)
	if err != nil {
		return false, err
	}
	if conn == nil {
		return false, veloxdb.NewInvalidOperationError(OpDatabaseExists, "connection is nil")
	}
	err = g.call(OpDatabaseExists, func() (err error) {
		exists, err = ddl.DatabaseExists(ctx, conn, store)
		return err
	})
	return exists, err
}

// DeleteDatabase drops the store behind conn.
func (g *Guard) DeleteDatabase(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) error {
	ddl, err := g.ddl(OpDeleteDatabase, store)
	if err != nil {
		return err
	}
	if conn == nil {
		return veloxdb.NewInvalidOperationError(OpDeleteDatabase, "connection is nil")
	}
	return g.call(OpDeleteDatabase, func() error {
		return ddl.DeleteDatabase(ctx, conn, store)
	})
}

// SpatialServices returns the spatial services of the provider for token.
func (g *Guard) SpatialServices(token string) (s SpatialServices, err error) {
	if err := g.check(OpSpatialServices); err != nil {
		return nil, err
	}
	sp, ok := g.services.(SpatialProvider)
	if !ok {
		return nil, NotSupported(OpSpatialServices)
	}
	err = g.call(OpSpatialServices, func() (err error) {
		s, err = sp.SpatialServices(token)
		return err
	})
	if err == nil && s == nil {
		err = Incompatible(OpSpatialServices, nil)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ExecutionStrategy returns the provider's strategy factory for dataSource, or nil
// if the provider has none.
func (g *Guard) ExecutionStrategy(dataSource string) (factory func() ExecutionStrategy, err error) {
	if err := g.check(OpExecutionStrategy); err != nil {
		return nil, err
	}
	sp, ok := g.services.(StrategyProvider)
	if !ok {
		return nil, nil
	}
	err = g.call(OpExecutionStrategy, func() error {
		factory = sp.ExecutionStrategy(dataSource)
		return nil
	})
	return factory, err
}

// IsTransient reports whether the provider classifies err as transient. Providers
// without a classifier never report transient errors.
func (g *Guard) IsTransient(err error) (transient bool) {
	c, ok := g.services.(TransientClassifier)
	if !ok || err == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			repanicRuntime(r)
			transient = false
		}
	}()
	return c.IsTransient(err)
}

func (g *Guard) check(op string) error {
	if g == nil || g.services == nil {
		return veloxdb.NewInvalidOperationError(op, "provider services are nil")
	}
	return nil
}

func (g *Guard) ddl(op string, store *metadata.StoreSchema) (DDLProvider, error) {
	if err := g.check(op); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "store schema is nil")
	}
	ddl, ok := g.services.(DDLProvider)
	if !ok {
		return nil, NotSupported(op)
	}
	return ddl, nil
}

// call runs fn and converts its failure into a provider incompatible error.
// Existing provider incompatible errors and context errors pass through unchanged.
// Runtime faults are not provider failures and keep panicking.
func (g *Guard) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			repanicRuntime(r)
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("%v", r)
			}
			err = Incompatible(op, fmt.Errorf("provider panic: %w", perr))
		}
	}()
	return wrap(op, fn())
}

// repanicRuntime panics again with r if it is a runtime fault such as a nil
// dereference, a nil map write or an index out of range.
func repanicRuntime(r any) {
	if re, ok := r.(runtime.Error); ok {
		panic(re)
	}
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case veloxdb.IsProviderIncompatible(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return Incompatible(op, err)
	}
}

var _ Services = (*Guard)(nil)
