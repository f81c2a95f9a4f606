package provider

import (
	"context"
	"errors"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
)

// Services is the contract every backend implements to participate in command
// compilation and execution. Callers reach providers through a Guard, which enforces
// the contract on every entry point.
type Services interface {
	// InvariantName returns the provider invariant name, e.g. "sqlite".
	InvariantName() string
	// NewConnection returns a closed physical connection for connStr.
	NewConnection(connStr string) (DbConnection, error)
	// GetManifestToken returns the manifest token describing the store behind conn.
	GetManifestToken(ctx context.Context, conn DbConnection) (string, error)
	// GetManifest returns the manifest for a token.
	GetManifest(token string) (Manifest, error)
	// CreateCommandDefinition compiles a store command tree.
	CreateCommandDefinition(ctx context.Context, manifest Manifest, tree cqt.CommandTree) (*CommandDefinition, error)
}

// Manifest describes the capabilities of a store version.
type Manifest interface {
	// Token returns the manifest token the manifest was created from.
	Token() string
	// Provider returns the provider invariant name.
	Provider() string
	// StoreType returns the store type name for a model type usage.
	StoreType(tu *metadata.TypeUsage) (string, error)
}

// SpatialProvider is implemented by providers supplying spatial services.
type SpatialProvider interface {
	SpatialServices(token string) (SpatialServices, error)
}

// DDLProvider is implemented by providers able to create and drop stores.
type DDLProvider interface {
	CreateDatabaseScript(token string, store *metadata.StoreSchema) (string, error)
	CreateDatabase(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) error
	DatabaseExists(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) (bool, error)
	DeleteDatabase(ctx context.Context, conn DbConnection, store *metadata.StoreSchema) error
}

// StrategyProvider is implemented by providers supplying a default execution strategy.
type StrategyProvider interface {
	// ExecutionStrategy returns a factory of strategies for the given data source, or
	// nil to defer to other resolvers.
	ExecutionStrategy(dataSource string) func() ExecutionStrategy
}

// TransientClassifier is implemented by providers that can tell transient store
// failures apart.
type TransientClassifier interface {
	IsTransient(err error) bool
}

// CommandDefinition is a compiled, reusable command. It wraps a fully configured
// prototype command that is never handed out; every CreateCommand call returns a
// clone.
type CommandDefinition struct {
	prototype DbCommand
	clone     func(DbCommand) DbCommand
}

// NewCommandDefinition returns a definition over prototype. clone must return an
// independent copy of its argument.
func NewCommandDefinition(prototype DbCommand, clone func(DbCommand) DbCommand) (*CommandDefinition, error) {
	switch {
	case prototype == nil:
		return nil, errors.New("provider: command definition prototype is nil")
	case clone == nil:
		return nil, errors.New("provider: command definition clone function is nil")
	}
	return &CommandDefinition{prototype: prototype, clone: clone}, nil
}

// CreateCommand returns a new executable command cloned from the prototype.
func (d *CommandDefinition) CreateCommand() DbCommand {
	return d.clone(d.prototype)
}

// Text returns the command text of the prototype.
func (d *CommandDefinition) Text() string {
	return d.prototype.Text()
}

// Parameters returns copies of the prototype parameters.
func (d *CommandDefinition) Parameters() []*DbParameter {
	params := d.prototype.Parameters()
	clones := make([]*DbParameter, len(params))
	for i, p := range params {
		clones[i] = p.Clone()
	}
	return clones
}
