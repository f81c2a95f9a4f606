package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ariga.io/atlas/sql/migrate"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/provider"
)

// PlaceholderStyle is the way a dialect spells bind parameters.
type PlaceholderStyle int

// Placeholder styles.
const (
	// Question binds every parameter reference positionally as "?".
	Question PlaceholderStyle = iota
	// Dollar binds distinct parameters positionally as $1, $2, ...
	Dollar
	// AtName binds parameters by name as @name.
	AtName
)

// FunctionArg is an argument of a store function invocation.
type FunctionArg struct {
	Placeholder string
	StoreName   string
	Direction   provider.ParameterDirection
}

// Options describes one backend.
type Options struct {
	// InvariantName is the provider name used in connection strings.
	InvariantName string
	// DriverName is the database/sql driver name. Empty uses InvariantName.
	DriverName string
	// Dialect is one of the dialect constants. Empty derives it from InvariantName.
	Dialect string
	// VersionQuery returns the server version the manifest token is derived from.
	VersionQuery string
	// ManifestToken maps a server version to a manifest token. Nil uses the version.
	ManifestToken func(version string) string
	// Manifest returns the manifest of a token.
	Manifest func(token string) (provider.Manifest, error)
	Placeholder PlaceholderStyle
	// FunctionCall builds the statement invoking a store function. Nil uses CALL.
	FunctionCall func(name string, args []FunctionArg) string
	// Planner plans DDL changes. Nil makes CreateDatabaseScript unsupported.
	Planner migrate.PlanApplier
	// Database creates, probes and drops databases. Nil makes those operations
	// unsupported.
	Database DatabaseManager
	// DataSource extracts the data source from a connection string. Nil uses the
	// connection string.
	DataSource func(connStr string) string
	// Transient classifies driver errors IsTransient does not recognize.
	Transient func(error) bool
	// Spatial supplies spatial services. Nil defers to the registry fallback.
	Spatial provider.SpatialServices
}

// Provider implements provider.Services over database/sql. Connections created by
// the same provider with the same connection string share one *sql.DB pool.
type Provider struct {
	opts   Options
	logger *slog.Logger
	open   func(driverName, dsn string) (*sql.DB, error)
	pool   func(*sql.DB)
	retry  *retryOptions

	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook

	mu        sync.Mutex
	pools     map[string]*sql.DB
	manifests sync.Map // token -> provider.Manifest
}

type retryOptions struct {
	attempts  int
	base, max time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithOpener replaces sql.Open for creating connection pools.
func WithOpener(open func(driverName, dsn string) (*sql.DB, error)) Option {
	return func(p *Provider) {
		p.open = open
	}
}

// WithPoolConfig is called with every pool the provider creates, for example to set
// connection limits.
func WithPoolConfig(fn func(*sql.DB)) Option {
	return func(p *Provider) {
		p.pool = fn
	}
}

// WithRetry makes the provider supply a retrying execution strategy that uses
// IsTransient to classify failures. Non-positive delays use the provider package
// defaults.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(p *Provider) {
		p.retry = &retryOptions{attempts: maxAttempts, base: baseDelay, max: maxDelay}
	}
}

// New returns a provider for the backend described by opts.
func New(opts Options, options ...Option) *Provider {
	if opts.DriverName == "" {
		opts.DriverName = opts.InvariantName
	}
	if opts.Dialect == "" {
		opts.Dialect = dialect.Of(opts.InvariantName)
	}
	p := &Provider{
		opts:          opts,
		open:          sql.Open,
		stats:         &QueryStats{},
		slowThreshold: DefaultSlowThreshold,
		pools:         make(map[string]*sql.DB),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Factory returns a provider factory for registration in a provider.Registry. Every
// instantiation receives the registry logger.
func Factory(opts Options, options ...Option) provider.Factory {
	return func(l *slog.Logger) provider.Services {
		return New(opts, append([]Option{WithLogger(l)}, options...)...)
	}
}

// InvariantName implements provider.Services.
func (p *Provider) InvariantName() string { return p.opts.InvariantName }

// Dialect returns the dialect name of the provider.
func (p *Provider) Dialect() string { return p.opts.Dialect }

// NewConnection implements provider.Services. The returned connection is closed.
func (p *Provider) NewConnection(connStr string) (provider.DbConnection, error) {
	if connStr == "" {
		return nil, errors.New("dialect/sql: empty connection string")
	}
	return newConn(p, connStr), nil
}

// GetManifestToken implements provider.Services by querying the server version.
func (p *Provider) GetManifestToken(ctx context.Context, conn provider.DbConnection) (string, error) {
	if p.opts.VersionQuery == "" {
		return "", fmt.Errorf("dialect/sql: provider %q has no version query", p.opts.InvariantName)
	}
	db, err := p.db(conn.ConnectionString())
	if err != nil {
		return "", err
	}
	var version string
	if err := db.QueryRowContext(ctx, p.opts.VersionQuery).Scan(&version); err != nil {
		return "", fmt.Errorf("dialect/sql: query server version: %w", err)
	}
	if p.opts.ManifestToken != nil {
		return p.opts.ManifestToken(version), nil
	}
	return version, nil
}

// GetManifest implements provider.Services. Manifests are memoized per token.
func (p *Provider) GetManifest(token string) (provider.Manifest, error) {
	if m, ok := p.manifests.Load(token); ok {
		return m.(provider.Manifest), nil
	}
	if p.opts.Manifest == nil {
		return nil, fmt.Errorf("dialect/sql: provider %q has no manifests", p.opts.InvariantName)
	}
	m, err := p.opts.Manifest(token)
	if err != nil {
		return nil, err
	}
	actual, _ := p.manifests.LoadOrStore(token, m)
	return actual.(provider.Manifest), nil
}

// SpatialServices implements provider.SpatialProvider.
func (p *Provider) SpatialServices(string) (provider.SpatialServices, error) {
	if p.opts.Spatial == nil {
		return nil, provider.NotSupported(provider.OpSpatialServices)
	}
	return p.opts.Spatial, nil
}

// ExecutionStrategy implements provider.StrategyProvider. Without WithRetry the
// provider defers to the registry resolvers.
func (p *Provider) ExecutionStrategy(string) func() provider.ExecutionStrategy {
	if p.retry == nil {
		return nil
	}
	r := *p.retry
	return func() provider.ExecutionStrategy {
		s := provider.NewRetryStrategy(r.attempts, p.IsTransient)
		if r.base > 0 {
			s.BaseDelay = r.base
		}
		if r.max > 0 {
			s.MaxDelay = r.max
		}
		s.Logger = p.logger
		return s
	}
}

// IsTransient implements provider.TransientClassifier.
func (p *Provider) IsTransient(err error) bool {
	if IsTransient(err) {
		return true
	}
	return err != nil && p.opts.Transient != nil && p.opts.Transient(err)
}

// DataSource returns the data source of a connection string.
func (p *Provider) DataSource(connStr string) string {
	if p.opts.DataSource == nil {
		return connStr
	}
	return p.opts.DataSource(connStr)
}

// db returns the pool of dsn, opening it on first use.
func (p *Provider) db(dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}
	db, err := p.open(p.opts.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: open %s: %w", p.opts.DriverName, err)
	}
	if p.pool != nil {
		p.pool(db)
	}
	p.pools[dsn] = db
	p.logger.Debug("pool opened", slog.String("data_source", p.DataSource(dsn)))
	return db, nil
}

// closePool closes and forgets the pool of dsn.
func (p *Provider) closePool(dsn string) error {
	p.mu.Lock()
	db, ok := p.pools[dsn]
	delete(p.pools, dsn)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return db.Close()
}

// Close closes every pool opened by the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	pools := p.pools
	p.pools = make(map[string]*sql.DB)
	p.mu.Unlock()
	var err error
	for _, db := range pools {
		err = errors.Join(err, db.Close())
	}
	return err
}

var (
	_ provider.Services            = (*Provider)(nil)
	_ provider.DDLProvider         = (*Provider)(nil)
	_ provider.SpatialProvider     = (*Provider)(nil)
	_ provider.StrategyProvider    = (*Provider)(nil)
	_ provider.TransientClassifier = (*Provider)(nil)
)
