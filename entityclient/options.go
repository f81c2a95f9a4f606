package entityclient

import (
	"context"
	"log/slog"

	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// ConnectionInterceptor observes connection events. An interceptor may veto the
// physical open, in which case the connection reports Open without touching the store.
type ConnectionInterceptor interface {
	Opening(ctx context.Context, c *Connection) (proceed bool)
}

// ConnectionInterceptorFunc adapts a function to ConnectionInterceptor.
type ConnectionInterceptorFunc func(ctx context.Context, c *Connection) bool

// Opening implements ConnectionInterceptor.
func (f ConnectionInterceptorFunc) Opening(ctx context.Context, c *Connection) bool {
	return f(ctx, c)
}

// Option configures a Connection.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	registry     *provider.Registry
	named        NamedConnections
	workspaces   *metadata.WorkspaceCache
	resolver     metadata.AssemblyResolver
	parser       QueryParser
	interceptors []ConnectionInterceptor
	cache        *DefinitionCache
	strategy     func() provider.ExecutionStrategy
	services     provider.Services
	noPlanCache  bool
}

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRegistry sets the provider registry used to resolve the provider keyword, execution
// strategies and spatial services.
func WithRegistry(r *provider.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithNamedConnections sets the source for name= connection strings.
func WithNamedConnections(n NamedConnections) Option {
	return func(c *config) {
		c.named = n
	}
}

// WithAssemblyResolver sets the resolver for res:// metadata paths. It is ignored when
// WithWorkspaceCache is given.
func WithAssemblyResolver(r metadata.AssemblyResolver) Option {
	return func(c *config) {
		c.resolver = r
	}
}

// WithWorkspaceCache shares loaded workspaces between connections.
func WithWorkspaceCache(wc *metadata.WorkspaceCache) Option {
	return func(c *config) {
		c.workspaces = wc
	}
}

// WithQueryParser replaces StoreTextParser for text commands.
func WithQueryParser(p QueryParser) Option {
	return func(c *config) {
		c.parser = p
	}
}

// WithInterceptors adds connection interceptors.
func WithInterceptors(is ...ConnectionInterceptor) Option {
	return func(c *config) {
		c.interceptors = append(c.interceptors, is...)
	}
}

// WithDefinitionCache shares compiled command definitions between connections.
func WithDefinitionCache(dc *DefinitionCache) Option {
	return func(c *config) {
		c.cache = dc
	}
}

// WithPlanCaching sets whether commands created by the connection reuse cached
// definitions. Commands can still change it with SetPlanCaching.
func WithPlanCaching(enabled bool) Option {
	return func(c *config) {
		c.noPlanCache = !enabled
	}
}

// WithExecutionStrategy overrides the resolved execution strategy.
func WithExecutionStrategy(factory func() provider.ExecutionStrategy) Option {
	return func(c *config) {
		c.strategy = factory
	}
}

// WithServices sets the provider of a connection created from a store connection. By
// default it is resolved from the registry by the store schema provider.
func WithServices(s provider.Services) Option {
	return func(c *config) {
		c.services = s
	}
}

func newConfig(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.registry == nil {
		c.registry = provider.NewRegistry()
	}
	if c.workspaces == nil {
		c.workspaces = metadata.NewWorkspaceCache(c.resolver)
	}
	if c.parser == nil {
		c.parser = StoreTextParser{}
	}
	return c
}
