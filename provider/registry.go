package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syssam/veloxdb"
)

// Factory creates the services of a provider. The logger is never nil.
type Factory func(logger *slog.Logger) Services

// Resolver answers dependency lookups ahead of, or after, the providers themselves.
// A nil result defers to the next resolver.
type Resolver interface {
	ExecutionStrategy(invariant, dataSource string) func() ExecutionStrategy
	SpatialServices(invariant, token string) SpatialServices
}

// ResolverFuncs adapts functions to a Resolver. Nil functions resolve nothing.
type ResolverFuncs struct {
	Strategy func(invariant, dataSource string) func() ExecutionStrategy
	Spatial  func(invariant, token string) SpatialServices
}

// ExecutionStrategy implements Resolver.
func (r ResolverFuncs) ExecutionStrategy(invariant, dataSource string) func() ExecutionStrategy {
	if r.Strategy == nil {
		return nil
	}
	return r.Strategy(invariant, dataSource)
}

// SpatialServices implements Resolver.
func (r ResolverFuncs) SpatialServices(invariant, token string) SpatialServices {
	if r.Spatial == nil {
		return nil
	}
	return r.Spatial(invariant, token)
}

// DefaultResolver is the fallback resolver of a Registry: it resolves DefaultStrategy
// and WKTServices for every provider.
var DefaultResolver Resolver = ResolverFuncs{
	Strategy: func(string, string) func() ExecutionStrategy {
		return func() ExecutionStrategy { return DefaultStrategy{} }
	},
	Spatial: func(string, string) SpatialServices { return WKTServices{} },
}

type (
	spatialKey  struct{ invariant, token string }
	strategyKey struct{ invariant, dataSource string }
)

// Registry holds provider factories and the derived singletons resolved for them.
// Derived singletons are created once and never removed. A Registry is safe for
// concurrent use and is passed by reference to the connections using it.
type Registry struct {
	logger   *slog.Logger
	override Resolver
	fallback Resolver

	mu        sync.RWMutex
	factories map[string]Factory

	services   sync.Map // string -> *Guard
	spatial    sync.Map // spatialKey -> SpatialServices
	strategies sync.Map // strategyKey -> func() ExecutionStrategy
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithResolver sets a resolver consulted before the providers.
func WithResolver(r Resolver) RegistryOption {
	return func(reg *Registry) {
		reg.override = r
	}
}

// WithFallback replaces DefaultResolver as the resolver consulted after the providers.
// A nil fallback makes unresolved lookups fail.
func WithFallback(r Resolver) RegistryOption {
	return func(reg *Registry) {
		reg.fallback = r
	}
}

// WithLogger sets the logger handed to provider factories.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(reg *Registry) {
		reg.logger = l
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		fallback:  DefaultResolver,
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Register adds a provider factory under its invariant name, replacing any earlier
// registration that has not been instantiated yet.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// IsRegistered checks if a provider is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns all registered provider names (sorted).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Services returns the guarded services of the named provider. Each provider is
// instantiated once per registry.
func (r *Registry) Services(name string) (*Guard, error) {
	if g, ok := r.services.Load(name); ok {
		return g.(*Guard), nil
	}
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Name: name, Available: r.Names()}
	}
	s := factory(r.logger.With(slog.String("provider", name)))
	if s == nil {
		return nil, veloxdb.NewProviderIncompatibleError("Factory", fmt.Sprintf("the factory of provider %q returned no services", name), nil)
	}
	g, _ := r.services.LoadOrStore(name, NewGuard(s))
	return g.(*Guard), nil
}

// SpatialServices resolves the spatial services for a provider and manifest token.
// Resolvers are consulted in order: the registry override, the provider, the fallback.
// The first answer is memoized.
func (r *Registry) SpatialServices(g *Guard, token string) (SpatialServices, error) {
	key := spatialKey{g.InvariantName(), token}
	if s, ok := r.spatial.Load(key); ok {
		return s.(SpatialServices), nil
	}
	s, err := r.resolveSpatial(g, token)
	if err != nil {
		return nil, err
	}
	actual, _ := r.spatial.LoadOrStore(key, s)
	return actual.(SpatialServices), nil
}

func (r *Registry) resolveSpatial(g *Guard, token string) (SpatialServices, error) {
	invariant := g.InvariantName()
	if r.override != nil {
		if s := r.override.SpatialServices(invariant, token); s != nil {
			return s, nil
		}
	}
	s, err := g.SpatialServices(token)
	switch {
	case err == nil:
		return s, nil
	case !veloxdb.IsNotSupported(err):
		return nil, err
	}
	if r.fallback != nil {
		if s := r.fallback.SpatialServices(invariant, token); s != nil {
			return s, nil
		}
	}
	return nil, Incompatible(OpSpatialServices, fmt.Errorf("no resolver supplied spatial services for provider %q and token %q", invariant, token))
}

// ExecutionStrategy resolves the execution strategy factory for a provider and data
// source, consulting resolvers in the same order as SpatialServices.
func (r *Registry) ExecutionStrategy(g *Guard, dataSource string) (func() ExecutionStrategy, error) {
	key := strategyKey{g.InvariantName(), dataSource}
	if f, ok := r.strategies.Load(key); ok {
		return f.(func() ExecutionStrategy), nil
	}
	f, err := r.resolveStrategy(g, dataSource)
	if err != nil {
		return nil, err
	}
	actual, _ := r.strategies.LoadOrStore(key, f)
	return actual.(func() ExecutionStrategy), nil
}

func (r *Registry) resolveStrategy(g *Guard, dataSource string) (func() ExecutionStrategy, error) {
	invariant := g.InvariantName()
	if r.override != nil {
		if f := r.override.ExecutionStrategy(invariant, dataSource); f != nil {
			return f, nil
		}
	}
	f, err := g.ExecutionStrategy(dataSource)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}
	if r.fallback != nil {
		if f := r.fallback.ExecutionStrategy(invariant, dataSource); f != nil {
			return f, nil
		}
	}
	return nil, Incompatible(OpExecutionStrategy, fmt.Errorf("no resolver supplied an execution strategy for provider %q and data source %q", invariant, dataSource))
}

// UnknownProviderError is returned when an unregistered provider is requested.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("veloxdb: unknown provider %q (available providers: %v)", e.Name, e.Available)
}

// Is reports whether the target error matches veloxdb.ErrInvalidOperation.
func (e *UnknownProviderError) Is(err error) bool {
	return err == veloxdb.ErrInvalidOperation
}
