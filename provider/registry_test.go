package provider_test

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/internal/providertest"
	"github.com/syssam/veloxdb/provider"
)

// capable is a fake provider supplying spatial services and execution strategies.
type capable struct {
	*providertest.Services
	spatialCalls  atomic.Int64
	strategyCalls atomic.Int64
}

type spatial struct {
	provider.WKTServices
	token string
}

func (c *capable) SpatialServices(token string) (provider.SpatialServices, error) {
	c.spatialCalls.Add(1)
	return &spatial{token: token}, nil
}

func (c *capable) ExecutionStrategy(string) func() provider.ExecutionStrategy {
	c.strategyCalls.Add(1)
	return func() provider.ExecutionStrategy { return provider.NewRetryStrategy(3, nil) }
}

func TestRegistry_Services(t *testing.T) {
	r := provider.NewRegistry()
	var created atomic.Int64
	r.Register("fake", func(l *slog.Logger) provider.Services {
		require.NotNil(t, l)
		created.Add(1)
		return providertest.NewServices("fake")
	})
	assert.True(t, r.IsRegistered("fake"))
	assert.Equal(t, []string{"fake"}, r.Names())

	a, err := r.Services("fake")
	require.NoError(t, err)
	b, err := r.Services("fake")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, created.Load())

	_, err = r.Services("oracle")
	require.Error(t, err)
	var unknown *provider.UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"fake"}, unknown.Available)
	assert.True(t, veloxdb.IsInvalidOperation(err))

	r.Register("nil", func(*slog.Logger) provider.Services { return nil })
	_, err = r.Services("nil")
	assert.True(t, veloxdb.IsProviderIncompatible(err))
}

func TestRegistry_SpatialServices(t *testing.T) {
	t.Run("Provider", func(t *testing.T) {
		c := &capable{Services: providertest.NewServices("fake")}
		r := provider.NewRegistry()
		g := provider.NewGuard(c)
		a, err := r.SpatialServices(g, "2008")
		require.NoError(t, err)
		b, err := r.SpatialServices(g, "2008")
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.EqualValues(t, 1, c.spatialCalls.Load(), "memoized per (provider, token)")
		other, err := r.SpatialServices(g, "2012")
		require.NoError(t, err)
		assert.NotSame(t, a, other)
	})

	t.Run("OverrideFirst", func(t *testing.T) {
		c := &capable{Services: providertest.NewServices("fake")}
		override := &spatial{token: "override"}
		r := provider.NewRegistry(provider.WithResolver(provider.ResolverFuncs{
			Spatial: func(string, string) provider.SpatialServices { return override },
		}))
		s, err := r.SpatialServices(provider.NewGuard(c), "2008")
		require.NoError(t, err)
		assert.Same(t, override, s)
		assert.Zero(t, c.spatialCalls.Load())
	})

	t.Run("Fallback", func(t *testing.T) {
		r := provider.NewRegistry()
		s, err := r.SpatialServices(provider.NewGuard(providertest.NewServices("fake")), "1")
		require.NoError(t, err)
		assert.Equal(t, provider.WKTServices{}, s)
	})

	t.Run("Unresolved", func(t *testing.T) {
		r := provider.NewRegistry(provider.WithFallback(nil))
		_, err := r.SpatialServices(provider.NewGuard(providertest.NewServices("fake")), "1")
		require.Error(t, err)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
	})
}

func TestRegistry_ExecutionStrategy(t *testing.T) {
	t.Run("Provider", func(t *testing.T) {
		c := &capable{Services: providertest.NewServices("fake")}
		r := provider.NewRegistry()
		g := provider.NewGuard(c)
		f, err := r.ExecutionStrategy(g, "server1")
		require.NoError(t, err)
		assert.True(t, f().RetriesOnFailure())
		_, err = r.ExecutionStrategy(g, "server1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.strategyCalls.Load())
		_, err = r.ExecutionStrategy(g, "server2")
		require.NoError(t, err)
		assert.EqualValues(t, 2, c.strategyCalls.Load(), "keyed by data source")
	})

	t.Run("Fallback", func(t *testing.T) {
		r := provider.NewRegistry()
		f, err := r.ExecutionStrategy(provider.NewGuard(providertest.NewServices("fake")), "x")
		require.NoError(t, err)
		assert.Equal(t, provider.DefaultStrategy{}, f())
	})

	t.Run("Unresolved", func(t *testing.T) {
		r := provider.NewRegistry(provider.WithFallback(provider.ResolverFuncs{}))
		_, err := r.ExecutionStrategy(provider.NewGuard(providertest.NewServices("fake")), "x")
		require.Error(t, err)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
		assert.False(t, errors.Is(err, veloxdb.ErrNotSupported))
	})
}

func TestRegistry_ConcurrentCreateOnce(t *testing.T) {
	c := &capable{Services: providertest.NewServices("fake")}
	r := provider.NewRegistry()
	g := provider.NewGuard(c)
	var (
		eg      errgroup.Group
		mu      sync.Mutex
		results []provider.SpatialServices
	)
	for range 16 {
		eg.Go(func() error {
			s, err := r.SpatialServices(g, "2008")
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, s)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for _, s := range results {
		assert.Same(t, results[0], s, "every caller observes the first stored value")
	}
}
