package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/internal/providertest"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

func storeTree(t *testing.T) cqt.CommandTree {
	t.Helper()
	tree, err := cqt.NewQueryCommandTree("ws", metadata.StoreSpace, cqt.NewStoreText("SELECT @id"),
		cqt.Parameter{Name: "id", Type: metadata.Primitive(metadata.Int32)})
	require.NoError(t, err)
	return tree
}

func TestGuard_GetManifestToken(t *testing.T) {
	ctx := context.Background()
	conn := providertest.NewConn("")

	t.Run("OK", func(t *testing.T) {
		g := provider.NewGuard(providertest.NewServices("fake"))
		token, err := g.GetManifestToken(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, "1", token)
	})

	t.Run("NilConnection", func(t *testing.T) {
		g := provider.NewGuard(providertest.NewServices("fake"))
		_, err := g.GetManifestToken(ctx, nil)
		assert.True(t, veloxdb.IsInvalidOperation(err))
	})

	t.Run("EmptyToken", func(t *testing.T) {
		s := providertest.NewServices("fake")
		s.Token = ""
		_, err := provider.NewGuard(s).GetManifestToken(ctx, conn)
		require.Error(t, err)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
		assert.Contains(t, err.Error(), "did not return a manifest token")
	})

	t.Run("WrapsCause", func(t *testing.T) {
		cause := errors.New("login failed")
		s := providertest.NewServices("fake")
		s.GetManifestTokenFunc = func(context.Context, provider.DbConnection) (string, error) { return "", cause }
		_, err := provider.NewGuard(s).GetManifestToken(ctx, conn)
		require.Error(t, err)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
		assert.ErrorIs(t, err, cause)
		var pie *veloxdb.ProviderIncompatibleError
		require.ErrorAs(t, err, &pie)
		assert.Equal(t, provider.OpGetManifestToken, pie.Op)
	})

	t.Run("NoDoubleWrap", func(t *testing.T) {
		inner := veloxdb.NewProviderIncompatibleError("custom", "provider says no", nil)
		s := providertest.NewServices("fake")
		s.GetManifestTokenFunc = func(context.Context, provider.DbConnection) (string, error) { return "", inner }
		_, err := provider.NewGuard(s).GetManifestToken(ctx, conn)
		assert.Same(t, inner, err)
	})

	t.Run("Panic", func(t *testing.T) {
		s := providertest.NewServices("fake")
		s.GetManifestTokenFunc = func(context.Context, provider.DbConnection) (string, error) { panic("boom") }
		_, err := provider.NewGuard(s).GetManifestToken(ctx, conn)
		require.Error(t, err)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("RuntimePanic", func(t *testing.T) {
		s := providertest.NewServices("fake")
		s.GetManifestTokenFunc = func(context.Context, provider.DbConnection) (string, error) {
			var tokens map[string]string
			tokens["fake"] = "1"
			return tokens["fake"], nil
		}
		g := provider.NewGuard(s)
		assert.PanicsWithError(t, "assignment to entry in nil map", func() {
			_, _ = g.GetManifestToken(ctx, conn)
		})
	})

	t.Run("Canceled", func(t *testing.T) {
		s := providertest.NewServices("fake")
		s.GetManifestTokenFunc = func(ctx context.Context, _ provider.DbConnection) (string, error) { return "", ctx.Err() }
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := provider.NewGuard(s).GetManifestToken(ctx, conn)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, veloxdb.IsProviderIncompatible(err))
	})
}

func TestGuard_GetManifest(t *testing.T) {
	s := providertest.NewServices("fake")
	g := provider.NewGuard(s)
	m, err := g.GetManifest("3")
	require.NoError(t, err)
	assert.Equal(t, "3", m.Token())

	_, err = g.GetManifest(" ")
	assert.True(t, veloxdb.IsInvalidOperation(err))

	s.GetManifestFunc = func(string) (provider.Manifest, error) { return nil, nil }
	_, err = g.GetManifest("3")
	assert.True(t, veloxdb.IsProviderIncompatible(err))
	assert.Contains(t, err.Error(), "did not return a manifest")
}

func TestGuard_CreateCommandDefinition(t *testing.T) {
	ctx := context.Background()
	s := providertest.NewServices("fake")
	g := provider.NewGuard(s)
	m, err := g.GetManifest("1")
	require.NoError(t, err)

	t.Run("OK", func(t *testing.T) {
		def, err := g.CreateCommandDefinition(ctx, m, storeTree(t))
		require.NoError(t, err)
		assert.Equal(t, "SELECT @id", def.Text())
		params := def.Parameters()
		require.Len(t, params, 1)
		assert.Equal(t, provider.DbTypeInt32, params[0].DbType)
	})

	t.Run("NilInputs", func(t *testing.T) {
		_, err := g.CreateCommandDefinition(ctx, nil, storeTree(t))
		assert.True(t, veloxdb.IsInvalidOperation(err))
		_, err = g.CreateCommandDefinition(ctx, m, nil)
		assert.True(t, veloxdb.IsInvalidOperation(err))
		_, err = provider.NewGuard(nil).CreateCommandDefinition(ctx, m, storeTree(t))
		assert.True(t, veloxdb.IsInvalidOperation(err))
	})

	t.Run("ConceptualTree", func(t *testing.T) {
		before := s.Compiles()
		tree, err := cqt.NewQueryCommandTree("ws", metadata.ConceptualSpace, cqt.NewStoreText("SELECT 1"))
		require.NoError(t, err)
		_, err = g.CreateCommandDefinition(ctx, m, tree)
		assert.True(t, veloxdb.IsProviderIncompatible(err))
		assert.Equal(t, before, s.Compiles(), "the provider is not called")
	})

	t.Run("NilDefinition", func(t *testing.T) {
		s := providertest.NewServices("fake")
		s.CreateCommandDefinitionFunc = func(context.Context, provider.Manifest, cqt.CommandTree) (*provider.CommandDefinition, error) {
			return nil, nil
		}
		_, err := provider.NewGuard(s).CreateCommandDefinition(ctx, m, storeTree(t))
		assert.True(t, veloxdb.IsProviderIncompatible(err))
	})
}

func TestGuard_NewConnection(t *testing.T) {
	s := providertest.NewServices("fake")
	g := provider.NewGuard(s)
	conn, err := g.NewConnection("Data Source=x")
	require.NoError(t, err)
	assert.Equal(t, "x", conn.DataSource())

	s.NewConnectionFunc = func(string) (provider.DbConnection, error) { return nil, nil }
	_, err = g.NewConnection("Data Source=x")
	assert.True(t, veloxdb.IsProviderIncompatible(err))
	assert.Same(t, g, provider.NewGuard(g))
	assert.Equal(t, "fake", g.InvariantName())
}

func TestGuard_OptionalCapabilities(t *testing.T) {
	ctx := context.Background()
	g := provider.NewGuard(providertest.NewServices("fake"))
	store := &metadata.StoreSchema{}
	conn := providertest.NewConn("")

	_, err := g.CreateDatabaseScript("1", store)
	assert.True(t, veloxdb.IsProviderIncompatible(err))
	assert.True(t, veloxdb.IsNotSupported(err))
	assert.True(t, veloxdb.IsNotSupported(g.CreateDatabase(ctx, conn, store)))
	_, err = g.DatabaseExists(ctx, conn, store)
	assert.True(t, veloxdb.IsNotSupported(err))
	assert.True(t, veloxdb.IsNotSupported(g.DeleteDatabase(ctx, conn, store)))
	_, err = g.SpatialServices("1")
	assert.True(t, veloxdb.IsNotSupported(err))

	_, err = g.CreateDatabaseScript("1", nil)
	assert.True(t, veloxdb.IsInvalidOperation(err))

	f, err := g.ExecutionStrategy("x")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.False(t, g.IsTransient(errors.New("x")))
}
