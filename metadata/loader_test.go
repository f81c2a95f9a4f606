package metadata_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/internal/providertest"
	"github.com/syssam/veloxdb/metadata"
)

func TestParseArtifacts(t *testing.T) {
	ws := providertest.Workspace("sqlite", "3")

	product, ok := ws.Type("Northwind.Product")
	require.True(t, ok)
	assert.Equal(t, metadata.KindEntity, product.Kind)
	assert.Equal(t, []string{"ID"}, product.Keys)
	name, ok := product.Member("Name")
	require.True(t, ok)
	assert.Equal(t, "Edm.String(FixedLength=false,MaxLength=Max,Unicode=true)", name.Type.Fingerprint())
	address, ok := product.Member("Address")
	require.True(t, ok)
	assert.Equal(t, metadata.KindComplex, address.Type.EdmType().Kind)

	status, ok := ws.Type("Status")
	require.True(t, ok)
	assert.Equal(t, metadata.KindEnum, status.Kind)
	assert.Equal(t, metadata.Byte, status.Primitive)
	assert.EqualValues(t, 2, status.Members[1].Value)

	fi, ok := ws.FunctionImport("NorthwindEntities.GetProducts")
	require.True(t, ok)
	assert.Equal(t, "Collection(Northwind.Product)", fi.ReturnType.Fingerprint())
	require.Len(t, fi.Parameters, 1)
	assert.Equal(t, metadata.ModeIn, fi.Parameters[0].Mode)
	_, ok = ws.FunctionImport("GetProducts")
	assert.True(t, ok, "container prefix is optional")

	count, ok := ws.FunctionImport("CountProducts")
	require.True(t, ok)
	assert.Nil(t, count.ReturnType)
	assert.Equal(t, metadata.ModeOut, count.Parameters[0].Mode)

	sf, ok := ws.MappedStoreFunction(fi)
	require.True(t, ok)
	assert.Equal(t, "get_products", sf.PhysicalName())

	store := ws.StoreSchema()
	require.NotNil(t, store)
	assert.Equal(t, "sqlite", store.Provider)
	assert.Equal(t, "3", store.ProviderManifestToken)
	table, ok := store.Table("products")
	require.True(t, ok, "entity set renames the table")
	assert.Equal(t, []string{"id"}, table.PrimaryKey)
	col, ok := table.Column("name")
	require.True(t, ok)
	assert.False(t, col.Type.IsNullable())

	assert.Equal(t, []string{"CountProducts", "GetProducts"}, ws.FunctionImportNames())
	assert.False(t, metadata.Validate(ws).HasErrors())
}

func TestParseArtifacts_Identity(t *testing.T) {
	a := providertest.Workspace("sqlite", "3")
	b := providertest.Workspace("sqlite", "3")
	c := providertest.Workspace("postgres", "16")
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestParseArtifacts_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  string
	}{
		{"Malformed", `<Schema Namespace="N"><EntityType`, "parsing"},
		{"UnknownType", `<Schema Namespace="N"><EntityType Name="E"><Property Name="P" Type="N.Missing"/></EntityType></Schema>`, `unknown type "N.Missing"`},
		{"BadFacet", `<Schema Namespace="N"><EntityType Name="E"><Property Name="P" Type="String" MaxLength="x"/></EntityType></Schema>`, "invalid MaxLength"},
		{"BadMode", `<Schema Namespace="N"><EntityContainer Name="C"><FunctionImport Name="F"><Parameter Name="p" Type="Int32" Mode="Sideways"/></FunctionImport></EntityContainer></Schema>`, "unknown parameter mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.ParseArtifacts([]metadata.Artifact{{Name: "m.csdl", Data: []byte(tt.data)}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestParseArtifacts_RootElement(t *testing.T) {
	ws, err := metadata.ParseArtifacts([]metadata.Artifact{
		{Name: "store.xml", Data: []byte(`<Schema Namespace="S" Provider="fake" ProviderManifestToken="1"><EntityType Name="T"><Property Name="c" Type="Int32"/></EntityType></Schema>`)},
		{Name: "mapping.xml", Data: []byte(`<Mapping><EntityContainerMapping><FunctionImportMapping FunctionImportName="F" FunctionName="S.F"/></EntityContainerMapping></Mapping>`)},
	})
	require.NoError(t, err)
	assert.Nil(t, ws.ConceptualSchema())
	require.NotNil(t, ws.StoreSchema())
	assert.Equal(t, "fake", ws.StoreSchema().Provider)
	assert.Equal(t, "S.F", ws.Mapping().FunctionImports["F"])
}

func TestLoadWorkspace_Resources(t *testing.T) {
	ctx := context.Background()
	resolver := providertest.Resolver("sqlite", "3")

	t.Run("Wildcard", func(t *testing.T) {
		ws, err := metadata.LoadWorkspace(ctx, providertest.Metadata, resolver)
		require.NoError(t, err)
		assert.Equal(t, providertest.Metadata, ws.Source())
		_, ok := ws.FunctionImport("GetProducts")
		assert.True(t, ok)
	})

	t.Run("WholeAssembly", func(t *testing.T) {
		ws, err := metadata.LoadWorkspace(ctx, "res://Northwind/", resolver)
		require.NoError(t, err)
		assert.NotNil(t, ws.StoreSchema())
		assert.NotNil(t, ws.ConceptualSchema())
	})

	t.Run("FirstAssemblyWins", func(t *testing.T) {
		resolver := metadata.FSAssemblies{
			"A": fstest.MapFS{"other.txt": {Data: []byte("x")}},
			"B": providertest.Artifacts("sqlite", "3"),
		}
		artifacts, err := metadata.LoadArtifacts(ctx, "res://*/northwind.csdl", resolver)
		require.NoError(t, err)
		require.Len(t, artifacts, 1)
		assert.Equal(t, "B/northwind.csdl", artifacts[0].Name)
	})

	t.Run("MissingResource", func(t *testing.T) {
		_, err := metadata.LoadWorkspace(ctx, "res://*/missing.csdl", resolver)
		require.Error(t, err)
		assert.True(t, veloxdb.IsInvalidOperation(err))
		assert.Contains(t, err.Error(), "res://*/missing.csdl")
	})

	t.Run("UnknownAssembly", func(t *testing.T) {
		_, err := metadata.LoadWorkspace(ctx, "res://Other/northwind.csdl", resolver)
		require.Error(t, err)
		assert.True(t, veloxdb.IsInvalidOperation(err))
	})

	t.Run("NoResolver", func(t *testing.T) {
		_, err := metadata.LoadWorkspace(ctx, providertest.Metadata, nil)
		require.Error(t, err)
		assert.True(t, veloxdb.IsInvalidOperation(err))
	})

	t.Run("NoPaths", func(t *testing.T) {
		_, err := metadata.LoadWorkspace(ctx, " | ", resolver)
		require.Error(t, err)
		assert.True(t, veloxdb.IsInvalidOperation(err))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := metadata.LoadWorkspace(ctx, providertest.Metadata, resolver)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadWorkspace_Files(t *testing.T) {
	dir := t.TempDir()
	for name, f := range providertest.Artifacts("sqlite", "3") {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.Data, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))
	ctx := context.Background()

	byDir, err := metadata.LoadWorkspace(ctx, dir, nil)
	require.NoError(t, err)
	byFile, err := metadata.LoadWorkspace(ctx, filepath.Join(dir, "northwind.csdl")+"|"+filepath.Join(dir, "northwind.ssdl")+"|"+filepath.Join(dir, "northwind.msl"), nil)
	require.NoError(t, err)
	assert.Equal(t, byDir.ID(), byFile.ID())

	_, err = metadata.LoadWorkspace(ctx, filepath.Join(dir, "missing.csdl"), nil)
	require.Error(t, err)
	assert.True(t, veloxdb.IsInvalidOperation(err))
}

func TestLoadWorkspace_Invalid(t *testing.T) {
	resolver := metadata.FSAssemblies{"M": fstest.MapFS{
		"m.ssdl": {Data: []byte(`<Schema Namespace="S" Provider="fake" ProviderManifestToken="1"><EntityType Name="T"><Property Name="c" Type="Int32"/><Property Name="c" Type="Int32"/></EntityType></Schema>`)},
	}}
	_, err := metadata.LoadWorkspace(context.Background(), "res://M/", resolver)
	require.Error(t, err)
	assert.True(t, veloxdb.IsInvalidOperation(err))
	assert.Contains(t, err.Error(), "duplicate column name")
}

func TestWorkspaceCache(t *testing.T) {
	ctx := context.Background()
	cache := metadata.NewWorkspaceCache(providertest.Resolver("sqlite", "3"))
	a, err := cache.Load(ctx, providertest.Metadata)
	require.NoError(t, err)
	b, err := cache.Load(ctx, " "+providertest.Metadata+" ")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = cache.Load(ctx, "res://*/missing.csdl")
	require.Error(t, err)
}

func TestSplitPaths(t *testing.T) {
	assert.Equal(t, []string{"res://*/M.csdl", "M.ssdl", "M.msl"}, metadata.SplitPaths("res://*/M.csdl| M.ssdl |M.msl|"))
	assert.Empty(t, metadata.SplitPaths(""))
}
