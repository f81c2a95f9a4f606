package providertest

import (
	"fmt"
	"testing/fstest"

	"github.com/syssam/veloxdb/metadata"
)

// Assembly is the name of the assembly returned by Resolver.
const Assembly = "Northwind"

// Metadata is a metadata keyword value selecting the Northwind artifacts.
const Metadata = "res://*/northwind.csdl|res://*/northwind.ssdl|res://*/northwind.msl"

// ConceptualModel is the Northwind conceptual model.
const ConceptualModel = `<?xml version="1.0" encoding="utf-8"?>
<Schema Namespace="Northwind" xmlns="http://schemas.microsoft.com/ado/2009/11/edm">
  <EntityType Name="Product">
    <Key>
      <PropertyRef Name="ID" />
    </Key>
    <Property Name="ID" Type="Int32" Nullable="false" />
    <Property Name="Name" Type="String" MaxLength="Max" Unicode="true" FixedLength="false" />
    <Property Name="Price" Type="Decimal" Precision="10" Scale="2" />
    <Property Name="Address" Type="Northwind.Address" />
  </EntityType>
  <ComplexType Name="Address">
    <Property Name="City" Type="String" MaxLength="64" />
  </ComplexType>
  <EnumType Name="Status" UnderlyingType="Byte">
    <Member Name="Active" Value="1" />
    <Member Name="Retired" Value="2" />
  </EnumType>
  <EntityContainer Name="NorthwindEntities">
    <EntitySet Name="Products" EntityType="Northwind.Product" />
    <FunctionImport Name="GetProducts" ReturnType="Collection(Northwind.Product)">
      <Parameter Name="minPrice" Type="Decimal" Mode="In" Precision="10" Scale="2" />
    </FunctionImport>
    <FunctionImport Name="CountProducts">
      <Parameter Name="total" Type="Int32" Mode="Out" />
    </FunctionImport>
  </EntityContainer>
</Schema>`

// StoreModelFormat is the Northwind store model. It takes the provider invariant name
// and the manifest token.
const StoreModelFormat = `<?xml version="1.0" encoding="utf-8"?>
<Schema Namespace="Northwind.Store" Provider="%s" ProviderManifestToken="%s" xmlns="http://schemas.microsoft.com/ado/2009/11/edm/ssdl">
  <EntityType Name="Products">
    <Key>
      <PropertyRef Name="id" />
    </Key>
    <Property Name="id" Type="Int64" Nullable="false" />
    <Property Name="name" Type="String" MaxLength="200" Nullable="false" />
    <Property Name="price" Type="Decimal" Precision="10" Scale="2" />
    <Property Name="added" Type="DateTime" />
  </EntityType>
  <EntityContainer Name="NorthwindStore">
    <EntitySet Name="Products" EntityType="Northwind.Store.Products" Table="products" />
  </EntityContainer>
  <Function Name="GetProducts" StoreFunctionName="get_products">
    <Parameter Name="min_price" Type="Decimal" Mode="In" Precision="10" Scale="2" />
  </Function>
  <Function Name="CountProducts" StoreFunctionName="count_products">
    <Parameter Name="total" Type="Int32" Mode="Out" />
  </Function>
</Schema>`

// MappingModel maps the Northwind function imports to store functions.
const MappingModel = `<?xml version="1.0" encoding="utf-8"?>
<Mapping Space="C-S" xmlns="http://schemas.microsoft.com/ado/2009/11/mapping/cs">
  <EntityContainerMapping StorageEntityContainer="NorthwindStore" CdmEntityContainer="NorthwindEntities">
    <FunctionImportMapping FunctionImportName="GetProducts" FunctionName="Northwind.Store.GetProducts" />
    <FunctionImportMapping FunctionImportName="CountProducts" FunctionName="Northwind.Store.CountProducts" />
  </EntityContainerMapping>
</Mapping>`

// Artifacts returns the Northwind artifacts declaring the given store provider and token.
func Artifacts(provider, token string) fstest.MapFS {
	return fstest.MapFS{
		"northwind.csdl": {Data: []byte(ConceptualModel)},
		"northwind.ssdl": {Data: []byte(fmt.Sprintf(StoreModelFormat, provider, token))},
		"northwind.msl":  {Data: []byte(MappingModel)},
	}
}

// Resolver returns an assembly resolver embedding the Northwind artifacts.
func Resolver(provider, token string) metadata.FSAssemblies {
	return metadata.FSAssemblies{Assembly: Artifacts(provider, token)}
}

// Workspace loads the Northwind workspace. It panics on failure.
func Workspace(provider, token string) *metadata.Workspace {
	var artifacts []metadata.Artifact
	for name, f := range Artifacts(provider, token) {
		artifacts = append(artifacts, metadata.Artifact{Name: name, Data: f.Data})
	}
	ws, err := metadata.ParseArtifacts(artifacts)
	if err != nil {
		panic(err)
	}
	return ws
}
