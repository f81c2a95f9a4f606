package metadata

import (
	"sort"
	"strings"
)

// DataSpace identifies the perspective a command or type belongs to.
type DataSpace int

// Data spaces.
const (
	ConceptualSpace DataSpace = iota
	StoreSpace
)

// String returns the data space name.
func (s DataSpace) String() string {
	switch s {
	case ConceptualSpace:
		return "CSpace"
	case StoreSpace:
		return "SSpace"
	default:
		return "DataSpace(?)"
	}
}

// ParameterMode is the direction of a function parameter.
type ParameterMode int

// Parameter modes.
const (
	ModeIn ParameterMode = iota
	ModeOut
	ModeInOut
	ModeReturnValue
)

// String returns the mode as it appears in schema artifacts.
func (m ParameterMode) String() string {
	switch m {
	case ModeIn:
		return "In"
	case ModeOut:
		return "Out"
	case ModeInOut:
		return "InOut"
	case ModeReturnValue:
		return "ReturnValue"
	default:
		return "ParameterMode(?)"
	}
}

// FunctionParameter is a parameter of a function import or a store function.
type FunctionParameter struct {
	Name string
	Type *TypeUsage
	Mode ParameterMode
}

// FunctionImport is a conceptual function exposed by an entity container.
type FunctionImport struct {
	Name       string
	Container  string
	ReturnType *TypeUsage // nil when the import returns nothing
	Parameters []FunctionParameter
}

// FullName returns Container.Name.
func (f *FunctionImport) FullName() string {
	if f.Container == "" {
		return f.Name
	}
	return f.Container + "." + f.Name
}

// EntitySet is a named set of entities of one type.
type EntitySet struct {
	Name string
	Type *EdmType
}

// EntityContainer groups entity sets and function imports.
type EntityContainer struct {
	Name            string
	EntitySets      []*EntitySet
	FunctionImports []*FunctionImport
}

// ConceptualSchema is the conceptual model loaded from CSDL artifacts.
type ConceptualSchema struct {
	Namespace string
	Types     []*EdmType
	Container *EntityContainer
}

// Column is a column of a store table.
type Column struct {
	Name string
	Type *TypeUsage
}

// Table is a store table.
type Table struct {
	Name       string
	Schema     string
	Columns    []*Column
	PrimaryKey []string
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// StoreFunction is a stored procedure or function of the store model.
type StoreFunction struct {
	Name       string
	Namespace  string
	Schema     string
	StoreName  string // physical name; defaults to Name
	Parameters []FunctionParameter
}

// FullName returns Namespace.Name.
func (f *StoreFunction) FullName() string {
	if f.Namespace == "" {
		return f.Name
	}
	return f.Namespace + "." + f.Name
}

// PhysicalName returns the name used when invoking the function in the store.
func (f *StoreFunction) PhysicalName() string {
	name := f.StoreName
	if name == "" {
		name = f.Name
	}
	if f.Schema != "" {
		return f.Schema + "." + name
	}
	return name
}

// StoreSchema is the store model loaded from SSDL artifacts.
type StoreSchema struct {
	Namespace             string
	Provider              string
	ProviderManifestToken string
	Tables                []*Table
	Functions             []*StoreFunction
}

// Table returns the named table.
func (s *StoreSchema) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Mapping links conceptual function imports to store functions.
type Mapping struct {
	// FunctionImports maps a function import name to the full name of a store function.
	FunctionImports map[string]string
}

// Workspace is a loaded, validated set of conceptual, store and mapping metadata.
type Workspace struct {
	id         string
	source     string
	conceptual *ConceptualSchema
	store      *StoreSchema
	mapping    *Mapping
}

// NewWorkspace returns a workspace over the given schemas. Either schema may be nil.
func NewWorkspace(id string, conceptual *ConceptualSchema, store *StoreSchema, mapping *Mapping) *Workspace {
	if mapping == nil {
		mapping = &Mapping{FunctionImports: map[string]string{}}
	}
	return &Workspace{id: id, conceptual: conceptual, store: store, mapping: mapping}
}

// ID returns the workspace identity. Workspaces loaded from identical artifacts
// share the same identity.
func (w *Workspace) ID() string { return w.id }

// Source returns the metadata locations the workspace was loaded from.
func (w *Workspace) Source() string { return w.source }

// ConceptualSchema returns the conceptual model, or nil.
func (w *Workspace) ConceptualSchema() *ConceptualSchema { return w.conceptual }

// StoreSchema returns the store model, or nil.
func (w *Workspace) StoreSchema() *StoreSchema { return w.store }

// Mapping returns the conceptual-to-store mapping.
func (w *Workspace) Mapping() *Mapping { return w.mapping }

// Type looks up a conceptual type by its full or short name.
func (w *Workspace) Type(name string) (*EdmType, bool) {
	if w.conceptual == nil {
		return nil, false
	}
	for _, t := range w.conceptual.Types {
		if t.FullName() == name || t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// FunctionImport looks up a function import by "Container.Name" or "Name".
func (w *Workspace) FunctionImport(name string) (*FunctionImport, bool) {
	if w.conceptual == nil || w.conceptual.Container == nil {
		return nil, false
	}
	c := w.conceptual.Container
	if prefix := c.Name + "."; strings.HasPrefix(name, prefix) {
		name = strings.TrimPrefix(name, prefix)
	}
	for _, f := range c.FunctionImports {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// StoreFunction looks up a store function by full or short name.
func (w *Workspace) StoreFunction(name string) (*StoreFunction, bool) {
	if w.store == nil {
		return nil, false
	}
	for _, f := range w.store.Functions {
		if f.FullName() == name || f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// MappedStoreFunction returns the store function a function import is mapped to.
func (w *Workspace) MappedStoreFunction(fi *FunctionImport) (*StoreFunction, bool) {
	target, ok := w.mapping.FunctionImports[fi.Name]
	if !ok {
		return nil, false
	}
	return w.StoreFunction(target)
}

// FunctionImportNames returns the sorted names of all function imports.
func (w *Workspace) FunctionImportNames() []string {
	if w.conceptual == nil || w.conceptual.Container == nil {
		return nil
	}
	names := make([]string, 0, len(w.conceptual.Container.FunctionImports))
	for _, f := range w.conceptual.Container.FunctionImports {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
