package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// ArtifactKind identifies the schema language of a metadata artifact.
type ArtifactKind int

// Artifact kinds.
const (
	ConceptualArtifact ArtifactKind = iota // .csdl
	StoreArtifact                          // .ssdl
	MappingArtifact                        // .msl
)

// Artifact extensions.
const (
	ExtConceptual = ".csdl"
	ExtStore      = ".ssdl"
	ExtMapping    = ".msl"
)

// IsArtifactName reports whether name carries a metadata artifact extension.
func IsArtifactName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ExtConceptual, ExtStore, ExtMapping:
		return true
	}
	return false
}

// Artifact is the raw content of one metadata file or resource.
type Artifact struct {
	Name string
	Data []byte
}

func (a Artifact) kind() (ArtifactKind, error) {
	switch strings.ToLower(path.Ext(a.Name)) {
	case ExtConceptual:
		return ConceptualArtifact, nil
	case ExtStore:
		return StoreArtifact, nil
	case ExtMapping:
		return MappingArtifact, nil
	}
	dec := xml.NewDecoder(bytes.NewReader(a.Data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("metadata: reading root element of %q: %w", a.Name, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == "Mapping" {
			return MappingArtifact, nil
		}
		for _, attr := range se.Attr {
			if attr.Name.Local == "Provider" {
				return StoreArtifact, nil
			}
		}
		return ConceptualArtifact, nil
	}
}

type (
	xmlFacets struct {
		Type        string `xml:"Type,attr"`
		Nullable    string `xml:"Nullable,attr"`
		MaxLength   string `xml:"MaxLength,attr"`
		Precision   string `xml:"Precision,attr"`
		Scale       string `xml:"Scale,attr"`
		Unicode     string `xml:"Unicode,attr"`
		FixedLength string `xml:"FixedLength,attr"`
		SRID        string `xml:"SRID,attr"`
	}
	xmlProperty struct {
		Name string `xml:"Name,attr"`
		xmlFacets
	}
	xmlPropertyRef struct {
		Name string `xml:"Name,attr"`
	}
	xmlStructuralType struct {
		Name       string           `xml:"Name,attr"`
		Key        []xmlPropertyRef `xml:"Key>PropertyRef"`
		Properties []xmlProperty    `xml:"Property"`
	}
	xmlEnumMember struct {
		Name  string `xml:"Name,attr"`
		Value string `xml:"Value,attr"`
	}
	xmlEnumType struct {
		Name           string          `xml:"Name,attr"`
		UnderlyingType string          `xml:"UnderlyingType,attr"`
		Members        []xmlEnumMember `xml:"Member"`
	}
	xmlParameter struct {
		Name string `xml:"Name,attr"`
		Mode string `xml:"Mode,attr"`
		xmlFacets
	}
	xmlEntitySet struct {
		Name       string `xml:"Name,attr"`
		EntityType string `xml:"EntityType,attr"`
		Table      string `xml:"Table,attr"`
		Schema     string `xml:"Schema,attr"`
	}
	xmlFunctionImport struct {
		Name       string         `xml:"Name,attr"`
		ReturnType string         `xml:"ReturnType,attr"`
		Parameters []xmlParameter `xml:"Parameter"`
	}
	xmlContainer struct {
		Name            string              `xml:"Name,attr"`
		EntitySets      []xmlEntitySet      `xml:"EntitySet"`
		FunctionImports []xmlFunctionImport `xml:"FunctionImport"`
	}
	xmlFunction struct {
		Name              string         `xml:"Name,attr"`
		Schema            string         `xml:"Schema,attr"`
		StoreFunctionName string         `xml:"StoreFunctionName,attr"`
		Parameters        []xmlParameter `xml:"Parameter"`
	}
	xmlSchema struct {
		Namespace             string              `xml:"Namespace,attr"`
		Provider              string              `xml:"Provider,attr"`
		ProviderManifestToken string              `xml:"ProviderManifestToken,attr"`
		EntityTypes           []xmlStructuralType `xml:"EntityType"`
		ComplexTypes          []xmlStructuralType `xml:"ComplexType"`
		EnumTypes             []xmlEnumType       `xml:"EnumType"`
		Containers            []xmlContainer      `xml:"EntityContainer"`
		Functions             []xmlFunction       `xml:"Function"`
	}
	xmlFunctionImportMapping struct {
		FunctionImportName string `xml:"FunctionImportName,attr"`
		FunctionName       string `xml:"FunctionName,attr"`
	}
	xmlMapping struct {
		Containers []struct {
			FunctionImports []xmlFunctionImportMapping `xml:"FunctionImportMapping"`
		} `xml:"EntityContainerMapping"`
	}
)

// ParseArtifacts parses CSDL, SSDL and MSL artifacts into a workspace. The kind of an
// artifact is taken from its extension, or from its root element when the extension is
// unknown. Multiple artifacts of the same kind are merged. The workspace identity is
// derived from the artifact contents.
func ParseArtifacts(artifacts []Artifact) (*Workspace, error) {
	var (
		conceptual []*xmlSchema
		store      []*xmlSchema
		mappings   []*xmlMapping
	)
	for _, a := range artifacts {
		kind, err := a.kind()
		if err != nil {
			return nil, err
		}
		switch kind {
		case MappingArtifact:
			m := &xmlMapping{}
			if err := decode(a, m); err != nil {
				return nil, err
			}
			mappings = append(mappings, m)
		case StoreArtifact:
			s := &xmlSchema{}
			if err := decode(a, s); err != nil {
				return nil, err
			}
			store = append(store, s)
		default:
			s := &xmlSchema{}
			if err := decode(a, s); err != nil {
				return nil, err
			}
			conceptual = append(conceptual, s)
		}
	}
	p := &parser{types: make(map[string]*EdmType)}
	var (
		cs *ConceptualSchema
		ss *StoreSchema
	)
	if len(conceptual) > 0 {
		var err error
		if cs, err = p.conceptual(conceptual); err != nil {
			return nil, err
		}
	}
	if len(store) > 0 {
		var err error
		if ss, err = p.store(store); err != nil {
			return nil, err
		}
	}
	mapping := &Mapping{FunctionImports: make(map[string]string)}
	for _, m := range mappings {
		for _, c := range m.Containers {
			for _, fm := range c.FunctionImports {
				mapping.FunctionImports[fm.FunctionImportName] = fm.FunctionName
			}
		}
	}
	return NewWorkspace(artifactsID(artifacts), cs, ss, mapping), nil
}

func decode(a Artifact, v any) error {
	if err := xml.NewDecoder(bytes.NewReader(a.Data)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("metadata: parsing %q: %w", a.Name, err)
	}
	return nil
}

func artifactsID(artifacts []Artifact) string {
	sums := make([]string, len(artifacts))
	for i, a := range artifacts {
		sum := sha256.Sum256(a.Data)
		sums[i] = hex.EncodeToString(sum[:])
	}
	sort.Strings(sums)
	h := sha256.New()
	for _, s := range sums {
		io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

type parser struct {
	types map[string]*EdmType
}

func (p *parser) conceptual(schemas []*xmlSchema) (*ConceptualSchema, error) {
	cs := &ConceptualSchema{Namespace: schemas[0].Namespace}
	type pending struct {
		t     *EdmType
		props []xmlProperty
	}
	var todo []pending
	// Declare all types first so that properties may reference types declared later.
	for _, s := range schemas {
		for _, x := range s.EntityTypes {
			keys := make([]string, len(x.Key))
			for i, k := range x.Key {
				keys[i] = k.Name
			}
			t := NewEntityType(s.Namespace, x.Name, keys)
			todo = append(todo, pending{t, x.Properties})
			p.declare(t)
			cs.Types = append(cs.Types, t)
		}
		for _, x := range s.ComplexTypes {
			t := NewComplexType(s.Namespace, x.Name)
			todo = append(todo, pending{t, x.Properties})
			p.declare(t)
			cs.Types = append(cs.Types, t)
		}
		for _, x := range s.EnumTypes {
			t, err := enumType(s.Namespace, x)
			if err != nil {
				return nil, err
			}
			p.declare(t)
			cs.Types = append(cs.Types, t)
		}
	}
	for _, d := range todo {
		for _, prop := range d.props {
			tu, err := p.typeUsage(prop.xmlFacets)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s.%s: %w", d.t.FullName(), prop.Name, err)
			}
			d.t.Members = append(d.t.Members, Member{Name: prop.Name, Type: tu})
		}
	}
	for _, s := range schemas {
		for _, xc := range s.Containers {
			if cs.Container == nil {
				cs.Container = &EntityContainer{Name: xc.Name}
			}
			for _, es := range xc.EntitySets {
				t, ok := p.lookup(es.EntityType)
				if !ok {
					return nil, fmt.Errorf("metadata: entity set %s: unknown entity type %q", es.Name, es.EntityType)
				}
				cs.Container.EntitySets = append(cs.Container.EntitySets, &EntitySet{Name: es.Name, Type: t})
			}
			for _, xf := range xc.FunctionImports {
				fi := &FunctionImport{Name: xf.Name, Container: cs.Container.Name}
				if xf.ReturnType != "" {
					rt, err := p.typeUsage(xmlFacets{Type: xf.ReturnType})
					if err != nil {
						return nil, fmt.Errorf("metadata: function import %s: %w", xf.Name, err)
					}
					fi.ReturnType = rt
				}
				params, err := p.parameters(xf.Parameters)
				if err != nil {
					return nil, fmt.Errorf("metadata: function import %s: %w", xf.Name, err)
				}
				fi.Parameters = params
				cs.Container.FunctionImports = append(cs.Container.FunctionImports, fi)
			}
		}
	}
	return cs, nil
}

func (p *parser) store(schemas []*xmlSchema) (*StoreSchema, error) {
	ss := &StoreSchema{
		Namespace:             schemas[0].Namespace,
		Provider:              schemas[0].Provider,
		ProviderManifestToken: schemas[0].ProviderManifestToken,
	}
	for _, s := range schemas[1:] {
		if s.Provider != "" && s.Provider != ss.Provider {
			return nil, fmt.Errorf("metadata: store schemas declare different providers %q and %q", ss.Provider, s.Provider)
		}
	}
	// Store schemas only use primitive types; a separate parser keeps conceptual
	// type names out of scope.
	sp := &parser{types: map[string]*EdmType{}}
	for _, s := range schemas {
		tables := make(map[string]*Table)
		for _, x := range s.EntityTypes {
			t := &Table{Name: x.Name}
			for _, k := range x.Key {
				t.PrimaryKey = append(t.PrimaryKey, k.Name)
			}
			for _, prop := range x.Properties {
				tu, err := sp.typeUsage(prop.xmlFacets)
				if err != nil {
					return nil, fmt.Errorf("metadata: %s.%s: %w", x.Name, prop.Name, err)
				}
				t.Columns = append(t.Columns, &Column{Name: prop.Name, Type: tu})
			}
			tables[x.Name] = t
			ss.Tables = append(ss.Tables, t)
		}
		// Entity sets may rename the table or place it in a database schema.
		for _, c := range s.Containers {
			for _, es := range c.EntitySets {
				t, ok := tables[strings.TrimPrefix(es.EntityType, s.Namespace+".")]
				if !ok {
					continue
				}
				if es.Table != "" {
					t.Name = es.Table
				}
				t.Schema = es.Schema
			}
		}
		for _, xf := range s.Functions {
			params, err := sp.parameters(xf.Parameters)
			if err != nil {
				return nil, fmt.Errorf("metadata: function %s: %w", xf.Name, err)
			}
			ss.Functions = append(ss.Functions, &StoreFunction{
				Name:       xf.Name,
				Namespace:  s.Namespace,
				Schema:     xf.Schema,
				StoreName:  xf.StoreFunctionName,
				Parameters: params,
			})
		}
	}
	return ss, nil
}

func (p *parser) declare(t *EdmType) {
	p.types[t.FullName()] = t
	if _, ok := p.types[t.Name]; !ok {
		p.types[t.Name] = t
	}
}

func (p *parser) lookup(name string) (*EdmType, bool) {
	t, ok := p.types[name]
	return t, ok
}

func (p *parser) parameters(xps []xmlParameter) ([]FunctionParameter, error) {
	params := make([]FunctionParameter, 0, len(xps))
	for _, xp := range xps {
		tu, err := p.typeUsage(xp.xmlFacets)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", xp.Name, err)
		}
		mode, err := parseMode(xp.Mode)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", xp.Name, err)
		}
		params = append(params, FunctionParameter{Name: xp.Name, Type: tu, Mode: mode})
	}
	return params, nil
}

func parseMode(s string) (ParameterMode, error) {
	switch strings.ToLower(s) {
	case "", "in":
		return ModeIn, nil
	case "out":
		return ModeOut, nil
	case "inout":
		return ModeInOut, nil
	case "returnvalue":
		return ModeReturnValue, nil
	}
	return 0, fmt.Errorf("unknown parameter mode %q", s)
}

// typeUsage resolves a type reference with its facet attributes.
func (p *parser) typeUsage(x xmlFacets) (*TypeUsage, error) {
	ref := strings.TrimSpace(x.Type)
	if ref == "" {
		return nil, errors.New("missing type")
	}
	for _, wrap := range []struct {
		prefix string
		kind   TypeKind
	}{{"Collection(", KindCollection}, {"Ref(", KindRef}} {
		if strings.HasPrefix(ref, wrap.prefix) && strings.HasSuffix(ref, ")") {
			elem, err := p.typeUsage(xmlFacets{Type: ref[len(wrap.prefix) : len(ref)-1]})
			if err != nil {
				return nil, err
			}
			return NewTypeUsage(&EdmType{Kind: wrap.kind, Element: elem}), nil
		}
	}
	facets, err := parseFacets(x)
	if err != nil {
		return nil, err
	}
	if k, ok := ParsePrimitiveKind(ref); ok {
		return Primitive(k, facets...), nil
	}
	if t, ok := p.lookup(ref); ok {
		return NewTypeUsage(t, facets...), nil
	}
	return nil, fmt.Errorf("unknown type %q", ref)
}

func parseFacets(x xmlFacets) ([]Facet, error) {
	var facets []Facet
	if x.MaxLength != "" {
		if strings.EqualFold(x.MaxLength, "max") {
			facets = append(facets, MaxLengthUnbounded())
		} else {
			n, err := strconv.Atoi(x.MaxLength)
			if err != nil {
				return nil, fmt.Errorf("invalid MaxLength %q", x.MaxLength)
			}
			facets = append(facets, MaxLength(n))
		}
	}
	for _, f := range []struct {
		name, value string
	}{{FacetPrecision, x.Precision}, {FacetScale, x.Scale}, {FacetSRID, x.SRID}} {
		if f.value == "" {
			continue
		}
		n, err := strconv.Atoi(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", f.name, f.value)
		}
		facets = append(facets, Facet{f.name, IntValue(n)})
	}
	for _, f := range []struct {
		name, value string
	}{{FacetNullable, x.Nullable}, {FacetUnicode, x.Unicode}, {FacetFixedLength, x.FixedLength}} {
		if f.value == "" {
			continue
		}
		b, err := strconv.ParseBool(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", f.name, f.value)
		}
		facets = append(facets, Facet{f.name, BoolValue(b)})
	}
	return facets, nil
}

func enumType(namespace string, x xmlEnumType) (*EdmType, error) {
	underlying := Int32
	if x.UnderlyingType != "" {
		k, ok := ParsePrimitiveKind(x.UnderlyingType)
		if !ok {
			return nil, fmt.Errorf("metadata: enum %s: unknown underlying type %q", x.Name, x.UnderlyingType)
		}
		underlying = k
	}
	t := NewEnumType(namespace, x.Name, underlying)
	for i, m := range x.Members {
		v := int64(i)
		if m.Value != "" {
			n, err := strconv.ParseInt(m.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("metadata: enum %s.%s: invalid value %q", x.Name, m.Name, m.Value)
			}
			v = n
		}
		t.Members = append(t.Members, Member{Name: m.Name, Value: v})
	}
	return t, nil
}
