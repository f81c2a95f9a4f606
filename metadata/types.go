package metadata

import (
	"fmt"
	"strings"
)

// TypeKind identifies the variant of an EdmType.
type TypeKind int

// Type kinds.
const (
	KindPrimitive TypeKind = iota
	KindEnum
	KindEntity
	KindComplex
	KindRow
	KindCollection
	KindRef
)

// String returns the kind name.
func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "Primitive"
	case KindEnum:
		return "Enum"
	case KindEntity:
		return "Entity"
	case KindComplex:
		return "Complex"
	case KindRow:
		return "Row"
	case KindCollection:
		return "Collection"
	case KindRef:
		return "Ref"
	default:
		return fmt.Sprintf("TypeKind(%d)", int(k))
	}
}

// PrimitiveKind enumerates the primitive model types.
type PrimitiveKind int

// Primitive kinds.
const (
	Binary PrimitiveKind = iota
	Boolean
	Byte
	DateTime
	DateTimeOffset
	Decimal
	Double
	Guid
	Single
	SByte
	Int16
	Int32
	Int64
	String
	Time
	Geography
	Geometry
)

var primitiveNames = [...]string{
	Binary:         "Binary",
	Boolean:        "Boolean",
	Byte:           "Byte",
	DateTime:       "DateTime",
	DateTimeOffset: "DateTimeOffset",
	Decimal:        "Decimal",
	Double:         "Double",
	Guid:           "Guid",
	Single:         "Single",
	SByte:          "SByte",
	Int16:          "Int16",
	Int32:          "Int32",
	Int64:          "Int64",
	String:         "String",
	Time:           "Time",
	Geography:      "Geography",
	Geometry:       "Geometry",
}

// String returns the primitive type name without namespace.
func (k PrimitiveKind) String() string {
	if k >= 0 && int(k) < len(primitiveNames) {
		return primitiveNames[k]
	}
	return fmt.Sprintf("PrimitiveKind(%d)", int(k))
}

// ParsePrimitiveKind parses a primitive type name. The "Edm." namespace prefix is optional.
func ParsePrimitiveKind(name string) (PrimitiveKind, bool) {
	name = strings.TrimPrefix(name, EdmNamespace+".")
	for k, n := range primitiveNames {
		if strings.EqualFold(n, name) {
			return PrimitiveKind(k), true
		}
	}
	return 0, false
}

// EdmNamespace is the namespace of the built-in primitive types.
const EdmNamespace = "Edm"

// EdmType is a model type. It is a closed tagged variant: Kind decides which of the
// payload fields are meaningful.
//
//   - KindPrimitive: Primitive
//   - KindEnum: Primitive (underlying type) and Members (one per enum value)
//   - KindEntity, KindComplex, KindRow: Members; KindEntity also Keys
//   - KindCollection, KindRef: Element
type EdmType struct {
	Kind      TypeKind
	Name      string
	Namespace string
	Primitive PrimitiveKind
	Members   []Member
	Keys      []string
	Element   *TypeUsage
}

// Member is a property of a structural type or a value of an enum type.
type Member struct {
	Name  string
	Type  *TypeUsage
	Value int64 // Enum member value.
}

// FullName returns the namespace-qualified type name.
func (t *EdmType) FullName() string {
	switch t.Kind {
	case KindCollection:
		return "Collection(" + t.Element.EdmType().FullName() + ")"
	case KindRef:
		return "Ref(" + t.Element.EdmType().FullName() + ")"
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsPrimitive reports whether t is a primitive type.
func (t *EdmType) IsPrimitive() bool { return t.Kind == KindPrimitive }

// IsStructural reports whether t carries members.
func (t *EdmType) IsStructural() bool {
	return t.Kind == KindEntity || t.Kind == KindComplex || t.Kind == KindRow
}

// Member returns the member with the given name.
func (t *EdmType) Member(name string) (Member, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// String implements fmt.Stringer.
func (t *EdmType) String() string { return t.FullName() }

var primitiveTypes = func() []*EdmType {
	types := make([]*EdmType, len(primitiveNames))
	for k, n := range primitiveNames {
		types[k] = &EdmType{Kind: KindPrimitive, Name: n, Namespace: EdmNamespace, Primitive: PrimitiveKind(k)}
	}
	return types
}()

// PrimitiveType returns the shared EdmType of the given primitive kind.
func PrimitiveType(k PrimitiveKind) *EdmType {
	if k < 0 || int(k) >= len(primitiveTypes) {
		panic(fmt.Sprintf("metadata: invalid primitive kind %d", int(k)))
	}
	return primitiveTypes[k]
}

// NewEntityType returns an entity type.
func NewEntityType(namespace, name string, keys []string, members ...Member) *EdmType {
	return &EdmType{Kind: KindEntity, Namespace: namespace, Name: name, Keys: keys, Members: members}
}

// NewComplexType returns a complex type.
func NewComplexType(namespace, name string, members ...Member) *EdmType {
	return &EdmType{Kind: KindComplex, Namespace: namespace, Name: name, Members: members}
}

// NewEnumType returns an enum type over the given underlying primitive kind.
func NewEnumType(namespace, name string, underlying PrimitiveKind, members ...Member) *EdmType {
	return &EdmType{Kind: KindEnum, Namespace: namespace, Name: name, Primitive: underlying, Members: members}
}

// NewCollectionType returns a collection of the given element type.
func NewCollectionType(element *TypeUsage) *EdmType {
	return &EdmType{Kind: KindCollection, Element: element}
}
