package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Facet names.
const (
	FacetMaxLength   = "MaxLength"
	FacetPrecision   = "Precision"
	FacetScale       = "Scale"
	FacetUnicode     = "Unicode"
	FacetFixedLength = "FixedLength"
	FacetNullable    = "Nullable"
	FacetSRID        = "SRID"
)

// FacetValue is the value of a facet: an int, a bool, or the Unbounded sentinel.
type FacetValue struct {
	v         any
	unbounded bool
}

// Unbounded marks a facet without a concrete limit (e.g. MaxLength=Max).
var Unbounded = FacetValue{unbounded: true}

// IntValue returns an integral facet value.
func IntValue(n int) FacetValue { return FacetValue{v: n} }

// BoolValue returns a boolean facet value.
func BoolValue(b bool) FacetValue { return FacetValue{v: b} }

// IsUnbounded reports whether the value is the Unbounded sentinel.
func (f FacetValue) IsUnbounded() bool { return f.unbounded }

// Int returns the integral value.
func (f FacetValue) Int() (int, bool) {
	n, ok := f.v.(int)
	return n, ok
}

// Bool returns the boolean value.
func (f FacetValue) Bool() (bool, bool) {
	b, ok := f.v.(bool)
	return b, ok
}

// String implements fmt.Stringer.
func (f FacetValue) String() string {
	switch v := f.v.(type) {
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	if f.unbounded {
		return "Max"
	}
	return "<nil>"
}

// Facet is a named facet value.
type Facet struct {
	Name  string
	Value FacetValue
}

// MaxLength returns a bounded MaxLength facet.
func MaxLength(n int) Facet { return Facet{FacetMaxLength, IntValue(n)} }

// MaxLengthUnbounded returns an unbounded MaxLength facet.
func MaxLengthUnbounded() Facet { return Facet{FacetMaxLength, Unbounded} }

// Precision returns a Precision facet.
func Precision(p int) Facet { return Facet{FacetPrecision, IntValue(p)} }

// Scale returns a Scale facet.
func Scale(s int) Facet { return Facet{FacetScale, IntValue(s)} }

// Unicode returns a Unicode facet.
func Unicode(b bool) Facet { return Facet{FacetUnicode, BoolValue(b)} }

// FixedLength returns a FixedLength facet.
func FixedLength(b bool) Facet { return Facet{FacetFixedLength, BoolValue(b)} }

// Nullable returns a Nullable facet.
func Nullable(b bool) Facet { return Facet{FacetNullable, BoolValue(b)} }

// SRID returns a SRID facet.
func SRID(n int) Facet { return Facet{FacetSRID, IntValue(n)} }

// TypeUsage is a model type together with its facets. It is immutable once
// constructed and may be shared by any number of commands and parameters.
type TypeUsage struct {
	typ    *EdmType
	facets map[string]FacetValue
	fp     string
}

// NewTypeUsage returns a TypeUsage of t with the given facets. Later facets with the
// same name override earlier ones.
func NewTypeUsage(t *EdmType, facets ...Facet) *TypeUsage {
	if t == nil {
		panic("metadata: NewTypeUsage called with nil type")
	}
	tu := &TypeUsage{typ: t, facets: make(map[string]FacetValue, len(facets))}
	for _, f := range facets {
		tu.facets[f.Name] = f.Value
	}
	tu.fp = tu.fingerprint()
	return tu
}

// Primitive returns a TypeUsage of the given primitive kind.
func Primitive(k PrimitiveKind, facets ...Facet) *TypeUsage {
	return NewTypeUsage(PrimitiveType(k), facets...)
}

// StringType returns a String TypeUsage. A negative maxLen means unbounded.
func StringType(maxLen int, unicode, fixed bool) *TypeUsage {
	length := MaxLengthUnbounded()
	if maxLen >= 0 {
		length = MaxLength(maxLen)
	}
	return Primitive(String, length, Unicode(unicode), FixedLength(fixed))
}

// DecimalType returns a Decimal TypeUsage with precision and scale.
func DecimalType(precision, scale int) *TypeUsage {
	return Primitive(Decimal, Precision(precision), Scale(scale))
}

// EdmType returns the underlying model type.
func (tu *TypeUsage) EdmType() *EdmType { return tu.typ }

// Facet returns the named facet.
func (tu *TypeUsage) Facet(name string) (FacetValue, bool) {
	v, ok := tu.facets[name]
	return v, ok
}

// Facets returns a copy of the facets sorted by name.
func (tu *TypeUsage) Facets() []Facet {
	fs := make([]Facet, 0, len(tu.facets))
	for name, v := range tu.facets {
		fs = append(fs, Facet{name, v})
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	return fs
}

// MaxLength returns the MaxLength facet. ok is false if the facet is absent.
func (tu *TypeUsage) MaxLength() (n int, unbounded, ok bool) {
	v, ok := tu.facets[FacetMaxLength]
	if !ok {
		return 0, false, false
	}
	if v.IsUnbounded() {
		return 0, true, true
	}
	n, ok = v.Int()
	return n, false, ok
}

// Precision returns the Precision facet.
func (tu *TypeUsage) Precision() (uint8, bool) { return tu.byteFacet(FacetPrecision) }

// Scale returns the Scale facet.
func (tu *TypeUsage) Scale() (uint8, bool) { return tu.byteFacet(FacetScale) }

func (tu *TypeUsage) byteFacet(name string) (uint8, bool) {
	v, ok := tu.facets[name]
	if !ok {
		return 0, false
	}
	n, ok := v.Int()
	if !ok || n < 0 || n > 255 {
		return 0, false
	}
	return uint8(n), true
}

// IsUnicode returns the Unicode facet.
func (tu *TypeUsage) IsUnicode() (bool, bool) { return tu.boolFacet(FacetUnicode) }

// IsFixedLength returns the FixedLength facet.
func (tu *TypeUsage) IsFixedLength() (bool, bool) { return tu.boolFacet(FacetFixedLength) }

// IsNullable returns the Nullable facet, defaulting to true.
func (tu *TypeUsage) IsNullable() bool {
	if b, ok := tu.boolFacet(FacetNullable); ok {
		return b
	}
	return true
}

func (tu *TypeUsage) boolFacet(name string) (bool, bool) {
	v, ok := tu.facets[name]
	if !ok {
		return false, false
	}
	return v.Bool()
}

// PrimitiveKind returns the primitive kind of the type, or false for non-primitive types.
func (tu *TypeUsage) PrimitiveKind() (PrimitiveKind, bool) {
	if tu.typ.Kind != KindPrimitive {
		return 0, false
	}
	return tu.typ.Primitive, true
}

// Fingerprint returns a stable textual identity of the type and its facets,
// for example "Edm.String(MaxLength=Max,Unicode=true)".
func (tu *TypeUsage) Fingerprint() string { return tu.fp }

// String implements fmt.Stringer.
func (tu *TypeUsage) String() string { return tu.fp }

func (tu *TypeUsage) fingerprint() string {
	var b strings.Builder
	b.WriteString(tu.typ.FullName())
	if len(tu.facets) > 0 {
		b.WriteByte('(')
		for i, f := range tu.Facets() {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%s", f.Name, f.Value)
		}
		b.WriteByte(')')
	}
	return b.String()
}
