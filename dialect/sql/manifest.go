package sql

import (
	"fmt"

	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// StoreTypeFunc returns the store type name of a primitive type usage, or false if
// the store has no such type.
type StoreTypeFunc func(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool)

// Manifest is a provider.Manifest backed by a store type function.
type Manifest struct {
	provider  string
	token     string
	storeType StoreTypeFunc
}

// NewManifest returns the manifest of a provider for token.
func NewManifest(invariant, token string, storeType StoreTypeFunc) *Manifest {
	return &Manifest{provider: invariant, token: token, storeType: storeType}
}

// Token implements provider.Manifest.
func (m *Manifest) Token() string { return m.token }

// Provider implements provider.Manifest.
func (m *Manifest) Provider() string { return m.provider }

// StoreType implements provider.Manifest. Only primitive type usages have store types.
func (m *Manifest) StoreType(tu *metadata.TypeUsage) (string, error) {
	kind, ok := tu.PrimitiveKind()
	if !ok {
		return "", fmt.Errorf("dialect/sql: %s has no store type: not a primitive type", tu)
	}
	name, ok := m.storeType(kind, tu)
	if !ok {
		return "", fmt.Errorf("dialect/sql: %s store (manifest %q) has no type for %s", m.provider, m.token, kind)
	}
	return name, nil
}

// MaxLength returns the bounded maximum length of tu, or def when tu has none.
func MaxLength(tu *metadata.TypeUsage, def int) (n int, bounded bool) {
	n, unbounded, ok := tu.MaxLength()
	if !ok || unbounded {
		return def, false
	}
	return n, true
}

// Unicode reports whether string type usage tu is unicode. Unspecified means unicode.
func Unicode(tu *metadata.TypeUsage) bool {
	u, ok := tu.IsUnicode()
	return !ok || u
}

// FixedLength reports whether tu has a fixed length.
func FixedLength(tu *metadata.TypeUsage) bool {
	f, _ := tu.IsFixedLength()
	return f
}

// DecimalArgs returns the precision and scale of a decimal type usage with defaults.
func DecimalArgs(tu *metadata.TypeUsage) (precision, scale uint8) {
	precision, ok := tu.Precision()
	if !ok {
		precision = 18
	}
	scale, ok = tu.Scale()
	if !ok {
		scale = 0
	}
	return precision, scale
}

var _ provider.Manifest = (*Manifest)(nil)
