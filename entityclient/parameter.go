package entityclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// Parameter is a command parameter. Its name, type and direction form the parameter
// shape that compiled commands depend on; its value does not.
type Parameter struct {
	name      string
	typ       *metadata.TypeUsage
	direction provider.ParameterDirection
	value     any
	owner     *ParameterCollection
}

// NewParameter returns an input parameter whose type is inferred from value.
func NewParameter(name string, value any) *Parameter {
	return &Parameter{name: name, value: value}
}

// NewTypedParameter returns an input parameter of the given type.
func NewTypedParameter(name string, typ *metadata.TypeUsage, value any) *Parameter {
	return &Parameter{name: name, typ: typ, value: value}
}

// WithDirection sets the direction and returns p.
func (p *Parameter) WithDirection(d provider.ParameterDirection) *Parameter {
	p.SetDirection(d)
	return p
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// SetName renames the parameter.
func (p *Parameter) SetName(name string) {
	if name != p.name {
		p.name = name
		p.changed()
	}
}

// Direction returns the parameter direction.
func (p *Parameter) Direction() provider.ParameterDirection { return p.direction }

// SetDirection sets the parameter direction.
func (p *Parameter) SetDirection(d provider.ParameterDirection) {
	if d != p.direction {
		p.direction = d
		p.changed()
	}
}

// Type returns the declared type, or nil when the type is inferred from the value.
func (p *Parameter) Type() *metadata.TypeUsage { return p.typ }

// SetType declares the parameter type. A nil type infers it from the value.
func (p *Parameter) SetType(tu *metadata.TypeUsage) {
	if !sameType(tu, p.typ) {
		p.typ = tu
		p.changed()
	}
}

// Value returns the parameter value.
func (p *Parameter) Value() any { return p.value }

// SetValue sets the value. For parameters without a declared type, a value of another
// type changes the parameter shape.
func (p *Parameter) SetValue(v any) {
	before := p.typ == nil && !sameType(inferType(p.value), inferType(v))
	p.value = v
	if before {
		p.changed()
	}
}

// EffectiveType returns the declared type or the type inferred from the value.
func (p *Parameter) EffectiveType() (*metadata.TypeUsage, error) {
	if p.typ != nil {
		return p.typ, nil
	}
	if p.value == nil {
		return nil, veloxdb.InvalidOperationf("prepare", "parameter %q has a nil value and no declared type", p.name)
	}
	tu := inferType(p.value)
	if tu == nil {
		return nil, veloxdb.InvalidOperationf("prepare", "the type of parameter %q cannot be inferred from a value of type %T", p.name, p.value)
	}
	return tu, nil
}

func (p *Parameter) changed() {
	if p.owner != nil {
		p.owner.version++
	}
}

func sameType(a, b *metadata.TypeUsage) bool {
	switch {
	case a == nil || b == nil:
		return a == b
	default:
		return a.Fingerprint() == b.Fingerprint()
	}
}

// inferType maps Go values to primitive type usages.
func inferType(v any) *metadata.TypeUsage {
	var k metadata.PrimitiveKind
	switch v.(type) {
	case bool:
		k = metadata.Boolean
	case uint8:
		k = metadata.Byte
	case int8:
		k = metadata.SByte
	case int16:
		k = metadata.Int16
	case int32:
		k = metadata.Int32
	case int, int64:
		k = metadata.Int64
	case float32:
		k = metadata.Single
	case float64:
		k = metadata.Double
	case string:
		return metadata.StringType(-1, true, false)
	case []byte:
		k = metadata.Binary
	case time.Time:
		k = metadata.DateTime
	case time.Duration:
		k = metadata.Time
	case uuid.UUID:
		k = metadata.Guid
	case provider.Geography:
		k = metadata.Geography
	case provider.Geometry:
		k = metadata.Geometry
	default:
		return nil
	}
	return metadata.Primitive(k)
}

// ParameterCollection holds the parameters of a command. Names are compared without
// regard to case.
type ParameterCollection struct {
	cmd     *Command
	params  []*Parameter
	version uint64
}

// Add appends parameters. It fails while a reader is open on the command.
func (pc *ParameterCollection) Add(params ...*Parameter) error {
	if err := pc.cmd.checkReader("add parameter"); err != nil {
		return err
	}
	for _, p := range params {
		if p.owner != nil && p.owner != pc {
			return veloxdb.InvalidOperationf("add parameter", "parameter %q already belongs to another command", p.name)
		}
		p.owner = pc
		pc.params = append(pc.params, p)
	}
	pc.version++
	return nil
}

// AddWithValue appends an input parameter whose type is inferred from value.
func (pc *ParameterCollection) AddWithValue(name string, value any) (*Parameter, error) {
	p := NewParameter(name, value)
	if err := pc.Add(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Remove removes the named parameter. It fails while a reader is open on the command.
func (pc *ParameterCollection) Remove(name string) error {
	const op = "remove parameter"
	if err := pc.cmd.checkReader(op); err != nil {
		return err
	}
	for i, p := range pc.params {
		if strings.EqualFold(p.name, name) {
			p.owner = nil
			pc.params = append(pc.params[:i], pc.params[i+1:]...)
			pc.version++
			return nil
		}
	}
	return veloxdb.InvalidOperationf(op, "no parameter named %q", name)
}

// Clear removes every parameter.
func (pc *ParameterCollection) Clear() error {
	if err := pc.cmd.checkReader("clear parameters"); err != nil {
		return err
	}
	for _, p := range pc.params {
		p.owner = nil
	}
	pc.params = nil
	pc.version++
	return nil
}

// Get returns the named parameter.
func (pc *ParameterCollection) Get(name string) (*Parameter, bool) {
	for _, p := range pc.params {
		if strings.EqualFold(p.name, name) {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of parameters.
func (pc *ParameterCollection) Len() int { return len(pc.params) }

// All returns the parameters in order.
func (pc *ParameterCollection) All() []*Parameter {
	return append([]*Parameter(nil), pc.params...)
}

// validate checks names and types and that every direction is allowed for the command
// type.
func (pc *ParameterCollection) validate(ct CommandType) error {
	const op = "prepare"
	seen := make(map[string]bool, len(pc.params))
	for _, p := range pc.params {
		if strings.TrimSpace(p.name) == "" {
			return veloxdb.NewInvalidOperationError(op, "parameter names must not be empty")
		}
		key := strings.ToLower(p.name)
		if seen[key] {
			return veloxdb.InvalidOperationf(op, "duplicate parameter name %q", p.name)
		}
		seen[key] = true
		if ct != CommandStoredProcedure && p.direction != provider.Input {
			return veloxdb.InvalidOperationf(op, "parameter %q has direction %s; %s commands only accept input parameters", p.name, p.direction, ct)
		}
		if ct == CommandStoredProcedure && p.direction == provider.ReturnValue {
			return veloxdb.InvalidOperationf(op, "parameter %q: return value parameters are not supported", p.name)
		}
		if _, err := p.EffectiveType(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parameter) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.direction)
}
