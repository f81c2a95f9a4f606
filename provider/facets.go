package provider

import (
	"math"

	"github.com/syssam/veloxdb/metadata"
)

// MaxSize is the size given to output parameters whose type has no length bound.
const MaxSize = math.MaxInt32

var primitiveDbTypes = map[metadata.PrimitiveKind]DbType{
	metadata.Binary:         DbTypeBinary,
	metadata.Boolean:        DbTypeBoolean,
	metadata.Byte:           DbTypeByte,
	metadata.DateTime:       DbTypeDateTime,
	metadata.DateTimeOffset: DbTypeDateTimeOffset,
	metadata.Decimal:        DbTypeDecimal,
	metadata.Double:         DbTypeDouble,
	metadata.Guid:           DbTypeGuid,
	metadata.Single:         DbTypeSingle,
	metadata.SByte:          DbTypeSByte,
	metadata.Int16:          DbTypeInt16,
	metadata.Int32:          DbTypeInt32,
	metadata.Int64:          DbTypeInt64,
	metadata.String:         DbTypeString,
	metadata.Time:           DbTypeTime,
	metadata.Geography:      DbTypeGeography,
	metadata.Geometry:       DbTypeGeometry,
}

// DirectionOf returns the parameter direction of a function parameter mode.
func DirectionOf(m metadata.ParameterMode) ParameterDirection {
	switch m {
	case metadata.ModeOut:
		return Output
	case metadata.ModeInOut:
		return InputOutput
	case metadata.ModeReturnValue:
		return ReturnValue
	default:
		return Input
	}
}

// MapParameter stamps p with the nullability, data kind and size attributes derived
// from tu. isOutParam is true for output and stored procedure parameters.
//
// Non-primitive types are mapped to DbTypeObject without error; binding such a
// parameter fails when the command executes.
func MapParameter(p *DbParameter, tu *metadata.TypeUsage, isOutParam bool) {
	p.Nullable = tu.IsNullable()
	kind, ok := tu.PrimitiveKind()
	if !ok {
		p.DbType = DbTypeObject
		return
	}
	p.DbType = primitiveDbTypes[kind]
	switch kind {
	case metadata.Binary:
		applySize(p, tu, isOutParam)
	case metadata.DateTime, metadata.Time, metadata.DateTimeOffset:
		if precision, ok := tu.Precision(); ok {
			p.Precision = precision
		}
	case metadata.Decimal:
		if precision, ok := tu.Precision(); ok {
			p.Precision = precision
		}
		if scale, ok := tu.Scale(); ok {
			p.Scale = scale
		}
	case metadata.String:
		unicode, ok := tu.IsUnicode()
		if !ok {
			unicode = true
		}
		fixed, ok := tu.IsFixedLength()
		if !ok {
			fixed = false
		}
		switch {
		case !unicode && fixed:
			p.DbType = DbTypeAnsiStringFixedLength
		case !unicode:
			p.DbType = DbTypeAnsiString
		case fixed:
			p.DbType = DbTypeStringFixedLength
		default:
			p.DbType = DbTypeString
		}
		applySize(p, tu, isOutParam)
	}
}

// applySize copies a bounded MaxLength into p. An unbounded length gives output
// parameters MaxSize and leaves input parameters unsized.
func applySize(p *DbParameter, tu *metadata.TypeUsage, isOutParam bool) {
	n, unbounded, ok := tu.MaxLength()
	switch {
	case !ok:
	case !unbounded:
		p.Size = n
	case isOutParam:
		p.Size = MaxSize
	}
}
