package provider

import (
	"context"
	"database/sql"
	"fmt"
)

// DbType is the provider-neutral data kind of a parameter.
type DbType int

// Data kinds. Every primitive model type has a data kind of the same name;
// String additionally has ansi and fixed-length variants.
const (
	DbTypeObject DbType = iota
	DbTypeBinary
	DbTypeBoolean
	DbTypeByte
	DbTypeDateTime
	DbTypeDateTimeOffset
	DbTypeDecimal
	DbTypeDouble
	DbTypeGuid
	DbTypeSingle
	DbTypeSByte
	DbTypeInt16
	DbTypeInt32
	DbTypeInt64
	DbTypeString
	DbTypeTime
	DbTypeGeography
	DbTypeGeometry
	DbTypeAnsiString
	DbTypeAnsiStringFixedLength
	DbTypeStringFixedLength
)

var dbTypeNames = [...]string{
	DbTypeObject:                "Object",
	DbTypeBinary:                "Binary",
	DbTypeBoolean:               "Boolean",
	DbTypeByte:                  "Byte",
	DbTypeDateTime:              "DateTime",
	DbTypeDateTimeOffset:        "DateTimeOffset",
	DbTypeDecimal:               "Decimal",
	DbTypeDouble:                "Double",
	DbTypeGuid:                  "Guid",
	DbTypeSingle:                "Single",
	DbTypeSByte:                 "SByte",
	DbTypeInt16:                 "Int16",
	DbTypeInt32:                 "Int32",
	DbTypeInt64:                 "Int64",
	DbTypeString:                "String",
	DbTypeTime:                  "Time",
	DbTypeGeography:             "Geography",
	DbTypeGeometry:              "Geometry",
	DbTypeAnsiString:            "AnsiString",
	DbTypeAnsiStringFixedLength: "AnsiStringFixedLength",
	DbTypeStringFixedLength:     "StringFixedLength",
}

// String returns the data kind name.
func (t DbType) String() string {
	if t >= 0 && int(t) < len(dbTypeNames) {
		return dbTypeNames[t]
	}
	return fmt.Sprintf("DbType(%d)", int(t))
}

// ParameterDirection is the direction of a command parameter.
type ParameterDirection int

// Parameter directions.
const (
	Input ParameterDirection = iota
	Output
	InputOutput
	ReturnValue
)

// String returns the direction name.
func (d ParameterDirection) String() string {
	switch d {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case InputOutput:
		return "InputOutput"
	case ReturnValue:
		return "ReturnValue"
	default:
		return fmt.Sprintf("ParameterDirection(%d)", int(d))
	}
}

// IsOutput reports whether the store writes a value back into the parameter.
func (d ParameterDirection) IsOutput() bool { return d != Input }

// DbParameter is a parameter of a provider command.
type DbParameter struct {
	Name      string
	DbType    DbType
	Direction ParameterDirection
	Size      int
	Precision uint8
	Scale     uint8
	Nullable  bool
	Value     any
}

// Clone returns a copy of the parameter.
func (p *DbParameter) Clone() *DbParameter {
	c := *p
	return &c
}

// ConnectionState is the state of a physical or logical connection.
type ConnectionState int

// Connection states.
const (
	StateClosed ConnectionState = iota
	StateOpen
	StateBroken
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateBroken:
		return "Broken"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// StateChange describes a connection state transition.
type StateChange struct {
	From, To ConnectionState
}

// TxOptions holds the options of a transaction.
type TxOptions = sql.TxOptions

// DbConnection is a physical connection supplied by a provider. Its state may change
// at any time, for example when the server drops the connection; subscribers registered
// with OnStateChange are notified of every transition.
type DbConnection interface {
	Open(ctx context.Context) error
	Close() error
	State() ConnectionState
	BeginTx(ctx context.Context, opts *TxOptions) (DbTransaction, error)
	// EnlistTransaction enlists the connection in an ambient transaction. A nil
	// transaction removes the current enlistment.
	EnlistTransaction(ctx context.Context, tx AmbientTransaction) error
	DataSource() string
	ConnectionString() string
	// OnStateChange registers fn for state transitions and returns a function that
	// removes the registration.
	OnStateChange(fn func(StateChange)) (unsubscribe func())
}

// DbTransaction is a physical transaction.
type DbTransaction interface {
	Commit() error
	Rollback() error
	IsolationLevel() sql.IsolationLevel
}

// DbCommand is an executable provider command.
type DbCommand interface {
	Text() string
	Parameters() []*DbParameter
	SetConnection(DbConnection)
	SetTransaction(DbTransaction)
	ExecuteReader(ctx context.Context) (DataReader, error)
	ExecuteNonQuery(ctx context.Context) (int64, error)
	ExecuteScalar(ctx context.Context) (any, error)
}

// DataReader iterates over the result sets of a command.
type DataReader interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	NextResultSet() bool
	Err() error
	Close() error
}

// TransactionStatus is the outcome of an ambient transaction.
type TransactionStatus int

// Transaction statuses.
const (
	TransactionActive TransactionStatus = iota
	TransactionCommitted
	TransactionAborted
)

// String returns the status name.
func (s TransactionStatus) String() string {
	switch s {
	case TransactionActive:
		return "Active"
	case TransactionCommitted:
		return "Committed"
	case TransactionAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("TransactionStatus(%d)", int(s))
	}
}

// AmbientTransaction is a transaction owned outside the connection that connections
// can enlist in.
type AmbientTransaction interface {
	ID() string
	Status() TransactionStatus
	// OnComplete registers fn to run once when the transaction completes and returns
	// a function that removes the registration. fn may run on another goroutine.
	OnComplete(fn func(AmbientTransaction)) (cancel func())
}
