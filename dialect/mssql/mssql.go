// Package mssql registers the SQL Server provider, backed by go-mssqldb.
//
// Parameters are bound by name and stored procedures are invoked with EXEC, so
// output parameters round-trip through sql.Out:
//
//	EXEC count_products @total = @total OUTPUT
//
// Manifest tokens are product major versions ("16" is SQL Server 2022). There is no
// DDL planner for SQL Server; database scripts are not supported.
package mssql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// MinVersion is the oldest supported product major version (SQL Server 2012).
const MinVersion = 11

// Options returns the provider options of SQL Server.
func Options() sql.Options {
	return sql.Options{
		InvariantName: dialect.SQLServer,
		DriverName:    "sqlserver",
		VersionQuery:  "SELECT CAST(SERVERPROPERTY('ProductMajorVersion') AS nvarchar(8))",
		Manifest:      Manifest,
		Placeholder:   sql.AtName,
		FunctionCall:  Exec,
		DataSource:    DataSource,
		Transient:     isTransient,
		Spatial:       provider.WKTServices{},
	}
}

// New returns the SQL Server provider.
func New(options ...sql.Option) *sql.Provider {
	return sql.New(Options(), options...)
}

// Register registers the SQL Server provider with reg.
func Register(reg *provider.Registry, options ...sql.Option) {
	reg.Register(dialect.SQLServer, sql.Factory(Options(), options...))
}

// Manifest returns the manifest of token.
func Manifest(token string) (provider.Manifest, error) {
	major, err := strconv.Atoi(token)
	if err != nil || major < MinVersion {
		return nil, fmt.Errorf("mssql: unsupported manifest token %q", token)
	}
	return sql.NewManifest(dialect.SQLServer, token, storeType), nil
}

func storeType(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool) {
	switch kind {
	case metadata.Boolean:
		return "bit", true
	case metadata.Byte:
		return "tinyint", true
	case metadata.SByte, metadata.Int16:
		return "smallint", true
	case metadata.Int32:
		return "int", true
	case metadata.Int64:
		return "bigint", true
	case metadata.Decimal:
		p, s := sql.DecimalArgs(tu)
		return fmt.Sprintf("decimal(%d,%d)", p, s), true
	case metadata.Single:
		return "real", true
	case metadata.Double:
		return "float", true
	case metadata.String:
		return stringType(tu), true
	case metadata.Binary:
		if n, ok := sql.MaxLength(tu, 0); ok && n <= 8000 {
			if sql.FixedLength(tu) {
				return "binary(" + strconv.Itoa(n) + ")", true
			}
			return "varbinary(" + strconv.Itoa(n) + ")", true
		}
		return "varbinary(max)", true
	case metadata.DateTime:
		return "datetime2", true
	case metadata.DateTimeOffset:
		return "datetimeoffset", true
	case metadata.Time:
		return "time", true
	case metadata.Guid:
		return "uniqueidentifier", true
	case metadata.Geography:
		return "geography", true
	case metadata.Geometry:
		return "geometry", true
	}
	return "", false
}

func stringType(tu *metadata.TypeUsage) string {
	name, limit := "varchar", 8000
	if sql.Unicode(tu) {
		name, limit = "nvarchar", 4000
	}
	n, ok := sql.MaxLength(tu, 0)
	switch {
	case !ok || n > limit:
		return name + "(max)"
	case sql.FixedLength(tu):
		return strings.TrimSuffix(name, "varchar") + "char(" + strconv.Itoa(n) + ")"
	default:
		return name + "(" + strconv.Itoa(n) + ")"
	}
}

// Exec builds the EXEC statement of a stored procedure. Arguments are passed by
// store parameter name.
func Exec(name string, args []sql.FunctionArg) string {
	var b strings.Builder
	b.WriteString("EXEC ")
	b.WriteString(name)
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(" @")
		b.WriteString(a.StoreName)
		b.WriteString(" = ")
		b.WriteString(a.Placeholder)
		if a.Direction.IsOutput() {
			b.WriteString(" OUTPUT")
		}
	}
	return b.String()
}

// DataSource returns "host/database" of a connection string.
func DataSource(connStr string) string {
	cfg, err := msdsn.Parse(connStr)
	if err != nil {
		return connStr
	}
	host := cfg.Host
	if cfg.Instance != "" {
		host += `\` + cfg.Instance
	}
	return host + "/" + cfg.Database
}

// transientNumbers are the error numbers of deadlocks, lock timeouts and the
// throttling and failover errors of Azure SQL.
var transientNumbers = map[int32]bool{
	1205: true, 1222: true, 4060: true, 40197: true, 40501: true, 40613: true,
	49918: true, 49919: true, 49920: true, 10928: true, 10929: true, 233: true,
	10053: true, 10054: true, 10060: true, 64: true,
}

func isTransient(err error) bool {
	var e mssql.Error
	if errors.As(err, &e) {
		return transientNumbers[e.Number]
	}
	var pe *mssql.Error
	if errors.As(err, &pe) {
		return transientNumbers[pe.Number]
	}
	return false
}
