// Package sqlite registers the SQLite provider, backed by modernc.org/sqlite.
//
//	reg := provider.NewRegistry()
//	sqlite.Register(reg)
//
// Connection strings are modernc DSNs such as "file:northwind.db?_pragma=foreign_keys(1)".
// SQLite is the only backend that creates, probes and deletes databases: a database is
// a file.
package sqlite

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	atlas "ariga.io/atlas/sql/sqlite"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// ManifestToken is the only manifest token of the provider: the major SQLite version.
const ManifestToken = "3"

// Options returns the provider options of SQLite.
func Options() sql.Options {
	return sql.Options{
		InvariantName: dialect.SQLite,
		DriverName:    "sqlite",
		VersionQuery:  "SELECT sqlite_version()",
		ManifestToken: func(version string) string {
			major, _, _ := strings.Cut(version, ".")
			return major
		},
		Manifest:     Manifest,
		Placeholder:  sql.Question,
		FunctionCall: selectCall,
		Planner:      atlas.DefaultPlan,
		Database:     files{},
		DataSource:   Path,
		Transient:    isBusy,
	}
}

// New returns the SQLite provider.
func New(options ...sql.Option) *sql.Provider {
	return sql.New(Options(), options...)
}

// Register registers the SQLite provider with reg.
func Register(reg *provider.Registry, options ...sql.Option) {
	reg.Register(dialect.SQLite, sql.Factory(Options(), options...))
}

// Manifest returns the manifest of token.
func Manifest(token string) (provider.Manifest, error) {
	if token != ManifestToken {
		return nil, fmt.Errorf("sqlite: unsupported manifest token %q", token)
	}
	return sql.NewManifest(dialect.SQLite, token, storeType), nil
}

func storeType(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool) {
	switch kind {
	case metadata.Boolean:
		return "boolean", true
	case metadata.Byte, metadata.SByte, metadata.Int16, metadata.Int32, metadata.Int64:
		return "integer", true
	case metadata.Decimal:
		p, s := sql.DecimalArgs(tu)
		return fmt.Sprintf("decimal(%d,%d)", p, s), true
	case metadata.Single, metadata.Double:
		return "real", true
	case metadata.String:
		if n, ok := sql.MaxLength(tu, 0); ok {
			if sql.FixedLength(tu) {
				return "char(" + strconv.Itoa(n) + ")", true
			}
			return "varchar(" + strconv.Itoa(n) + ")", true
		}
		return "text", true
	case metadata.Binary:
		return "blob", true
	case metadata.DateTime, metadata.DateTimeOffset:
		return "datetime", true
	case metadata.Time:
		return "time", true
	case metadata.Guid:
		return "uuid", true
	}
	return "", false
}

// selectCall invokes a registered SQL function; SQLite has no stored procedures.
func selectCall(name string, args []sql.FunctionArg) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Placeholder)
	}
	b.WriteByte(')')
	return b.String()
}

// Path returns the database file of a connection string, or ":memory:" for in-memory
// databases.
func Path(connStr string) string {
	path, query, _ := strings.Cut(strings.TrimPrefix(connStr, "file:"), "?")
	if v, err := url.ParseQuery(query); err == nil && v.Get("mode") == "memory" {
		return ":memory:"
	}
	if path == "" {
		return ":memory:"
	}
	return path
}

func isBusy(err error) bool {
	var e *msqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
