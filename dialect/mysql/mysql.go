// Package mysql registers the MySQL provider, backed by go-sql-driver/mysql.
//
// Manifest tokens are "5.7" and "8"; MariaDB servers use the "5.7" manifest.
package mysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	atlas "ariga.io/atlas/sql/mysql"
	"github.com/go-sql-driver/mysql"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// Manifest tokens.
const (
	Token57 = "5.7"
	Token8  = "8"
)

// Options returns the provider options of MySQL.
func Options() sql.Options {
	return sql.Options{
		InvariantName: dialect.MySQL,
		DriverName:    "mysql",
		VersionQuery:  "SELECT VERSION()",
		ManifestToken: Token,
		Manifest:      Manifest,
		Placeholder:   sql.Question,
		Planner:       atlas.DefaultPlan,
		DataSource:    DataSource,
		Transient:     isTransient,
	}
}

// New returns the MySQL provider.
func New(options ...sql.Option) *sql.Provider {
	return sql.New(Options(), options...)
}

// Register registers the MySQL provider with reg.
func Register(reg *provider.Registry, options ...sql.Option) {
	reg.Register(dialect.MySQL, sql.Factory(Options(), options...))
}

// Token maps a server version ("8.0.36", "10.11.6-MariaDB") to a manifest token.
func Token(version string) string {
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return Token57
	}
	major, _, _ := strings.Cut(version, ".")
	if n, err := strconv.Atoi(major); err == nil && n >= 8 {
		return Token8
	}
	return Token57
}

// Manifest returns the manifest of token.
func Manifest(token string) (provider.Manifest, error) {
	switch token {
	case Token57, Token8:
		return sql.NewManifest(dialect.MySQL, token, storeType(token)), nil
	}
	return nil, fmt.Errorf("mysql: unsupported manifest token %q", token)
}

func storeType(token string) sql.StoreTypeFunc {
	return func(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool) {
		switch kind {
		case metadata.Boolean:
			return "bool", true
		case metadata.Byte:
			return "tinyint unsigned", true
		case metadata.SByte:
			return "tinyint", true
		case metadata.Int16:
			return "smallint", true
		case metadata.Int32:
			return "int", true
		case metadata.Int64:
			return "bigint", true
		case metadata.Decimal:
			p, s := sql.DecimalArgs(tu)
			return fmt.Sprintf("decimal(%d,%d)", p, s), true
		case metadata.Single:
			return "float", true
		case metadata.Double:
			return "double", true
		case metadata.String:
			n, ok := sql.MaxLength(tu, 0)
			switch {
			case !ok || n > 65535:
				return "longtext", true
			case sql.FixedLength(tu) && n <= 255:
				return "char(" + strconv.Itoa(n) + ")", true
			default:
				return "varchar(" + strconv.Itoa(n) + ")", true
			}
		case metadata.Binary:
			if n, ok := sql.MaxLength(tu, 0); ok && n <= 65535 {
				return "varbinary(" + strconv.Itoa(n) + ")", true
			}
			return "longblob", true
		case metadata.DateTime:
			if token == Token8 {
				return "datetime(6)", true
			}
			return "datetime", true
		case metadata.DateTimeOffset:
			return "timestamp", true
		case metadata.Time:
			return "time", true
		case metadata.Guid:
			return "char(36)", true
		case metadata.Geography, metadata.Geometry:
			return "geometry", true
		}
		return "", false
	}
}

// DataSource returns "address/database" of a DSN.
func DataSource(connStr string) string {
	cfg, err := mysql.ParseDSN(connStr)
	if err != nil {
		return connStr
	}
	return cfg.Addr + "/" + cfg.DBName
}

func isTransient(err error) bool {
	var e *mysql.MySQLError
	if errors.As(err, &e) {
		switch e.Number {
		case 1205, 1213, 2006, 2013:
			return true
		}
		return false
	}
	return errors.Is(err, mysql.ErrInvalidConn)
}
