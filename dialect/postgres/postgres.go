// Package postgres registers the PostgreSQL providers: "postgres" over lib/pq and
// "pgx" over the pgx stdlib driver. Both share the manifests of this package.
//
//	reg := provider.NewRegistry()
//	postgres.Register(reg)
//
// Manifest tokens are server major versions ("16"), read from server_version_num.
package postgres

import (
	"errors"
	"fmt"
	"strconv"

	atlas "ariga.io/atlas/sql/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// MinVersion is the oldest supported server major version.
const MinVersion = 12

// Options returns the provider options of the lib/pq provider.
func Options() sql.Options {
	return sql.Options{
		InvariantName: dialect.Postgres,
		DriverName:    "postgres",
		Dialect:       dialect.Postgres,
		VersionQuery:  "SHOW server_version_num",
		ManifestToken: Token,
		Manifest:      Manifest,
		Placeholder:   sql.Dollar,
		Planner:       atlas.DefaultPlan,
		DataSource:    DataSource,
		Transient:     isTransient,
		Spatial:       provider.WKTServices{},
	}
}

// PgxOptions returns the provider options of the pgx provider.
func PgxOptions() sql.Options {
	opts := Options()
	opts.InvariantName = dialect.Pgx
	opts.DriverName = "pgx"
	opts.Manifest = PgxManifest
	return opts
}

// New returns the lib/pq provider.
func New(options ...sql.Option) *sql.Provider {
	return sql.New(Options(), options...)
}

// NewPgx returns the pgx provider.
func NewPgx(options ...sql.Option) *sql.Provider {
	return sql.New(PgxOptions(), options...)
}

// Register registers both PostgreSQL providers with reg.
func Register(reg *provider.Registry, options ...sql.Option) {
	reg.Register(dialect.Postgres, sql.Factory(Options(), options...))
	reg.Register(dialect.Pgx, sql.Factory(PgxOptions(), options...))
}

// Token maps server_version_num ("160002") to the major version ("16").
func Token(versionNum string) string {
	n, err := strconv.Atoi(versionNum)
	if err != nil {
		return versionNum
	}
	return strconv.Itoa(n / 10000)
}

// Manifest returns the manifest of token for the lib/pq provider.
func Manifest(token string) (provider.Manifest, error) {
	return manifest(dialect.Postgres, token)
}

// PgxManifest returns the manifest of token for the pgx provider.
func PgxManifest(token string) (provider.Manifest, error) {
	return manifest(dialect.Pgx, token)
}

func manifest(invariant, token string) (provider.Manifest, error) {
	major, err := strconv.Atoi(token)
	if err != nil || major < MinVersion {
		return nil, fmt.Errorf("postgres: unsupported manifest token %q", token)
	}
	return sql.NewManifest(invariant, token, storeType), nil
}

func storeType(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool) {
	switch kind {
	case metadata.Boolean:
		return "boolean", true
	case metadata.Byte, metadata.SByte, metadata.Int16:
		return "smallint", true
	case metadata.Int32:
		return "integer", true
	case metadata.Int64:
		return "bigint", true
	case metadata.Decimal:
		p, s := sql.DecimalArgs(tu)
		return fmt.Sprintf("numeric(%d,%d)", p, s), true
	case metadata.Single:
		return "real", true
	case metadata.Double:
		return "double precision", true
	case metadata.String:
		n, ok := sql.MaxLength(tu, 0)
		switch {
		case !ok:
			return "text", true
		case sql.FixedLength(tu):
			return "character(" + strconv.Itoa(n) + ")", true
		default:
			return "character varying(" + strconv.Itoa(n) + ")", true
		}
	case metadata.Binary:
		return "bytea", true
	case metadata.DateTime:
		return "timestamp", true
	case metadata.DateTimeOffset:
		return "timestamptz", true
	case metadata.Time:
		return "interval", true
	case metadata.Guid:
		return "uuid", true
	case metadata.Geography:
		return "geography", true
	case metadata.Geometry:
		return "geometry", true
	}
	return "", false
}

// DataSource returns "host:port/database" of a connection string in URL or
// keyword/value form.
func DataSource(connStr string) string {
	cfg, err := pgconn.ParseConfig(connStr)
	if err != nil {
		return connStr
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

// isTransient classifies the typed errors of both drivers by SQLSTATE.
func isTransient(err error) bool {
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	default:
		return pgconn.SafeToRetry(err)
	}
	switch code {
	case "40001", "40P01", "55P03", "57P01", "57P02", "57P03":
		return true
	}
	return len(code) == 5 && code[:2] == "08"
}
