package dialect

import "strings"

// Dialect names.
const (
	SQLite    = "sqlite"
	Postgres  = "postgres"
	Pgx       = "pgx"
	MySQL     = "mysql"
	SQLServer = "sqlserver"
)

// Of returns the dialect of a provider invariant name, folding driver variants such
// as "pgx" or "sqlite3" into their dialect.
func Of(invariant string) string {
	name := strings.ToLower(invariant)
	switch {
	case name == Pgx, strings.HasPrefix(name, Postgres):
		return Postgres
	case strings.HasPrefix(name, SQLite):
		return SQLite
	case strings.HasPrefix(name, MySQL):
		return MySQL
	case name == SQLServer, name == "mssql":
		return SQLServer
	}
	return name
}
