// Package dialect names the database dialects veloxdb ships providers for.
//
// # Supported Dialects
//
//   - SQLite: SQLite through modernc.org/sqlite
//   - Postgres: PostgreSQL through lib/pq, or pgx under the "pgx" invariant name
//   - MySQL: MySQL/MariaDB through go-sql-driver/mysql
//   - SQLServer: Microsoft SQL Server through go-mssqldb
//
// # Dialect Constants
//
// Each dialect is identified by a constant string that doubles as the provider
// invariant name used in connection strings:
//
//	dialect.SQLite    = "sqlite"
//	dialect.Postgres  = "postgres"
//	dialect.MySQL     = "mysql"
//	dialect.SQLServer = "sqlserver"
//
// # Sub-packages
//
//   - dialect/sql: the database/sql-backed provider shared by every dialect
//   - dialect/sqlite, dialect/postgres, dialect/mysql, dialect/mssql: manifests and
//     registration of each backend
package dialect
