// Package sql implements the veloxdb provider contract over database/sql.
//
// A Provider is configured for one backend through Options: the driver name, the
// placeholder style, the manifests mapping model types to store types, and the
// optional DDL planner and database manager. The dialect packages (dialect/sqlite,
// dialect/postgres, dialect/mysql, dialect/mssql) supply ready-made Options and
// register them with a provider.Registry.
//
// # Connections
//
// Conn pins one connection from a pool shared by every Conn of the same provider and
// connection string. A Conn reports state transitions to its subscribers and becomes
// Broken when the driver reports driver.ErrBadConn. Enlisting a Conn in an ambient
// transaction starts a local transaction that commits or rolls back with it.
//
// # Commands
//
// Store text uses @name parameter references:
//
//	SELECT name FROM products WHERE id = @id AND owner = @id
//
// They are rewritten at compile time to the dialect placeholders:
//
//	Question: SELECT name FROM products WHERE id = ? AND owner = ?
//	Dollar:   SELECT name FROM products WHERE id = $1 AND owner = $1
//	AtName:   SELECT name FROM products WHERE id = @id AND owner = @id
//
// Output parameters are bound with sql.Out and copied back after execution, or after
// the reader is closed.
//
// # Session Variables
//
// WithVar attaches session variables to a context; they are set before every command
// executed with that context and reset afterwards outside transactions:
//
//	ctx = sql.WithVar(ctx, "search_path", "tenant_42")
//
// # Statistics
//
// Every provider counts executed commands, their duration, errors and slow commands:
//
//	p := sql.New(opts,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	fmt.Println(p.QueryStats().Stats())
//
// # Errors
//
// IsTransient classifies serialization failures, deadlocks, lock timeouts and dropped
// connections across drivers. IsConstraintError and its variants detect constraint
// violations.
package sql
