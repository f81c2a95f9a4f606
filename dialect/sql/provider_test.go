package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"ariga.io/atlas/sql/sqlite"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/internal/providertest"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// outArg matches an output argument and writes value into its destination.
type outArg struct{ value any }

func (a outArg) Match(v driver.Value) bool {
	out, ok := v.(sql.Out)
	if !ok {
		return false
	}
	if s, ok := out.Dest.(sql.Scanner); ok {
		return s.Scan(a.value) == nil
	}
	if d, ok := out.Dest.(*any); ok {
		*d = a.value
		return true
	}
	return false
}

func functionCommand(t *testing.T, p *Provider, name string, params ...cqt.Parameter) *Command {
	t.Helper()
	ws := providertest.Workspace(p.InvariantName(), "1")
	fn, ok := ws.StoreFunction(name)
	require.True(t, ok)
	tree, err := cqt.NewFunctionCommandTree("ws", metadata.StoreSpace, fn, nil, params...)
	require.NoError(t, err)
	m, err := p.GetManifest("1")
	require.NoError(t, err)
	def, err := p.CreateCommandDefinition(context.Background(), m, tree)
	require.NoError(t, err)
	return def.CreateCommand().(*Command)
}

func TestCompilePlaceholders(t *testing.T) {
	const text = "SELECT name FROM products WHERE id = @id AND (owner = @id OR price > @price) AND note = '@id'"
	params := []cqt.Parameter{
		{Name: "id", Type: metadata.Primitive(metadata.Int32)},
		{Name: "price", Type: metadata.DecimalType(10, 2)},
	}
	tests := []struct {
		style PlaceholderStyle
		text  string
		args  []int
	}{
		{Question, "SELECT name FROM products WHERE id = ? AND (owner = ? OR price > ?) AND note = '@id'", []int{0, 0, 1}},
		{Dollar, "SELECT name FROM products WHERE id = $1 AND (owner = $1 OR price > $2) AND note = '@id'", []int{0, 1}},
		{AtName, "SELECT name FROM products WHERE id = @id AND (owner = @id OR price > @price) AND note = '@id'", []int{0, 1}},
	}
	for _, tt := range tests {
		p, _ := newProvider(t, Options{Placeholder: tt.style})
		cmd := textCommand(t, p, nil, text, params...)
		assert.Equal(t, tt.text, cmd.Text())
		assert.Equal(t, tt.args, cmd.args)
		require.Len(t, cmd.Parameters(), 2)
		assert.Equal(t, provider.DbTypeInt32, cmd.Parameters()[0].DbType)
		assert.Equal(t, provider.Input, cmd.Parameters()[0].Direction)
		assert.Equal(t, provider.DbTypeDecimal, cmd.Parameters()[1].DbType)
		assert.EqualValues(t, 10, cmd.Parameters()[1].Precision)
	}
}

func TestCompileFunction(t *testing.T) {
	total := cqt.Parameter{Name: "total", Type: metadata.Primitive(metadata.Int32), Mode: metadata.ModeOut, StoreName: "total"}

	p, _ := newProvider(t, Options{})
	cmd := functionCommand(t, p, "CountProducts", total)
	assert.Equal(t, "CALL count_products(?)", cmd.Text())
	assert.Equal(t, provider.Output, cmd.Parameters()[0].Direction)

	p, _ = newProvider(t, Options{
		Placeholder: AtName,
		FunctionCall: func(name string, args []FunctionArg) string {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = "@" + a.StoreName + " = " + a.Placeholder
				if a.Direction.IsOutput() {
					parts[i] += " OUTPUT"
				}
			}
			return "EXEC " + name + " " + strings.Join(parts, ", ")
		},
	})
	cmd = functionCommand(t, p, "CountProducts", cqt.Parameter{Name: "n", Type: total.Type, Mode: metadata.ModeOut, StoreName: "total"})
	assert.Equal(t, "EXEC count_products @total = @n OUTPUT", cmd.Text())
}

func TestCompileErrors(t *testing.T) {
	p, _ := newProvider(t, Options{})
	tree, err := cqt.NewQueryCommandTree("ws", metadata.StoreSpace, cqt.NewStoreText("SELECT 1"))
	require.NoError(t, err)

	other, err := testManifest("other")("1")
	require.NoError(t, err)
	_, err = p.CreateCommandDefinition(context.Background(), other, tree)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `manifest of provider "other"`)

	m, err := p.GetManifest("1")
	require.NoError(t, err)
	conceptual, err := cqt.NewQueryCommandTree("ws", metadata.ConceptualSpace, cqt.NewStoreText("SELECT 1"))
	require.NoError(t, err)
	_, err = p.CreateCommandDefinition(context.Background(), m, conceptual)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.CreateCommandDefinition(ctx, m, tree)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandClone(t *testing.T) {
	p, _ := newProvider(t, Options{})
	tree, err := cqt.NewQueryCommandTree("ws", metadata.StoreSpace, cqt.NewStoreText("SELECT @id"),
		cqt.Parameter{Name: "id", Type: metadata.Primitive(metadata.Int64)})
	require.NoError(t, err)
	m, err := p.GetManifest("1")
	require.NoError(t, err)
	def, err := p.CreateCommandDefinition(context.Background(), m, tree)
	require.NoError(t, err)
	a, b := def.CreateCommand(), def.CreateCommand()
	a.Parameters()[0].Value = int64(1)
	assert.Nil(t, b.Parameters()[0].Value)
	assert.Equal(t, a.Text(), b.Text())
}

func TestCommandExecute(t *testing.T) {
	p, mock := newProvider(t, Options{Placeholder: Dollar})
	conn := openConn(t, p)
	params := []cqt.Parameter{
		{Name: "price", Type: metadata.DecimalType(10, 2)},
		{Name: "id", Type: metadata.Primitive(metadata.Int64)},
	}

	update := textCommand(t, p, conn, "UPDATE products SET price = @price WHERE id = @id", params...)
	update.Parameters()[0].Value = 9.5
	update.Parameters()[1].Value = int64(7)
	mock.ExpectExec("UPDATE products SET price = $1 WHERE id = $2").
		WithArgs(9.5, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := update.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	query := textCommand(t, p, conn, "SELECT id, name FROM products WHERE price > @price", params[0])
	query.Parameters()[0].Value = 5.0
	mock.ExpectQuery("SELECT id, name FROM products WHERE price > $1").
		WithArgs(5.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "tea").AddRow(2, "coffee"))
	r, err := query.ExecuteReader(context.Background())
	require.NoError(t, err)
	cols, err := r.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	var names []string
	for r.Next() {
		var (
			id   int64
			name string
		)
		require.NoError(t, r.Scan(&id, &name))
		names = append(names, name)
	}
	require.NoError(t, r.Err())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, []string{"tea", "coffee"}, names)

	scalar := textCommand(t, p, conn, "SELECT count(*) FROM products")
	mock.ExpectQuery("SELECT count(*) FROM products").WillReturnRows(sqlmock.NewRows([]string{"count"}))
	v, err := scalar.ExecuteScalar(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v, "no rows")

	mock.ExpectQuery("SELECT count(*) FROM products").WillReturnError(errors.New("relation does not exist"))
	_, err = scalar.ExecuteScalar(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")

	s := p.QueryStats().Stats()
	assert.EqualValues(t, 1, s.TotalExecs)
	assert.EqualValues(t, 3, s.TotalQueries)
	assert.EqualValues(t, 1, s.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommandWithoutConnection(t *testing.T) {
	p, _ := newProvider(t, Options{})
	cmd := textCommand(t, p, nil, "SELECT 1")
	_, err := cmd.ExecuteScalar(context.Background())
	require.Error(t, err)

	conn, err := p.NewConnection(testDSN)
	require.NoError(t, err)
	cmd.SetConnection(conn)
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection is Closed")
}

func TestNamedArguments(t *testing.T) {
	p, mock := newProvider(t, Options{Placeholder: AtName})
	cmd := textCommand(t, p, openConn(t, p), "DELETE FROM products WHERE id = @id",
		cqt.Parameter{Name: "id", Type: metadata.Primitive(metadata.Int64)})
	cmd.Parameters()[0].Value = int64(3)
	mock.ExpectExec("DELETE FROM products WHERE id = @id").
		WithArgs(sql.Named("id", int64(3))).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputParameters(t *testing.T) {
	p, mock := newProvider(t, Options{})
	conn := openConn(t, p)
	cmd := functionCommand(t, p, "CountProducts",
		cqt.Parameter{Name: "total", Type: metadata.Primitive(metadata.Int32), Mode: metadata.ModeOut, StoreName: "total"})
	cmd.SetConnection(conn)

	mock.ExpectExec("CALL count_products(?)").
		WithArgs(outArg{value: int64(42)}).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(42), cmd.Parameters()[0].Value)

	mock.ExpectExec("CALL count_products(?)").
		WithArgs(outArg{value: nil}).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cmd.Parameters()[0].Value, "NULL outputs are nil")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputValue(t *testing.T) {
	tests := []struct {
		kind  provider.DbType
		in    any
		want  any
		fresh bool
	}{
		{provider.DbTypeBoolean, true, true, false},
		{provider.DbTypeInt16, int64(7), int16(7), false},
		{provider.DbTypeInt64, int64(7), int64(7), false},
		{provider.DbTypeDouble, 1.5, 1.5, false},
		{provider.DbTypeString, "x", "x", false},
		{provider.DbTypeBinary, []byte("b"), []byte("b"), false},
		{provider.DbTypeGuid, "g", "g", false},
		{provider.DbTypeInt32, nil, nil, true},
	}
	for _, tt := range tests {
		dest := outputDest(tt.kind)
		if !tt.fresh {
			require.NoError(t, assign(dest, tt.in), tt.kind.String())
		}
		assert.Equal(t, tt.want, outputValue(dest), tt.kind.String())
	}
}

func TestArgValue(t *testing.T) {
	assert.Equal(t, "POINT(1 2)", argValue(provider.Geography{WKT: "POINT(1 2)"}))
	assert.Equal(t, "1m0s", argValue(time.Minute))
	assert.Equal(t, 3, argValue(3))
}

func TestTransaction(t *testing.T) {
	p, mock := newProvider(t, Options{})
	conn := openConn(t, p)
	cmd := textCommand(t, p, conn, "DELETE FROM products")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM products").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectRollback()
	tx, err := conn.BeginTx(context.Background(), &provider.TxOptions{Isolation: sql.LevelSerializable})
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, tx.IsolationLevel())
	cmd.SetTransaction(tx)
	n, err := cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	require.NoError(t, tx.Rollback())

	other := openConn(t, p)
	mock.ExpectBegin()
	otx, err := other.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	cmd.SetTransaction(otx)
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another connection")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnlistTransaction(t *testing.T) {
	p, mock := newProvider(t, Options{})
	conn := openConn(t, p)
	cmd := textCommand(t, p, conn, "INSERT INTO products (name) VALUES ('tea')")

	amb := providertest.NewAmbient()
	mock.ExpectBegin()
	require.NoError(t, conn.EnlistTransaction(context.Background(), amb))
	require.NoError(t, conn.EnlistTransaction(context.Background(), amb), "enlisting twice is a no-op")
	err := conn.EnlistTransaction(context.Background(), providertest.NewAmbient())
	require.Error(t, err)

	mock.ExpectExec("INSERT INTO products (name) VALUES ('tea')").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	amb.Complete(provider.TransactionCommitted)
	require.NoError(t, mock.ExpectationsWereMet())

	aborted := providertest.NewAmbient()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO products (name) VALUES ('tea')").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectRollback()
	require.NoError(t, conn.EnlistTransaction(context.Background(), aborted))
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	aborted.Complete(provider.TransactionAborted)
	require.NoError(t, mock.ExpectationsWereMet())

	// Completed enlistments no longer route commands.
	mock.ExpectExec("INSERT INTO products (name) VALUES ('tea')").WillReturnResult(sqlmock.NewResult(3, 1))
	_, err = cmd.ExecuteNonQuery(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnlistTransactionClose(t *testing.T) {
	p, mock := newProvider(t, Options{})
	conn := openConn(t, p)

	amb := providertest.NewAmbient()
	mock.ExpectBegin()
	require.NoError(t, conn.EnlistTransaction(context.Background(), amb))
	require.NoError(t, conn.EnlistTransaction(context.Background(), nil), "unenlisted transactions stay pending")
	assert.Equal(t, 1, amb.Subscribers())

	mock.ExpectRollback()
	require.NoError(t, conn.Close())
	assert.Zero(t, amb.Subscribers(), "closing unsubscribes from the ambient transaction")
	amb.Complete(provider.TransactionCommitted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnlistCompletedWhileSubscribing(t *testing.T) {
	p, mock := newProvider(t, Options{})
	conn := openConn(t, p)

	amb := providertest.NewAmbient()
	amb.OnSubscribe = func() { amb.Complete(provider.TransactionAborted) }
	mock.ExpectBegin()
	mock.ExpectRollback()
	require.NoError(t, conn.EnlistTransaction(context.Background(), amb))
	assert.Zero(t, amb.Subscribers())
	require.NoError(t, conn.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnState(t *testing.T) {
	p, mock := newProvider(t, Options{DataSource: func(connStr string) string {
		return strings.TrimPrefix(connStr, "mock://")
	}})
	c, err := p.NewConnection(testDSN)
	require.NoError(t, err)
	conn := c.(*Conn)
	assert.Equal(t, "northwind", conn.DataSource())
	assert.Equal(t, testDSN, conn.ConnectionString())

	var changes []provider.StateChange
	unsubscribe := conn.OnStateChange(func(sc provider.StateChange) { changes = append(changes, sc) })
	require.NoError(t, conn.Open(context.Background()))
	assert.Equal(t, provider.StateOpen, conn.State())

	cmd := textCommand(t, p, conn, "SELECT 1")
	mock.ExpectQuery("SELECT 1").WillReturnError(driver.ErrBadConn)
	_, err = cmd.ExecuteScalar(context.Background())
	require.Error(t, err)
	assert.Equal(t, provider.StateBroken, conn.State())

	require.NoError(t, conn.Close())
	unsubscribe()
	assert.Equal(t, []provider.StateChange{
		{From: provider.StateClosed, To: provider.StateOpen},
		{From: provider.StateOpen, To: provider.StateBroken},
		{From: provider.StateBroken, To: provider.StateClosed},
	}, changes)

	_, err = p.NewConnection("")
	require.Error(t, err)
}

func TestGetManifestToken(t *testing.T) {
	p, mock := newProvider(t, Options{
		VersionQuery:  "SELECT version()",
		ManifestToken: func(v string) string { return strings.SplitN(v, ".", 2)[0] },
	})
	conn, err := p.NewConnection(testDSN)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT version()").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("16.2"))
	token, err := p.GetManifestToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "16", token)
	require.NoError(t, mock.ExpectationsWereMet())

	p, _ = newProvider(t, Options{})
	_, err = p.GetManifestToken(context.Background(), conn)
	require.Error(t, err)
}

func TestGetManifest(t *testing.T) {
	calls := 0
	p, _ := newProvider(t, Options{Manifest: func(token string) (provider.Manifest, error) {
		calls++
		return testManifest("mock")(token)
	}})
	m1, err := p.GetManifest("1")
	require.NoError(t, err)
	m2, err := p.GetManifest("1")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, calls)

	st, err := m1.StoreType(metadata.StringType(50, true, false))
	require.NoError(t, err)
	assert.Equal(t, "varchar(50)", st)
	_, err = m1.StoreType(metadata.Primitive(metadata.Geometry))
	require.Error(t, err)
}

func TestCreateDatabaseScript(t *testing.T) {
	p, _ := newProvider(t, Options{Planner: sqlite.DefaultPlan})
	store := providertest.Workspace("mock", "1").StoreSchema()
	script, err := p.CreateDatabaseScript("1", store)
	require.NoError(t, err)
	assert.Contains(t, script, "CREATE TABLE")
	assert.Contains(t, script, "products")
	assert.True(t, strings.HasSuffix(script, ";"))
}

func TestTables(t *testing.T) {
	p, _ := newProvider(t, Options{})
	m, err := p.GetManifest("1")
	require.NoError(t, err)
	tables, err := Tables(m, providertest.Workspace("mock", "1").StoreSchema())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	products := tables[0]
	assert.Equal(t, "products", products.Name)
	require.NotNil(t, products.PrimaryKey)
	id, ok := products.Column("id")
	require.True(t, ok)
	assert.False(t, id.Type.Null)
	price, ok := products.Column("price")
	require.True(t, ok)
	assert.True(t, price.Type.Null)
}

func TestSplitType(t *testing.T) {
	tests := map[string]struct {
		base string
		size int
	}{
		"varchar(50)":    {"varchar", 50},
		"text":           {"text", 0},
		"decimal(10, 2)": {"decimal", 0},
		"datetime2 (7)":  {"datetime2", 7},
	}
	for in, want := range tests {
		base, size := splitType(in)
		assert.Equal(t, want.base, base, in)
		assert.Equal(t, want.size, size, in)
	}
}

func TestNotSupported(t *testing.T) {
	p, _ := newProvider(t, Options{})
	conn, err := p.NewConnection(testDSN)
	require.NoError(t, err)
	store := providertest.Workspace("mock", "1").StoreSchema()

	_, err = p.CreateDatabaseScript("1", store)
	assert.True(t, veloxdb.IsNotSupported(err))
	assert.True(t, veloxdb.IsNotSupported(p.CreateDatabase(context.Background(), conn, store)))
	_, err = p.DatabaseExists(context.Background(), conn, store)
	assert.True(t, veloxdb.IsNotSupported(err))
	assert.True(t, veloxdb.IsNotSupported(p.DeleteDatabase(context.Background(), conn, store)))
	_, err = p.SpatialServices("1")
	assert.True(t, veloxdb.IsNotSupported(err))
	assert.Nil(t, p.ExecutionStrategy(testDSN))
}

func TestExecutionStrategy(t *testing.T) {
	p, _ := newProvider(t, Options{Transient: func(err error) bool { return err.Error() == "custom busy" }},
		WithRetry(3, time.Millisecond, 2*time.Millisecond))
	factory := p.ExecutionStrategy(testDSN)
	require.NotNil(t, factory)
	s := factory()
	require.NotNil(t, s)
	assert.True(t, s.RetriesOnFailure())
	assert.True(t, p.IsTransient(errors.New("custom busy")))
	assert.True(t, p.IsTransient(driver.ErrBadConn))
	assert.False(t, p.IsTransient(errors.New("syntax error")))
	assert.False(t, p.IsTransient(nil))
}

func TestProviderClose(t *testing.T) {
	p, mock := newProvider(t, Options{})
	_, err := p.db(testDSN)
	require.NoError(t, err)
	mock.ExpectClose()
	require.NoError(t, p.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
