package sql

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

const testDSN = "mock://northwind"

func testManifest(invariant string) func(string) (provider.Manifest, error) {
	return func(token string) (provider.Manifest, error) {
		return NewManifest(invariant, token, func(kind metadata.PrimitiveKind, tu *metadata.TypeUsage) (string, bool) {
			switch kind {
			case metadata.Int32, metadata.Int64:
				return "integer", true
			case metadata.String:
				if n, ok := MaxLength(tu, 0); ok {
					return "varchar(" + strconv.Itoa(n) + ")", true
				}
				return "text", true
			case metadata.Decimal:
				return "decimal", true
			case metadata.DateTime:
				return "datetime", true
			}
			return "", false
		}), nil
	}
}

// newProvider returns a provider whose pools are all served by one sqlmock database.
func newProvider(t *testing.T, opts Options, options ...Option) (*Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if opts.InvariantName == "" {
		opts.InvariantName = "mock"
	}
	if opts.Manifest == nil {
		opts.Manifest = testManifest(opts.InvariantName)
	}
	open := WithOpener(func(string, string) (*sql.DB, error) { return db, nil })
	return New(opts, append([]Option{open}, options...)...), mock
}

func openConn(t *testing.T, p *Provider) *Conn {
	t.Helper()
	conn, err := p.NewConnection(testDSN)
	require.NoError(t, err)
	require.NoError(t, conn.Open(context.Background()))
	return conn.(*Conn)
}

// textCommand compiles text with the given parameters and binds it to conn.
func textCommand(t *testing.T, p *Provider, conn *Conn, text string, params ...cqt.Parameter) *Command {
	t.Helper()
	tree, err := cqt.NewQueryCommandTree("ws", metadata.StoreSpace, cqt.NewStoreText(text), params...)
	require.NoError(t, err)
	m, err := p.GetManifest("1")
	require.NoError(t, err)
	def, err := p.CreateCommandDefinition(context.Background(), m, tree)
	require.NoError(t, err)
	cmd := def.CreateCommand().(*Command)
	cmd.SetConnection(conn)
	return cmd
}

func TestWithVars(t *testing.T) {
	p, mock := newProvider(t, Options{InvariantName: dialect.Postgres, Placeholder: Dollar})
	conn := openConn(t, p)
	cmd := textCommand(t, p, conn, "SELECT 1")

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	r, err := cmd.ExecuteReader(WithVar(context.Background(), "foo", "bar"))
	require.NoError(t, err)
	require.NoError(t, r.Close(), "closing the reader resets the session")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	v, err := cmd.ExecuteScalar(WithVar(WithVar(context.Background(), "foo", "bar"), "foo", "baz"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	require.NoError(t, mock.ExpectationsWereMet())

	// Transactions end the session scope, so nothing is reset.
	mock.ExpectBegin()
	mock.ExpectExec("SET foo = 'qux'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	tx, err := conn.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	cmd.SetTransaction(tx)
	_, err = cmd.ExecuteNonQuery(WithVar(context.Background(), "foo", "qux"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVarFromContext(t *testing.T) {
	ctx := WithIntVar(WithVar(context.Background(), "a", "1"), "a", 2)
	v, ok := VarFromContext(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = VarFromContext(ctx, "b")
	assert.False(t, ok)

	// Deriving contexts does not leak variables into siblings.
	base := WithVar(context.Background(), "x", "1")
	left := WithVar(base, "y", "left")
	_ = WithVar(base, "y", "right")
	v, _ = VarFromContext(left, "y")
	assert.Equal(t, "left", v)
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foo", true},
		{"valid_with_underscore", "foo_bar", true},
		{"valid_with_number", "foo123", true},
		{"valid_with_dot", "schema.table", true},
		{"valid_starting_underscore", "_private", true},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_space", "foo bar", false},
		{"invalid_with_quote", "foo'bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_with_dash", "foo-bar", false},
		{"invalid_too_long", string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no_escaping_needed", "hello", "hello"},
		{"single_quote", "it's", "it''s"},
		{"backslash", `path\to\file`, `path\\to\\file`},
		{"both_quote_and_backslash", `it's a \test`, `it''s a \\test`},
		{"empty_string", "", ""},
		{"sql_injection_attempt", "'; DROP TABLE users; --", "''; DROP TABLE users; --"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeStringValue(tt.input))
		})
	}
}

func TestWithVarsInvalidIdentifier(t *testing.T) {
	p, mock := newProvider(t, Options{InvariantName: dialect.Postgres, Placeholder: Dollar})
	cmd := textCommand(t, p, openConn(t, p), "SELECT 1")
	_, err := cmd.ExecuteScalar(WithVar(context.Background(), "foo; DROP TABLE users; --", "bar"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session variable name")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVarsEscapedValue(t *testing.T) {
	p, mock := newProvider(t, Options{InvariantName: dialect.MySQL})
	cmd := textCommand(t, p, openConn(t, p), "DELETE FROM t")
	mock.ExpectExec("SET foo = 'it''s escaped'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("SET foo = NULL").WillReturnResult(sqlmock.NewResult(0, 0))
	n, err := cmd.ExecuteNonQuery(WithVar(context.Background(), "foo", "it's escaped"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
