package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syssam/veloxdb/provider"
)

// Command implements provider.DbCommand. Commands are created from compiled
// definitions; each definition clone owns its parameters.
type Command struct {
	p      *Provider
	text   string
	params []*provider.DbParameter
	args   []int // parameter index of each bind argument
	conn   *Conn
	tx     *Tx
}

func cloneCommand(c provider.DbCommand) provider.DbCommand {
	src := c.(*Command)
	dst := &Command{p: src.p, text: src.text, args: src.args, params: make([]*provider.DbParameter, len(src.params))}
	for i, dp := range src.params {
		dst.params[i] = dp.Clone()
	}
	return dst
}

// Text implements provider.DbCommand.
func (c *Command) Text() string { return c.text }

// Parameters implements provider.DbCommand. Values set on the returned parameters are
// bound on execution.
func (c *Command) Parameters() []*provider.DbParameter { return c.params }

// SetConnection implements provider.DbCommand. Connections of other providers are
// rejected when the command executes.
func (c *Command) SetConnection(conn provider.DbConnection) {
	c.conn, _ = conn.(*Conn)
}

// SetTransaction implements provider.DbCommand.
func (c *Command) SetTransaction(tx provider.DbTransaction) {
	c.tx, _ = tx.(*Tx)
}

// ExecuteNonQuery implements provider.DbCommand.
func (c *Command) ExecuteNonQuery(ctx context.Context) (int64, error) {
	var n int64
	err := c.run(ctx, false, func(ctx context.Context, ex ExecQuerier, args []any) error {
		res, err := ex.ExecContext(ctx, c.text, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return n, nil
}

// ExecuteScalar implements provider.DbCommand. It returns the first column of the
// first row, or nil when the command returns no rows.
func (c *Command) ExecuteScalar(ctx context.Context) (any, error) {
	var v any
	err := c.run(ctx, true, func(ctx context.Context, ex ExecQuerier, args []any) (rerr error) {
		rows, err := ex.QueryContext(ctx, c.text, args...)
		if err != nil {
			return err
		}
		defer func() { rerr = errors.Join(rerr, rows.Close()) }()
		if rows.Next() {
			if err := rows.Scan(&v); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return v, nil
}

// ExecuteReader implements provider.DbCommand. Output parameters are available once
// the reader is closed.
func (c *Command) ExecuteReader(ctx context.Context) (provider.DataReader, error) {
	ex, err := c.execer()
	if err != nil {
		return nil, err
	}
	args, outs, err := c.bind()
	if err != nil {
		return nil, err
	}
	reset, err := setVars(ctx, ex, c.p.opts.Dialect)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	start := time.Now()
	rows, err := ex.QueryContext(ctx, c.text, args...)
	c.p.record(ctx, c.text, args, start, err, true)
	if err != nil {
		if reset != nil {
			err = errors.Join(err, reset())
		}
		c.conn.observe(err)
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return &Reader{rows: rows, reset: reset, done: func() { copyOutputs(outs) }}, nil
}

// run binds the parameters, executes fn where the command belongs and copies output
// values back on success.
func (c *Command) run(ctx context.Context, isQuery bool, fn func(context.Context, ExecQuerier, []any) error) (rerr error) {
	ex, err := c.execer()
	if err != nil {
		return err
	}
	args, outs, err := c.bind()
	if err != nil {
		return err
	}
	reset, err := setVars(ctx, ex, c.p.opts.Dialect)
	if err != nil {
		return fmt.Errorf("set session vars: %w", err)
	}
	if reset != nil {
		defer func() { rerr = errors.Join(rerr, reset()) }()
	}
	start := time.Now()
	err = fn(ctx, ex, args)
	c.p.record(ctx, c.text, args, start, err, isQuery)
	if err != nil {
		c.conn.observe(err)
		return err
	}
	copyOutputs(outs)
	return nil
}

func (c *Command) execer() (ExecQuerier, error) {
	if c.conn == nil {
		return nil, errors.New("dialect/sql: command has no connection of this provider")
	}
	return c.conn.execer(c.tx)
}

// output is an output parameter and the destination its value is scanned into.
type output struct {
	param *provider.DbParameter
	dest  any
}

// bind returns the driver arguments of the command. Output parameters are bound with
// sql.Out; AtName dialects bind every argument by name.
func (c *Command) bind() ([]any, []output, error) {
	var (
		args = make([]any, len(c.args))
		outs []output
	)
	for i, idx := range c.args {
		dp := c.params[idx]
		v := argValue(dp.Value)
		if dp.Direction.IsOutput() {
			dest := outputDest(dp.DbType)
			if dp.Direction == provider.InputOutput && v != nil {
				if err := assign(dest, v); err != nil {
					return nil, nil, fmt.Errorf("dialect/sql: parameter %q: %w", dp.Name, err)
				}
			}
			outs = append(outs, output{param: dp, dest: dest})
			v = sql.Out{Dest: dest, In: dp.Direction == provider.InputOutput}
		}
		if c.p.opts.Placeholder == AtName {
			v = sql.Named(dp.Name, v)
		}
		args[i] = v
	}
	return args, outs, nil
}

// argValue converts values the database/sql default converter does not accept.
func argValue(v any) any {
	switch v := v.(type) {
	case provider.Geography:
		return v.WKT
	case provider.Geometry:
		return v.WKT
	case time.Duration:
		return v.String()
	default:
		return v
	}
}

// outputDest returns a scan destination suited to an output parameter of kind t.
func outputDest(t provider.DbType) any {
	switch t {
	case provider.DbTypeBoolean:
		return new(sql.NullBool)
	case provider.DbTypeByte:
		return new(sql.NullByte)
	case provider.DbTypeSByte, provider.DbTypeInt16:
		return new(sql.NullInt16)
	case provider.DbTypeInt32:
		return new(sql.NullInt32)
	case provider.DbTypeInt64:
		return new(sql.NullInt64)
	case provider.DbTypeSingle, provider.DbTypeDouble:
		return new(sql.NullFloat64)
	case provider.DbTypeString, provider.DbTypeAnsiString, provider.DbTypeStringFixedLength, provider.DbTypeAnsiStringFixedLength:
		return new(sql.NullString)
	case provider.DbTypeDateTime, provider.DbTypeDateTimeOffset:
		return new(sql.NullTime)
	case provider.DbTypeBinary:
		return new([]byte)
	default:
		return new(any)
	}
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case sql.Scanner:
		return d.Scan(v)
	case *[]byte:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("cannot assign %T to a binary parameter", v)
		}
		*d = b
	case *any:
		*d = v
	}
	return nil
}

// copyOutputs stores the scanned output values into their parameters.
func copyOutputs(outs []output) {
	for _, o := range outs {
		o.param.Value = outputValue(o.dest)
	}
}

func outputValue(dest any) any {
	switch d := dest.(type) {
	case *sql.NullBool:
		return nullable(d.Valid, d.Bool)
	case *sql.NullByte:
		return nullable(d.Valid, d.Byte)
	case *sql.NullInt16:
		return nullable(d.Valid, d.Int16)
	case *sql.NullInt32:
		return nullable(d.Valid, d.Int32)
	case *sql.NullInt64:
		return nullable(d.Valid, d.Int64)
	case *sql.NullFloat64:
		return nullable(d.Valid, d.Float64)
	case *sql.NullString:
		return nullable(d.Valid, d.String)
	case *sql.NullTime:
		return nullable(d.Valid, d.Time)
	case *[]byte:
		if *d == nil {
			return nil
		}
		return *d
	case *any:
		return *d
	default:
		return nil
	}
}

func nullable[T any](valid bool, v T) any {
	if !valid {
		return nil
	}
	return v
}

// Reader implements provider.DataReader over *sql.Rows.
type Reader struct {
	rows   *sql.Rows
	reset  func() error
	done   func()
	closed bool
}

// Columns implements provider.DataReader.
func (r *Reader) Columns() ([]string, error) { return r.rows.Columns() }

// Next implements provider.DataReader.
func (r *Reader) Next() bool { return r.rows.Next() }

// Scan implements provider.DataReader.
func (r *Reader) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// NextResultSet implements provider.DataReader.
func (r *Reader) NextResultSet() bool { return r.rows.NextResultSet() }

// Err implements provider.DataReader.
func (r *Reader) Err() error { return r.rows.Err() }

// Close closes the rows, restores session variables and publishes output values.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	if r.reset != nil {
		err = errors.Join(err, r.reset())
	}
	if err == nil {
		r.done()
	}
	return err
}

var (
	_ provider.DbCommand  = (*Command)(nil)
	_ provider.DataReader = (*Reader)(nil)
)
