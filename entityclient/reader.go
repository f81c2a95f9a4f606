package entityclient

import (
	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/provider"
)

// DataReader reads the results of a command. The command cannot be changed or
// executed again until the reader is closed.
type DataReader struct {
	cmd    *Command
	store  provider.DbCommand
	reader provider.DataReader
	closed bool
}

// Columns returns the column names of the current result set.
func (r *DataReader) Columns() ([]string, error) {
	cols, err := r.reader.Columns()
	return cols, veloxdb.NewStoreError("read", err)
}

// Next advances to the next row.
func (r *DataReader) Next() bool { return !r.closed && r.reader.Next() }

// Scan copies the current row into dest.
func (r *DataReader) Scan(dest ...any) error {
	return veloxdb.NewStoreError("read", r.reader.Scan(dest...))
}

// NextResultSet advances to the next result set.
func (r *DataReader) NextResultSet() bool { return !r.closed && r.reader.NextResultSet() }

// Err returns the error met while iterating.
func (r *DataReader) Err() error { return veloxdb.NewStoreError("read", r.reader.Err()) }

// Close closes the reader and copies output parameters back to the command. Closing
// twice does nothing.
func (r *DataReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.reader.Close()
	r.cmd.readerOpen = false
	r.cmd.copyOutputs(r.store)
	return veloxdb.NewStoreError("close reader", err)
}
