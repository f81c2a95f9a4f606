package mysql

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb/dialect"
	"github.com/syssam/veloxdb/internal/providertest"
	"github.com/syssam/veloxdb/metadata"
)

func TestToken(t *testing.T) {
	tests := map[string]string{
		"8.0.36":          Token8,
		"9.1.0":           Token8,
		"5.7.44-log":      Token57,
		"10.11.6-MariaDB": Token57,
	}
	for in, want := range tests {
		assert.Equal(t, want, Token(in), in)
	}
}

func TestManifest(t *testing.T) {
	m8, err := Manifest(Token8)
	require.NoError(t, err)
	m57, err := Manifest(Token57)
	require.NoError(t, err)

	st, err := m8.StoreType(metadata.Primitive(metadata.DateTime))
	require.NoError(t, err)
	assert.Equal(t, "datetime(6)", st)
	st, err = m57.StoreType(metadata.Primitive(metadata.DateTime))
	require.NoError(t, err)
	assert.Equal(t, "datetime", st)

	tests := []struct {
		tu   *metadata.TypeUsage
		want string
	}{
		{metadata.Primitive(metadata.Boolean), "bool"},
		{metadata.Primitive(metadata.Byte), "tinyint unsigned"},
		{metadata.DecimalType(10, 2), "decimal(10,2)"},
		{metadata.StringType(200, true, false), "varchar(200)"},
		{metadata.StringType(2, true, true), "char(2)"},
		{metadata.StringType(-1, true, false), "longtext"},
		{metadata.Primitive(metadata.Binary), "longblob"},
		{metadata.Primitive(metadata.Guid), "char(36)"},
	}
	for _, tt := range tests {
		got, err := m8.StoreType(tt.tu)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err = Manifest("5.6")
	require.Error(t, err)
}

func TestDataSource(t *testing.T) {
	assert.Equal(t, "db:3306/northwind", DataSource("app:secret@tcp(db:3306)/northwind?parseTime=true"))
	assert.Equal(t, "not a dsn", DataSource("not a dsn"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.True(t, isTransient(fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1205})))
	assert.False(t, isTransient(&mysql.MySQLError{Number: 1062}))
	assert.True(t, isTransient(mysql.ErrInvalidConn))
}

func TestCreateDatabaseScript(t *testing.T) {
	p := New()
	script, err := p.CreateDatabaseScript(Token8, providertest.Workspace(dialect.MySQL, Token8).StoreSchema())
	require.NoError(t, err)
	assert.Contains(t, script, "CREATE TABLE")
	assert.Contains(t, script, "`products`")
}
