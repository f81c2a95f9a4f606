package entityclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/entityclient"
)

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want entityclient.ConnectionString
	}{
		{
			name: "Full",
			in:   `metadata=res://*/a.csdl|res://*/a.ssdl;provider=sqlite;provider connection string="file:a.db;cache=shared"`,
			want: entityclient.ConnectionString{
				Metadata:                 "res://*/a.csdl|res://*/a.ssdl",
				Provider:                 "sqlite",
				ProviderConnectionString: "file:a.db;cache=shared",
			},
		},
		{
			name: "KeywordsFoldCaseAndSpace",
			in:   `METADATA = m ; Provider=pg;  Provider   Connection  String = 'host=x'`,
			want: entityclient.ConnectionString{Metadata: "m", Provider: "pg", ProviderConnectionString: "host=x"},
		},
		{
			name: "DoubledQuotes",
			in:   `provider connection string='a''b';provider="x""y"`,
			want: entityclient.ConnectionString{Provider: `x"y`, ProviderConnectionString: "a'b"},
		},
		{
			name: "LastWins",
			in:   "provider=a;provider=b",
			want: entityclient.ConnectionString{Provider: "b"},
		},
		{
			name: "EmptyValuesIgnored",
			in:   "provider=;metadata=m;;",
			want: entityclient.ConnectionString{Metadata: "m"},
		},
		{
			name: "Name",
			in:   "name=Northwind",
			want: entityclient.ConnectionString{Name: "Northwind"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := entityclient.ParseConnectionString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConnectionString_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"UnknownKeyword":  "server=x",
		"MissingEquals":   "provider",
		"Unterminated":    `provider="sqlite`,
		"TrailingGarbage": `provider="sqlite" x`,
		"NameWithOthers":  "name=a;provider=sqlite",
		"EmptyKeyword":    "=x",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := entityclient.ParseConnectionString(in)
			require.Error(t, err)
			assert.True(t, veloxdb.IsInvalidOperation(err))
		})
	}
}

func TestConnectionString_String(t *testing.T) {
	cs := entityclient.ConnectionString{
		Metadata:                 "res://*/a.csdl",
		Provider:                 "sqlite",
		ProviderConnectionString: `file:"a".db;mode=ro`,
	}
	s := cs.String()
	assert.Equal(t, `metadata=res://*/a.csdl;provider=sqlite;provider connection string="file:""a"".db;mode=ro"`, s)
	back, err := entityclient.ParseConnectionString(s)
	require.NoError(t, err)
	assert.Equal(t, cs, back)

	assert.Equal(t, "name=x", entityclient.ConnectionString{Name: "x", Provider: "ignored"}.String())
}

func TestConnectionString_Resolve(t *testing.T) {
	named := entityclient.NamedConnectionsMap{
		"Northwind": "metadata=m;provider=sqlite",
		"Loop":      "name=Northwind",
		"Broken":    "provider",
	}
	cs, err := entityclient.ParseConnectionString("name=Northwind")
	require.NoError(t, err)
	got, err := cs.Resolve(named)
	require.NoError(t, err)
	assert.Equal(t, entityclient.ConnectionString{Metadata: "m", Provider: "sqlite"}, got)

	plain := entityclient.ConnectionString{Provider: "sqlite"}
	got, err = plain.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	for _, name := range []string{"Loop", "Missing", "Broken"} {
		_, err := entityclient.ConnectionString{Name: name}.Resolve(named)
		assert.True(t, veloxdb.IsInvalidOperation(err), name)
	}
	_, err = entityclient.ConnectionString{Name: "Northwind"}.Resolve(nil)
	assert.True(t, veloxdb.IsInvalidOperation(err))
}
