package sql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ariga.io/atlas/sql/schema"

	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// DatabaseManager creates, probes and drops the database a connection string
// designates.
type DatabaseManager interface {
	Create(ctx context.Context, driverName, connStr string, stmts []string) error
	Exists(ctx context.Context, connStr string) (bool, error)
	Delete(ctx context.Context, connStr string) error
}

// CreateDatabaseScript implements provider.DDLProvider. Statements are separated by
// ";\n".
func (p *Provider) CreateDatabaseScript(token string, store *metadata.StoreSchema) (string, error) {
	stmts, err := p.createStatements(context.Background(), token, store)
	if err != nil || len(stmts) == 0 {
		return "", err
	}
	return strings.Join(stmts, ";\n") + ";", nil
}

// CreateDatabase implements provider.DDLProvider. The database is created and the
// store tables are created in it.
func (p *Provider) CreateDatabase(ctx context.Context, conn provider.DbConnection, store *metadata.StoreSchema) error {
	if p.opts.Database == nil {
		return provider.NotSupported(provider.OpCreateDatabase)
	}
	stmts, err := p.createStatements(ctx, store.ProviderManifestToken, store)
	if err != nil {
		return err
	}
	if err := p.opts.Database.Create(ctx, p.opts.DriverName, conn.ConnectionString(), stmts); err != nil {
		return fmt.Errorf("dialect/sql: create database: %w", err)
	}
	p.logger.Info("database created", "data_source", conn.DataSource(), "tables", len(store.Tables))
	return nil
}

// DatabaseExists implements provider.DDLProvider.
func (p *Provider) DatabaseExists(ctx context.Context, conn provider.DbConnection, _ *metadata.StoreSchema) (bool, error) {
	if p.opts.Database == nil {
		return false, provider.NotSupported(provider.OpDatabaseExists)
	}
	return p.opts.Database.Exists(ctx, conn.ConnectionString())
}

// DeleteDatabase implements provider.DDLProvider. The pool of the connection string
// is closed first.
func (p *Provider) DeleteDatabase(ctx context.Context, conn provider.DbConnection, _ *metadata.StoreSchema) error {
	if p.opts.Database == nil {
		return provider.NotSupported(provider.OpDeleteDatabase)
	}
	if err := p.closePool(conn.ConnectionString()); err != nil {
		return fmt.Errorf("dialect/sql: close pool: %w", err)
	}
	if err := p.opts.Database.Delete(ctx, conn.ConnectionString()); err != nil {
		return fmt.Errorf("dialect/sql: delete database: %w", err)
	}
	p.logger.Info("database deleted", "data_source", conn.DataSource())
	return nil
}

// createStatements plans the creation of every store table.
func (p *Provider) createStatements(ctx context.Context, token string, store *metadata.StoreSchema) ([]string, error) {
	if p.opts.Planner == nil {
		return nil, provider.NotSupported(provider.OpCreateDatabaseScript)
	}
	m, err := p.GetManifest(token)
	if err != nil {
		return nil, err
	}
	tables, err := Tables(m, store)
	if err != nil {
		return nil, err
	}
	changes := make([]schema.Change, len(tables))
	for i, t := range tables {
		changes[i] = &schema.AddTable{T: t}
	}
	plan, err := p.opts.Planner.PlanChanges(ctx, "create_"+store.Namespace, changes)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: plan database creation: %w", err)
	}
	stmts := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}

// Tables converts the store tables into atlas tables typed by m.
func Tables(m provider.Manifest, store *metadata.StoreSchema) ([]*schema.Table, error) {
	schemas := make(map[string]*schema.Schema)
	tables := make([]*schema.Table, 0, len(store.Tables))
	for _, st := range store.Tables {
		s, ok := schemas[st.Schema]
		if !ok {
			s = schema.New(st.Schema)
			schemas[st.Schema] = s
		}
		t := schema.NewTable(st.Name)
		for _, sc := range st.Columns {
			c, err := column(m, sc)
			if err != nil {
				return nil, fmt.Errorf("dialect/sql: table %s: %w", st.Name, err)
			}
			t.AddColumns(c)
		}
		if len(st.PrimaryKey) > 0 {
			parts := make([]*schema.Column, len(st.PrimaryKey))
			for i, name := range st.PrimaryKey {
				c, ok := t.Column(name)
				if !ok {
					return nil, fmt.Errorf("dialect/sql: table %s: primary key column %q does not exist", st.Name, name)
				}
				c.Type.Null = false
				parts[i] = c
			}
			t.SetPrimaryKey(schema.NewPrimaryKey(parts...))
		}
		s.AddTables(t)
		tables = append(tables, t)
	}
	return tables, nil
}

func column(m provider.Manifest, sc *metadata.Column) (*schema.Column, error) {
	storeType, err := m.StoreType(sc.Type)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", sc.Name, err)
	}
	kind, _ := sc.Type.PrimitiveKind()
	return &schema.Column{
		Name: sc.Name,
		Type: &schema.ColumnType{
			Type: columnType(storeType, kind, sc.Type),
			Raw:  storeType,
			Null: sc.Type.IsNullable(),
		},
	}, nil
}

// columnType returns the atlas type of a column whose store type is storeType.
func columnType(storeType string, kind metadata.PrimitiveKind, tu *metadata.TypeUsage) schema.Type {
	base, size := splitType(storeType)
	switch kind {
	case metadata.Boolean:
		return &schema.BoolType{T: storeType}
	case metadata.Byte, metadata.SByte, metadata.Int16, metadata.Int32, metadata.Int64:
		return &schema.IntegerType{T: storeType}
	case metadata.Decimal:
		precision, _ := tu.Precision()
		scale, _ := tu.Scale()
		return &schema.DecimalType{T: base, Precision: int(precision), Scale: int(scale)}
	case metadata.Single, metadata.Double:
		return &schema.FloatType{T: storeType}
	case metadata.String:
		return &schema.StringType{T: base, Size: size}
	case metadata.Binary:
		t := &schema.BinaryType{T: base}
		if size > 0 {
			t.Size = &size
		}
		return t
	case metadata.DateTime, metadata.DateTimeOffset, metadata.Time:
		t := &schema.TimeType{T: base}
		if size > 0 {
			t.Precision = &size
		}
		return t
	case metadata.Guid:
		if base == "uuid" || base == "uniqueidentifier" {
			return &schema.UUIDType{T: base}
		}
		return &schema.StringType{T: base, Size: size}
	case metadata.Geography, metadata.Geometry:
		return &schema.SpatialType{T: storeType}
	default:
		return &schema.UnsupportedType{T: storeType}
	}
}

// splitType splits "varchar(50)" into "varchar" and 50. Types with several arguments
// or none report a zero size.
func splitType(t string) (string, int) {
	open := strings.IndexByte(t, '(')
	if open < 0 || !strings.HasSuffix(t, ")") {
		return t, 0
	}
	base := strings.TrimSpace(t[:open])
	n, err := strconv.Atoi(strings.TrimSpace(t[open+1 : len(t)-1]))
	if err != nil {
		return base, 0
	}
	return base, n
}
