package entityclient

import (
	"context"
	"log/slog"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/provider"
)

// CreateDatabaseScript returns the script that creates the store schema of the
// connection's metadata.
func (c *Connection) CreateDatabaseScript(ctx context.Context) (string, error) {
	ws, err := c.Workspace(ctx)
	if err != nil {
		return "", err
	}
	return c.Services().CreateDatabaseScript(ws.StoreSchema().ProviderManifestToken, ws.StoreSchema())
}

// CreateDatabase creates the store described by the connection's metadata. The
// connection must be closed.
func (c *Connection) CreateDatabase(ctx context.Context) error {
	store, err := c.ddlStore(ctx, "create database")
	if err != nil {
		return err
	}
	ws, _ := c.Workspace(ctx)
	if err := c.Services().CreateDatabase(ctx, store, ws.StoreSchema()); err != nil {
		return err
	}
	c.logger.Info("database created", slog.String("data_source", store.DataSource()))
	return nil
}

// DatabaseExists reports whether the store described by the connection's metadata
// exists.
func (c *Connection) DatabaseExists(ctx context.Context) (bool, error) {
	store, err := c.ddlStore(ctx, "database exists")
	if err != nil {
		return false, err
	}
	ws, _ := c.Workspace(ctx)
	return c.Services().DatabaseExists(ctx, store, ws.StoreSchema())
}

// DeleteDatabase deletes the store described by the connection's metadata. The
// connection must be closed.
func (c *Connection) DeleteDatabase(ctx context.Context) error {
	store, err := c.ddlStore(ctx, "delete database")
	if err != nil {
		return err
	}
	ws, _ := c.Workspace(ctx)
	if err := c.Services().DeleteDatabase(ctx, store, ws.StoreSchema()); err != nil {
		return err
	}
	c.logger.Info("database deleted", slog.String("data_source", store.DataSource()))
	return nil
}

func (c *Connection) ddlStore(ctx context.Context, op string) (provider.DbConnection, error) {
	store, err := c.requireStore(op)
	if err != nil {
		return nil, err
	}
	if c.State() != provider.StateClosed {
		return nil, veloxdb.NewInvalidOperationError(op, "the connection must be closed")
	}
	if _, err := c.Workspace(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
