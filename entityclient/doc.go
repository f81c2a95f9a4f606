// Package entityclient is the client surface of veloxdb: logical connections that
// coordinate a provider's physical connection and transactions, and commands that are
// compiled once per shape and executed through the provider.
//
//	conn, err := entityclient.NewConnection(
//		`metadata=res://*/northwind.csdl|res://*/northwind.ssdl|res://*/northwind.msl;`+
//			`provider=sqlite;provider connection string="file:northwind.db"`,
//		entityclient.WithRegistry(reg),
//		entityclient.WithAssemblyResolver(assemblies),
//	)
//	if err != nil {
//		return err
//	}
//	defer conn.Dispose()
//	if err := conn.Open(ctx); err != nil {
//		return err
//	}
//	cmd := conn.CreateCommand("SELECT name FROM products WHERE id = @id")
//	cmd.Parameters().AddWithValue("id", int64(1))
//	name, err := cmd.ExecuteScalar(ctx)
package entityclient
