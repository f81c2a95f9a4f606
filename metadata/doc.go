// Package metadata describes model types and the workspaces they live in.
//
// A TypeUsage pairs an EdmType with facets such as MaxLength or Precision. Type usages
// are immutable and shared between commands, parameters and store columns.
//
// A Workspace holds the conceptual model (CSDL), the store model (SSDL) and the mapping
// between them (MSL). Workspaces are loaded from files, directories or resources embedded
// in assemblies:
//
//	ws, err := metadata.LoadWorkspace(ctx, "res://*/northwind.csdl|res://*/northwind.ssdl|res://*/northwind.msl", resolver)
//	if err != nil {
//		return err
//	}
//	fi, ok := ws.FunctionImport("NorthwindEntities.GetProducts")
package metadata
