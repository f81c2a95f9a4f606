// Package veloxdb is the provider-agnostic command and connection core of Velox.
//
// It compiles store-space command trees into executable, provider-specific commands,
// caches the compiled definitions and coordinates the connection and transaction
// lifecycle across the provider boundary.
//
// # Packages
//
//   - metadata: model types, facets, type usages and the metadata workspace
//   - cqt: immutable command trees
//   - provider: the provider contract, parameter facet mapping and execution strategies
//   - querycache: the compiled-definition cache
//   - entityclient: connections, transactions and commands
//   - dialect/sql: the database/sql based provider
//   - dialect/sqlite, dialect/postgres, dialect/mysql, dialect/mssql: backends
//   - config: settings loaded from YAML and VELOXDB_ environment variables
//
// # Errors
//
// Every failure returned by the core falls into one of three categories:
//
//	veloxdb.IsInvalidOperation(err)     // caller violated a precondition
//	veloxdb.IsProviderIncompatible(err) // a backend violated the provider contract
//	veloxdb.IsStoreError(err)           // the physical store failed; may be transient
//
// The provider error is always reachable with errors.Unwrap.
package veloxdb
