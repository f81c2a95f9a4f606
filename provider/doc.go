// Package provider defines the contract between the data-access core and storage
// backends.
//
// A backend implements Services and, optionally, SpatialProvider, DDLProvider,
// StrategyProvider and TransientClassifier. The core never calls a backend directly;
// it goes through a Guard, which validates inputs and reports every provider failure
// as a *veloxdb.ProviderIncompatibleError that keeps the original error as its cause.
//
// Providers are registered by invariant name in a Registry:
//
//	reg := provider.NewRegistry()
//	sqlite.Register(reg)
//	services, err := reg.Services("sqlite")
//
// The Registry also memoizes derived singletons, such as spatial services per manifest
// token and execution strategy factories per data source.
//
// MapParameter stamps provider parameters with the data kind, size, precision and
// scale derived from a model type usage.
package provider
