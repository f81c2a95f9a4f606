package metadata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/syssam/veloxdb"
)

// ResourceScheme prefixes metadata paths that address resources embedded in assemblies:
// res://<assembly>/<resource>.
const ResourceScheme = "res://"

// WildcardAssembly selects every assembly known to the resolver.
const WildcardAssembly = "*"

// Assembly is a named bundle of embedded metadata resources.
type Assembly interface {
	Name() string
	FS() fs.FS
}

// AssemblyResolver locates assemblies for res:// metadata paths.
type AssemblyResolver interface {
	// ResolveAssembly returns the named assembly.
	ResolveAssembly(name string) (Assembly, error)
	// WildcardAssemblies returns the assemblies searched for res://*/ paths.
	WildcardAssemblies() []Assembly
}

type fsAssembly struct {
	name string
	fsys fs.FS
}

func (a fsAssembly) Name() string { return a.name }
func (a fsAssembly) FS() fs.FS     { return a.fsys }

// NewAssembly returns an Assembly over fsys, for example an embed.FS.
func NewAssembly(name string, fsys fs.FS) Assembly {
	return fsAssembly{name: name, fsys: fsys}
}

// FSAssemblies is an AssemblyResolver over named file systems.
//
//	//go:embed model/*.csdl model/*.ssdl model/*.msl
//	var model embed.FS
//
//	resolver := metadata.FSAssemblies{"Northwind": model}
type FSAssemblies map[string]fs.FS

// ResolveAssembly implements AssemblyResolver.
func (a FSAssemblies) ResolveAssembly(name string) (Assembly, error) {
	fsys, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("metadata: assembly %q not found", name)
	}
	return NewAssembly(name, fsys), nil
}

// WildcardAssemblies implements AssemblyResolver. Assemblies are returned sorted by name.
func (a FSAssemblies) WildcardAssemblies() []Assembly {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	assemblies := make([]Assembly, len(names))
	for i, name := range names {
		assemblies[i] = NewAssembly(name, a[name])
	}
	return assemblies
}

// SplitPaths splits a metadata keyword value into its paths. Paths are separated by '|'
// and surrounding whitespace is ignored.
func SplitPaths(metadata string) []string {
	var paths []string
	for _, p := range strings.Split(metadata, "|") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// LoadArtifacts reads every artifact addressed by the '|'-separated metadata paths.
// A path is a file, a directory (all .csdl, .ssdl and .msl files in it), or a
// res://<assembly>/<resource> reference resolved through resolver. An empty resource
// selects all artifacts of the assembly.
func LoadArtifacts(ctx context.Context, metadata string, resolver AssemblyResolver) ([]Artifact, error) {
	paths := SplitPaths(metadata)
	if len(paths) == 0 {
		return nil, veloxdb.NewInvalidOperationError("load metadata", "the metadata keyword does not specify any paths")
	}
	var artifacts []Artifact
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			loaded []Artifact
			err    error
		)
		if strings.HasPrefix(strings.ToLower(p), ResourceScheme) {
			loaded, err = loadResources(p, resolver)
		} else {
			loaded, err = loadFiles(p)
		}
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, loaded...)
	}
	return artifacts, nil
}

// LoadWorkspace loads, parses and validates the workspace described by metadata.
func LoadWorkspace(ctx context.Context, metadata string, resolver AssemblyResolver) (*Workspace, error) {
	artifacts, err := LoadArtifacts(ctx, metadata, resolver)
	if err != nil {
		return nil, err
	}
	ws, err := ParseArtifacts(artifacts)
	if err != nil {
		return nil, veloxdb.InvalidOperationf("load metadata", "%v", err)
	}
	if result := Validate(ws); result.HasErrors() {
		return nil, veloxdb.InvalidOperationf("load metadata", "invalid metadata:\n%s", result)
	}
	ws.source = metadata
	return ws, nil
}

func loadResources(p string, resolver AssemblyResolver) ([]Artifact, error) {
	if resolver == nil {
		return nil, veloxdb.InvalidOperationf("load metadata", "metadata path %q requires an assembly resolver", p)
	}
	rest := p[len(ResourceScheme):]
	asmName, resource, _ := strings.Cut(rest, "/")
	if asmName == "" {
		return nil, veloxdb.InvalidOperationf("load metadata", "metadata path %q does not name an assembly", p)
	}
	var assemblies []Assembly
	if asmName == WildcardAssembly {
		assemblies = resolver.WildcardAssemblies()
	} else {
		a, err := resolver.ResolveAssembly(asmName)
		if err != nil {
			return nil, veloxdb.InvalidOperationf("load metadata", "unable to resolve assembly specified in metadata path %q: %v", p, err)
		}
		assemblies = []Assembly{a}
	}
	var artifacts []Artifact
	for _, a := range assemblies {
		loaded, err := assemblyArtifacts(a, resource)
		if err != nil {
			return nil, veloxdb.InvalidOperationf("load metadata", "reading metadata path %q from assembly %q: %v", p, a.Name(), err)
		}
		artifacts = append(artifacts, loaded...)
		// A named resource is taken from the first assembly that embeds it.
		if resource != "" && len(loaded) > 0 {
			break
		}
	}
	if len(artifacts) == 0 {
		return nil, veloxdb.InvalidOperationf("load metadata", "unable to load the specified metadata resource %q", p)
	}
	return artifacts, nil
}

func assemblyArtifacts(a Assembly, resource string) ([]Artifact, error) {
	fsys := a.FS()
	if resource != "" {
		data, err := fs.ReadFile(fsys, resource)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Artifact{{Name: a.Name() + "/" + resource, Data: data}}, nil
	}
	var artifacts []Artifact
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsArtifactName(name) {
			return nil
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, Artifact{Name: a.Name() + "/" + path.Clean(name), Data: data})
		return nil
	})
	return artifacts, err
}

func loadFiles(p string) ([]Artifact, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, veloxdb.InvalidOperationf("load metadata", "unable to load the specified metadata resource %q: %v", p, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, veloxdb.InvalidOperationf("load metadata", "reading %q: %v", p, err)
		}
		return []Artifact{{Name: p, Data: data}}, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, veloxdb.InvalidOperationf("load metadata", "reading directory %q: %v", p, err)
	}
	var artifacts []Artifact
	for _, e := range entries {
		if e.IsDir() || !IsArtifactName(e.Name()) {
			continue
		}
		name := filepath.Join(p, e.Name())
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, veloxdb.InvalidOperationf("load metadata", "reading %q: %v", name, err)
		}
		artifacts = append(artifacts, Artifact{Name: name, Data: data})
	}
	return artifacts, nil
}

// WorkspaceCache memoizes loaded workspaces by metadata keyword value. A cache is bound
// to one resolver. The first successfully loaded workspace for a key wins; failures are
// not cached.
type WorkspaceCache struct {
	resolver AssemblyResolver
	entries  sync.Map // string -> *Workspace
}

// NewWorkspaceCache returns an empty cache that resolves res:// paths with resolver.
func NewWorkspaceCache(resolver AssemblyResolver) *WorkspaceCache {
	return &WorkspaceCache{resolver: resolver}
}

// Resolver returns the resolver the cache loads with.
func (c *WorkspaceCache) Resolver() AssemblyResolver { return c.resolver }

// Load returns the cached workspace for metadata, loading it on first use.
func (c *WorkspaceCache) Load(ctx context.Context, metadata string) (*Workspace, error) {
	key := strings.Join(SplitPaths(metadata), "|")
	if ws, ok := c.entries.Load(key); ok {
		return ws.(*Workspace), nil
	}
	ws, err := LoadWorkspace(ctx, metadata, c.resolver)
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(key, ws)
	return actual.(*Workspace), nil
}
