package entityclient

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
	"github.com/syssam/veloxdb/querycache"
)

// DefinitionCache holds compiled command definitions shared by the connections it is
// given to. Concurrent compilations of the same key are collapsed into one provider
// call.
type DefinitionCache struct {
	cache *querycache.Cache[*provider.CommandDefinition]
	group singleflight.Group
}

// CacheOption configures a DefinitionCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	logger *slog.Logger
}

// WithCacheLogger sets the logger of a DefinitionCache.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(o *cacheOptions) {
		o.logger = l
	}
}

// NewDefinitionCache returns a cache of up to size definitions. A non-positive size
// uses querycache.DefaultSize.
func NewDefinitionCache(size int, opts ...CacheOption) *DefinitionCache {
	o := &cacheOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if size <= 0 {
		size = querycache.DefaultSize
	}
	var qopts []querycache.Option
	if o.logger != nil {
		qopts = append(qopts, querycache.WithLogger(o.logger))
	}
	// size is positive, the only failure of the underlying constructor.
	c, _ := querycache.New[*provider.CommandDefinition](size, qopts...)
	return &DefinitionCache{cache: c}
}

// Stats returns the cache statistics.
func (dc *DefinitionCache) Stats() querycache.Stats { return dc.cache.Stats() }

// Purge drops every cached definition.
func (dc *DefinitionCache) Purge() { dc.cache.Purge() }

// Len returns the number of cached definitions.
func (dc *DefinitionCache) Len() int { return dc.cache.Len() }

func (dc *DefinitionCache) get(key querycache.Key) (*provider.CommandDefinition, bool) {
	return dc.cache.Get(key)
}

// compile returns the definition for key, compiling tree at most once among concurrent
// callers. Only successful compilations are published.
func (dc *DefinitionCache) compile(ctx context.Context, key querycache.Key, g *provider.Guard, m provider.Manifest, tree cqt.CommandTree) (*provider.CommandDefinition, error) {
	v, err, _ := dc.group.Do(string(key), func() (any, error) {
		def, err := g.CreateCommandDefinition(ctx, m, tree)
		if err != nil {
			return nil, err
		}
		winner, _ := dc.cache.GetOrAdd(key, def)
		return winner, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*provider.CommandDefinition), nil
}

// CommandDefinition is a prepared command that creates ready-to-execute commands
// without compiling again.
type CommandDefinition struct {
	def     *provider.CommandDefinition
	cmdType CommandType
	types   map[string]*metadata.TypeUsage // by lowercased parameter name
}

// Text returns the compiled store command text.
func (d *CommandDefinition) Text() string { return d.def.Text() }

// StoreDefinition returns the provider definition.
func (d *CommandDefinition) StoreDefinition() *provider.CommandDefinition { return d.def }

// CreateCommand returns a prepared command bound to the definition. The command has
// no text or tree; changing its parameter shape makes it unusable until text is set.
func (d *CommandDefinition) CreateCommand() *Command {
	cmd := NewCommand("")
	cmd.cmdType = d.cmdType
	cmd.fromDefinition = true
	for _, dp := range d.def.Parameters() {
		p := &Parameter{name: dp.Name, typ: d.types[strings.ToLower(dp.Name)], direction: dp.Direction, owner: cmd.params}
		cmd.params.params = append(cmd.params.params, p)
	}
	cmd.prepared = d.def
	cmd.preparedVersion = cmd.shapeVersion()
	return cmd
}
