package entityclient

import (
	"context"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
)

// QueryParser turns command text into a command tree.
type QueryParser interface {
	Parse(ctx context.Context, ws *metadata.Workspace, text string, params []cqt.Parameter) (cqt.CommandTree, error)
}

// QueryParserFunc adapts a function to QueryParser.
type QueryParserFunc func(ctx context.Context, ws *metadata.Workspace, text string, params []cqt.Parameter) (cqt.CommandTree, error)

// Parse implements QueryParser.
func (f QueryParserFunc) Parse(ctx context.Context, ws *metadata.Workspace, text string, params []cqt.Parameter) (cqt.CommandTree, error) {
	return f(ctx, ws, text, params)
}

// StoreTextParser passes text through unchanged as a store-space query.
type StoreTextParser struct{}

// Parse implements QueryParser.
func (StoreTextParser) Parse(ctx context.Context, ws *metadata.Workspace, text string, params []cqt.Parameter) (cqt.CommandTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cqt.NewQueryCommandTree(ws.ID(), metadata.StoreSpace, cqt.NewStoreText(text), params...)
}
