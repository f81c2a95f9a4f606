package sql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/veloxdb/cqt"
	"github.com/syssam/veloxdb/metadata"
	"github.com/syssam/veloxdb/provider"
)

// CreateCommandDefinition implements provider.Services. Store text has its @name
// parameter references rewritten to the dialect placeholders; function trees become
// a call of the store function with one argument per parameter.
func (p *Provider) CreateCommandDefinition(ctx context.Context, m provider.Manifest, tree cqt.CommandTree) (*provider.CommandDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Provider() != p.opts.InvariantName {
		return nil, fmt.Errorf("dialect/sql: manifest of provider %q cannot compile for %q", m.Provider(), p.opts.InvariantName)
	}
	if tree.DataSpace() != metadata.StoreSpace {
		return nil, fmt.Errorf("dialect/sql: cannot compile a %s command tree", tree.DataSpace())
	}
	tps := tree.Parameters()
	cmd := &Command{p: p, params: make([]*provider.DbParameter, len(tps))}
	for i, tp := range tps {
		dp := &provider.DbParameter{Name: tp.Name, Direction: provider.DirectionOf(tp.Mode)}
		provider.MapParameter(dp, tp.Type, dp.Direction.IsOutput() || tree.Kind() == cqt.FunctionKind)
		cmd.params[i] = dp
	}
	switch t := tree.(type) {
	case *cqt.QueryCommandTree:
		st, ok := t.Query().(*cqt.StoreText)
		if !ok {
			return nil, fmt.Errorf("dialect/sql: unsupported query expression %T", t.Query())
		}
		cmd.text, cmd.args = p.rewrite(st.Text, cmd.params)
	case *cqt.FunctionCommandTree:
		cmd.text, cmd.args = p.call(t.Function(), tps, cmd.params)
	default:
		return nil, fmt.Errorf("dialect/sql: unsupported command tree %T", tree)
	}
	return provider.NewCommandDefinition(cmd, cloneCommand)
}

// rewrite replaces the parameter references of text with placeholders and returns the
// parameter index bound to each placeholder argument. Query trees only reference
// declared parameters.
func (p *Provider) rewrite(text string, params []*provider.DbParameter) (string, []int) {
	index := make(map[string]int, len(params))
	for i, dp := range params {
		index[strings.ToLower(dp.Name)] = i
	}
	var (
		args  []int
		slots = make(map[int]int) // parameter index -> 1-based argument position
	)
	out := cqt.RewriteParameters(text, func(name string) string {
		i, ok := index[strings.ToLower(name)]
		switch {
		case !ok:
			return "@" + name
		case p.opts.Placeholder == Question:
			args = append(args, i)
			return "?"
		}
		pos, ok := slots[i]
		if !ok {
			args = append(args, i)
			pos = len(args)
			slots[i] = pos
		}
		return p.placeholder(params[i].Name, pos)
	})
	return out, args
}

// call builds the invocation of fn with every parameter as an argument.
func (p *Provider) call(fn *metadata.StoreFunction, tps []cqt.Parameter, params []*provider.DbParameter) (string, []int) {
	args := make([]int, len(params))
	fargs := make([]FunctionArg, len(params))
	for i, dp := range params {
		args[i] = i
		storeName := tps[i].StoreName
		if storeName == "" {
			storeName = dp.Name
		}
		fargs[i] = FunctionArg{
			Placeholder: p.placeholder(dp.Name, i+1),
			StoreName:   storeName,
			Direction:   dp.Direction,
		}
	}
	if p.opts.FunctionCall != nil {
		return p.opts.FunctionCall(fn.PhysicalName(), fargs), args
	}
	return CallStatement(fn.PhysicalName(), fargs), args
}

func (p *Provider) placeholder(name string, pos int) string {
	switch p.opts.Placeholder {
	case Dollar:
		return "$" + strconv.Itoa(pos)
	case AtName:
		return "@" + name
	default:
		return "?"
	}
}

// CallStatement returns "CALL name(arg, ...)".
func CallStatement(name string, args []FunctionArg) string {
	var b strings.Builder
	b.WriteString("CALL ")
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Placeholder)
	}
	b.WriteByte(')')
	return b.String()
}
