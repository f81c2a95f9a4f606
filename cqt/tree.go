package cqt

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/veloxdb"
	"github.com/syssam/veloxdb/metadata"
)

// Kind identifies the shape of a command tree.
type Kind int

// Command tree kinds.
const (
	QueryKind Kind = iota
	FunctionKind
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case QueryKind:
		return "Query"
	case FunctionKind:
		return "Function"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Parameter is a typed parameter declared by a command tree.
type Parameter struct {
	Name string
	Type *metadata.TypeUsage
	Mode metadata.ParameterMode
	// StoreName is the name of the matching store function parameter.
	// It is empty for query parameters.
	StoreName string
}

func (p Parameter) fingerprint() string {
	s := p.Name + ":" + p.Type.Fingerprint() + ":" + p.Mode.String()
	if p.StoreName != "" {
		s += ">" + p.StoreName
	}
	return s
}

// CommandTree is an immutable logical command tagged with the data space it targets.
type CommandTree interface {
	// Kind returns the tree shape.
	Kind() Kind
	// DataSpace returns the space the tree is expressed in.
	DataSpace() metadata.DataSpace
	// Workspace returns the identity of the metadata workspace the tree was built against.
	Workspace() string
	// Parameters returns a copy of the declared parameters.
	Parameters() []Parameter
	// Fingerprint returns the structural identity of the tree.
	Fingerprint() string
}

type base struct {
	space     metadata.DataSpace
	workspace string
	params    []Parameter
}

func (b *base) DataSpace() metadata.DataSpace { return b.space }
func (b *base) Workspace() string             { return b.workspace }
func (b *base) Parameters() []Parameter       { return slices.Clone(b.params) }

func newBase(op, workspace string, space metadata.DataSpace, params []Parameter) (base, error) {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		switch {
		case p.Name == "":
			return base{}, veloxdb.NewInvalidOperationError(op, "parameter name is empty")
		case seen[p.Name]:
			return base{}, veloxdb.InvalidOperationf(op, "duplicate parameter %q", p.Name)
		case p.Type == nil:
			return base{}, veloxdb.InvalidOperationf(op, "parameter %q has no type", p.Name)
		}
		seen[p.Name] = true
	}
	return base{space: space, workspace: workspace, params: slices.Clone(params)}, nil
}

func (b *base) fingerprint(kind Kind, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%s|", kind, b.space, b.workspace, body)
	for i, p := range b.params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.fingerprint())
	}
	return sb.String()
}

// QueryCommandTree is a query or statement over a single expression.
type QueryCommandTree struct {
	base
	query Expression
	fp    string
}

// NewQueryCommandTree returns a query tree. Every parameter referenced by the query must
// be declared.
func NewQueryCommandTree(workspace string, space metadata.DataSpace, query Expression, params ...Parameter) (*QueryCommandTree, error) {
	const op = "new query command tree"
	if query == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "query expression is nil")
	}
	b, err := newBase(op, workspace, space, params)
	if err != nil {
		return nil, err
	}
	for _, name := range referencedParameters(query) {
		if !slices.ContainsFunc(b.params, func(p Parameter) bool { return p.Name == name }) {
			return nil, veloxdb.InvalidOperationf(op, "query references undeclared parameter %q", name)
		}
	}
	t := &QueryCommandTree{base: b, query: query}
	t.fp = t.fingerprint(QueryKind, query.Fingerprint())
	return t, nil
}

// Kind implements CommandTree.
func (*QueryCommandTree) Kind() Kind { return QueryKind }

// Query returns the root expression.
func (t *QueryCommandTree) Query() Expression { return t.query }

// Fingerprint implements CommandTree.
func (t *QueryCommandTree) Fingerprint() string { return t.fp }

// FunctionCommandTree invokes a store function or stored procedure.
type FunctionCommandTree struct {
	base
	function   *metadata.StoreFunction
	resultType *metadata.TypeUsage
	fp         string
}

// NewFunctionCommandTree returns a tree invoking function. resultType is nil when the
// function returns nothing.
func NewFunctionCommandTree(workspace string, space metadata.DataSpace, function *metadata.StoreFunction, resultType *metadata.TypeUsage, params ...Parameter) (*FunctionCommandTree, error) {
	const op = "new function command tree"
	if function == nil {
		return nil, veloxdb.NewInvalidOperationError(op, "function is nil")
	}
	b, err := newBase(op, workspace, space, params)
	if err != nil {
		return nil, err
	}
	t := &FunctionCommandTree{base: b, function: function, resultType: resultType}
	body := function.FullName()
	if resultType != nil {
		body += "->" + resultType.Fingerprint()
	}
	t.fp = t.fingerprint(FunctionKind, body)
	return t, nil
}

// Kind implements CommandTree.
func (*FunctionCommandTree) Kind() Kind { return FunctionKind }

// Function returns the invoked function.
func (t *FunctionCommandTree) Function() *metadata.StoreFunction { return t.function }

// ResultType returns the result type, or nil.
func (t *FunctionCommandTree) ResultType() *metadata.TypeUsage { return t.resultType }

// Fingerprint implements CommandTree.
func (t *FunctionCommandTree) Fingerprint() string { return t.fp }

var (
	_ CommandTree = (*QueryCommandTree)(nil)
	_ CommandTree = (*FunctionCommandTree)(nil)
)
