package cqt

import (
	"fmt"
	"strings"

	"github.com/syssam/veloxdb/metadata"
)

// Expression is a node of a query tree. The set of expressions is closed.
type Expression interface {
	// Fingerprint returns the structural identity of the expression.
	Fingerprint() string
	expression()
}

// StoreText is a statement written in the store dialect. Parameters are referenced
// as @name.
type StoreText struct {
	Text string
}

// NewStoreText returns a StoreText expression.
func NewStoreText(text string) *StoreText { return &StoreText{Text: text} }

// Fingerprint implements Expression.
func (e *StoreText) Fingerprint() string { return "text:" + e.Text }

// ParameterNames returns the distinct parameters referenced by the text in order of
// first appearance.
func (e *StoreText) ParameterNames() []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	RewriteParameters(e.Text, func(name string) string {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return "@" + name
	})
	return names
}

// ParameterRef references a declared parameter.
type ParameterRef struct {
	Name string
	Type *metadata.TypeUsage
}

// Fingerprint implements Expression.
func (e *ParameterRef) Fingerprint() string { return "param:" + e.Name }

// Constant is a typed literal.
type Constant struct {
	Value any
	Type  *metadata.TypeUsage
}

// Fingerprint implements Expression.
func (e *Constant) Fingerprint() string {
	return fmt.Sprintf("const:%s:%v", e.Type.Fingerprint(), e.Value)
}

func (*StoreText) expression()    {}
func (*ParameterRef) expression() {}
func (*Constant) expression()     {}

func referencedParameters(e Expression) []string {
	switch e := e.(type) {
	case *StoreText:
		return e.ParameterNames()
	case *ParameterRef:
		return []string{e.Name}
	default:
		return nil
	}
}

// RewriteParameters calls replace for every @name parameter reference in text and
// substitutes the result. References inside quoted literals and quoted identifiers are
// left untouched, as are @@ system variables.
func RewriteParameters(text string, replace func(name string) string) string {
	var (
		b     strings.Builder
		quote byte
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '[':
			quote = ']'
			b.WriteByte(c)
		case c == '@' && i+1 < len(text) && text[i+1] == '@':
			j := i + 2
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			b.WriteString(text[i:j])
			i = j - 1
		case c == '@' && i+1 < len(text) && isIdentStart(text[i+1]):
			j := i + 1
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			b.WriteString(replace(text[i+1 : j]))
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || '0' <= c && c <= '9'
}
