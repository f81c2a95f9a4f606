package metadata

import (
	"fmt"
	"strings"
)

// ValidationError represents a metadata validation error.
type ValidationError struct {
	Item    string
	Member  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("%s.%s: %s", e.Item, e.Member, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Item, e.Message)
}

// ValidationResult holds the results of metadata validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) errorf(item, member, format string, a ...any) {
	r.Errors = append(r.Errors, &ValidationError{Item: item, Member: member, Message: fmt.Sprintf(format, a...)})
}

func (r *ValidationResult) warnf(item, member, format string, a ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Item: item, Member: member, Message: fmt.Sprintf(format, a...)})
}

// Validate validates the conceptual model, the store model and the mapping of a workspace.
//
// Example:
//
//	result := metadata.Validate(ws)
//	if result.HasErrors() {
//	    log.Fatal("invalid metadata:", result)
//	}
func Validate(ws *Workspace) *ValidationResult {
	result := &ValidationResult{}
	if c := ws.ConceptualSchema(); c != nil {
		validateConceptual(c, result)
	}
	if s := ws.StoreSchema(); s != nil {
		validateStore(s, result)
	}
	validateMapping(ws, result)
	return result
}

func validateConceptual(c *ConceptualSchema, result *ValidationResult) {
	typeNames := make(map[string]bool)
	for _, t := range c.Types {
		if typeNames[t.FullName()] {
			result.errorf(t.FullName(), "", "duplicate type name")
		}
		typeNames[t.FullName()] = true
		validateMembers(t.FullName(), t.Members, result)
		if t.Kind != KindEntity {
			continue
		}
		if len(t.Keys) == 0 {
			result.warnf(t.FullName(), "", "entity type has no key")
		}
		for _, k := range t.Keys {
			if _, ok := t.Member(k); !ok {
				result.errorf(t.FullName(), k, "key references non-existent property")
			}
		}
	}
	if c.Container == nil {
		return
	}
	imports := make(map[string]bool)
	for _, f := range c.Container.FunctionImports {
		if imports[f.Name] {
			result.errorf(f.FullName(), "", "duplicate function import name")
		}
		imports[f.Name] = true
		validateParameters(f.FullName(), f.Parameters, result)
	}
	sets := make(map[string]bool)
	for _, s := range c.Container.EntitySets {
		if sets[s.Name] {
			result.errorf(c.Container.Name, s.Name, "duplicate entity set name")
		}
		sets[s.Name] = true
	}
}

func validateStore(s *StoreSchema, result *ValidationResult) {
	if s.Provider == "" {
		result.errorf(s.Namespace, "", "store schema does not declare a provider")
	}
	if s.ProviderManifestToken == "" {
		result.errorf(s.Namespace, "", "store schema does not declare a provider manifest token")
	}
	tableNames := make(map[string]bool)
	for _, t := range s.Tables {
		if tableNames[t.Name] {
			result.errorf(t.Name, "", "duplicate table name")
		}
		tableNames[t.Name] = true
		colNames := make(map[string]bool)
		for _, c := range t.Columns {
			if colNames[c.Name] {
				result.errorf(t.Name, c.Name, "duplicate column name")
			}
			colNames[c.Name] = true
			if _, ok := c.Type.PrimitiveKind(); !ok {
				result.errorf(t.Name, c.Name, "store column must have a primitive type, got %s", c.Type.EdmType().FullName())
			}
		}
		if len(t.PrimaryKey) == 0 {
			result.warnf(t.Name, "", "table has no primary key")
		}
		for _, k := range t.PrimaryKey {
			if !colNames[k] {
				result.errorf(t.Name, k, "primary key references non-existent column")
			}
		}
	}
	funcNames := make(map[string]bool)
	for _, f := range s.Functions {
		if funcNames[f.FullName()] {
			result.errorf(f.FullName(), "", "duplicate function name")
		}
		funcNames[f.FullName()] = true
		validateParameters(f.FullName(), f.Parameters, result)
	}
}

func validateMapping(ws *Workspace, result *ValidationResult) {
	for _, name := range ws.FunctionImportNames() {
		fi, _ := ws.FunctionImport(name)
		target, ok := ws.Mapping().FunctionImports[name]
		if !ok {
			result.warnf(fi.FullName(), "", "function import is not mapped to a store function")
			continue
		}
		if _, ok := ws.StoreFunction(target); !ok {
			result.errorf(fi.FullName(), "", "function import is mapped to non-existent store function %q", target)
		}
	}
	for name := range ws.Mapping().FunctionImports {
		if _, ok := ws.FunctionImport(name); !ok {
			result.errorf(name, "", "mapping references non-existent function import")
		}
	}
}

func validateMembers(item string, members []Member, result *ValidationResult) {
	names := make(map[string]bool)
	for _, m := range members {
		if names[m.Name] {
			result.errorf(item, m.Name, "duplicate member name")
		}
		names[m.Name] = true
	}
}

func validateParameters(item string, params []FunctionParameter, result *ValidationResult) {
	names := make(map[string]bool)
	for _, p := range params {
		if names[p.Name] {
			result.errorf(item, p.Name, "duplicate parameter name")
		}
		names[p.Name] = true
	}
}
