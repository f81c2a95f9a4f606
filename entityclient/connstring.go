package entityclient

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/syssam/veloxdb"
)

// Connection string keywords.
const (
	KeywordMetadata                 = "metadata"
	KeywordProvider                 = "provider"
	KeywordProviderConnectionString = "provider connection string"
	KeywordName                     = "name"
)

// NamedConnections resolves the target of a name= connection string.
type NamedConnections interface {
	ConnectionString(name string) (string, bool)
}

// NamedConnectionsMap is a NamedConnections backed by a map.
type NamedConnectionsMap map[string]string

// ConnectionString implements NamedConnections.
func (m NamedConnectionsMap) ConnectionString(name string) (string, bool) {
	s, ok := m[name]
	return s, ok
}

// ConnectionString is a parsed entity connection string.
type ConnectionString struct {
	Metadata                 string
	Provider                 string
	ProviderConnectionString string
	Name                     string
}

var fold = cases.Fold()

// ParseConnectionString parses keyword=value pairs separated by ';'. Keywords are case
// insensitive; values may be quoted with ' or " and a doubled quote escapes itself. The
// last occurrence of a keyword wins. The name keyword excludes all others.
func ParseConnectionString(s string) (ConnectionString, error) {
	const op = "parse connection string"
	var cs ConnectionString
	pairs, err := splitPairs(s)
	if err != nil {
		return cs, err
	}
	for _, kv := range pairs {
		switch kv[0] {
		case KeywordMetadata:
			cs.Metadata = kv[1]
		case KeywordProvider:
			cs.Provider = kv[1]
		case KeywordProviderConnectionString:
			cs.ProviderConnectionString = kv[1]
		case KeywordName:
			cs.Name = kv[1]
		default:
			return ConnectionString{}, veloxdb.InvalidOperationf(op, "keyword not supported: %q", kv[0])
		}
	}
	if cs.Name != "" && (cs.Metadata != "" || cs.Provider != "" || cs.ProviderConnectionString != "") {
		return ConnectionString{}, veloxdb.NewInvalidOperationError(op, "other keywords are not allowed when the name keyword is specified")
	}
	return cs, nil
}

// splitPairs tokenizes s into folded keywords and unquoted values. Pairs with empty
// values are dropped.
func splitPairs(s string) ([][2]string, error) {
	const op = "parse connection string"
	var pairs [][2]string
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ';' || isSpace(s[i])) {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, veloxdb.InvalidOperationf(op, "malformed connection string at index %d", i)
		}
		key := normalizeKeyword(s[i : i+eq])
		if key == "" {
			return nil, veloxdb.InvalidOperationf(op, "empty keyword at index %d", i)
		}
		i += eq + 1
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		var value string
		if i < len(s) && (s[i] == '\'' || s[i] == '"') {
			q := s[i]
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == q {
					if i+1 < len(s) && s[i+1] == q {
						b.WriteByte(q)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, veloxdb.InvalidOperationf(op, "unterminated quoted value for keyword %q", key)
			}
			for i < len(s) && isSpace(s[i]) {
				i++
			}
			if i < len(s) && s[i] != ';' {
				return nil, veloxdb.InvalidOperationf(op, "unexpected character %q after quoted value for keyword %q", s[i], key)
			}
			value = b.String()
		} else {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				end = len(s) - i
			}
			value = strings.TrimSpace(s[i : i+end])
			i += end
		}
		if value != "" {
			pairs = append(pairs, [2]string{key, value})
		}
	}
	return pairs, nil
}

func normalizeKeyword(k string) string {
	return strings.Join(strings.Fields(fold.String(k)), " ")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// String serializes the connection string. Values are quoted when needed.
func (cs ConnectionString) String() string {
	if cs.Name != "" {
		return KeywordName + "=" + quote(cs.Name)
	}
	var parts []string
	for _, kv := range [][2]string{
		{KeywordMetadata, cs.Metadata},
		{KeywordProvider, cs.Provider},
		{KeywordProviderConnectionString, cs.ProviderConnectionString},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+quote(kv[1]))
		}
	}
	return strings.Join(parts, ";")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ";'\"=") && strings.TrimSpace(v) == v {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// Resolve follows a name= indirection. A resolved connection string that itself uses
// the name keyword is rejected.
func (cs ConnectionString) Resolve(named NamedConnections) (ConnectionString, error) {
	const op = "resolve connection string"
	if cs.Name == "" {
		return cs, nil
	}
	if named == nil {
		return ConnectionString{}, veloxdb.InvalidOperationf(op, "named connection %q cannot be resolved without named connections", cs.Name)
	}
	s, ok := named.ConnectionString(cs.Name)
	if !ok {
		return ConnectionString{}, veloxdb.InvalidOperationf(op, "the specified named connection %q is not found", cs.Name)
	}
	resolved, err := ParseConnectionString(s)
	if err != nil {
		return ConnectionString{}, err
	}
	if resolved.Name != "" {
		return ConnectionString{}, veloxdb.InvalidOperationf(op, "named connection %q refers to another named connection", cs.Name)
	}
	return resolved, nil
}
