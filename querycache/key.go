package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Key identifies a compiled command. It is the hex SHA-256 of the canonical
// encoding of a Shape.
type Key string

// Key kinds.
const (
	KindText            = "text"
	KindStoredProcedure = "proc"
	KindTree            = "tree"
)

// ParamShape is the part of a parameter that affects compilation. Values never do.
type ParamShape struct {
	Name      string `msgpack:"n"`
	Type      string `msgpack:"t"` // type usage fingerprint, or the value type for untyped parameters
	Direction int    `msgpack:"d"`
}

// Shape is everything that determines the result of compiling a command.
type Shape struct {
	Kind      string       `msgpack:"k"`
	Text      string       `msgpack:"x"` // command text, procedure name or tree fingerprint
	Provider  string       `msgpack:"p"`
	Token     string       `msgpack:"m"`
	Workspace string       `msgpack:"w"`
	Params    []ParamShape `msgpack:"a"`
}

// Key returns the cache key of the shape.
func (s Shape) Key() (Key, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("querycache: encoding key: %w", err)
	}
	sum := sha256.Sum256(b)
	return Key(hex.EncodeToString(sum[:])), nil
}
