package schema

import (
	"fmt"

	"github.com/iancoleman/strcase"
)

// Namer turns a Go identifier into a schema name.
type Namer func(string) string

var (
	CamelNamer    Namer = strcase.ToLowerCamel
	SnakeNamer    Namer = strcase.ToSnake
	IdentityNamer Namer = func(s string) string { return s }
)

// NamerFor returns the namer configured by name: camel, snake or none.
func NamerFor(name string) (Namer, error) {
	switch name {
	case "", "camel":
		return CamelNamer, nil
	case "snake":
		return SnakeNamer, nil
	case "none":
		return IdentityNamer, nil
	}
	return nil, fmt.Errorf("unknown field namer %q", name)
}
