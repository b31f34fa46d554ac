package directive

import (
	"reflect"
	"strings"
	"sync"

	"github.com/huandu/go-clone"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/schema"
)

const tagName = "gql"

// Base implements everything but ProcessField for a processor whose
// arguments are the exported fields of T. Argument names come from the gql
// tag or the namer; a ",required" tag option makes the argument non-null.
// Non-zero fields of the defaults value are declared as argument defaults.
type Base[T any] struct {
	name        string
	description string
	locations   []string
	defaults    T

	once sync.Once
	args []*schema.ArgType
}

func NewBase[T any](name, description string, defaults T, locations ...string) *Base[T] {
	return &Base[T]{name: name, description: description, defaults: defaults, locations: locations}
}

func (b *Base[T]) Name() string        { return b.name }
func (b *Base[T]) Description() string { return b.description }
func (b *Base[T]) Locations() []string { return b.locations }

func (b *Base[T]) Arguments(namer schema.Namer) []*schema.ArgType {
	b.once.Do(func() {
		b.args = argumentsOf(reflect.TypeFor[T](), reflect.ValueOf(b.defaults), namer)
	})
	return b.args
}

// NewArguments returns a deep copy of the defaults.
func (b *Base[T]) NewArguments() any {
	v := clone.Clone(b.defaults).(T)
	return &v
}

func (b *Base[T]) ProcessExpression(e expr.Expr, _ any) (expr.Expr, error) { return e, nil }

func argumentsOf(t reflect.Type, defaults reflect.Value, namer schema.Namer) []*schema.ArgType {
	var out []*schema.ArgType
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get(tagName), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = namer(f.Name)
		}
		ref := typeRefOf(f.Type)
		if opts == "required" {
			ref = schema.NonNullType(ref)
		}
		a := schema.NewArgument(name, f.Tag.Get("description"), ref)
		if d := defaults.Field(i); !d.IsZero() {
			a.SetDefault(d.Interface())
		}
		out = append(out, a)
	}
	return out
}

func typeRefOf(t reflect.Type) *schema.TypeRef {
	switch t.Kind() {
	case reflect.Pointer:
		return typeRefOf(t.Elem())
	case reflect.Bool:
		return schema.NamedType("Boolean")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return schema.NamedType("Int")
	case reflect.Float32, reflect.Float64:
		return schema.NamedType("Float")
	case reflect.Slice, reflect.Array:
		return schema.ListType(typeRefOf(t.Elem()))
	}
	return schema.NamedType("String")
}
