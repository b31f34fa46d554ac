package expr

import "strings"

type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindList
)

// Type describes the shape of values an expression produces. Object types are
// compared by identity; list types compare by their element type.
type Type struct {
	name   string
	kind   Kind
	elem   *Type
	fields []TypeField
	index  map[string]int
}

type TypeField struct {
	Name string
	Type *Type
}

var (
	Any     = NewScalar("Any")
	Int     = NewScalar("Int")
	Float   = NewScalar("Float")
	String  = NewScalar("String")
	Boolean = NewScalar("Boolean")
	ID      = NewScalar("ID")
)

func NewScalar(name string) *Type {
	return &Type{name: name, kind: KindScalar}
}

// NewObject returns an empty object type. Fields are added with AddField, which
// lets mutually referencing types be declared in any order.
func NewObject(name string) *Type {
	return &Type{name: name, kind: KindObject, index: map[string]int{}}
}

func ListOf(elem *Type) *Type {
	return &Type{kind: KindList, elem: elem}
}

func (t *Type) Name() string {
	if t.kind == KindList {
		return "[" + t.elem.Name() + "]"
	}
	return t.name
}

func (t *Type) String() string { return t.Name() }

func (t *Type) Kind() Kind { return t.kind }

func (t *Type) IsList() bool { return t != nil && t.kind == KindList }

func (t *Type) IsObject() bool { return t != nil && t.kind == KindObject }

// Elem returns the element type of a list, or nil.
func (t *Type) Elem() *Type {
	if t == nil || t.kind != KindList {
		return nil
	}
	return t.elem
}

// AddField declares or replaces a field on an object type.
func (t *Type) AddField(name string, typ *Type) *Type {
	if t.kind != KindObject {
		panic("expr: AddField on non-object type " + t.Name())
	}
	if i, ok := t.index[name]; ok {
		t.fields[i].Type = typ
		return t
	}
	t.index[name] = len(t.fields)
	t.fields = append(t.fields, TypeField{Name: name, Type: typ})
	return t
}

func (t *Type) Field(name string) (*Type, bool) {
	if t == nil || t.kind != KindObject {
		return nil, false
	}
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.fields[i].Type, true
}

func (t *Type) Fields() []TypeField {
	return append([]TypeField(nil), t.fields...)
}

// Same reports whether a and b describe the same type.
func Same(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind == KindList && b.kind == KindList {
		return Same(a.elem, b.elem)
	}
	return false
}

// Assignable reports whether a value of type from can be used where to is
// expected. Any is compatible with everything; Int widens to Float.
func Assignable(to, from *Type) bool {
	if to == Any || from == Any || Same(to, from) {
		return true
	}
	if to == Float && from == Int {
		return true
	}
	if to == ID && (from == String || from == Int) {
		return true
	}
	if to.IsList() && from.IsList() {
		return Assignable(to.elem, from.elem)
	}
	return false
}

func describeFields(fields []TypeField) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return "{" + strings.Join(names, ", ") + "}"
}
