// Package schema is the static schema catalog plans are compiled against. Each
// object type is backed by an expr.Type describing the data context, and each
// field knows how to build its expression over that context.
package schema

import (
	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
)

// Schema represents the complete GraphQL schema
type Schema struct {
	Types       map[string]*Type // All named types keyed by name
	Directives  map[string]*Directive
	Description string

	queryType    string
	mutationType string
	namer        Namer
	exprTypes    map[string]*expr.Type
	byExpr       map[*expr.Type]*Type
}

type Option func(*Schema)

// WithNamer sets the transform applied to Go identifiers that become schema
// names (argument struct fields, directive arguments).
func WithNamer(n Namer) Option {
	return func(s *Schema) { s.namer = n }
}

func New(opts ...Option) *Schema {
	s := &Schema{
		Types:      map[string]*Type{},
		Directives: map[string]*Directive{},
		queryType:  "Query",
		namer:      CamelNamer,
		exprTypes: map[string]*expr.Type{
			"Int":     expr.Int,
			"Float":   expr.Float,
			"String":  expr.String,
			"Boolean": expr.Boolean,
			"ID":      expr.ID,
		},
		byExpr: map[*expr.Type]*Type{},
	}
	for _, o := range opts {
		o(s)
	}
	s.AddType(stringType()).
		AddType(intType()).
		AddType(floatType()).
		AddType(booleanType()).
		AddType(idType())
	s.AddDirective(includeDirective).
		AddDirective(skipDirective)
	return s
}

func (s *Schema) SetQueryType(name string) *Schema {
	s.queryType = name
	return s
}

func (s *Schema) SetMutationType(name string) *Schema {
	s.mutationType = name
	return s
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.queryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.mutationType] }

// QueryContextType is the data context query operations are compiled against.
func (s *Schema) QueryContextType() *expr.Type { return s.ExprType(s.queryType) }

// MutationType returns the data type of the mutation root, or nil.
func (s *Schema) MutationType() *expr.Type {
	if s.mutationType == "" {
		return nil
	}
	return s.ExprType(s.mutationType)
}

func (s *Schema) FieldNamer() Namer { return s.namer }

func (s *Schema) AddType(t *Type) *Schema {
	t.schema = s
	s.Types[t.Name] = t
	et := s.ExprType(t.Name)
	s.byExpr[et] = t
	if et.IsObject() {
		for _, f := range t.Fields {
			s.declareMember(t, f)
		}
		for _, f := range t.InputFields {
			et.AddField(f.Name, s.ResolveTypeRef(f.Type))
		}
	}
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

// Type looks a named type up. Failure is an UnknownType error.
func (s *Schema) Type(name string) (*Type, error) {
	t, ok := s.Types[name]
	if !ok {
		return nil, gqlerror.New(gqlerror.UnknownType, "type %s is not defined in the schema", name)
	}
	return t, nil
}

// SchemaType returns the schema type backing an expression type. List types
// resolve to their element's schema type.
func (s *Schema) SchemaType(t *expr.Type) (*Type, error) {
	for t.IsList() {
		t = t.Elem()
	}
	st, ok := s.byExpr[t]
	if !ok {
		return nil, gqlerror.New(gqlerror.UnknownType, "no schema type for %s", t.Name())
	}
	return st, nil
}

// ExprType returns the expression type for a schema type name. Object types
// are created on first use so that types can refer to each other before they
// are added.
func (s *Schema) ExprType(name string) *expr.Type {
	if et, ok := s.exprTypes[name]; ok {
		return et
	}
	var et *expr.Type
	if t, ok := s.Types[name]; ok && (t.Kind == TypeKindScalar || t.Kind == TypeKindEnum) {
		et = expr.NewScalar(name)
	} else {
		et = expr.NewObject(name)
	}
	s.exprTypes[name] = et
	return et
}

// ResolveTypeRef maps a type reference to its expression type. Non-null
// wrappers do not affect the expression type.
func (s *Schema) ResolveTypeRef(ref *TypeRef) *expr.Type {
	switch ref.Kind {
	case TypeRefKindList:
		return expr.ListOf(s.ResolveTypeRef(ref.OfType))
	case TypeRefKindNonNull:
		return s.ResolveTypeRef(ref.OfType)
	}
	return s.ExprType(ref.Named)
}

func (s *Schema) declareMember(t *Type, f *Field) {
	if f.Resolver != nil {
		return
	}
	s.ExprType(t.Name).AddField(f.Name, s.ResolveTypeRef(f.Type))
}

// Type is a named GraphQL type (object, scalar, enum, input)
type Type struct {
	Name        string
	Kind        TypeKind
	Description string
	Fields      []*Field    // For OBJECT
	EnumValues  []*EnumValue // For ENUM
	InputFields []*ArgType   // For INPUT_OBJECT

	schema *Schema
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

// AddField appends f or replaces the field of the same name.
func (t *Type) AddField(f *Field) *Type {
	f.owner = t
	replaced := false
	for i, existing := range t.Fields {
		if existing.Name == f.Name {
			t.Fields[i] = f
			replaced = true
		}
	}
	if !replaced {
		t.Fields = append(t.Fields, f)
	}
	if t.schema != nil {
		t.schema.declareMember(t, f)
	}
	return t
}

func (t *Type) AddEnumValue(v *EnumValue) *Type {
	t.EnumValues = append(t.EnumValues, v)
	return t
}

func (t *Type) AddInputField(a *ArgType) *Type {
	t.InputFields = append(t.InputFields, a)
	if t.schema != nil {
		t.schema.ExprType(t.Name).AddField(a.Name, t.schema.ResolveTypeRef(a.Type))
	}
	return t
}

// Field looks a field up by name. Failure is an UnknownField error naming the
// type.
func (t *Type) Field(name string) (*Field, error) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, gqlerror.New(gqlerror.UnknownField, "field %s not found on type %s", name, t.Name)
}

func (t *Type) HasField(name string) bool {
	_, err := t.Field(name)
	return err == nil
}

// ExprType returns the expression type backing t. t must belong to a schema.
func (t *Type) ExprType() *expr.Type { return t.schema.ExprType(t.Name) }

func (t *Type) Schema() *Schema { return t.schema }

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

// Helper functions for TypeRef
func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

func (t *TypeRef) String() string { return renderTypeRef(t) }

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*ArgType
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.IsNonNull() }

// IsList reports whether the type is (or is wrapped by) a list type.
func IsList(t *TypeRef) bool { return t != nil && t.IsList() }

// Unwrap removes one layer of Non-Null or List wrapping and returns the inner type.
func Unwrap(t *TypeRef) *TypeRef { return t.Unwrap() }

// GetNamedType returns the innermost named type for the given reference.
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }
