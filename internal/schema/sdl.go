package schema

import (
	"fmt"

	"github.com/jinzhu/inflection"
	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	language "github.com/hanpama/entityplan/internal/language"
)

// queryDirective marks a String argument as a deferred query over the
// element type of the field it belongs to.
const queryDirective = "query"

// FromSDL builds a schema from SDL. Object fields read the member of the same
// name from their context; mutation fields must be bound with BindMutation
// before they can be called.
func FromSDL(name, sdl string, opts ...Option) (*Schema, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		return nil, err
	}
	s := New(opts...)

	defs := append(language.DefinitionList{}, doc.Definitions...)
	for _, def := range defs {
		switch def.Kind {
		case language.Object, language.Scalar, language.Enum, language.InputObject:
		default:
			return nil, fmt.Errorf("%s %s: %s types are not supported", name, def.Name, def.Kind)
		}
		if builtinScalars[def.Name] {
			continue
		}
		s.AddType(NewType(def.Name, typeKindOf(def.Kind), def.Description))
	}
	for _, def := range append(defs, doc.Extensions...) {
		t, ok := s.Types[def.Name]
		if !ok {
			return nil, fmt.Errorf("%s: extension of undefined type %s", name, def.Name)
		}
		if err := s.buildDefinition(t, def); err != nil {
			return nil, err
		}
	}
	for _, d := range doc.Directives {
		dir := &Directive{Name: d.Name, Description: d.Description, IsRepeatable: d.IsRepeatable}
		for _, loc := range d.Locations {
			dir.Locations = append(dir.Locations, string(loc))
		}
		for _, a := range d.Arguments {
			arg, err := s.buildArgument(a, "")
			if err != nil {
				return nil, err
			}
			dir.Arguments = append(dir.Arguments, arg)
		}
		s.AddDirective(dir)
	}

	if _, ok := s.Types["Mutation"]; ok {
		s.SetMutationType("Mutation")
	}
	for _, sd := range append(doc.Schema, doc.SchemaExtension...) {
		for _, ot := range sd.OperationTypes {
			switch ot.Operation {
			case language.Query:
				s.SetQueryType(ot.Type)
			case language.Mutation:
				s.SetMutationType(ot.Type)
			}
		}
	}
	if s.GetQueryType() == nil {
		return nil, gqlerror.New(gqlerror.UnknownType, "query type %s is not defined", s.queryType)
	}
	return s, nil
}

func typeKindOf(k language.DefinitionKind) TypeKind {
	switch k {
	case language.Scalar:
		return TypeKindScalar
	case language.Enum:
		return TypeKindEnum
	case language.InputObject:
		return TypeKindInputObject
	}
	return TypeKindObject
}

func (s *Schema) buildDefinition(t *Type, def *language.Definition) error {
	for _, v := range def.EnumValues {
		ev := &EnumValue{Name: v.Name, Description: v.Description}
		if d := v.Directives.ForName("deprecated"); d != nil {
			ev.IsDeprecated = true
			if r := d.Arguments.ForName("reason"); r != nil {
				ev.DeprecationReason = r.Value.Raw
			}
		}
		t.AddEnumValue(ev)
	}
	for _, fd := range def.Fields {
		if t.Kind == TypeKindInputObject {
			a, err := s.buildInputField(fd)
			if err != nil {
				return err
			}
			t.AddInputField(a)
			continue
		}
		f := NewField(fd.Name, fd.Description, TypeRefFromAST(fd.Type))
		for _, ad := range fd.Arguments {
			a, err := s.buildArgument(ad, fd.Type.Name())
			if err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name, fd.Name, err)
			}
			f.AddArgument(a)
		}
		if d := fd.Directives.ForName("deprecated"); d != nil {
			reason := ""
			if r := d.Arguments.ForName("reason"); r != nil {
				reason = r.Value.Raw
			}
			f.Deprecate(reason)
		}
		t.AddField(f)
		for _, a := range f.Arguments {
			if a.QueryType != "" {
				f.SetResolver(filterResolver(f.Name, a.Name))
			}
		}
	}
	return nil
}

// filterResolver reads the member name and applies the compiled query
// argument, if any, as a Where predicate.
func filterResolver(name, arg string) Resolver {
	return func(ctx expr.Expr, args *Args) (expr.Expr, error) {
		base, err := expr.NewMember(ctx, name)
		if err != nil || !args.Has(arg) {
			return base, err
		}
		e, err := args.Get(arg)
		if err != nil {
			return nil, err
		}
		pred, ok := e.(*expr.Lambda)
		if !ok {
			return base, nil
		}
		return expr.NewCall(expr.Where, base, pred)
	}
}

func (s *Schema) buildInputField(fd *language.FieldDefinition) (*ArgType, error) {
	a := NewArgument(fd.Name, fd.Description, TypeRefFromAST(fd.Type))
	if fd.DefaultValue != nil {
		v, err := s.CoerceValue(ValueFromAST(fd.DefaultValue), a.Type)
		if err != nil {
			return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "default of input field %s", fd.Name)
		}
		a.SetDefault(v)
	}
	return a, nil
}

func (s *Schema) buildArgument(ad *language.ArgumentDefinition, elemType string) (*ArgType, error) {
	a := NewArgument(ad.Name, ad.Description, TypeRefFromAST(ad.Type))
	if ad.DefaultValue != nil {
		v, err := s.CoerceValue(ValueFromAST(ad.DefaultValue), a.Type)
		if err != nil {
			return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "default of argument %s", ad.Name)
		}
		a.SetDefault(v)
	}
	if ad.Directives.ForName(queryDirective) != nil {
		if elemType == "" || GetNamedType(a.Type) != "String" {
			return nil, fmt.Errorf("@%s requires a String argument on a field", queryDirective)
		}
		a.QueryType = elemType
	}
	return a, nil
}

// BindMutation backs a mutation field with fn. See MethodField.Call for how
// its parameters are bound.
func (s *Schema) BindMutation(field string, fn any, opts ...MethodOption) error {
	mt := s.GetMutationType()
	if mt == nil {
		return gqlerror.New(gqlerror.UnknownType, "schema has no mutation type")
	}
	f, err := mt.Field(field)
	if err != nil {
		return err
	}
	m, err := newMethodField(f, fn, s.namer, opts...)
	if err != nil {
		return err
	}
	for i := range m.names {
		if m.names[i] == "" {
			continue
		}
		if _, ok := f.Argument(m.names[i]); !ok {
			return gqlerror.New(gqlerror.UnknownArgument, "mutation %s has no argument %s", field, m.names[i])
		}
	}
	f.Method = m
	return nil
}

// BindService makes a field computed by a service call. The call receives the
// values of the named members of the field's context.
func (s *Schema) BindService(typeName, field, service string, fn expr.ServiceFunc, inputs ...string) error {
	t, err := s.Type(typeName)
	if err != nil {
		return err
	}
	f, err := t.Field(field)
	if err != nil {
		return err
	}
	ret := f.ReturnType()
	f.SetResolver(func(ctx expr.Expr, _ *Args) (expr.Expr, error) {
		args := make([]expr.Expr, len(inputs))
		for i, in := range inputs {
			m, err := expr.NewMember(ctx, in)
			if err != nil {
				return nil, err
			}
			args[i] = m
		}
		return expr.NewServiceCall(service, field, ret, fn, args...), nil
	})
	return nil
}

// WithIDArguments adds, for every list field whose element type has an id
// field, a singular field selecting one element by id: people gives
// person(id: ID!). Names that cannot be singularized get a ById suffix.
func (s *Schema) WithIDArguments() *Schema {
	for _, t := range lo.Values(s.Types) {
		if t.Kind != TypeKindObject || t.Name == s.mutationType {
			continue
		}
		for _, f := range append([]*Field(nil), t.Fields...) {
			if _, member := t.ExprType().Field(f.Name); !member || !f.Type.IsList() {
				continue
			}
			elem, ok := s.Types[f.Type.GetNamedType()]
			if !ok || elem.Kind != TypeKindObject || !elem.HasField("id") {
				continue
			}
			name := inflection.Singular(f.Name)
			if name == f.Name {
				name = f.Name + "ById"
			}
			if t.HasField(name) {
				continue
			}
			idField, _ := elem.Field("id")
			t.AddField(s.idArgumentField(name, f, elem, idField))
		}
	}
	return s
}

func (s *Schema) idArgumentField(name string, list *Field, elem *Type, id *Field) *Field {
	idType := GetNamedType(id.Type)
	f := NewField(name, fmt.Sprintf("Return a %s by its Id", elem.Name), NamedType(elem.Name)).
		AddArgument(NewArgument("id", "", NonNullType(NamedType(idType))))
	listName := list.Name
	return f.SetResolver(func(ctx expr.Expr, args *Args) (expr.Expr, error) {
		items, err := expr.NewMember(ctx, listName)
		if err != nil {
			return nil, err
		}
		p := expr.NewParam("x", elem.ExprType())
		pid, err := expr.NewMember(p, "id")
		if err != nil {
			return nil, err
		}
		arg, err := args.Get("id")
		if err != nil {
			return nil, err
		}
		eq, err := expr.NewBinary(expr.OpEq, pid, arg)
		if err != nil {
			return nil, err
		}
		where, err := expr.NewCall(expr.Where, items, expr.NewLambda(eq, p))
		if err != nil {
			return nil, err
		}
		return expr.NewCall(expr.FirstOrDefault, where)
	})
}
