package schema

import (
	"fmt"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
)

// Resolver builds the expression of a field over the expression of its
// enclosing context.
type Resolver func(ctx expr.Expr, args *Args) (expr.Expr, error)

// Extension transforms the expression of a scalar field when a plan is built.
type Extension interface {
	GetExpression(field *Field, e expr.Expr, ctx expr.Expr) (expr.Expr, error)
}

// Field represents a field on an object type
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*ArgType
	Extensions        []Extension
	Resolver          Resolver
	Method            *MethodField // mutation fields only
	IsDeprecated      bool
	DeprecationReason string

	owner *Type
}

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) AddArgument(a *ArgType) *Field {
	f.Arguments = append(f.Arguments, a)
	return f
}

func (f *Field) Argument(name string) (*ArgType, bool) {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// SetResolver replaces the default member read with r. Fields with a resolver
// are not part of the data context type.
func (f *Field) SetResolver(r Resolver) *Field {
	f.Resolver = r
	return f
}

func (f *Field) AddExtension(e Extension) *Field {
	f.Extensions = append(f.Extensions, e)
	return f
}

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

func (f *Field) Owner() *Type { return f.owner }

// ReturnType is the expression type of the field's value.
func (f *Field) ReturnType() *expr.Type {
	return f.owner.schema.ResolveTypeRef(f.Type)
}

// ArgType declares one argument of a field or directive.
type ArgType struct {
	Name         string
	Description  string
	Type         *TypeRef
	DefaultValue any
	HasDefault   bool
	// QueryType, when set, makes the argument a deferred query: its string
	// value is compiled into a predicate over the named type.
	QueryType string
}

func NewArgument(name, description string, typ *TypeRef) *ArgType {
	return &ArgType{Name: name, Description: description, Type: typ}
}

func (a *ArgType) SetDefault(v any) *ArgType {
	a.DefaultValue = v
	a.HasDefault = true
	return a
}

// Required reports whether the argument must be supplied by the request.
func (a *ArgType) Required() bool { return a.Type.IsNonNull() && !a.HasDefault }

// Args gives a resolver access to the resolved argument values of one
// GetExpression call. Literal values are read through a fresh parameter so
// that the same expression can be evaluated with the values bound later.
type Args struct {
	field  *Field
	values map[string]any
	param  *expr.Param
	used   map[string]any
}

func newArgs(f *Field, values map[string]any) *Args {
	typ := expr.NewObject(f.Name + "Args")
	for _, a := range f.Arguments {
		typ.AddField(a.Name, f.owner.schema.ResolveTypeRef(a.Type))
	}
	return &Args{field: f, values: values, param: expr.NewParam("args_"+f.Name, typ)}
}

// Get returns the expression of a named argument. Values that are already
// expressions (variable references, compiled queries) are returned as is.
func (a *Args) Get(name string) (expr.Expr, error) {
	if _, ok := a.field.Argument(name); !ok {
		return nil, gqlerror.New(gqlerror.UnknownArgument, "argument %s not declared on field %s", name, a.field.Name)
	}
	v, ok := a.values[name]
	if !ok {
		return nil, fmt.Errorf("argument %s has no value", name)
	}
	if e, isExpr := v.(expr.Expr); isExpr {
		return e, nil
	}
	if a.used == nil {
		a.used = map[string]any{}
	}
	a.used[name] = v
	return expr.NewMember(a.param, name)
}

// Value returns the raw resolved value of an argument.
func (a *Args) Value(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

func (a *Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// ExpressionResult is the outcome of building a field expression.
type ExpressionResult struct {
	Expr expr.Expr
	// ConstantParameters binds the parameters Expr reads literal argument
	// values from.
	ConstantParameters map[*expr.Param]any
	Services           []string
}

// GetExpression builds the expression of f against ctx. Failures are reported
// as GetExpressionError.
func (f *Field) GetExpression(ctx expr.Expr, values map[string]any) (*ExpressionResult, error) {
	args := newArgs(f, values)
	var (
		e   expr.Expr
		err error
	)
	if f.Resolver != nil {
		e, err = f.Resolver(ctx, args)
	} else {
		e, err = expr.NewMember(ctx, f.Name)
	}
	if err != nil {
		return nil, gqlerror.Wrap(gqlerror.GetExpressionFailed, err, "field %s", f.Name)
	}
	res := &ExpressionResult{Expr: e, Services: expr.Services(e)}
	if len(args.used) > 0 {
		res.ConstantParameters = map[*expr.Param]any{args.param: args.used}
	}
	return res, nil
}
