// Package directive implements the processors that run when a query applies
// a directive to a field or a fragment spread.
//
// A processor declares its arguments, receives them decoded into a fresh
// arguments value for each application, and may replace the field it is
// applied to. Returning a nil field removes it from the plan, and no further
// directive of the same field is applied.
package directive

import (
	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/schema"
)

type Processor interface {
	Name() string
	Description() string
	Locations() []string
	// Arguments declares the accepted arguments. It is computed on first
	// use and cached.
	Arguments(namer schema.Namer) []*schema.ArgType
	// NewArguments returns a pointer to a struct holding default values.
	NewArguments() any
	ProcessField(f plan.Field, args any) (plan.Field, error)
	ProcessExpression(e expr.Expr, args any) (expr.Expr, error)
}

// Bind decodes the resolved argument values of one application of p into a
// new arguments value. Absent arguments keep the value NewArguments gave
// them; a null value counts as absent.
func Bind(p Processor, namer schema.Namer, values map[string]any) (any, error) {
	decl := p.Arguments(namer)
	for name := range values {
		if !lo.ContainsBy(decl, func(a *schema.ArgType) bool { return a.Name == name }) {
			return nil, gqlerror.New(gqlerror.UnknownArgument, "argument %s not declared on directive @%s", name, p.Name())
		}
	}
	set := map[string]any{}
	for _, a := range decl {
		if v, ok := values[a.Name]; ok && v != nil {
			set[a.Name] = v
			continue
		}
		if a.Required() {
			return nil, gqlerror.New(gqlerror.MissingRequiredArgument, "directive @%s requires argument %s", p.Name(), a.Name)
		}
	}
	args := p.NewArguments()
	if err := schema.Decode(set, args, namer); err != nil {
		return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "arguments of directive @%s", p.Name())
	}
	return args, nil
}

// Definition describes p as a schema directive.
func Definition(p Processor, namer schema.Namer) *schema.Directive {
	return &schema.Directive{
		Name:        p.Name(),
		Description: p.Description(),
		Locations:   p.Locations(),
		Arguments:   p.Arguments(namer),
	}
}
